package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Загружаем переменные окружения из .env файла
	err := godotenv.Load()
	if err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	// Подключаемся к базе данных
	db, err := sql.Open("pgx", buildDSN())
	if err != nil {
		log.Fatalf("Ошибка подключения к базе данных: %v", err)
	}
	defer db.Close()

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		log.Fatalf("Ошибка проверки соединения с БД: %v", err)
	}
	log.Println("Успешное подключение к базе данных")

	// Создаем таблицы если они не существуют
	createTables(db)

	// Печатаем bcrypt-хеш пароля оператора для AGENT_PASSWORD_HASH
	if password := os.Getenv("AGENT_PASSWORD"); password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Ошибка хеширования пароля: %v", err)
		}
		log.Printf("AGENT_PASSWORD_HASH=%s", string(hash))
	}

	log.Println("База данных успешно инициализирована")
}

// Создание таблиц базы данных
func createTables(db *sql.DB) {
	// Таблица пользователей. connection_id нулевой — пользователь оффлайн
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username TEXT NOT NULL,
			type TEXT NOT NULL,
			connection_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы users: %v", err)
	}

	// Таблица чатов
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			user_question TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы chats: %v", err)
	}

	// Таблица участников. user_id без внешнего ключа: клиентские учетки
	// удаляются при выходе, а состав чата должен пережить их
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_members (
			chat_id UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			PRIMARY KEY (chat_id, user_id)
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы chat_members: %v", err)
	}

	// Таблица сообщений. seq задает порядок вставки; sender_id без
	// внешнего ключа: псевдо-пользователь в users не хранится
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL,
			id UUID PRIMARY KEY,
			chat_id UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
			sender_id UUID NOT NULL,
			type TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Ошибка создания таблицы messages: %v", err)
	}

	_, err = db.Exec("CREATE INDEX IF NOT EXISTS messages_chat_id_idx ON messages (chat_id)")
	if err != nil {
		log.Fatalf("Ошибка создания индекса messages_chat_id_idx: %v", err)
	}

	log.Println("Все таблицы успешно созданы")
}

// buildDSN собирает строку подключения из PG_* переменных окружения
func buildDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		env("PG_HOST", "localhost"),
		env("PG_PORT", "5432"),
		env("PG_USER", "postgres"),
		os.Getenv("PG_PASSWORD"),
		env("PG_DATABASE", "supportchat"),
		env("PG_SSL_MODE", "disable"),
	)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
