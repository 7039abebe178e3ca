package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config — вся конфигурация процесса, собранная из переменных окружения
type Config struct {
	Host string
	Port string

	// Единственная учетная пара оператора
	AgentLogin        string
	AgentPassword     string
	AgentPasswordHash string // bcrypt, имеет приоритет над AgentPassword

	JWTSecret string

	// Хранилище: memory | postgres
	StorageDriver string
	PostgresDSN   string

	// Разрешенные origins для WebSocket/CORS
	FrontendURL       string
	AdditionalOrigins []string
	AllowAllOrigins   bool

	// Автогенерация контекста для новых чатов
	AutoContext bool
	LLMAPIURL   string
	LLMModel    string
	LLMTimeout  time.Duration
}

// Load читает .env (если есть) и собирает конфигурацию
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	cfg := &Config{
		Host:              env("HOSTNAME", "localhost"),
		Port:              env("PORT", "8080"),
		AgentLogin:        env("AGENT_LOGIN", "agent"),
		AgentPassword:     os.Getenv("AGENT_PASSWORD"),
		AgentPasswordHash: os.Getenv("AGENT_PASSWORD_HASH"),
		JWTSecret:         os.Getenv("JWT_SECRET_KEY"),
		StorageDriver:     env("STORAGE_DRIVER", "memory"),
		FrontendURL:       env("FRONTEND_URL", "http://localhost:3000"),
		AllowAllOrigins:   os.Getenv("ALLOW_ALL_ORIGINS") == "true",
		AutoContext:       os.Getenv("AUTO_CONTEXT") == "true",
		LLMAPIURL:         os.Getenv("LLM_API_URL"),
		LLMModel:          env("LLM_MODEL", "gemma"),
		LLMTimeout:        30 * time.Second,
	}

	if additional := os.Getenv("ADDITIONAL_ALLOWED_ORIGINS"); additional != "" {
		for _, url := range strings.Split(additional, ",") {
			url = strings.TrimSpace(url)
			if url != "" {
				cfg.AdditionalOrigins = append(cfg.AdditionalOrigins, url)
			}
		}
	}

	if t := os.Getenv("LLM_API_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			cfg.LLMTimeout = d
		}
	}

	cfg.PostgresDSN = buildDSN()
	return cfg
}

// Addr возвращает адрес для ListenAndServe
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// buildDSN собирает строку подключения к PostgreSQL из PG_* переменных
func buildDSN() string {
	host := env("PG_HOST", "localhost")
	port := env("PG_PORT", "5432")
	user := env("PG_USER", "postgres")
	password := os.Getenv("PG_PASSWORD") // может быть пустым
	dbname := env("PG_DATABASE", "supportchat")
	sslmode := env("PG_SSL_MODE", "disable")

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
