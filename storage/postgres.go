package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	// pgx-драйвер в режиме database/sql
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/egor/supportchat/models"
)

const pgQueryTimeout = 5 * time.Second

// PostgresStore — хранилище поверх PostgreSQL. Схему создает scripts/initdb.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore открывает пул соединений и проверяет подключение
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Параметры пула
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверяем подключение (тайм-аут 3 с)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}

	log.Println("[storage] PostgreSQL connected")
	return &PostgresStore{db: db}, nil
}

// ─────────────────────────────── пользователи

func (s *PostgresStore) CreateUser(ctx context.Context, username string, userType models.UserType, connectionID uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	user := models.User{
		ID:           uuid.New(),
		Username:     username,
		Type:         userType,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, type, connection_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.Type, user.ConnectionID, user.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("вставка пользователя: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var user models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, type, connection_id, created_at FROM users WHERE id=$1", id,
	).Scan(&user.ID, &user.Username, &user.Type, &user.ConnectionID, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("выборка пользователя: %w", err)
	}
	return &user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	// Фильтрация на стороне чтения: выбираем все и просеиваем,
	// как и in-memory реализация
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, type, connection_id, created_at FROM users ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("выборка пользователей: %w", err)
	}
	defer rows.Close()

	var list []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Type, &user.ConnectionID, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("сканирование пользователя: %w", err)
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, user.ID) {
			continue
		}
		if filter.Username != "" && user.Username != filter.Username {
			continue
		}
		if filter.Type != "" && user.Type != filter.Type {
			continue
		}
		if filter.ConnectionID != uuid.Nil && user.ConnectionID != filter.ConnectionID {
			continue
		}
		list = append(list, user)
	}
	return list, rows.Err()
}

func (s *PostgresStore) UpdateUserConnection(ctx context.Context, id, connectionID uuid.UUID) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET connection_id=$1 WHERE id=$2", connectionID, id)
	if err != nil {
		return nil, fmt.Errorf("обновление connection_id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *PostgresStore) RemoveUser(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("удаление пользователя: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─────────────────────────────── чаты

func (s *PostgresStore) CreateChat(ctx context.Context, members []uuid.UUID, userQuestion, chatContext string) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	chat := models.Chat{
		ID:           uuid.New(),
		Members:      append([]uuid.UUID(nil), members...),
		UserQuestion: userQuestion,
		Context:      chatContext,
		CreatedAt:    time.Now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chats (id, user_question, context, created_at)
		VALUES ($1, $2, $3, $4)`,
		chat.ID, chat.UserQuestion, chat.Context, chat.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("вставка чата: %w", err)
	}
	for _, userID := range members {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)",
			chat.ID, userID,
		); err != nil {
			return nil, fmt.Errorf("вставка участника: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &chat, nil
}

func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	var chat models.Chat
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_question, context, created_at FROM chats WHERE id=$1", id,
	).Scan(&chat.ID, &chat.UserQuestion, &chat.Context, &chat.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("выборка чата: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM chat_members WHERE chat_id=$1", id)
	if err != nil {
		return nil, fmt.Errorf("выборка участников: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("сканирование участника: %w", err)
		}
		chat.Members = append(chat.Members, userID)
	}
	return &chat, rows.Err()
}

func (s *PostgresStore) ListChats(ctx context.Context, filter ChatFilter) ([]models.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_question, context, created_at FROM chats ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("выборка чатов: %w", err)
	}
	defer rows.Close()

	var list []models.Chat
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.UserQuestion, &chat.Context, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("сканирование чата: %w", err)
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, chat.ID) {
			continue
		}
		list = append(list, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Подтягиваем участников для каждого чата
	for i := range list {
		mrows, err := s.db.QueryContext(ctx,
			"SELECT user_id FROM chat_members WHERE chat_id=$1", list[i].ID)
		if err != nil {
			return nil, fmt.Errorf("выборка участников: %w", err)
		}
		for mrows.Next() {
			var userID uuid.UUID
			if err := mrows.Scan(&userID); err != nil {
				mrows.Close()
				return nil, fmt.Errorf("сканирование участника: %w", err)
			}
			list[i].Members = append(list[i].Members, userID)
		}
		if err := mrows.Err(); err != nil {
			mrows.Close()
			return nil, err
		}
		mrows.Close()
	}

	if filter.Member == uuid.Nil {
		return list, nil
	}
	filtered := make([]models.Chat, 0, len(list))
	for _, chat := range list {
		if chat.HasMember(filter.Member) {
			filtered = append(filtered, chat)
		}
	}
	return filtered, nil
}

func (s *PostgresStore) RemoveChat(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	// Сообщения и участники удаляются каскадом (ON DELETE CASCADE)
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("удаление чата: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─────────────────────────────── сообщения

func (s *PostgresStore) CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, messageType models.MessageType, text string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Проверяем, существует ли чат
	var ok bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM chats WHERE id=$1)", chatID,
	).Scan(&ok); err != nil {
		return nil, fmt.Errorf("проверка чата: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	message := models.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		SenderID:  senderID,
		Type:      messageType,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, type, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		message.ID, message.ChatID, message.SenderID, message.Type, message.Text, message.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("вставка сообщения: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &message, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, pgQueryTimeout)
	defer cancel()

	// seq — монотонный порядок вставки, надежнее равных таймстампов
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, sender_id, type, text, created_at FROM messages ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}
	defer rows.Close()

	var list []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Type, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("сканирование сообщения: %w", err)
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, m.ID) {
			continue
		}
		if filter.ChatID != uuid.Nil && m.ChatID != filter.ChatID {
			continue
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает пул (вызывайте defer store.Close())
func (s *PostgresStore) Close() { _ = s.db.Close() }
