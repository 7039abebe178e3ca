package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// ErrNotFound возвращается, когда сущность с указанным ID отсутствует
var ErrNotFound = errors.New("entity not found")

// UserFilter описывает фильтр выборки пользователей.
// Пустой фильтр — все пользователи.
type UserFilter struct {
	IDs          []uuid.UUID
	Username     string
	Type         models.UserType
	ConnectionID uuid.UUID
}

// ChatFilter описывает фильтр выборки чатов
type ChatFilter struct {
	IDs    []uuid.UUID
	Member uuid.UUID // чаты, где пользователь входит в members
}

// MessageFilter описывает фильтр выборки сообщений
type MessageFilter struct {
	IDs    []uuid.UUID
	ChatID uuid.UUID
}

// Store — хранилище пользователей, чатов и сообщений.
// Физический носитель скрыт за интерфейсом: in-memory для одного процесса,
// PostgreSQL для долговременного хранения.
type Store interface {
	// Пользователи
	CreateUser(ctx context.Context, username string, userType models.UserType, connectionID uuid.UUID) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error)
	// UpdateUserConnection меняет только connectionId, остальные поля сохраняются
	UpdateUserConnection(ctx context.Context, id, connectionID uuid.UUID) (*models.User, error)
	RemoveUser(ctx context.Context, id uuid.UUID) error

	// Чаты
	CreateChat(ctx context.Context, members []uuid.UUID, userQuestion, chatContext string) (*models.Chat, error)
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	ListChats(ctx context.Context, filter ChatFilter) ([]models.Chat, error)
	// RemoveChat удаляет чат; осиротевшие сообщения — забота реализации
	RemoveChat(ctx context.Context, id uuid.UUID) error

	// Сообщения (append-only журнал, упорядоченный по созданию)
	CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, messageType models.MessageType, text string) (*models.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close()
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
