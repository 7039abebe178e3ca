package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat представляет собой сессию переписки, открытую вопросом клиента
type Chat struct {
	ID           uuid.UUID   `json:"id"`
	Members      []uuid.UUID `json:"members"`
	UserQuestion string      `json:"userQuestion"`
	Context      string      `json:"context,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// HasMember проверяет, входит ли пользователь в участники чата
func (c *Chat) HasMember(userID uuid.UUID) bool {
	for _, id := range c.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatSummary — облегченная проекция чата для списков.
// LastMessage — последнее сообщение, видимое запрашивающей роли.
type ChatSummary struct {
	ID           uuid.UUID         `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	UserQuestion string            `json:"userQuestion"`
	LastMessage  *MessagePopulated `json:"lastMessage,omitempty"`
}

// ChatPopulated — чат с развернутыми участниками и историей сообщений.
// Отдается в ответ на join-chat, история уже отфильтрована по роли.
type ChatPopulated struct {
	ID           uuid.UUID          `json:"id"`
	Members      []User             `json:"members"`
	UserQuestion string             `json:"userQuestion"`
	Context      string             `json:"context,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	Messages     []MessagePopulated `json:"messages"`
}
