package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType — тип сообщения, определяет его видимость по ролям
type MessageType string

const (
	MessageUser       MessageType = "user"        // обычная реплика, видна всем
	MessageSystem     MessageType = "system"      // служебное уведомление, видно всем
	MessageAgentOnly  MessageType = "agent-only"  // служебный брифинг, виден только оператору
	MessageClientOnly MessageType = "client-only" // приветствие/подсказка, видна только клиенту
	MessageContext    MessageType = "context"     // контекст вопроса, виден всем
)

// Valid проверяет, что тип сообщения известен системе
func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageSystem, MessageAgentOnly, MessageClientOnly, MessageContext:
		return true
	}
	return false
}

// VisibleTo сообщает, видно ли сообщение данного типа указанной роли
func (t MessageType) VisibleTo(role UserType) bool {
	switch t {
	case MessageUser, MessageSystem, MessageContext:
		return true
	case MessageAgentOnly:
		return role == UserAgent
	case MessageClientOnly:
		return role == UserClient
	}
	return false
}

// Message представляет собой одно сообщение в чате
type Message struct {
	ID        uuid.UUID   `json:"id"`
	ChatID    uuid.UUID   `json:"chatId"`
	SenderID  uuid.UUID   `json:"senderId"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

// MessagePopulated — сообщение с развернутым отправителем
// (и, при необходимости, чатом). Вычисляется при чтении, не хранится.
type MessagePopulated struct {
	Message
	Sender *User `json:"sender,omitempty"`
	Chat   *Chat `json:"chat,omitempty"`
}

// FilterVisible возвращает только сообщения, видимые указанной роли
func FilterVisible(messages []MessagePopulated, role UserType) []MessagePopulated {
	visible := make([]MessagePopulated, 0, len(messages))
	for _, m := range messages {
		if m.Type.VisibleTo(role) {
			visible = append(visible, m)
		}
	}
	return visible
}
