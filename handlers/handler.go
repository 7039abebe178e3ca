package handlers

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/egor/supportchat/chat"
	"github.com/egor/supportchat/config"
	"github.com/egor/supportchat/llm"
	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/session"
	"github.com/egor/supportchat/storage"
	"github.com/egor/supportchat/ws"
)

// Handler связывает транспорт, хранилище и присутствие в один протокол чата
type Handler struct {
	store     storage.Store
	chats     *chat.Service
	sessions  *session.Manager
	hub       *ws.Hub
	locks     *session.KeyedMutex // сериализация мутаций по chatId
	contexter *llm.Contexter      // nil — автоконтекст выключен
	cfg       *config.Config
}

// New создает обработчики протокола
func New(store storage.Store, chats *chat.Service, sessions *session.Manager, hub *ws.Hub, cfg *config.Config, contexter *llm.Contexter) *Handler {
	return &Handler{
		store:     store,
		chats:     chats,
		sessions:  sessions,
		hub:       hub,
		locks:     session.NewKeyedMutex(),
		contexter: contexter,
		cfg:       cfg,
	}
}

// AckStatus — единый формат подтверждения: успех или ошибка с текстом.
// Ни одна ошибка не пересекает границу событий иначе как в этом виде.
type AckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AuthMeta несет данные пользователя в _meta подтверждения авторизации
type AuthMeta struct {
	User models.User `json:"user"`
}

// AuthAck — подтверждение login/refresh-user
type AuthAck struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	Meta    *AuthMeta `json:"_meta,omitempty"`
}

// CreateChatAck — подтверждение create-new-chat
type CreateChatAck struct {
	Status  string              `json:"status"`
	Message string              `json:"message"`
	Chat    *models.ChatSummary `json:"chat,omitempty"`
}

// AnswersAck — подтверждение get-answers-by-question
type AnswersAck struct {
	Status  string `json:"status"`
	Answers string `json:"answers"`
}

// ack отправляет подтверждение на запрос с данным ID
func (h *Handler) ack(c ws.Conn, id int64, payload interface{}) {
	envelope, err := ws.NewAck(id, payload)
	if err != nil {
		log.Printf("ack: ошибка маршалинга: %v", err)
		return
	}
	if err := c.SendJSON(envelope); err != nil {
		log.Printf("ack: ошибка отправки подтверждения: %v", err)
	}
}

// ackError отправляет подтверждение-ошибку
func (h *Handler) ackError(c ws.Conn, id int64, message string) {
	h.ack(c, id, AckStatus{Status: "error", Message: message})
}

// deriveMessageType выводит тип сообщения на сервере из роли отправителя
// и запрошенной видимости: клиент не может замаскировать реплику под
// служебный тип чужой роли
func deriveMessageType(role models.UserType, requested models.MessageType) (models.MessageType, error) {
	switch requested {
	case "", models.MessageUser:
		return models.MessageUser, nil
	case models.MessageAgentOnly:
		if role != models.UserAgent {
			return "", fmt.Errorf("тип %q доступен только оператору", requested)
		}
		return models.MessageAgentOnly, nil
	case models.MessageClientOnly:
		if role != models.UserClient {
			return "", fmt.Errorf("тип %q доступен только клиенту", requested)
		}
		return models.MessageClientOnly, nil
	case models.MessageSystem, models.MessageContext:
		return "", fmt.Errorf("тип %q зарезервирован за сервером", requested)
	}
	return "", fmt.Errorf("неизвестный тип сообщения: %q", requested)
}

// broadcastToChat рассылает событие участникам комнаты чата с учетом
// видимости: client-only реплика никогда не уходит оператору и наоборот.
// Рассылка fire-and-forget, отправитель исключается.
func (h *Handler) broadcastToChat(ctx context.Context, chatID uuid.UUID, eventType string, message *models.MessagePopulated, except ws.Conn) {
	room := chatID.String()
	conns := h.hub.RoomConns(room)
	if len(conns) == 0 {
		return
	}

	// Роль каждого соединения восстанавливаем из учеток с живой привязкой
	users, err := h.store.ListUsers(ctx, storage.UserFilter{})
	if err != nil {
		log.Printf("broadcastToChat: ошибка выборки пользователей: %v", err)
		return
	}
	roleByConn := make(map[uuid.UUID]models.UserType)
	for _, u := range users {
		if u.Connected() {
			roleByConn[u.ConnectionID] = u.Type
		}
	}

	envelope, err := ws.NewEnvelope(eventType, message)
	if err != nil {
		log.Printf("broadcastToChat: ошибка маршалинга: %v", err)
		return
	}
	for _, c := range conns {
		if except != nil && c.ConnID() == except.ConnID() {
			continue
		}
		role, ok := roleByConn[c.ConnID()]
		if !ok || !message.Type.VisibleTo(role) {
			continue
		}
		if err := c.SendJSON(envelope); err != nil {
			log.Printf("broadcastToChat: не доставлено в %s: %v", c.ConnID(), err)
		}
	}
}

// broadcastUserLeft сохраняет и рассылает уведомление «пользователь вышел»
// по всем чатам, где он состоит, и выводит его соединение из комнат
func (h *Handler) broadcastUserLeft(ctx context.Context, user *models.User) {
	memberChats, err := h.store.ListChats(ctx, storage.ChatFilter{Member: user.ID})
	if err != nil {
		log.Printf("broadcastUserLeft: ошибка выборки чатов: %v", err)
		return
	}

	conn, _ := h.hub.Conn(user.ConnectionID)
	for _, memberChat := range memberChats {
		message, err := h.chats.SendMessage(ctx, memberChat.ID, user.ID, models.MessageSystem,
			fmt.Sprintf("%s left the chat", user.Username))
		if err != nil {
			// Некому возвращать ошибку — логируем и идем дальше
			log.Printf("broadcastUserLeft: ошибка сохранения уведомления: %v", err)
			continue
		}
		h.broadcastToChat(ctx, memberChat.ID, "user_left", message, conn)
		if conn != nil {
			h.hub.LeaveRoom(memberChat.ID.String(), conn)
		}
	}
}
