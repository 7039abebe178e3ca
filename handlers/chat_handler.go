package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/chat"
	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/storage"
	"github.com/egor/supportchat/ws"
)

// processCreateNewChat открывает чат по вопросу клиента: создает
// клиентскую учетку, сам чат и служебные сообщения-затравки
func (h *Handler) processCreateNewChat(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		Question string `json:"question"`
		Username string `json:"username"`
		Context  string `json:"context"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для create-new-chat")
		return
	}
	if p.Question == "" {
		h.ackError(c, envelope.ID, "Question is required")
		return
	}
	if p.Username == "" {
		p.Username = "Client"
	}

	// Клиентская учетка одноразовая, живет вместе с чатом.
	// Если на этом соединении уже есть учетка (клиент сделал login
	// отдельным событием), вторую не заводим.
	var client *models.User
	bound, err := h.store.ListUsers(ctx, storage.UserFilter{ConnectionID: c.ConnID()})
	if err == nil && len(bound) > 0 {
		client = &bound[0]
	} else {
		client, err = h.sessions.LoginClient(ctx, p.Username, c.ConnID())
		if err != nil {
			log.Printf("processCreateNewChat: ошибка создания клиента: %v", err)
			h.ackError(c, envelope.ID, "Failed to create chat")
			return
		}
	}

	// Оператор попадает в участники, только если сейчас в сети
	members := []uuid.UUID{client.ID}
	if agentID, online := h.sessions.AgentUserID(); online {
		members = append(members, agentID)
	}

	newChat, err := h.store.CreateChat(ctx, members, p.Question, p.Context)
	if err != nil {
		log.Printf("processCreateNewChat: ошибка создания чата: %v", err)
		h.ackError(c, envelope.ID, "Failed to create chat")
		return
	}

	// Затравка от псевдо-пользователя: контекст и пересказ вопроса
	// видны только оператору, приветствие — только клиенту
	type seedMessage struct {
		messageType models.MessageType
		text        string
	}
	var seeds []seedMessage
	if p.Context != "" {
		seeds = append(seeds, seedMessage{models.MessageAgentOnly, p.Context})
	}
	seeds = append(seeds,
		seedMessage{models.MessageAgentOnly, fmt.Sprintf("%s is asking: %s", p.Username, p.Question)},
		seedMessage{models.MessageClientOnly, fmt.Sprintf("Hi %s! An agent will join you shortly, please stay in the chat.", p.Username)},
	)
	for _, seed := range seeds {
		if _, err := h.store.CreateMessage(ctx, newChat.ID, models.SystemUserID, seed.messageType, seed.text); err != nil {
			log.Printf("processCreateNewChat: ошибка затравки: %v", err)
			h.ackError(c, envelope.ID, "Failed to create chat")
			return
		}
	}

	// Создатель сразу входит в комнату чата
	h.hub.JoinRoom(newChat.ID.String(), c)

	// Сводка строится по последнему видимому оператору сообщению:
	// client-only приветствие не должно стать заголовком чата
	summary, err := h.chats.Summary(ctx, newChat.ID)
	if err != nil {
		log.Printf("processCreateNewChat: ошибка сборки сводки: %v", err)
		h.ackError(c, envelope.ID, "Failed to create chat")
		return
	}

	h.hub.EmitToRoom(ws.AgentsRoom, "new-client-chat", summary, nil)

	if h.contexter != nil && p.Context == "" {
		go h.suggestContext(newChat.ID, p.Question)
	}

	log.Printf("processCreateNewChat: чат %s создан для %s", newChat.ID, p.Username)
	h.ack(c, envelope.ID, CreateChatAck{
		Status:  "success",
		Message: "Chat created",
		Chat:    summary,
	})
}

// suggestContext асинхронно просит модель сочинить брифинг по похожим
// прошлым чатам и подсаживает его оператору. Ошибки не фатальны:
// чат уже создан и живет без контекста.
func (h *Handler) suggestContext(chatID uuid.UUID, question string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.LLMTimeout)
	defer cancel()

	answers, err := h.chats.AnswersByQuestion(ctx, question)
	if err != nil {
		log.Printf("suggestContext: ошибка подбора похожих чатов: %v", err)
		answers = ""
	}

	text, err := h.contexter.SuggestContext(ctx, question, answers)
	if err != nil {
		log.Printf("suggestContext: ошибка генерации: %v", err)
		return
	}
	if text == "" {
		return
	}

	message, err := h.chats.SendMessage(ctx, chatID, models.SystemUserID, models.MessageAgentOnly, text)
	if err != nil {
		log.Printf("suggestContext: ошибка сохранения: %v", err)
		return
	}
	h.broadcastToChat(ctx, chatID, "message", message, nil)
	log.Printf("suggestContext: брифинг добавлен в чат %s", chatID)
}

// processGetChats возвращает сводки всех чатов для панели оператора
func (h *Handler) processGetChats(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	summaries, err := h.chats.ChatSummaries(ctx)
	if err != nil {
		log.Printf("processGetChats: ошибка: %v", err)
		h.ackError(c, envelope.ID, "Failed to load chats")
		return
	}
	log.Printf("processGetChats: отдаем %d чатов", len(summaries))
	h.ack(c, envelope.ID, summaries)
}

// processJoinChat вводит пользователя в комнату чата и возвращает историю,
// отфильтрованную по его роли
func (h *Handler) processJoinChat(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		ChatID string `json:"chatId"`
		User   struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для join-chat")
		return
	}

	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный chatId")
		return
	}
	userID, err := uuid.Parse(p.User.ID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный id пользователя")
		return
	}

	unlock := h.locks.Lock(chatID.String())
	defer unlock()

	// Отсутствующий чат — явная ошибка, а не молчаливый no-op
	joinedChat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		h.ackError(c, envelope.ID, "Chat not found")
		return
	}

	// Роль берем из учетки, а не из слов клиента
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.ackError(c, envelope.ID, "User not found")
		return
	}

	h.hub.JoinRoom(chatID.String(), c)

	// Уведомление о входе сохраняется как system-сообщение
	joined, err := h.chats.SendMessage(ctx, chatID, userID, models.MessageSystem,
		fmt.Sprintf("%s joined the chat", user.Username))
	if err != nil {
		log.Printf("processJoinChat: ошибка сохранения уведомления: %v", err)
	} else {
		h.broadcastToChat(ctx, chatID, "user_joined", joined, c)
	}

	history, err := h.chats.ChatMessages(ctx, chatID)
	if err != nil {
		log.Printf("processJoinChat: ошибка выборки истории: %v", err)
		h.ackError(c, envelope.ID, "Failed to load chat history")
		return
	}

	memberUsers, err := h.store.ListUsers(ctx, storage.UserFilter{IDs: joinedChat.Members})
	if err != nil {
		log.Printf("processJoinChat: ошибка выборки участников: %v", err)
		memberUsers = nil
	}

	log.Printf("processJoinChat: %s (%s) вошел в чат %s", user.Username, user.Type, chatID)
	h.ack(c, envelope.ID, models.ChatPopulated{
		ID:           joinedChat.ID,
		Members:      memberUsers,
		UserQuestion: joinedChat.UserQuestion,
		Context:      joinedChat.Context,
		CreatedAt:    joinedChat.CreatedAt,
		Messages:     models.FilterVisible(history, user.Type),
	})
}

// processMessage сохраняет реплику и рассылает ее остальным участникам
// комнаты; отправитель получает сохраненное сообщение подтверждением
func (h *Handler) processMessage(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		ChatID   string             `json:"chatId"`
		SenderID string             `json:"senderId"`
		Type     models.MessageType `json:"type"`
		Text     string             `json:"text"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для message")
		return
	}
	if p.Text == "" {
		h.ackError(c, envelope.ID, "Text is required")
		return
	}

	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный chatId")
		return
	}
	senderID, err := uuid.Parse(p.SenderID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный senderId")
		return
	}

	sender, err := h.store.GetUser(ctx, senderID)
	if err != nil {
		h.ackError(c, envelope.ID, "Sender not found")
		return
	}

	messageType, err := deriveMessageType(sender.Type, p.Type)
	if err != nil {
		h.ackError(c, envelope.ID, err.Error())
		return
	}

	message, err := h.chats.SendMessage(ctx, chatID, senderID, messageType, p.Text)
	if err != nil {
		// Недоставленное сообщение не рассылается
		log.Printf("processMessage: ошибка сохранения: %v", err)
		h.ackError(c, envelope.ID, "Failed to send message")
		return
	}

	h.broadcastToChat(ctx, chatID, "message", message, c)
	h.ack(c, envelope.ID, message)
}

// processGetUsers возвращает всех пользователей (админская операция)
func (h *Handler) processGetUsers(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	users, err := h.store.ListUsers(ctx, storage.UserFilter{})
	if err != nil {
		log.Printf("processGetUsers: ошибка: %v", err)
		h.ackError(c, envelope.ID, "Failed to load users")
		return
	}
	h.ack(c, envelope.ID, users)
}

// processDeleteChat удаляет чат, предварительно попросив исторических
// участников покинуть комнату (админская операция)
func (h *Handler) processDeleteChat(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для delete-chat")
		return
	}

	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный chatId")
		return
	}

	if err := h.deleteChat(ctx, chatID); err != nil {
		if err == storage.ErrNotFound {
			h.ackError(c, envelope.ID, "Chat not found")
			return
		}
		log.Printf("processDeleteChat: ошибка: %v", err)
		h.ackError(c, envelope.ID, "Failed to delete chat")
		return
	}

	h.ack(c, envelope.ID, AckStatus{Status: "success", Message: "Chat deleted"})
}

// deleteChat — общая реализация для WebSocket и REST путей
func (h *Handler) deleteChat(ctx context.Context, chatID uuid.UUID) error {
	unlock := h.locks.Lock(chatID.String())
	defer unlock()

	if _, err := h.store.GetChat(ctx, chatID); err != nil {
		return err
	}

	// Исторические участники — отправители сообщений чата,
	// дедупликация по паре (имя, роль)
	messages, err := h.store.ListMessages(ctx, storage.MessageFilter{ChatID: chatID})
	if err != nil {
		return err
	}
	populated, err := h.chats.PopulateMessages(ctx, messages, chat.PopulateSender)
	if err != nil {
		return err
	}

	room := chatID.String()
	seen := make(map[string]bool)
	for _, m := range populated {
		if m.Sender == nil || m.Sender.ID == models.SystemUserID {
			continue
		}
		key := m.Sender.Username + "|" + string(m.Sender.Type)
		if seen[key] {
			continue
		}
		seen[key] = true

		if conn, ok := h.hub.Conn(m.Sender.ConnectionID); ok {
			h.hub.Emit(m.Sender.ConnectionID, "leave-chat", map[string]string{"chatId": room})
			h.hub.LeaveRoom(room, conn)
		}
	}

	// Сообщения чата зачищает само хранилище
	if err := h.store.RemoveChat(ctx, chatID); err != nil {
		return err
	}
	log.Printf("deleteChat: чат %s удален", chatID)
	return nil
}

// processGetAnswers возвращает переписку трех самых похожих чатов
// одним текстовым блобом (для внешнего потребителя вроде LLM-промпта)
func (h *Handler) processGetAnswers(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для get-answers-by-question")
		return
	}
	if p.Question == "" {
		h.ackError(c, envelope.ID, "Question is required")
		return
	}

	started := time.Now()
	answers, err := h.chats.AnswersByQuestion(ctx, p.Question)
	if err != nil {
		log.Printf("processGetAnswers: ошибка: %v", err)
		h.ackError(c, envelope.ID, "Failed to collect answers")
		return
	}
	log.Printf("processGetAnswers: выжимка собрана за %v", time.Since(started))
	h.ack(c, envelope.ID, AnswersAck{Status: "success", Answers: answers})
}
