package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egor/supportchat/chat"
	"github.com/egor/supportchat/config"
	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/session"
	"github.com/egor/supportchat/storage"
	"github.com/egor/supportchat/ws"
)

// fakeConn — соединение для тестов: копит отправленные кадры в память
type fakeConn struct {
	id   uuid.UUID
	sent []*ws.Envelope
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New()}
}

func (c *fakeConn) ConnID() uuid.UUID { return c.id }

func (c *fakeConn) SendJSON(v interface{}) error {
	c.sent = append(c.sent, v.(*ws.Envelope))
	return nil
}

// frames возвращает все кадры указанного типа
func (c *fakeConn) frames(eventType string) []*ws.Envelope {
	var out []*ws.Envelope
	for _, e := range c.sent {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestHandler(t *testing.T) (*Handler, *storage.MemoryStore, *ws.Hub) {
	t.Helper()
	store := storage.NewMemoryStore()
	chats := chat.NewService(store)
	sessions := session.NewManager(store, session.Credentials{Login: "agent", Password: "secret"})
	hub := ws.NewHub()
	cfg := &config.Config{FrontendURL: "http://localhost:3000", LLMTimeout: time.Second}
	return New(store, chats, sessions, hub, cfg, nil), store, hub
}

// send упаковывает полезную нагрузку в кадр протокола и скармливает обработчику
func send(t *testing.T, h *Handler, c ws.Conn, eventType string, id int64, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(ws.Envelope{Type: eventType, ID: id, Payload: raw})
	require.NoError(t, err)
	h.HandleMessage(c, frame)
}

// ackFor находит подтверждение на запрос с данным ID
func ackFor(t *testing.T, c *fakeConn, id int64) *ws.Envelope {
	t.Helper()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == ws.AckType && c.sent[i].ID == id {
			return c.sent[i]
		}
	}
	t.Fatalf("подтверждение на запрос %d не найдено", id)
	return nil
}

func decode(t *testing.T, envelope *ws.Envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(envelope.Payload, target))
}

// loginAgent авторизует оператора через протокол и возвращает его учетку
func loginAgent(t *testing.T, h *Handler, hub *ws.Hub, c *fakeConn) models.User {
	t.Helper()
	hub.Register(c)
	send(t, h, c, "login", 1, map[string]string{
		"username": "agent", "type": "agent", "password": "secret",
	})
	var ack AuthAck
	decode(t, ackFor(t, c, 1), &ack)
	require.Equal(t, "success", ack.Status)
	require.NotNil(t, ack.Meta)
	return ack.Meta.User
}

// createChat открывает чат от имени клиента и возвращает сводку
func createChat(t *testing.T, h *Handler, hub *ws.Hub, c *fakeConn, username, question string) *models.ChatSummary {
	t.Helper()
	hub.Register(c)
	send(t, h, c, "create-new-chat", 2, map[string]string{
		"question": question, "username": username,
	})
	var ack CreateChatAck
	decode(t, ackFor(t, c, 2), &ack)
	require.Equal(t, "success", ack.Status)
	require.NotNil(t, ack.Chat)
	return ack.Chat
}

func TestProcessLogin(t *testing.T) {
	h, _, hub := newTestHandler(t)

	t.Run("agent", func(t *testing.T) {
		conn := newFakeConn()
		user := loginAgent(t, h, hub, conn)
		assert.Equal(t, models.UserAgent, user.Type)
		assert.Equal(t, conn.id, user.ConnectionID)
		// Оператор попадает в комнату операторов
		assert.Contains(t, hub.RoomsOf(conn), ws.AgentsRoom)
	})

	t.Run("second agent rejected", func(t *testing.T) {
		conn := newFakeConn()
		hub.Register(conn)
		send(t, h, conn, "login", 1, map[string]string{
			"username": "agent", "type": "agent", "password": "secret",
		})
		var ack AuthAck
		decode(t, ackFor(t, conn, 1), &ack)
		assert.Equal(t, "error", ack.Status)
		assert.Equal(t, "Agent is already logged in", ack.Message)
	})

	t.Run("wrong password", func(t *testing.T) {
		h2, _, hub2 := newTestHandler(t)
		conn := newFakeConn()
		hub2.Register(conn)
		send(t, h2, conn, "login", 1, map[string]string{
			"username": "agent", "type": "agent", "password": "nope",
		})
		var ack AuthAck
		decode(t, ackFor(t, conn, 1), &ack)
		assert.Equal(t, "error", ack.Status)
		assert.Equal(t, "Invalid username or password", ack.Message)
	})

	t.Run("client needs no password", func(t *testing.T) {
		conn := newFakeConn()
		hub.Register(conn)
		send(t, h, conn, "login", 1, map[string]string{
			"username": "Вася", "type": "client",
		})
		var ack AuthAck
		decode(t, ackFor(t, conn, 1), &ack)
		require.Equal(t, "success", ack.Status)
		assert.Equal(t, models.UserClient, ack.Meta.User.Type)
		assert.NotContains(t, hub.RoomsOf(conn), ws.AgentsRoom)
	})

	t.Run("unknown role", func(t *testing.T) {
		conn := newFakeConn()
		send(t, h, conn, "login", 1, map[string]string{"username": "x", "type": "root"})
		var ack AckStatus
		decode(t, ackFor(t, conn, 1), &ack)
		assert.Equal(t, "error", ack.Status)
	})
}

func TestProcessCreateNewChat(t *testing.T) {
	h, store, hub := newTestHandler(t)
	ctx := context.Background()

	agentConn := newFakeConn()
	agent := loginAgent(t, h, hub, agentConn)

	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "как оформить возврат")

	assert.Equal(t, "как оформить возврат", summary.UserQuestion)
	// Заголовок чата — последнее видимое оператору сообщение
	require.NotNil(t, summary.LastMessage)
	assert.Equal(t, "Вася is asking: как оформить возврат", summary.LastMessage.Text)

	// Оператор в сети попадает в участники
	created, err := store.GetChat(ctx, summary.ID)
	require.NoError(t, err)
	assert.True(t, created.HasMember(agent.ID))

	// Создатель сразу в комнате чата
	assert.Contains(t, hub.RoomsOf(clientConn), summary.ID.String())

	// Операторы получают new-client-chat
	notices := agentConn.frames("new-client-chat")
	require.Len(t, notices, 1)
	var notified models.ChatSummary
	require.NoError(t, json.Unmarshal(notices[0].Payload, &notified))
	assert.Equal(t, summary.ID, notified.ID)

	t.Run("question required", func(t *testing.T) {
		conn := newFakeConn()
		hub.Register(conn)
		send(t, h, conn, "create-new-chat", 7, map[string]string{"username": "Петя"})
		var ack AckStatus
		decode(t, ackFor(t, conn, 7), &ack)
		assert.Equal(t, "error", ack.Status)
	})

	t.Run("offline agent not a member", func(t *testing.T) {
		h2, store2, hub2 := newTestHandler(t)
		conn := newFakeConn()
		s := createChat(t, h2, hub2, conn, "Петя", "вопрос")
		created, err := store2.GetChat(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, created.Members, 1)
	})
}

func TestProcessJoinChat(t *testing.T) {
	h, _, hub := newTestHandler(t)

	agentConn := newFakeConn()
	agent := loginAgent(t, h, hub, agentConn)

	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "как оформить возврат")

	send(t, h, agentConn, "join-chat", 3, map[string]interface{}{
		"chatId": summary.ID.String(),
		"user":   map[string]string{"id": agent.ID.String()},
	})

	var joined models.ChatPopulated
	decode(t, ackFor(t, agentConn, 3), &joined)
	assert.Equal(t, summary.ID, joined.ID)

	// История отфильтрована по роли: client-only приветствие оператору не видно
	for _, m := range joined.Messages {
		assert.NotEqual(t, models.MessageClientOnly, m.Type)
	}
	texts := make([]string, 0, len(joined.Messages))
	for _, m := range joined.Messages {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "Вася is asking: как оформить возврат")
	assert.Contains(t, texts, "agent joined the chat")

	// Клиент получил уведомление о входе, оператор (отправитель) — нет
	require.Len(t, clientConn.frames("user_joined"), 1)
	assert.Empty(t, agentConn.frames("user_joined"))

	t.Run("unknown chat", func(t *testing.T) {
		send(t, h, agentConn, "join-chat", 4, map[string]interface{}{
			"chatId": uuid.New().String(),
			"user":   map[string]string{"id": agent.ID.String()},
		})
		var ack AckStatus
		decode(t, ackFor(t, agentConn, 4), &ack)
		assert.Equal(t, "error", ack.Status)
		assert.Equal(t, "Chat not found", ack.Message)
	})
}

func TestProcessMessage(t *testing.T) {
	h, _, hub := newTestHandler(t)

	agentConn := newFakeConn()
	agent := loginAgent(t, h, hub, agentConn)

	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "вопрос")

	// Клиентскую учетку находим по соединению
	users, err := h.store.ListUsers(context.Background(), storage.UserFilter{ConnectionID: clientConn.id})
	require.NoError(t, err)
	require.Len(t, users, 1)
	clientID := users[0].ID

	send(t, h, agentConn, "join-chat", 3, map[string]interface{}{
		"chatId": summary.ID.String(),
		"user":   map[string]string{"id": agent.ID.String()},
	})

	t.Run("client reply reaches agent", func(t *testing.T) {
		send(t, h, clientConn, "message", 5, map[string]string{
			"chatId":   summary.ID.String(),
			"senderId": clientID.String(),
			"text":     "привет",
		})

		var sent models.MessagePopulated
		decode(t, ackFor(t, clientConn, 5), &sent)
		assert.Equal(t, models.MessageUser, sent.Type)
		require.NotNil(t, sent.Sender)
		assert.Equal(t, "Вася", sent.Sender.Username)

		frames := agentConn.frames("message")
		require.Len(t, frames, 1)
		// Отправитель рассылку не получает
		assert.Empty(t, clientConn.frames("message"))
	})

	t.Run("agent-only stays with the agent", func(t *testing.T) {
		send(t, h, agentConn, "message", 6, map[string]string{
			"chatId":   summary.ID.String(),
			"senderId": agent.ID.String(),
			"type":     "agent-only",
			"text":     "заметка для себя",
		})

		var sent models.MessagePopulated
		decode(t, ackFor(t, agentConn, 6), &sent)
		assert.Equal(t, models.MessageAgentOnly, sent.Type)

		// Клиент служебную заметку не видит
		for _, f := range clientConn.frames("message") {
			var m models.MessagePopulated
			require.NoError(t, json.Unmarshal(f.Payload, &m))
			assert.NotEqual(t, "заметка для себя", m.Text)
		}
	})

	t.Run("client cannot fake agent-only", func(t *testing.T) {
		send(t, h, clientConn, "message", 7, map[string]string{
			"chatId":   summary.ID.String(),
			"senderId": clientID.String(),
			"type":     "agent-only",
			"text":     "подделка",
		})
		var ack AckStatus
		decode(t, ackFor(t, clientConn, 7), &ack)
		assert.Equal(t, "error", ack.Status)
	})

	t.Run("system type reserved", func(t *testing.T) {
		send(t, h, agentConn, "message", 8, map[string]string{
			"chatId":   summary.ID.String(),
			"senderId": agent.ID.String(),
			"type":     "system",
			"text":     "x",
		})
		var ack AckStatus
		decode(t, ackFor(t, agentConn, 8), &ack)
		assert.Equal(t, "error", ack.Status)
	})

	t.Run("unknown chat is not broadcast", func(t *testing.T) {
		before := len(agentConn.frames("message"))
		send(t, h, clientConn, "message", 9, map[string]string{
			"chatId":   uuid.New().String(),
			"senderId": clientID.String(),
			"text":     "мимо",
		})
		var ack AckStatus
		decode(t, ackFor(t, clientConn, 9), &ack)
		assert.Equal(t, "error", ack.Status)
		assert.Len(t, agentConn.frames("message"), before)
	})
}

func TestProcessLogout(t *testing.T) {
	h, store, hub := newTestHandler(t)
	ctx := context.Background()

	agentConn := newFakeConn()
	loginAgent(t, h, hub, agentConn)

	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "вопрос")

	users, err := store.ListUsers(ctx, storage.UserFilter{ConnectionID: clientConn.id})
	require.NoError(t, err)
	require.Len(t, users, 1)
	clientID := users[0].ID

	send(t, h, clientConn, "logout", 10, map[string]string{"userId": clientID.String()})
	var ack AckStatus
	decode(t, ackFor(t, clientConn, 10), &ack)
	assert.Equal(t, "success", ack.Status)

	// Клиентская учетка удалена, уведомление о выходе сохранено
	_, err = store.GetUser(ctx, clientID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	messages, err := store.ListMessages(ctx, storage.MessageFilter{ChatID: summary.ID})
	require.NoError(t, err)
	var leftSeen bool
	for _, m := range messages {
		if m.Type == models.MessageSystem && m.Text == "Вася left the chat" {
			leftSeen = true
		}
	}
	assert.True(t, leftSeen)

	// Соединение клиента выведено из комнаты чата
	assert.NotContains(t, hub.RoomsOf(clientConn), summary.ID.String())

	t.Run("unknown user", func(t *testing.T) {
		send(t, h, clientConn, "logout", 11, map[string]string{"userId": uuid.New().String()})
		var ack AckStatus
		decode(t, ackFor(t, clientConn, 11), &ack)
		assert.Equal(t, "error", ack.Status)
	})
}

func TestProcessGetChats(t *testing.T) {
	h, _, hub := newTestHandler(t)

	clientConn := newFakeConn()
	createChat(t, h, hub, clientConn, "Вася", "первый вопрос")

	agentConn := newFakeConn()
	loginAgent(t, h, hub, agentConn)

	send(t, h, agentConn, "get-chats", 3, struct{}{})
	var summaries []models.ChatSummary
	decode(t, ackFor(t, agentConn, 3), &summaries)
	require.Len(t, summaries, 1)
	assert.Equal(t, "первый вопрос", summaries[0].UserQuestion)
}

func TestProcessGetUsers(t *testing.T) {
	h, _, hub := newTestHandler(t)

	agentConn := newFakeConn()
	loginAgent(t, h, hub, agentConn)
	clientConn := newFakeConn()
	createChat(t, h, hub, clientConn, "Вася", "вопрос")

	send(t, h, agentConn, "get-users", 3, struct{}{})
	var users []models.User
	decode(t, ackFor(t, agentConn, 3), &users)
	assert.Len(t, users, 2)
}

func TestProcessDeleteChat(t *testing.T) {
	h, store, hub := newTestHandler(t)
	ctx := context.Background()

	agentConn := newFakeConn()
	loginAgent(t, h, hub, agentConn)
	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "вопрос")

	users, err := store.ListUsers(ctx, storage.UserFilter{ConnectionID: clientConn.id})
	require.NoError(t, err)
	clientID := users[0].ID

	// Реплика клиента делает его историческим участником
	send(t, h, clientConn, "message", 4, map[string]string{
		"chatId":   summary.ID.String(),
		"senderId": clientID.String(),
		"text":     "привет",
	})

	send(t, h, agentConn, "delete-chat", 5, map[string]string{"chatId": summary.ID.String()})
	var ack AckStatus
	decode(t, ackFor(t, agentConn, 5), &ack)
	assert.Equal(t, "success", ack.Status)

	// Участник получил просьбу покинуть чат и выведен из комнаты
	require.Len(t, clientConn.frames("leave-chat"), 1)
	assert.NotContains(t, hub.RoomsOf(clientConn), summary.ID.String())

	_, err = store.GetChat(ctx, summary.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	t.Run("unknown chat", func(t *testing.T) {
		send(t, h, agentConn, "delete-chat", 6, map[string]string{"chatId": uuid.New().String()})
		var ack AckStatus
		decode(t, ackFor(t, agentConn, 6), &ack)
		assert.Equal(t, "error", ack.Status)
		assert.Equal(t, "Chat not found", ack.Message)
	})
}

func TestProcessGetAnswers(t *testing.T) {
	h, store, hub := newTestHandler(t)
	ctx := context.Background()

	clientConn := newFakeConn()
	summary := createChat(t, h, hub, clientConn, "Вася", "как оформить возврат")

	users, err := store.ListUsers(ctx, storage.UserFilter{ConnectionID: clientConn.id})
	require.NoError(t, err)
	send(t, h, clientConn, "message", 4, map[string]string{
		"chatId":   summary.ID.String(),
		"senderId": users[0].ID.String(),
		"text":     "возврат оформляется в личном кабинете",
	})

	agentConn := newFakeConn()
	loginAgent(t, h, hub, agentConn)

	send(t, h, agentConn, "get-answers-by-question", 5, map[string]string{
		"question": "как оформить возврат товара",
	})
	var ack AnswersAck
	decode(t, ackFor(t, agentConn, 5), &ack)
	assert.Equal(t, "success", ack.Status)
	assert.Contains(t, ack.Answers, "Question: как оформить возврат")
	assert.Contains(t, ack.Answers, "Вася: возврат оформляется в личном кабинете")
}

func TestHandleMessage_UnknownEvent(t *testing.T) {
	h, _, _ := newTestHandler(t)
	conn := newFakeConn()

	send(t, h, conn, "bogus-event", 1, struct{}{})
	var ack AckStatus
	decode(t, ackFor(t, conn, 1), &ack)
	assert.Equal(t, "error", ack.Status)

	// Битый JSON — ошибка вне механизма подтверждений
	h.HandleMessage(conn, []byte("{oops"))
	require.NotEmpty(t, conn.frames("error"))
}

func TestDeriveMessageType(t *testing.T) {
	cases := []struct {
		role      models.UserType
		requested models.MessageType
		want      models.MessageType
		wantErr   bool
	}{
		{models.UserClient, "", models.MessageUser, false},
		{models.UserAgent, models.MessageUser, models.MessageUser, false},
		{models.UserAgent, models.MessageAgentOnly, models.MessageAgentOnly, false},
		{models.UserClient, models.MessageAgentOnly, "", true},
		{models.UserClient, models.MessageClientOnly, models.MessageClientOnly, false},
		{models.UserAgent, models.MessageClientOnly, "", true},
		{models.UserAgent, models.MessageSystem, "", true},
		{models.UserClient, models.MessageContext, "", true},
		{models.UserClient, "exotic", "", true},
	}
	for _, tc := range cases {
		got, err := deriveMessageType(tc.role, tc.requested)
		if tc.wantErr {
			assert.Error(t, err, "роль %s, запрошен %q", tc.role, tc.requested)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
