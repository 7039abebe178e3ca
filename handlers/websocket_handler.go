package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/session"
	"github.com/egor/supportchat/storage"
	"github.com/egor/supportchat/ws"
)

// wsUpgrader апгрейдит HTTP→WebSocket с проверкой Origin
func (h *Handler) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin проверяет, разрешен ли Origin для подключения
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Разрешаем локальные подключения без Origin
		host := r.Host
		return strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:")
	}

	allowed := append([]string{h.cfg.FrontendURL}, h.cfg.AdditionalOrigins...)
	for _, url := range allowed {
		if url == origin {
			return true
		}
	}

	// Для разработки можно разрешить все origins
	if h.cfg.AllowAllOrigins {
		log.Printf("ВНИМАНИЕ: разрешен origin %s (ALLOW_ALL_ORIGINS=true)", origin)
		return true
	}

	log.Printf("Отклонен origin: %s", origin)
	return false
}

// ServeWs обрабатывает WebSocket соединение
func (h *Handler) ServeWs(c *gin.Context) {
	log.Printf("ServeWs: новое соединение от %s, origin: %s",
		c.ClientIP(), c.Request.Header.Get("Origin"))

	upgrader := h.wsUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ServeWs: ошибка апгрейда соединения: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleFrame, h.handleDisconnect)

	log.Printf("ServeWs: соединение %s установлено", client.ConnID())
}

// handleFrame — адаптер ReadPump → протокол
func (h *Handler) handleFrame(client *ws.Client, raw []byte) {
	h.HandleMessage(client, raw)
}

// HandleMessage разбирает входящий кадр и диспатчит его по типу события
func (h *Handler) HandleMessage(c ws.Conn, raw []byte) {
	var envelope ws.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		h.sendProtocolError(c, "некорректный формат JSON")
		return
	}

	ctx := context.Background()

	switch envelope.Type {
	case "login":
		h.processLogin(ctx, c, &envelope)
	case "refresh-user":
		h.processRefreshUser(ctx, c, &envelope)
	case "create-new-chat":
		h.processCreateNewChat(ctx, c, &envelope)
	case "get-chats":
		h.processGetChats(ctx, c, &envelope)
	case "join-chat":
		h.processJoinChat(ctx, c, &envelope)
	case "message":
		h.processMessage(ctx, c, &envelope)
	case "logout":
		h.processLogout(ctx, c, &envelope)
	case "get-users":
		h.processGetUsers(ctx, c, &envelope)
	case "delete-chat":
		h.processDeleteChat(ctx, c, &envelope)
	case "get-answers-by-question":
		h.processGetAnswers(ctx, c, &envelope)
	default:
		h.ackError(c, envelope.ID, "неизвестный тип события: "+envelope.Type)
	}
}

// sendProtocolError шлет ошибку вне механизма подтверждений
// (когда ID запроса неизвестен)
func (h *Handler) sendProtocolError(c ws.Conn, message string) {
	envelope, err := ws.NewEnvelope("error", AckStatus{Status: "error", Message: message})
	if err != nil {
		return
	}
	if err := c.SendJSON(envelope); err != nil {
		log.Printf("sendProtocolError: ошибка отправки: %v", err)
	}
}

// processLogin обрабатывает авторизацию: оператор — по учетной паре,
// клиент — одноразовой учеткой без пароля
func (h *Handler) processLogin(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		Username string          `json:"username"`
		Type     models.UserType `json:"type"`
		Password string          `json:"password"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для login")
		return
	}
	if !p.Type.Valid() {
		h.ackError(c, envelope.ID, "неизвестный тип пользователя")
		return
	}

	var user *models.User
	var err error
	switch p.Type {
	case models.UserAgent:
		user, err = h.sessions.Login(ctx, p.Username, p.Password, c.ConnID())
	case models.UserClient:
		user, err = h.sessions.LoginClient(ctx, p.Username, c.ConnID())
	}
	if err != nil {
		log.Printf("processLogin: отказ для %s (%s): %v", p.Username, p.Type, err)
		h.ack(c, envelope.ID, AuthAck{Status: "error", Message: loginErrorMessage(err)})
		return
	}

	if user.Type == models.UserAgent {
		h.hub.JoinRoom(ws.AgentsRoom, c)
	}

	log.Printf("processLogin: %s (%s) авторизован", user.Username, user.Type)
	h.ack(c, envelope.ID, AuthAck{
		Status:  "success",
		Message: "Logged in",
		Meta:    &AuthMeta{User: *user},
	})
}

// loginErrorMessage переводит ошибки присутствия в текст подтверждения
func loginErrorMessage(err error) string {
	switch {
	case err == session.ErrAlreadyLoggedIn:
		return "Agent is already logged in"
	case err == session.ErrInvalidCredentials:
		return "Invalid username or password"
	}
	return "Login failed"
}

// processRefreshUser восстанавливает сессию по ранее выданному userId
// после перезагрузки страницы
func (h *Handler) processRefreshUser(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для refresh-user")
		return
	}

	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		h.ack(c, envelope.ID, AuthAck{Status: "error", Message: "Invalid user id"})
		return
	}

	user, err := h.sessions.Refresh(ctx, userID, c.ConnID())
	if err != nil {
		log.Printf("processRefreshUser: ошибка для %s: %v", userID, err)
		h.ack(c, envelope.ID, AuthAck{Status: "error", Message: "User not found"})
		return
	}

	if user.Type == models.UserAgent {
		h.hub.JoinRoom(ws.AgentsRoom, c)
	}

	h.ack(c, envelope.ID, AuthAck{
		Status:  "success",
		Message: "Session restored",
		Meta:    &AuthMeta{User: *user},
	})
}

// processLogout завершает сессию пользователя и уведомляет его чаты
func (h *Handler) processLogout(ctx context.Context, c ws.Conn, envelope *ws.Envelope) {
	var p struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(envelope.Payload, &p); err != nil {
		h.ackError(c, envelope.ID, "некорректный формат данных для logout")
		return
	}

	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		h.ackError(c, envelope.ID, "некорректный userId")
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.ackError(c, envelope.ID, "User not found")
		return
	}

	// Сначала уведомляем комнаты: после logout клиентская учетка исчезнет
	h.broadcastUserLeft(ctx, user)

	if user.Type == models.UserAgent {
		if conn, ok := h.hub.Conn(user.ConnectionID); ok {
			h.hub.LeaveRoom(ws.AgentsRoom, conn)
		}
	}

	if _, err := h.sessions.Logout(ctx, userID); err != nil {
		log.Printf("processLogout: ошибка для %s: %v", userID, err)
		h.ackError(c, envelope.ID, "Logout failed")
		return
	}

	h.ack(c, envelope.ID, AckStatus{Status: "success", Message: "Logged out"})
}

// handleDisconnect обрабатывает обрыв соединения на уровне транспорта.
// Ошибки зачистки некому возвращать — только логируем.
func (h *Handler) handleDisconnect(client *ws.Client) {
	ctx := context.Background()

	user, err := h.sessions.Disconnect(ctx, client.ConnID())
	if err != nil {
		if err != storage.ErrNotFound {
			log.Printf("handleDisconnect: ошибка для %s: %v", client.ConnID(), err)
		}
		return
	}

	// Оператор «выходит» из всех своих комнат, клиент просто помечен офлайн
	if user.Type == models.UserAgent {
		h.broadcastUserLeft(ctx, user)
	}
	log.Printf("handleDisconnect: %s (%s) отключен", user.Username, user.Type)
}
