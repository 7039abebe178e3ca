package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/storage"
)

var (
	// ErrAlreadyLoggedIn — попытка второго логина при живом операторе
	ErrAlreadyLoggedIn = errors.New("agent already logged in")
	// ErrInvalidCredentials — логин/пароль не совпали с настроенной парой
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Credentials — единственная учетная пара оператора (из конфигурации).
// PasswordHash (bcrypt) имеет приоритет над открытым Password.
type Credentials struct {
	Login        string
	Password     string
	PasswordHash string
}

// agentSlot — явное состояние синглтона оператора: Offline или
// Online с привязанным соединением
type agentSlot struct {
	online bool
	userID uuid.UUID
	connID uuid.UUID
}

// Manager отслеживает, какое соединение принадлежит какому пользователю,
// и держит инвариант «в системе не больше одного живого оператора».
// Все мутации слота оператора идут одной сериализованной очередью:
// блокировка держится и через обращения к хранилищу.
type Manager struct {
	store storage.Store
	creds Credentials
	locks *KeyedMutex
	slot  agentSlot
}

const agentKey = "agent"

// NewManager создает менеджер присутствия
func NewManager(store storage.Store, creds Credentials) *Manager {
	return &Manager{
		store: store,
		creds: creds,
		locks: NewKeyedMutex(),
	}
}

// VerifyCredentials сверяет пару с настроенной учеткой оператора
func (m *Manager) VerifyCredentials(username, password string) error {
	if username != m.creds.Login {
		return ErrInvalidCredentials
	}
	if m.creds.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(m.creds.PasswordHash), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if password == "" || password != m.creds.Password {
		return ErrInvalidCredentials
	}
	return nil
}

// Login переводит оператора Offline → Online и привязывает соединение.
// Второй логин при живом операторе не крадет соединение и не плодит
// вторую учетку — только ErrAlreadyLoggedIn.
func (m *Manager) Login(ctx context.Context, username, password string, connectionID uuid.UUID) (*models.User, error) {
	unlock := m.locks.Lock(agentKey)
	defer unlock()

	if m.slot.online {
		log.Printf("Login: отказ — оператор уже в сети (conn=%s)", m.slot.connID)
		return nil, ErrAlreadyLoggedIn
	}
	if err := m.VerifyCredentials(username, password); err != nil {
		return nil, err
	}

	// Учетка оператора — долгоживущая строка с фиксированным именем:
	// переиспользуем существующую, вместо удаления всегда сбрасываем connectionId
	existing, err := m.store.ListUsers(ctx, storage.UserFilter{Username: username, Type: models.UserAgent})
	if err != nil {
		return nil, fmt.Errorf("выборка оператора: %w", err)
	}

	var user *models.User
	if len(existing) > 0 {
		user, err = m.store.UpdateUserConnection(ctx, existing[0].ID, connectionID)
	} else {
		user, err = m.store.CreateUser(ctx, username, models.UserAgent, connectionID)
	}
	if err != nil {
		return nil, err
	}

	m.slot = agentSlot{online: true, userID: user.ID, connID: connectionID}
	log.Printf("Login: оператор %s в сети (conn=%s)", user.Username, connectionID)
	return user, nil
}

// LoginClient создает одноразовую клиентскую учетку, привязанную к соединению
func (m *Manager) LoginClient(ctx context.Context, username string, connectionID uuid.UUID) (*models.User, error) {
	if username == "" {
		username = "Client"
	}
	return m.store.CreateUser(ctx, username, models.UserClient, connectionID)
}

// Refresh восстанавливает сессию по ранее выданному ID без повторной
// проверки пароля: доверие привязано к обладанию идентификатором.
// Идемпотентен — повторный вызов только перепривязывает connectionId.
func (m *Manager) Refresh(ctx context.Context, userID, connectionID uuid.UUID) (*models.User, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Type == models.UserAgent {
		unlock := m.locks.Lock(agentKey)
		defer unlock()
		user, err = m.store.UpdateUserConnection(ctx, userID, connectionID)
		if err != nil {
			return nil, err
		}
		m.slot = agentSlot{online: true, userID: user.ID, connID: connectionID}
		log.Printf("Refresh: сессия оператора %s восстановлена (conn=%s)", user.Username, connectionID)
		return user, nil
	}

	return m.store.UpdateUserConnection(ctx, userID, connectionID)
}

// Logout завершает сессию. Оператор мягко сбрасывается в Offline
// (учетка остается), клиент удаляется совсем.
func (m *Manager) Logout(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Type == models.UserAgent {
		unlock := m.locks.Lock(agentKey)
		defer unlock()
		if _, err := m.store.UpdateUserConnection(ctx, userID, uuid.Nil); err != nil {
			return nil, err
		}
		m.slot = agentSlot{}
		log.Printf("Logout: оператор %s вышел", user.Username)
		user.ConnectionID = uuid.Nil
		return user, nil
	}

	if err := m.store.RemoveUser(ctx, userID); err != nil {
		return nil, err
	}
	log.Printf("Logout: клиент %s удален", user.Username)
	return user, nil
}

// Disconnect обрабатывает обрыв соединения на уровне транспорта:
// пользователь помечается отключенным, учетка не трогается
func (m *Manager) Disconnect(ctx context.Context, connectionID uuid.UUID) (*models.User, error) {
	users, err := m.store.ListUsers(ctx, storage.UserFilter{ConnectionID: connectionID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, storage.ErrNotFound
	}

	user := users[0]
	if user.Type == models.UserAgent {
		unlock := m.locks.Lock(agentKey)
		defer unlock()
		if _, err := m.store.UpdateUserConnection(ctx, user.ID, uuid.Nil); err != nil {
			return nil, err
		}
		m.slot = agentSlot{}
		log.Printf("Disconnect: оператор %s отключился", user.Username)
		user.ConnectionID = uuid.Nil
		return &user, nil
	}

	if _, err := m.store.UpdateUserConnection(ctx, user.ID, uuid.Nil); err != nil {
		return nil, err
	}
	user.ConnectionID = uuid.Nil
	return &user, nil
}

// AgentUserID возвращает ID оператора, если он в сети
func (m *Manager) AgentUserID() (uuid.UUID, bool) {
	unlock := m.locks.Lock(agentKey)
	defer unlock()
	if !m.slot.online {
		return uuid.Nil, false
	}
	return m.slot.userID, true
}
