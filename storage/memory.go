package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
)

// MemoryStore — хранилище в памяти процесса. Все выборки работают
// по снимку под read-блокировкой, порядок вставки сохраняется.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]models.User
	userOrder []uuid.UUID
	chats     map[uuid.UUID]models.Chat
	chatOrder []uuid.UUID
	messages  []models.Message // append-only журнал
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uuid.UUID]models.User),
		chats: make(map[uuid.UUID]models.Chat),
	}
}

// ─────────────────────────────── пользователи

func (s *MemoryStore) CreateUser(ctx context.Context, username string, userType models.UserType, connectionID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := models.User{
		ID:           uuid.New(),
		Username:     username,
		Type:         userType,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
	}
	s.users[user.ID] = user
	s.userOrder = append(s.userOrder, user.ID)
	return &user, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		user := s.users[id]
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
	return list, nil
}

func (s *MemoryStore) UpdateUserConnection(ctx context.Context, id, connectionID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	user.ConnectionID = connectionID
	s.users[id] = user
	return &user, nil
}

func (s *MemoryStore) RemoveUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for i, uid := range s.userOrder {
		if uid == id {
			s.userOrder = append(s.userOrder[:i], s.userOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ─────────────────────────────── чаты

func (s *MemoryStore) CreateChat(ctx context.Context, members []uuid.UUID, userQuestion, chatContext string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := models.Chat{
		ID:           uuid.New(),
		Members:      append([]uuid.UUID(nil), members...),
		UserQuestion: userQuestion,
		Context:      chatContext,
		CreatedAt:    time.Now(),
	}
	s.chats[chat.ID] = chat
	s.chatOrder = append(s.chatOrder, chat.ID)
	return &chat, nil
}

func (s *MemoryStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &chat, nil
}

func (s *MemoryStore) ListChats(ctx context.Context, filter ChatFilter) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Chat, 0, len(s.chatOrder))
	for _, id := range s.chatOrder {
		chat := s.chats[id]
		if len(filter.IDs) > 0 && !containsID(filter.IDs, chat.ID) {
			continue
		}
		if filter.Member != uuid.Nil && !chat.HasMember(filter.Member) {
			continue
		}
		list = append(list, chat)
	}
	return list, nil
}

func (s *MemoryStore) RemoveChat(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[id]; !ok {
		return ErrNotFound
	}
	delete(s.chats, id)
	for i, cid := range s.chatOrder {
		if cid == id {
			s.chatOrder = append(s.chatOrder[:i], s.chatOrder[i+1:]...)
			break
		}
	}

	// Подчищаем осиротевшие сообщения удаленного чата
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.ChatID != id {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

// ─────────────────────────────── сообщения

func (s *MemoryStore) CreateMessage(ctx context.Context, chatID, senderID uuid.UUID, messageType models.MessageType, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
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
	s.messages = append(s.messages, message)
	return &message, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]models.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if len(filter.IDs) > 0 && !containsID(filter.IDs, m.ID) {
			continue
		}
		if filter.ChatID != uuid.Nil && m.ChatID != filter.ChatID {
			continue
		}
		list = append(list, m)
	}
	return list, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}
