package chat

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/storage"
)

// PopulateField — поле сообщения, которое нужно развернуть при чтении
type PopulateField string

const (
	PopulateSender PopulateField = "sender"
	PopulateChat   PopulateField = "chat"
)

// Service разворачивает ссылки между сущностями без поддержки join'ов
// на стороне хранилища и собирает производные проекции (сводки чатов).
type Service struct {
	store storage.Store
}

// NewService создает сервис поверх хранилища
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// PopulateMessages разворачивает запрошенные поля у пачки сообщений.
// На каждое поле — один батч-запрос к хранилищу, не по запросу на сообщение.
// Неразрешимая ссылка — не ошибка: поле остается пустым
// (например, отправитель был удален).
func (s *Service) PopulateMessages(ctx context.Context, messages []models.Message, fields ...PopulateField) ([]models.MessagePopulated, error) {
	populated := make([]models.MessagePopulated, len(messages))
	for i, m := range messages {
		populated[i] = models.MessagePopulated{Message: m}
	}

	for _, field := range fields {
		switch field {
		case PopulateSender:
			if err := s.populateSenders(ctx, populated); err != nil {
				return nil, err
			}
		case PopulateChat:
			if err := s.populateChats(ctx, populated); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("неизвестное поле для populate: %q", field)
		}
	}
	return populated, nil
}

func (s *Service) populateSenders(ctx context.Context, messages []models.MessagePopulated) error {
	// Собираем ID отправителей; псевдо-отправитель в хранилище не живет
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range messages {
		if m.SenderID == models.SystemUserID || seen[m.SenderID] {
			continue
		}
		seen[m.SenderID] = true
		ids = append(ids, m.SenderID)
	}

	byID := make(map[uuid.UUID]models.User)
	if len(ids) > 0 {
		users, err := s.store.ListUsers(ctx, storage.UserFilter{IDs: ids})
		if err != nil {
			return fmt.Errorf("выборка отправителей: %w", err)
		}
		for _, u := range users {
			byID[u.ID] = u
		}
	}

	for i := range messages {
		if messages[i].SenderID == models.SystemUserID {
			sender := models.SystemUser
			messages[i].Sender = &sender
			continue
		}
		if sender, ok := byID[messages[i].SenderID]; ok {
			sender := sender
			messages[i].Sender = &sender
		}
	}
	return nil
}

func (s *Service) populateChats(ctx context.Context, messages []models.MessagePopulated) error {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, m := range messages {
		if seen[m.ChatID] {
			continue
		}
		seen[m.ChatID] = true
		ids = append(ids, m.ChatID)
	}
	if len(ids) == 0 {
		return nil
	}

	chats, err := s.store.ListChats(ctx, storage.ChatFilter{IDs: ids})
	if err != nil {
		return fmt.Errorf("выборка чатов: %w", err)
	}
	byID := make(map[uuid.UUID]models.Chat)
	for _, c := range chats {
		byID[c.ID] = c
	}
	for i := range messages {
		if chat, ok := byID[messages[i].ChatID]; ok {
			chat := chat
			messages[i].Chat = &chat
		}
	}
	return nil
}

// ChatSummaries собирает список чатов для панели оператора, новые сверху.
// lastMessage — последнее сообщение, видимое оператору: client-only
// реплики никогда не всплывают заголовком чата.
func (s *Service) ChatSummaries(ctx context.Context) ([]models.ChatSummary, error) {
	chats, err := s.store.ListChats(ctx, storage.ChatFilter{})
	if err != nil {
		return nil, fmt.Errorf("выборка чатов: %w", err)
	}
	messages, err := s.store.ListMessages(ctx, storage.MessageFilter{})
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}

	// Последнее видимое оператору сообщение каждого чата
	lastByChat := make(map[uuid.UUID]models.Message)
	for _, m := range messages {
		if !m.Type.VisibleTo(models.UserAgent) {
			continue
		}
		lastByChat[m.ChatID] = m
	}

	var lastMessages []models.Message
	for _, chat := range chats {
		if m, ok := lastByChat[chat.ID]; ok {
			lastMessages = append(lastMessages, m)
		}
	}
	populated, err := s.PopulateMessages(ctx, lastMessages, PopulateSender)
	if err != nil {
		return nil, err
	}
	populatedByChat := make(map[uuid.UUID]models.MessagePopulated)
	for _, m := range populated {
		populatedByChat[m.ChatID] = m
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := models.ChatSummary{
			ID:           chat.ID,
			CreatedAt:    chat.CreatedAt,
			UserQuestion: chat.UserQuestion,
		}
		if m, ok := populatedByChat[chat.ID]; ok {
			m := m
			summary.LastMessage = &m
		}
		summaries = append(summaries, summary)
	}

	// Новые чаты сверху
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// Summary собирает сводку одного чата (для ответа на create-new-chat
// и для рассылки new-client-chat операторам)
func (s *Service) Summary(ctx context.Context, chatID uuid.UUID) (*models.ChatSummary, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, storage.MessageFilter{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}

	summary := models.ChatSummary{
		ID:           chat.ID,
		CreatedAt:    chat.CreatedAt,
		UserQuestion: chat.UserQuestion,
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type.VisibleTo(models.UserAgent) {
			populated, err := s.PopulateMessages(ctx, messages[i:i+1], PopulateSender)
			if err != nil {
				return nil, err
			}
			summary.LastMessage = &populated[0]
			break
		}
	}
	return &summary, nil
}

// ChatMessages возвращает всю историю чата с развернутыми отправителями.
// Фильтрацию по роли делает вызывающий: один и тот же сырой список
// обслуживает обе роли.
func (s *Service) ChatMessages(ctx context.Context, chatID uuid.UUID) ([]models.MessagePopulated, error) {
	messages, err := s.store.ListMessages(ctx, storage.MessageFilter{ChatID: chatID})
	if err != nil {
		return nil, fmt.Errorf("выборка сообщений: %w", err)
	}
	return s.PopulateMessages(ctx, messages, PopulateSender)
}

// SendMessage сохраняет сообщение и возвращает его с развернутым
// отправителем. При ошибке хранилища сообщение считается недоставленным,
// вызывающий не должен его рассылать.
func (s *Service) SendMessage(ctx context.Context, chatID, senderID uuid.UUID, messageType models.MessageType, text string) (*models.MessagePopulated, error) {
	message, err := s.store.CreateMessage(ctx, chatID, senderID, messageType, text)
	if err != nil {
		log.Printf("SendMessage: ошибка сохранения сообщения: %v", err)
		return nil, err
	}
	populated, err := s.PopulateMessages(ctx, []models.Message{*message}, PopulateSender)
	if err != nil {
		return nil, err
	}
	return &populated[0], nil
}
