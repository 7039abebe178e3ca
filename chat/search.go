package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/egor/supportchat/models"
	"github.com/egor/supportchat/storage"
)

// maxSimilarChats — сколько похожих чатов попадает в выжимку
const maxSimilarChats = 3

// AnswersByQuestion находит чаты с вопросами, похожими на заданный,
// и возвращает их переписку одним текстовым блобом (для подкормки LLM).
// Ранжирование — коэффициент Дайса по биграммам; при равных оценках
// порядок чатов стабилен.
func (s *Service) AnswersByQuestion(ctx context.Context, question string) (string, error) {
	chats, err := s.store.ListChats(ctx, storage.ChatFilter{})
	if err != nil {
		return "", fmt.Errorf("выборка чатов: %w", err)
	}

	type scored struct {
		chat  models.Chat
		score float64
	}
	ranked := make([]scored, 0, len(chats))
	for _, c := range chats {
		ranked = append(ranked, scored{chat: c, score: diceCoefficient(question, c.UserQuestion)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > maxSimilarChats {
		ranked = ranked[:maxSimilarChats]
	}

	var blocks []string
	for _, r := range ranked {
		transcript, err := s.transcript(ctx, r.chat)
		if err != nil {
			return "", err
		}
		if transcript == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Question: %s\n%s", r.chat.UserQuestion, transcript))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// transcript собирает user-реплики чата в строки вида "имя: текст"
func (s *Service) transcript(ctx context.Context, chat models.Chat) (string, error) {
	messages, err := s.store.ListMessages(ctx, storage.MessageFilter{ChatID: chat.ID})
	if err != nil {
		return "", fmt.Errorf("выборка сообщений: %w", err)
	}
	var userMessages []models.Message
	for _, m := range messages {
		if m.Type == models.MessageUser {
			userMessages = append(userMessages, m)
		}
	}
	populated, err := s.PopulateMessages(ctx, userMessages, PopulateSender)
	if err != nil {
		return "", err
	}

	var lines []string
	for _, m := range populated {
		username := "unknown"
		if m.Sender != nil {
			username = m.Sender.Username
		}
		lines = append(lines, fmt.Sprintf("%s: %s", username, m.Text))
	}
	return strings.Join(lines, "\n"), nil
}

// diceCoefficient — лексическая близость двух строк по биграммам (0..1)
func diceCoefficient(a, b string) float64 {
	first := bigrams(a)
	second := bigrams(b)
	if len(first) == 0 || len(second) == 0 {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) && strings.TrimSpace(a) != "" {
			return 1
		}
		return 0
	}

	matches := 0
	for bg, n := range first {
		if m, ok := second[bg]; ok {
			if m < n {
				n = m
			}
			matches += n
		}
	}
	total := 0
	for _, n := range first {
		total += n
	}
	for _, n := range second {
		total += n
	}
	return 2 * float64(matches) / float64(total)
}

func bigrams(s string) map[string]int {
	normalized := strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(normalized)
	grams := make(map[string]int)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}
