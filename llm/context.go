package llm

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// briefingPrompt — системная роль для генерации брифинга оператору
const briefingPrompt = "You are drafting a one-line private briefing for a human " +
	"support agent who is about to join a chat. Summarize what the client likely " +
	"needs and, if past conversations are provided, what answers helped before. " +
	"Reply with the briefing line only."

// Contexter генерирует короткий контекст-брифинг для оператора
// по вопросу клиента и переписке из похожих прошлых чатов
type Contexter struct {
	client *Client
}

// NewContexter создает генератор контекста
func NewContexter(client *Client) *Contexter {
	return &Contexter{client: client}
}

// SuggestContext просит модель сочинить брифинг. Пустая строка без ошибки —
// предложение отброшено фильтром; чат в любом случае создается.
func (c *Contexter) SuggestContext(ctx context.Context, question, pastAnswers string) (string, error) {
	user := fmt.Sprintf("Client question: %s", question)
	if strings.TrimSpace(pastAnswers) != "" {
		user += fmt.Sprintf("\n\nSimilar past conversations:\n%s", pastAnswers)
	}

	response, err := c.client.Complete(ctx, []Message{
		{Role: "system", Content: briefingPrompt},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", err
	}

	clean, rejected := sanitize(response)
	if rejected || clean == "" {
		log.Printf("SuggestContext: предложение отброшено фильтром")
		return "", nil
	}
	// Брифинг — одна строка
	if i := strings.IndexByte(clean, '\n'); i >= 0 {
		clean = strings.TrimSpace(clean[:i])
	}
	return clean, nil
}
