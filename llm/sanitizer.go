// Package llm — клиент модели и фильтр ее ответов.
package llm

import (
	"regexp"
	"strings"
)

// forbiddenTerms — слова/фразы, при которых предложение модели отбрасывается:
// служебный брифинг не должен выдавать природу ассистента или уходить в мету
var forbiddenTerms = []string{
	"ai", "ии",
	"language model", "llm",
	"gpt", "chatgpt", "openai",
	"neural", "нейросеть",
	"bot", "бот", "робот",
	"as an assistant",
	"искусственный интеллект",
}

// sanitize проверяет текст модели. rejected=true — текст непригоден целиком
func sanitize(resp string) (clean string, rejected bool) {
	lower := strings.ToLower(resp)
	for _, term := range forbiddenTerms {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if re.MatchString(lower) {
			return "", true
		}
	}
	return strings.TrimSpace(resp), false
}
