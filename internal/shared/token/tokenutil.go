// Package tokenutil counts tokens with the cl100k_base encoding. The encoding
// is loaded on first use; when it cannot be loaded a character heuristic is
// used instead.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	once.Do(func() {
		if enc, err := tiktoken.GetEncoding(encodingName); err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens returns the cl100k_base token count of text, or EstimateFast
// when the encoding is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns max(runes/4, word count), and at least 1 for
// non-blank text.
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	return max(estimate, 1)
}

// SuffixWithinBudget returns how many trailing items of texts fit in budget
// tokens. The last item always counts, even when it alone exceeds the budget.
// A non-positive budget keeps everything.
func SuffixWithinBudget(texts []string, budget int) int {
	if budget <= 0 || len(texts) == 0 {
		return len(texts)
	}
	used := 0
	for i := len(texts) - 1; i >= 0; i-- {
		used += CountTokens(texts[i])
		if used > budget && i < len(texts)-1 {
			return len(texts) - 1 - i
		}
	}
	return len(texts)
}
