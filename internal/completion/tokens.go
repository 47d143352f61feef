package completion

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts when the backend omits usage.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts with the cl100k_base encoding and falls back to a
// len/4 heuristic if the codec cannot be loaded.
type TiktokenCounter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewTiktokenCounter creates a counter; the codec is loaded on first use.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{}
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			slog.Warn("Tokenizer unavailable, using heuristic", "error", err)
			return
		}
		c.codec = codec
	})
	if c.codec != nil {
		ids, _, err := c.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return approxTokens(text)
}

func approxTokens(s string) int {
	t := len(strings.TrimSpace(s)) / 4
	if t < 1 {
		t = 1
	}
	return t
}

// estimateUsage approximates total tokens for a prompt and its completion.
func estimateUsage(counter TokenCounter, msgs []Message, completion string) int64 {
	total := counter.Count(completion)
	for _, m := range msgs {
		total += counter.Count(m.Content)
	}
	return int64(total)
}
