package summary

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Truncator bounds a transcript to a token budget deterministically: the
// same transcript always yields the same truncation. The tail of the
// conversation is kept because it carries the freshest context for the
// receiving agent.
type Truncator struct {
	model     string
	maxTokens int
	logger    *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// Model-to-encoding mapping for the models used in production.
var modelEncodings = map[string]string{
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",
	"gpt-4":       "cl100k_base",
	"gpt-4-turbo": "cl100k_base",
}

// NewTruncator creates a truncator for the given model. The tokenizer is
// initialized lazily on first use because loading BPE data is expensive.
func NewTruncator(model string, maxTokens int, logger *zap.Logger) *Truncator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Truncator{
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.With(zap.String("component", "transcript_truncator")),
	}
}

func (t *Truncator) init() {
	t.once.Do(func() {
		encoding, ok := modelEncodings[t.model]
		if !ok {
			encoding = "cl100k_base"
		}
		t.enc, t.initErr = tiktoken.GetEncoding(encoding)
		if t.initErr != nil {
			t.logger.Warn("tokenizer unavailable, using character estimate",
				zap.String("model", t.model),
				zap.Error(t.initErr),
			)
		}
	})
}

// CountTokens returns the token count for text, estimating by characters
// when the tokenizer cannot be loaded.
func (t *Truncator) CountTokens(text string) int {
	t.init()
	if t.initErr != nil {
		return estimateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns text bounded to the configured budget and whether any
// content was removed.
func (t *Truncator) Truncate(text string) (string, bool) {
	if t.maxTokens <= 0 {
		return text, false
	}
	t.init()

	if t.initErr != nil {
		return truncateRunes(text, t.maxTokens)
	}

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= t.maxTokens {
		return text, false
	}

	kept := t.enc.Decode(tokens[len(tokens)-t.maxTokens:])
	t.logger.Debug("transcript truncated",
		zap.Int("original_tokens", len(tokens)),
		zap.Int("kept_tokens", t.maxTokens),
	)
	return kept, true
}

// estimateTokens approximates ~4 characters per token, the usual heuristic
// for English text.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// truncateRunes keeps the trailing portion of text sized by the character
// estimate, cutting at a line boundary when one is close so the result
// starts on a whole utterance.
func truncateRunes(text string, maxTokens int) (string, bool) {
	budget := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= budget {
		return text, false
	}

	kept := string(runes[len(runes)-budget:])
	if idx := strings.IndexByte(kept, '\n'); idx >= 0 && idx < len(kept)/4 {
		kept = kept[idx+1:]
	}
	return kept, true
}
