package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackCharsPerToken = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// NewTokenizer returns a Tokenizer backed by the cl100k_base encoding. When
// the encoding files cannot be loaded (offline environments), it falls back
// to a character-count estimate so token budgeting still functions.
func NewTokenizer() Tokenizer {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})

	return func(text string) int {
		if text == "" {
			return 0
		}
		if encoding != nil {
			return len(encoding.Encode(text, nil, nil))
		}
		return (len(text) + fallbackCharsPerToken - 1) / fallbackCharsPerToken
	}
}
