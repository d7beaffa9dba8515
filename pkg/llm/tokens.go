package llm

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenApproximation is the characters-per-token ratio used when no encoding is available.
const tokenApproximation = 4

const defaultEncoding = "cl100k_base"

var encodings sync.Map // model -> *tiktoken.Tiktoken

// TokenCounter returns the number of tokens in text.
type TokenCounter func(text string) int

// CountTokens returns the number of tokens text occupies for model. Models
// unknown to tiktoken use cl100k_base; if no encoding can be loaded the
// length is approximated.
func CountTokens(model, text string) int {
	enc := encodingFor(model)
	if enc == nil {
		return len(text) / tokenApproximation
	}
	return len(enc.Encode(text, nil, nil))
}

// CounterFor binds CountTokens to model.
func CounterFor(model string) TokenCounter {
	return func(text string) int {
		return CountTokens(model, text)
	}
}

func encodingFor(model string) *tiktoken.Tiktoken {
	if v, ok := encodings.Load(model); ok {
		return v.(*tiktoken.Tiktoken)
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			slog.Warn("Token encoding unavailable, approximating", "model", model, "error", err)
			encodings.Store(model, (*tiktoken.Tiktoken)(nil))
			return nil
		}
	}
	encodings.Store(model, enc)
	return enc
}

// MessageTokens counts the text and thinking content of a message.
func MessageTokens(m Message, count TokenCounter) int {
	total := 0
	for _, b := range m.Content {
		if b.Type == BlockTypeText || b.Type == BlockTypeThinking {
			total += count(b.Text)
		}
	}
	return total
}

// TrimToTokenBudget keeps the most recent messages whose combined size fits
// within budget. Order is preserved. A non-positive budget keeps everything.
func TrimToTokenBudget(msgs []Message, budget int, count TokenCounter) []Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}

	used := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		n := MessageTokens(msgs[i], count)
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return msgs[start:]
}
