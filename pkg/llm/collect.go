package llm

import (
	"context"
	"time"

	"lexy/pkg/utils"
)

// Collect drains a chunk stream into one assistant message. onBlock, when
// non-nil, observes every content block as it arrives. A chunk carrying a
// RawError aborts collection with that error.
func Collect(ctx context.Context, chunks <-chan StreamChunk, onBlock func(ContentBlock)) (Message, error) {
	msg := Message{
		ID:        utils.GenerateID(),
		Role:      RoleAssistant,
		Content:   []ContentBlock{},
		Timestamp: time.Now().Unix(),
	}

	for {
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return msg, nil
			}
			if chunk.RawError != nil {
				return msg, chunk.RawError
			}
			if chunk.Error != "" {
				msg.AddContentBlock(NewErrorBlock(chunk.Error))
			}

			for _, block := range chunk.ContentBlocks {
				appendBlock(&msg, block)
				if onBlock != nil {
					onBlock(block)
				}
			}

			if len(chunk.ToolCalls) > 0 {
				msg.ToolCalls = append(msg.ToolCalls, chunk.ToolCalls...)
			}

			if chunk.Usage != nil {
				msg.Usage = chunk.Usage
			}

			if chunk.IsFinal {
				if chunk.FinishReason != "" {
					if msg.Usage == nil {
						msg.Usage = &LLMUsage{}
					}
					if msg.Usage.StopReason == "" {
						msg.Usage.StopReason = chunk.FinishReason
					}
				}
				return msg, nil
			}
		}
	}
}

// appendBlock merges consecutive text or thinking deltas into one block.
func appendBlock(msg *Message, block ContentBlock) {
	n := len(msg.Content)
	if n > 0 && block.Source == nil &&
		(block.Type == BlockTypeText || block.Type == BlockTypeThinking) &&
		msg.Content[n-1].Type == block.Type {
		msg.Content[n-1].Text += block.Text
		return
	}
	msg.AddContentBlock(block)
}
