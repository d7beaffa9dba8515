package llm

import (
	"encoding/base64"
	"strings"
	"time"

	"lexy/pkg/utils"
)

//----------------------------------------------------------------
// Message
//----------------------------------------------------------------

// Message is one conversation turn in provider-neutral form.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      string         `json:"role"`    // "user", "assistant", "system", "tool"
	Content   []ContentBlock `json:"content"` // ordered content blocks
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls holds tool requests produced by the model (assistant only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Usage is attached to assistant messages once the stream finished.
	Usage *LLMUsage `json:"usage,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

//----------------------------------------------------------------
// ContentBlock
//----------------------------------------------------------------

// ContentBlock is one unit of message content: text, thinking, image or error.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource describes where image bytes come from.
type ImageSource struct {
	Type      string `json:"type"`       // "base64" | "url"
	MediaType string `json:"media_type"` // "image/jpeg", "image/png", etc.
	Data      []byte `json:"-"`
	URL       string `json:"url,omitempty"`
}

// MarshalJSON encodes Data as base64 for base64 sources.
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	out := map[string]string{
		"type":       is.Type,
		"media_type": is.MediaType,
	}
	if is.Type == "base64" && len(is.Data) > 0 {
		out["data"] = base64.StdEncoding.EncodeToString(is.Data)
	} else if is.URL != "" {
		out["url"] = is.URL
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the base64 "data" field back into Data.
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
		URL       string `json:"url"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	is.Type = aux.Type
	is.MediaType = aux.MediaType
	is.URL = aux.URL
	if aux.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.Data)
		if err != nil {
			return err
		}
		is.Data = decoded
	}
	return nil
}

//----------------------------------------------------------------
// StreamChunk
//----------------------------------------------------------------

// StreamChunk is one incremental piece of a streamed model response.
type StreamChunk struct {
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	IsFinal bool `json:"is_final"`

	FinishReason string `json:"finish_reason,omitempty"`

	Usage *LLMUsage `json:"usage,omitempty"`

	// Error is a user-facing description of a stream problem.
	Error string `json:"error,omitempty"`

	// RawError is set when the stream failed and must be aborted.
	RawError error `json:"-"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage creates a plain text message.
func NewTextMessage(role, text string) Message {
	return Message{
		ID:   utils.GenerateID(),
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// AddContentBlock appends a block to the message.
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent concatenates all text blocks, ignoring thinking.
func (m *Message) GetTextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// GetThinkingContent concatenates all thinking blocks.
func (m *Message) GetThinkingContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeThinking {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// HasImages reports whether the message carries at least one image block.
func (m *Message) HasImages() bool {
	for _, block := range m.Content {
		if block.Type == BlockTypeImage {
			return true
		}
	}
	return false
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock
//----------------------------------------------------------------

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

// NewImageBlock creates an inline (base64) image block.
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mimeType,
			Data:      data,
		},
	}
}

// NewImageBlockFromURL creates an image block that references a URL.
func NewImageBlockFromURL(url, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "url",
			MediaType: mimeType,
			URL:       url,
		},
	}
}

//----------------------------------------------------------------
// Helper Functions - StreamChunk
//----------------------------------------------------------------

func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewTextBlock(text)}}
}

func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewThinkingBlock(text)}}
}

// NewFinalChunk creates the terminating chunk with usage statistics.
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

// NewErrorChunk reports a stream problem. When fatal, RawError is set and
// consumers stop reading.
func NewErrorChunk(msg string, err error, fatal bool) StreamChunk {
	chunk := StreamChunk{Error: msg}
	if fatal {
		chunk.RawError = err
		if chunk.RawError == nil {
			chunk.RawError = &StreamError{Message: msg}
		}
		chunk.IsFinal = true
	}
	return chunk
}

// StreamError is raised for provider stream failures that carry no Go error.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return e.Message
}
