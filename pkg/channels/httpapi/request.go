package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"lexy/pkg/api"
	"lexy/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

// ErrEmptyInput is returned for a request without text.
var ErrEmptyInput = errors.New("input.input must not be empty")

// ChatRequest is the body of /chat/invoke and /chat/stream.
type ChatRequest struct {
	Input ChatInput `json:"input"`
}

// ChatInput mirrors the graph input sent by the frontend.
type ChatInput struct {
	Input string `json:"input"`
	// ChatHistory holds [role, content] pairs or {"role", "content"} objects.
	// Its presence makes the request stateless.
	ChatHistory *[]jsoniter.RawMessage `json:"chat_history"`
	File        *UploadedFile          `json:"file"`
	Files       []UploadedFile         `json:"files"`
}

// UploadedFile is a base64 payload, optionally a data URL, with its extension.
type UploadedFile struct {
	Base64    string `json:"base64"`
	Extension string `json:"extension"`
	Name      string `json:"name"`
}

type roleContent struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func parseRequest(body []byte) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Input.Input) == "" {
		return nil, ErrEmptyInput
	}
	return &req, nil
}

// history decodes chat_history. A nil result means the client sent none.
func (in ChatInput) history() ([]llm.Message, error) {
	if in.ChatHistory == nil {
		return nil, nil
	}
	out := make([]llm.Message, 0, len(*in.ChatHistory))
	for i, raw := range *in.ChatHistory {
		var role, content string

		var pair []string
		if err := json.Unmarshal(raw, &pair); err == nil {
			if len(pair) != 2 {
				return nil, fmt.Errorf("chat_history[%d]: expected [role, content]", i)
			}
			role, content = pair[0], pair[1]
		} else {
			var obj roleContent
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("chat_history[%d]: %w", i, err)
			}
			role, content = obj.Role, obj.Content
			if role == "" {
				role = obj.Type
			}
		}

		mapped, ok := normalizeRole(role)
		if !ok {
			return nil, fmt.Errorf("chat_history[%d]: unknown role %q", i, role)
		}
		out = append(out, llm.NewTextMessage(mapped, content))
	}
	return out, nil
}

func normalizeRole(role string) (string, bool) {
	switch strings.ToLower(role) {
	case "human", "user":
		return llm.RoleUser, true
	case "ai", "assistant":
		return llm.RoleAssistant, true
	case "system":
		return llm.RoleSystem, true
	}
	return "", false
}

func (in ChatInput) attachments() ([]api.FileAttachment, error) {
	uploads := in.Files
	if in.File != nil {
		uploads = append([]UploadedFile{*in.File}, uploads...)
	}

	out := make([]api.FileAttachment, 0, len(uploads))
	for i, up := range uploads {
		data, mimeType, err := decodeBase64(up.Base64)
		if err != nil {
			return nil, fmt.Errorf("file %d: %w", i, err)
		}
		name := up.Name
		if name == "" {
			name = "upload"
			if up.Extension != "" {
				name += "." + up.Extension
			}
		}
		out = append(out, api.FileAttachment{
			Filename:  name,
			Extension: strings.TrimPrefix(up.Extension, "."),
			MimeType:  mimeType,
			Data:      data,
		})
	}
	return out, nil
}

// decodeBase64 accepts raw base64 or a "data:<mime>;base64,<payload>" URL.
func decodeBase64(s string) ([]byte, string, error) {
	var mimeType string
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("unsupported data URL")
		}
		mimeType = strings.TrimSuffix(header, ";base64")
		s = payload
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64: %w", err)
	}
	return data, mimeType, nil
}
