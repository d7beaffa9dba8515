package lexy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileResponse is a model reply split into prose and files to create.
type FileResponse struct {
	Message string `json:"message"`
	Files   []File `json:"files"`
}

// HasFiles reports whether the model asked for at least one file.
func (r FileResponse) HasFiles() bool {
	return len(r.Files) > 0
}

// ParseFileResponse extracts file instructions from a model reply. Both
// {"message": "...", "files": [...]} and a bare {"name", "extension",
// "content"} object are accepted, optionally inside a fenced code block.
// Anything else is returned as the message with no files.
func ParseFileResponse(text string) FileResponse {
	plain := FileResponse{Message: text}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return plain
	}
	payload := text[start : end+1]
	prose := strings.TrimSpace(stripFence(text[:start]) + " " + stripFence(text[end+1:]))

	var multi FileResponse
	if err := json.Unmarshal([]byte(payload), &multi); err == nil && len(multi.Files) > 0 {
		files := validFiles(multi.Files)
		if len(files) > 0 {
			multi.Files = files
			if multi.Message == "" {
				multi.Message = prose
			}
			return multi
		}
	}

	var single File
	if err := json.Unmarshal([]byte(payload), &single); err == nil {
		if files := validFiles([]File{single}); len(files) > 0 {
			return FileResponse{Message: prose, Files: files}
		}
	}

	return plain
}

func validFiles(files []File) []File {
	out := files[:0:0]
	for _, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// SaveFiles writes files under dir and returns their paths. Names are
// reduced to their base so a reply cannot escape dir.
func SaveFiles(dir string, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		name := filepath.Base(filepath.Clean("/" + f.FileName()))
		if name == "/" || name == "." {
			return paths, fmt.Errorf("invalid file name %q", f.FileName())
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(f.Content), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
