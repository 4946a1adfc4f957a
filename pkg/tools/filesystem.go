package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

// ReadFileInput holds read_file arguments.
type ReadFileInput struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// ReadFileOutput is the read_file result payload.
type ReadFileOutput struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	SizeBytes     int64  `json:"size_bytes"`
	LinesReturned int    `json:"lines_returned"`
	TotalLines    int    `json:"total_lines"`
	Truncated     bool   `json:"truncated"`
	Encoding      string `json:"encoding"`
}

// WriteFileInput holds write_file arguments. CreateDirectories is a
// pointer so unset defaults to true.
type WriteFileInput struct {
	Path              string `json:"path"`
	Content           string `json:"content"`
	Encoding          string `json:"encoding"`
	Mode              string `json:"mode"`
	CreateDirectories *bool  `json:"create_directories"`
}

// WriteFileOutput is the write_file result payload.
type WriteFileOutput struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Created      bool   `json:"created"`
}

func isTextEncoding(encoding string) bool {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// ReadFile reads a file inside the permitted roots. Binary encoding
// returns the whole file base64-encoded; text mode slices by line with
// a 1-based offset. Either way the configured size cap applies.
func (s *Service) ReadFile(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ReadFileInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, Validationf("path is required")
	}

	resolved, err := s.validatePath(ctx, in.Path)
	if err != nil {
		return nil, err
	}

	info, statErr := os.Stat(resolved)
	if os.IsNotExist(statErr) {
		return nil, &ToolError{Kind: KindNotFound, Message: fmt.Sprintf("File not found: %s", in.Path)}
	}
	if statErr != nil {
		return nil, Executionf("stat %s: %v", in.Path, statErr)
	}
	if info.IsDir() {
		return nil, Validationf("Path is not a file: %s", in.Path)
	}

	maxReadMB := s.settings.Int(ctx, settings.KeyMaxReadSizeMB, 10)
	maxSize := int64(maxReadMB) * 1024 * 1024
	sizeBytes := info.Size()

	if in.Encoding == "binary" {
		if sizeBytes > maxSize {
			return nil, Validationf("File too large for binary read: %d bytes (max %dMB)", sizeBytes, maxReadMB)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, Executionf("read %s: %v", in.Path, err)
		}
		return &Result{
			Data: ReadFileOutput{
				Path:      resolved,
				Content:   base64.StdEncoding.EncodeToString(data),
				SizeBytes: sizeBytes,
				Encoding:  "binary",
			},
			Audit: []audit.Field{
				audit.F("path", in.Path),
				audit.F("size_bytes", strconv.FormatInt(sizeBytes, 10)),
				audit.F("encoding", "binary"),
			},
		}, nil
	}

	if !isTextEncoding(in.Encoding) {
		return nil, Validationf("Unsupported encoding: %s (use utf-8 or binary)", in.Encoding)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, Executionf("read %s: %v", in.Path, err)
	}
	if !utf8.Valid(data) {
		return nil, Validationf("File encoding error. Try encoding=binary for binary files.")
	}

	lines := splitLines(string(data))
	totalLines := len(lines)

	if in.Offset > 0 {
		if in.Offset-1 >= len(lines) {
			lines = nil
		} else {
			lines = lines[in.Offset-1:]
		}
	}

	truncated := false
	if in.Limit > 0 && len(lines) > in.Limit {
		lines = lines[:in.Limit]
		truncated = true
	}

	content := strings.Join(lines, "")
	if int64(len(content)) > maxSize {
		content = content[:maxSize]
		truncated = true
	}

	encoding := in.Encoding
	if encoding == "" {
		encoding = "utf-8"
	}

	return &Result{
		Data: ReadFileOutput{
			Path:          resolved,
			Content:       content,
			SizeBytes:     sizeBytes,
			LinesReturned: len(lines),
			TotalLines:    totalLines,
			Truncated:     truncated,
			Encoding:      encoding,
		},
		Audit: []audit.Field{
			audit.F("path", in.Path),
			audit.F("size_bytes", strconv.FormatInt(sizeBytes, 10)),
			audit.F("lines", strconv.Itoa(len(lines))),
			audit.F("encoding", encoding),
		},
	}, nil
}

// WriteFile writes a file inside the permitted roots. Overwrites go
// through a temp file and rename so readers never see a half-written
// file; append writes in place.
func (s *Service) WriteFile(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in WriteFileInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Path == "" {
		return nil, Validationf("path is required")
	}

	mode := in.Mode
	if mode == "" {
		mode = "overwrite"
	}
	if mode != "overwrite" && mode != "append" {
		return nil, Validationf("Invalid mode: %s", in.Mode)
	}

	resolved, err := s.validatePath(ctx, in.Path)
	if err != nil {
		return nil, err
	}

	_, statErr := os.Stat(resolved)
	exists := statErr == nil
	created := !exists

	createDirs := true
	if in.CreateDirectories != nil {
		createDirs = *in.CreateDirectories
	}
	parent := filepath.Dir(resolved)
	if createDirs {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, Executionf("create directories for %s: %v", in.Path, err)
		}
	}

	maxWriteMB := s.settings.Int(ctx, settings.KeyMaxWriteSizeMB, 50)
	maxSize := maxWriteMB * 1024 * 1024

	var payload []byte
	if in.Encoding == "binary" {
		payload, err = base64.StdEncoding.DecodeString(in.Content)
		if err != nil {
			return nil, Validationf("Invalid base64 content: %v", err)
		}
	} else {
		if !isTextEncoding(in.Encoding) {
			return nil, Validationf("Unsupported encoding: %s (use utf-8 or binary)", in.Encoding)
		}
		payload = []byte(in.Content)
	}
	if len(payload) > maxSize {
		return nil, Validationf("Content too large: %d bytes (max %dMB)", len(payload), maxWriteMB)
	}

	if mode == "append" && exists {
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, Executionf("open %s for append: %v", in.Path, err)
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			return nil, Executionf("append to %s: %v", in.Path, err)
		}
		if err := f.Close(); err != nil {
			return nil, Executionf("append to %s: %v", in.Path, err)
		}
	} else {
		if err := writeAtomic(resolved, payload); err != nil {
			return nil, Executionf("write %s: %v", in.Path, err)
		}
	}

	return &Result{
		Data: WriteFileOutput{
			Path:         resolved,
			BytesWritten: len(payload),
			Created:      created,
		},
		Audit: []audit.Field{
			audit.F("path", in.Path),
			audit.F("bytes", strconv.Itoa(len(payload))),
			audit.F("mode", mode),
			audit.F("created", strconv.FormatBool(created)),
		},
	}, nil
}

// writeAtomic writes via a temp file in the target directory and renames
// it into place.
func writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mcp-write-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// splitLines splits keeping line terminators, the way line-oriented
// reads count lines: "a\nb\n" is two lines, "a\nb" is also two.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
