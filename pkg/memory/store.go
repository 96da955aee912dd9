package memory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"task-orchestrator/internal/utils"

	"github.com/google/uuid"
)

// Store is the durable per-task scratchpad. All operations are scoped to a
// task directory; the store itself carries no per-task state so one instance
// serves any number of tasks.
type Store struct {
	logger utils.ExtendedLogger
}

// NewStore creates a memory store.
func NewStore(logger utils.ExtendedLogger) *Store {
	return &Store{logger: logger}
}

// BankDir returns the memory-bank directory for a task directory.
func (s *Store) BankDir(taskDir string) string {
	return filepath.Join(taskDir, BankDirName)
}

// InitializeTaskMemory creates the memory-bank subdirectory for a task.
func (s *Store) InitializeTaskMemory(taskDir string) error {
	bankDir := s.BankDir(taskDir)
	if err := os.MkdirAll(bankDir, 0755); err != nil {
		return &IOError{Name: BankDirName, Op: "mkdir", Err: err}
	}
	s.logger.Debugf("Initialized task memory bank: %s", bankDir)
	return nil
}

// memoryPath resolves a memory-bank-relative name to an absolute path.
func (s *Store) memoryPath(taskDir, name string) string {
	return filepath.Join(s.BankDir(taskDir), filepath.FromSlash(name))
}

// Load returns the content of a memory file. Absent files return
// ErrMemoryNotFound; other read failures return an IOError.
func (s *Store) Load(taskDir, name string) (string, error) {
	//nolint:gosec // G304: paths are derived from the task directory
	data, err := os.ReadFile(s.memoryPath(taskDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrMemoryNotFound, name)
		}
		return "", &IOError{Name: name, Op: "read", Err: err}
	}
	return string(data), nil
}

// LoadWithDefault returns the content of a memory file, or defaultValue when
// the file is absent.
func (s *Store) LoadWithDefault(taskDir, name, defaultValue string) (string, error) {
	content, err := s.Load(taskDir, name)
	if err != nil {
		if IsNotFound(err) {
			return defaultValue, nil
		}
		return "", err
	}
	return content, nil
}

// LoadJSON parses a memory file into target. Absent files return
// ErrMemoryNotFound; parse failures return a CorruptError.
func (s *Store) LoadJSON(taskDir, name string, target interface{}) error {
	content, err := s.Load(taskDir, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return &CorruptError{Name: name, Err: err}
	}
	return nil
}

// Append appends content plus a trailing newline to a memory file, creating
// parent directories as needed. Append-only files are never rewritten.
func (s *Store) Append(taskDir, name, content string) error {
	path := s.memoryPath(taskDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &IOError{Name: name, Op: "mkdir", Err: err}
	}

	//nolint:gosec // G304: paths are derived from the task directory
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &IOError{Name: name, Op: "open", Err: err}
	}
	defer file.Close()

	if _, err := file.WriteString(content + "\n"); err != nil {
		return &IOError{Name: name, Op: "append", Err: err}
	}
	return nil
}

// Overwrite atomically replaces a memory file's content (write to a temp
// file in the same directory, then rename).
func (s *Store) Overwrite(taskDir, name, content string) error {
	path := s.memoryPath(taskDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &IOError{Name: name, Op: "mkdir", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &IOError{Name: name, Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IOError{Name: name, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IOError{Name: name, Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &IOError{Name: name, Op: "rename", Err: err}
	}
	return nil
}

// OverwriteJSON atomically replaces a memory file with the indented JSON
// encoding of value.
func (s *Store) OverwriteJSON(taskDir, name string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &CorruptError{Name: name, Err: err}
	}
	return s.Overwrite(taskDir, name, string(data))
}

// AddKeyFinding appends one finding record to key_findings.jsonl. A missing
// id is filled in.
func (s *Store) AddKeyFinding(taskDir string, finding KeyFinding) error {
	if finding.ID == "" {
		finding.ID = uuid.NewString()
	}
	line, err := json.Marshal(finding)
	if err != nil {
		return &CorruptError{Name: KeyFindingsFile, Err: err}
	}
	return s.Append(taskDir, KeyFindingsFile, string(line))
}

// AddErrorEncountered appends one error record to errors_encountered.jsonl.
// Missing id and timestamp are filled in.
func (s *Store) AddErrorEncountered(taskDir string, record ErrorRecord) error {
	if record.ErrorID == "" {
		record.ErrorID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(record)
	if err != nil {
		return &CorruptError{Name: ErrorsEncounteredFile, Err: err}
	}
	return s.Append(taskDir, ErrorsEncounteredFile, string(line))
}

// AppendChatMessage appends one message to chat_history.jsonl.
func (s *Store) AppendChatMessage(taskDir, role, content string) error {
	line, err := json.Marshal(ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return &CorruptError{Name: ChatHistoryFile, Err: err}
	}
	return s.Append(taskDir, ChatHistoryFile, string(line))
}

// GetLatestKeyFindings returns the newest n findings in insertion order
// (oldest first within the returned window).
func (s *Store) GetLatestKeyFindings(taskDir string, n int) ([]KeyFinding, error) {
	var findings []KeyFinding
	if err := s.readJSONLines(taskDir, KeyFindingsFile, func(line []byte) error {
		var finding KeyFinding
		if err := json.Unmarshal(line, &finding); err != nil {
			return err
		}
		findings = append(findings, finding)
		return nil
	}); err != nil {
		return nil, err
	}
	return tailWindow(findings, n), nil
}

// GetLatestErrorsEncountered returns the newest n error records in insertion
// order (oldest first within the returned window).
func (s *Store) GetLatestErrorsEncountered(taskDir string, n int) ([]ErrorRecord, error) {
	var records []ErrorRecord
	if err := s.readJSONLines(taskDir, ErrorsEncounteredFile, func(line []byte) error {
		var record ErrorRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	}); err != nil {
		return nil, err
	}
	return tailWindow(records, n), nil
}

// GetLatestChatMessages returns the newest n chat messages in insertion
// order.
func (s *Store) GetLatestChatMessages(taskDir string, n int) ([]ChatMessage, error) {
	var messages []ChatMessage
	if err := s.readJSONLines(taskDir, ChatHistoryFile, func(line []byte) error {
		var msg ChatMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return err
		}
		messages = append(messages, msg)
		return nil
	}); err != nil {
		return nil, err
	}
	return tailWindow(messages, n), nil
}

// SaveUploadedFile persists an uploaded file under uploaded_files/ using the
// sanitized base name only; path components in name are discarded.
func (s *Store) SaveUploadedFile(taskDir, name string, content []byte) (string, error) {
	safeName := SanitizeFileName(name)
	if safeName == "" {
		return "", fmt.Errorf("uploaded file name %q sanitizes to empty", name)
	}

	relPath := filepath.Join(UploadedFilesDir, safeName)
	if err := s.Overwrite(taskDir, relPath, string(content)); err != nil {
		return "", err
	}
	return relPath, nil
}

// SanitizeFileName strips path components and unsafe characters from an
// uploaded file name.
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	if base == "." || base == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.TrimSpace(b.String())
}

// IsNotFound reports whether the error is a memory-not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemoryNotFound)
}

// readJSONLines streams the JSONL file at name through fn, one line at a
// time. Absent files yield no lines and no error.
func (s *Store) readJSONLines(taskDir, name string, fn func(line []byte) error) error {
	//nolint:gosec // G304: paths are derived from the task directory
	file, err := os.Open(s.memoryPath(taskDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IOError{Name: name, Op: "open", Err: err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn([]byte(line)); err != nil {
			return &CorruptError{Name: name, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return &IOError{Name: name, Op: "scan", Err: err}
	}
	return nil
}

// tailWindow returns the last n elements of items, preserving order.
func tailWindow[T any](items []T, n int) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if len(items) > n {
		items = items[len(items)-n:]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
