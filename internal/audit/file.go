package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

// maxLineSize bounds a single JSONL entry; records with many line items
// stay well below it.
const maxLineSize = 4 << 20

// FileStore appends entries as JSON lines and fsyncs after each write.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens or creates the log file's directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the log file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Append(ctx context.Context, e domain.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	// A torn line left by an earlier failed write is never part of the log.
	size, err := completeSize(f)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("trim audit log: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write audit entry: %w", err), rollback(f, size))
	}
	if err := f.Sync(); err != nil {
		return errors.Join(fmt.Errorf("sync audit log: %w", err), rollback(f, size))
	}
	return nil
}

func rollback(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("roll back audit log: %w", err)
	}
	return nil
}

// completeSize returns the length of f up to and including its last
// newline. Bytes after it belong to an unfinished write.
func completeSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat audit log: %w", err)
	}
	buf := make([]byte, 4096)
	for end := info.Size(); end > 0; {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil {
			return 0, fmt.Errorf("read audit log: %w", err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

func (s *FileStore) Scan(ctx context.Context, upTo uint64) iter.Seq2[domain.AuditEntry, error] {
	return func(yield func(domain.AuditEntry, error) bool) {
		f, err := os.Open(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			yield(domain.AuditEntry{}, fmt.Errorf("open audit log: %w", err))
			return
		}
		defer f.Close()

		size, err := completeSize(f)
		if err != nil {
			yield(domain.AuditEntry{}, err)
			return
		}
		sc := bufio.NewScanner(io.NewSectionReader(f, 0, size))
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(domain.AuditEntry{}, err)
				return
			}
			var e domain.AuditEntry
			if err := json.Unmarshal(raw, &e); err != nil {
				yield(domain.AuditEntry{}, fmt.Errorf("line %d: invalid JSON: %w", line, err))
				return
			}
			if e.Seq > upTo {
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(domain.AuditEntry{}, fmt.Errorf("read audit log: %w", err))
		}
	}
}

func (s *FileStore) Last(ctx context.Context) (domain.AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.AuditEntry{}, false, nil
	}
	if err != nil {
		return domain.AuditEntry{}, false, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	size, err := completeSize(f)
	if err != nil {
		return domain.AuditEntry{}, false, err
	}
	last, err := lastLine(io.NewSectionReader(f, 0, size))
	if err != nil {
		return domain.AuditEntry{}, false, err
	}
	if len(last) == 0 {
		return domain.AuditEntry{}, false, nil
	}
	var e domain.AuditEntry
	if err := json.Unmarshal(last, &e); err != nil {
		return domain.AuditEntry{}, false, fmt.Errorf("decode last audit entry: %w", err)
	}
	return e, true, nil
}

func lastLine(r io.Reader) ([]byte, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	var last []byte
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			last = append(last[:0], line...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return last, nil
}

var _ Store = (*FileStore)(nil)
