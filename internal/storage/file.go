package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"autoposter/internal/destination"
	"autoposter/internal/eventlog"
	"autoposter/pkg/logx"
)

// fileStore keeps the document at path and journals events next to it.
//
// Files:
//   - <path>                 (JSON or YAML document, replaced atomically)
//   - <prefix>.events.jsonl  (append-only JSON Lines)
type fileStore struct {
	log         logx.Logger
	path        string
	journalPath string

	mu          sync.Mutex
	journalFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	prefix := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base)))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	journalPath := prefix + ".events.jsonl"
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, journalPath: journalPath, journalFile: jf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) Load(ctx context.Context) (destination.Document, error) {
	_ = ctx
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("no saved destinations yet", logx.String("path", s.path))
		return destination.Document{}, nil
	}
	if err != nil {
		return destination.Document{}, err
	}
	return decodeDocument(s.path, b)
}

// Save writes to a temp file and renames it over the document.
func (s *fileStore) Save(ctx context.Context, doc destination.Document) error {
	_ = ctx
	b, err := encodeDocument(s.path, doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *fileStore) AppendEvent(ctx context.Context, r eventlog.Record) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("events journal closed")
	}
	return json.NewEncoder(s.journalFile).Encode(r)
}

// RecentEvents scans the journal and keeps the last n records. Corrupt
// lines (e.g. a torn final write) are skipped.
func (s *fileStore) RecentEvents(ctx context.Context, n int) ([]eventlog.Record, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(s.journalPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]eventlog.Record, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		var r eventlog.Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, r)
	}
	return ring, sc.Err()
}
