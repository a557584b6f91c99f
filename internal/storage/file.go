package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// fileStore keeps everything in plain files next to cfg.Path.
//
// Files:
//   - <prefix>.entries.jsonl       (append-only, one entry per line)
//   - <prefix>.sent.snapshot.json  (periodic snapshot of sent markers)
//   - <prefix>.sent.journal.jsonl  (append-only marker journal)
//
// The entries file is re-read on every List so hand edits show up on the
// next tick. The marker journal is compacted into the snapshot every
// compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	entriesPath string
	entriesFile *os.File

	sentSnapshotPath string
	sentJournalFile  *os.File
	sent             map[string]int64 // unix milli

	sentWrites int
	now        func() time.Time
}

const compactEvery = 1000

type sentRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"` // 0 releases the marker
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	entriesPath := prefix + ".entries.jsonl"
	snapPath := prefix + ".sent.snapshot.json"
	journalPath := prefix + ".sent.journal.jsonl"

	ef, err := os.OpenFile(entriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	sent := map[string]int64{}
	if err := loadSentSnapshot(snapPath, sent); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("sent snapshot unreadable", logx.Err(err))
	}
	if err := replaySentJournal(journalPath, sent); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("sent journal unreadable", logx.Err(err))
	}
	pruneExpiredSent(sent, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, err
	}

	return &fileStore{
		log:              log,
		entriesPath:      entriesPath,
		entriesFile:      ef,
		sentSnapshotPath: snapPath,
		sentJournalFile:  jf,
		sent:             sent,
		now:              time.Now,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.entriesFile != nil {
		err1 = s.entriesFile.Close()
		s.entriesFile = nil
	}
	if s.sentJournalFile != nil {
		err2 = s.sentJournalFile.Close()
		s.sentJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error) {
	if err := ctx.Err(); err != nil {
		return e, err
	}
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return e, err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entriesFile == nil {
		return e, ErrClosed
	}
	// single write so a crash leaves at most one torn trailing line
	if _, err := s.entriesFile.Write(b); err != nil {
		return e, err
	}
	return e, s.entriesFile.Sync()
}

func (s *fileStore) List(ctx context.Context) ([]reminder.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.entriesFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.entriesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeEntries(f, s.log)
}

// decodeEntries reads JSON Lines. A line that does not decode is skipped
// with a warning; the rest of the file still loads.
func decodeEntries(r io.Reader, log logx.Logger) ([]reminder.Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var out []reminder.Entry
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var e reminder.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			log.Warn("skipping malformed entry line", logx.Int("line", line), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func (s *fileStore) ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("empty occurrence key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentJournalFile == nil {
		return false, ErrClosed
	}
	if ms, ok := s.sent[key]; ok && ms > s.now().UnixMilli() {
		return false, nil
	}
	ms := until.UnixMilli()
	if err := s.journalLocked(sentRecord{Key: key, Until: ms}); err != nil {
		return false, err
	}
	s.sent[key] = ms
	return true, nil
}

func (s *fileStore) ReleaseOccurrence(ctx context.Context, key string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentJournalFile == nil {
		return ErrClosed
	}
	if _, ok := s.sent[key]; !ok {
		return nil
	}
	if err := s.journalLocked(sentRecord{Key: key}); err != nil {
		return err
	}
	delete(s.sent, key)
	return nil
}

func (s *fileStore) journalLocked(r sentRecord) error {
	if err := json.NewEncoder(s.sentJournalFile).Encode(r); err != nil {
		return err
	}
	if err := s.sentJournalFile.Sync(); err != nil {
		return err
	}
	s.sentWrites++
	if s.sentWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("sent journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	pruneExpiredSent(s.sent, s.now())

	tmp := s.sentSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.sent); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.sentSnapshotPath); err != nil {
		return err
	}
	if err := s.sentJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.sentJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadSentSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replaySentJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r sentRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Key == "" {
			continue
		}
		if r.Until == 0 {
			delete(out, r.Key)
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredSent(m map[string]int64, now time.Time) {
	ms := now.UnixMilli()
	for k, v := range m {
		if v < ms {
			delete(m, k)
		}
	}
}
