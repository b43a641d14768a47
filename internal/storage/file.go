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

	logx "chatwarden/pkg/logx"
)

// fileStore keeps the memory model and persists it under a path prefix:
//   - <prefix>.audit.jsonl          append-only audit trail
//   - <prefix>.seen.journal.jsonl   append-only dedup journal
//   - <prefix>.seen.snapshot.json   dedup snapshot (journal compacts into it)
//   - <prefix>.state.json           subscriptions, settings and counters
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st *state

	auditFile    *os.File
	journalFile  *os.File
	snapshotPath string
	statePath    string

	seenWrites   int
	compactEvery int
}

type seenLine struct {
	GUID string `json:"guid"`
	At   int64  `json:"at"` // unix milli
}

type stateFile struct {
	Subscriptions []Subscription `json:"subscriptions"`
	Settings      []ChatSettings `json:"settings"`
	Counters      []Counter      `json:"counters"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fs := &fileStore{
		log:          log,
		st:           newState(),
		snapshotPath: prefix + ".seen.snapshot.json",
		statePath:    prefix + ".state.json",
		compactEvery: 1000,
	}
	journalPath := prefix + ".seen.journal.jsonl"

	if err := fs.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("seen snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := fs.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("seen journal replay failed", logx.Err(err))
	}
	if err := fs.loadState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}
	fs.auditFile = af
	fs.journalFile = jf
	return fs, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
		s.auditFile = nil
	}
	if s.journalFile != nil {
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) PutSeen(ctx context.Context, guid string, at time.Time) error {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	if !s.st.putSeen(guid, at) {
		return nil
	}
	if err := json.NewEncoder(s.journalFile).Encode(seenLine{GUID: guid, At: at.UnixMilli()}); err != nil {
		return err
	}
	s.seenWrites++
	if s.seenWrites%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("seen compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadSeen(ctx context.Context) ([]SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.seenList(), nil
}

func (s *fileStore) PutSubscription(ctx context.Context, sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putSubscription(sub)
	return s.saveStateLocked()
}

func (s *fileStore) DeleteSubscription(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.subs[chatID]; !ok {
		return nil
	}
	delete(s.st.subs, chatID)
	return s.saveStateLocked()
}

func (s *fileStore) LoadSubscriptions(ctx context.Context) ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.subList(), nil
}

func (s *fileStore) PutChatSettings(ctx context.Context, cs ChatSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settings[cs.ChatID] = cs
	return s.saveStateLocked()
}

func (s *fileStore) LoadChatSettings(ctx context.Context) ([]ChatSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.settingsList(), nil
}

func (s *fileStore) PutCounter(ctx context.Context, c Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.putCounter(c)
	return s.saveStateLocked()
}

func (s *fileStore) LoadCounters(ctx context.Context, kind string) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.counterList(kind), nil
}

func (s *fileStore) saveStateLocked() error {
	return writeJSONAtomic(s.statePath, stateFile{
		Subscriptions: s.st.subList(),
		Settings:      s.st.settingsList(),
		Counters:      s.st.counterList(""),
	})
}

// compactLocked folds the journal into the snapshot and truncates it.
func (s *fileStore) compactLocked() error {
	snap := make(map[string]int64, len(s.st.seen))
	for g, at := range s.st.seen {
		snap[g] = at.UnixMilli()
	}
	if err := writeJSONAtomic(s.snapshotPath, snap); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err := s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for g, ms := range m {
		s.st.putSeen(g, time.UnixMilli(ms))
	}
	return nil
}

// replayJournal skips malformed lines; a torn final write must not lose
// the records before it.
func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r seenLine
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.GUID == "" {
			continue
		}
		s.st.putSeen(r.GUID, time.UnixMilli(r.At))
	}
	return sc.Err()
}

func (s *fileStore) loadState() error {
	b, err := os.ReadFile(s.statePath)
	if err != nil {
		return err
	}
	var sf stateFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return err
	}
	for _, sub := range sf.Subscriptions {
		s.st.putSubscription(sub)
	}
	for _, cs := range sf.Settings {
		s.st.settings[cs.ChatID] = cs
	}
	for _, c := range sf.Counters {
		s.st.putCounter(c)
	}
	return nil
}

func writeJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
