package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"descbot/pkg/logx"
)

// fileStore keeps the state snapshot next to an append-only audit log:
//
//	<prefix>.state.json   replaced atomically (tmp + rename)
//	<prefix>.audit.jsonl  one JSON object per line
type fileStore struct {
	fs  afero.Fs
	log logx.Logger

	statePath string
	auditPath string

	mu    sync.Mutex
	audit afero.File
}

func openFile(fsys afero.Fs, path string, log logx.Logger) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	prefix := strings.TrimSuffix(path, filepath.Ext(path))
	if err := fsys.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return nil, err
	}
	af, err := fsys.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{
		fs:        fsys,
		log:       log,
		statePath: prefix + ".state.json",
		auditPath: prefix + ".audit.jsonl",
		audit:     af,
	}, nil
}

// StatePath returns the state file used for a storage path prefix.
func StatePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".state.json"
}

func (s *fileStore) LoadState(context.Context) (State, bool, error) {
	return ReadStateFile(s.fs, s.statePath)
}

func (s *fileStore) SaveState(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrDisabled
	}
	return WriteStateFile(s.fs, s.statePath, st)
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return ErrDisabled
	}
	_, err = s.audit.Write(append(b, '\n'))
	return err
}

func (s *fileStore) RecentAudit(_ context.Context, n int) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fs.Open(s.auditPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			s.log.Debug("skipping corrupt audit line", logx.Err(err))
			continue
		}
		all = append(all, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return newestFirst(all, n), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return nil
	}
	err := s.audit.Close()
	s.audit = nil
	return err
}

// ReadStateFile reads a state snapshot. found is false when the file does
// not exist; any other failure is returned with the zero State.
func ReadStateFile(fsys afero.Fs, path string) (st State, found bool, err error) {
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return st, true, nil
}

// WriteStateFile replaces path atomically with the JSON encoding of st.
func WriteStateFile(fsys afero.Fs, path string, st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(fsys, path, append(b, '\n'), 0o600)
}

// WriteFileAtomic writes to a sibling temp file, syncs it and renames it
// over path, so readers never see a partial file.
func WriteFileAtomic(fsys afero.Fs, path string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fsys.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = fsys.Remove(tmp)
		return err
	}
	return fsys.Rename(tmp, path)
}
