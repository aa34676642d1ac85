package inbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Record is one upload the inbox has completed.
type Record struct {
	Path       string `json:"path"`
	FileID     string `json:"fileId"`
	TaskID     string `json:"taskId,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

// ledger remembers uploaded content by hash so a file is sent once no
// matter how often it is touched or renamed.
type ledger struct {
	path    string
	mu      sync.Mutex
	uploads map[string]Record
}

type ledgerState struct {
	Uploads map[string]Record `json:"uploads"`
}

func openLedger(path string) (*ledger, error) {
	l := &ledger{path: path, uploads: map[string]Record{}}
	if path == "" {
		return l, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, err
	}
	var state ledgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.Uploads != nil {
		l.uploads = state.Uploads
	}
	return l, nil
}

func (l *ledger) lookup(hash string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.uploads[hash]
	return rec, ok
}

func (l *ledger) add(hash string, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uploads[hash] = rec
	if l.path == "" {
		return nil
	}
	data, err := json.Marshal(ledgerState{Uploads: l.uploads})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(l.path, data, 0o644)
}

func (l *ledger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.uploads)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
