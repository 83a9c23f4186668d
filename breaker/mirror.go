package breaker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// mirrorFile is the on-disk lock file layout.
type mirrorFile struct {
	Engaged   bool              `json:"engaged"`
	EngagedAt time.Time         `json:"engaged_at"`
	Reason    string            `json:"reason"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	PID       int               `json:"pid"`
	Host      string            `json:"host,omitempty"`
}

// ReadMirror loads the lock file at path. A missing file returns an error
// satisfying errors.Is(err, fs.ErrNotExist).
func ReadMirror(path string) (Status, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Status{}, err
	}
	var mf mirrorFile
	if err := json.Unmarshal(b, &mf); err != nil {
		return Status{}, fmt.Errorf("parse kill switch mirror %s: %w", path, err)
	}
	return Status{
		Engaged:   mf.Engaged,
		EngagedAt: mf.EngagedAt,
		Reason:    mf.Reason,
		Metadata:  mf.Metadata,
	}, nil
}

// EngageMirror writes an engaged lock file without a live Breaker. Running
// processes watching the same path pick it up on their next poll.
func EngageMirror(path, reason string, metadata map[string]string) error {
	return writeMirror(path, Status{
		Engaged:   true,
		EngagedAt: time.Now(),
		Reason:    reason,
		Metadata:  metadata,
	})
}

// ClearMirror removes the lock file. Removing a missing file is not an error.
func ClearMirror(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeMirror(path string, st Status) error {
	host, _ := os.Hostname()
	b, err := json.MarshalIndent(mirrorFile{
		Engaged:   st.Engaged,
		EngagedAt: st.EngagedAt.UTC(),
		Reason:    st.Reason,
		Metadata:  st.Metadata,
		PID:       os.Getpid(),
		Host:      host,
	}, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
