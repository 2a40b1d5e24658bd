package persist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// UploadStore drops uploaded blobs into a directory as numbered files. The
// id counter lives in a `_lastid` file so numbering survives restarts.
type UploadStore struct {
	mu  sync.Mutex
	dir string
}

func NewUploadStore(dir string) *UploadStore {
	return &UploadStore{dir: dir}
}

// Put stores body under the next id and returns that id. Non-empty metadata
// bound to the upload token lands next to the blob as <id>.meta.json.
func (u *UploadStore) Put(meta string, body []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create upload dir")
	}

	id, err := u.nextIDLocked()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(filepath.Join(u.dir, id), body, 0o644); err != nil {
		return "", errors.Wrapf(err, "write upload %s", id)
	}
	if meta != "" {
		buf, err := json.Marshal(map[string]string{"data": meta})
		if err != nil {
			return "", errors.Wrap(err, "encode upload metadata")
		}
		if err := os.WriteFile(filepath.Join(u.dir, id+".meta.json"), buf, 0o644); err != nil {
			return "", errors.Wrapf(err, "write upload metadata %s", id)
		}
	}
	return id, nil
}

func (u *UploadStore) nextIDLocked() (string, error) {
	lastidPath := filepath.Join(u.dir, "_lastid")

	id := 0
	if buf, err := os.ReadFile(lastidPath); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(string(buf))); err == nil {
			id = parsed
		}
	}
	id++

	next := strconv.Itoa(id)
	if err := os.WriteFile(lastidPath, []byte(next), 0o644); err != nil {
		return "", errors.Wrap(err, "write upload id counter")
	}
	return next, nil
}
