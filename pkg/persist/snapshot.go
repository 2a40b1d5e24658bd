// Package persist holds the bouncer's on-disk state: the network snapshot
// written on graceful shutdown and the upload blob store.
package persist

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/bouncer/pkg/controller"
)

// SnapshotStore reads and writes the durable network list. A missing or
// empty file means zero networks; anything else failing to parse is an
// error the boot path treats as fatal.
type SnapshotStore struct {
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

func (s *SnapshotStore) Load() ([]controller.NetworkSnapshot, error) {
	buf, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", s.path)
	}
	if len(buf) == 0 {
		return nil, nil
	}

	var snaps []controller.NetworkSnapshot
	if err := json.Unmarshal(buf, &snaps); err != nil {
		return nil, errors.Wrapf(err, "parse snapshot %s", s.path)
	}
	return snaps, nil
}

func (s *SnapshotStore) Save(snaps []controller.NetworkSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create snapshot dir")
	}
	buf, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}

	// write-then-rename so a crash mid-write can't corrupt the snapshot
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errors.Wrapf(err, "write snapshot %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "rename snapshot %s", s.path)
	}
	log.Debug().Str("path", s.path).Int("networks", len(snaps)).Msg("snapshot written")
	return nil
}
