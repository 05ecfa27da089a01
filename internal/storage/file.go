package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"postbot/internal/errors"
	"postbot/internal/jobs"
	logx "postbot/pkg/logx"
)

// fileStore keeps the job table in a JSON snapshot and appends deliveries
// to a JSON Lines log.
//
// Files, for path "./data/postbot.json":
//   - ./data/postbot.jobs.json        (snapshot, replaced via rename)
//   - ./data/postbot.deliveries.jsonl (append-only)
type fileStore struct {
	log logx.Logger
	ids *ids

	mu           sync.Mutex
	snapshotPath string
	deliveryPath string
	deliveries   *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: create dir")
	}
	deliveryPath := prefix + ".deliveries.jsonl"
	f, err := os.OpenFile(deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open delivery log")
	}
	return &fileStore{
		log:          log,
		ids:          newIDs(),
		snapshotPath: prefix + ".jobs.json",
		deliveryPath: deliveryPath,
		deliveries:   f,
	}, nil
}

func (s *fileStore) Load(ctx context.Context) (jobs.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return jobs.NewTable(), nil
	}
	if err != nil {
		return jobs.Table{}, errors.Wrap(err, "storage: read snapshot")
	}
	var t jobs.Table
	if err := json.Unmarshal(b, &t); err != nil {
		return jobs.Table{}, errors.Wrapf(err, "storage: decode %s", s.snapshotPath)
	}
	return t, nil
}

// Save writes the table to a temp file and renames it over the snapshot, so
// a crash leaves either the old or the new table on disk.
func (s *fileStore) Save(ctx context.Context, t jobs.Table) error {
	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrap(err, "storage: encode snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return ErrClosed
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "storage: create snapshot")
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "storage: write snapshot")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "storage: sync snapshot")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "storage: close snapshot")
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return errors.Wrap(err, "storage: replace snapshot")
	}
	return nil
}

func (s *fileStore) AppendDelivery(ctx context.Context, d Delivery) error {
	s.ids.stamp(&d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.deliveries).Encode(d)
}

func (s *fileStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	limit = clampLimit(limit)
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.deliveryPath)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open delivery log")
	}
	defer f.Close()

	ring := make([]Delivery, 0, limit)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var d Delivery
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			s.log.Debug("skipping corrupt delivery line", logx.Err(err))
			continue
		}
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, d)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: scan delivery log")
	}
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
	return ring, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries == nil {
		return nil
	}
	err := s.deliveries.Close()
	s.deliveries = nil
	return err
}
