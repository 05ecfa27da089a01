package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"postbot/internal/errors"
	"postbot/internal/jobs"
	logx "postbot/pkg/logx"
)

var (
	bucketOneShot    = []byte("one_shot")
	bucketRecurring  = []byte("recurring")
	bucketChannels   = []byte("channels")
	bucketSent       = []byte("sent")
	bucketDeliveries = []byte("deliveries")
	bucketMeta       = []byte("meta")

	tableBuckets = [][]byte{bucketOneShot, bucketRecurring, bucketChannels, bucketSent}
)

type boltWrite struct {
	fn   func(tx *bbolt.Tx) error
	done chan error
}

// boltStore funnels every write through one goroutine so callers never
// contend on the bbolt writer lock.
type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
	ids *ids

	writes chan boltWrite
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "storage: create dir")
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "storage: open bolt")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range append(tableBuckets, bucketDeliveries, bucketMeta) {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("schema_version"), []byte("1"))
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage: init bolt buckets")
	}

	s := &boltStore{
		db:     db,
		log:    log,
		ids:    newIDs(),
		writes: make(chan boltWrite, 64),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *boltStore) writer() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case w := <-s.writes:
			w.done <- s.db.Update(w.fn)
		}
	}
}

func (s *boltStore) runWrite(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	w := boltWrite{fn: fn, done: make(chan error, 1)}
	select {
	case s.writes <- w:
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *boltStore) Load(ctx context.Context) (jobs.Table, error) {
	t := jobs.NewTable()
	err := s.db.View(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketOneShot).ForEach(func(k, v []byte) error {
			var j jobs.OneShot
			if err := json.Unmarshal(v, &j); err != nil {
				return errors.Wrapf(err, "decode %s", k)
			}
			t.OneShot[j.ID] = j
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketRecurring).ForEach(func(k, v []byte) error {
			var j jobs.Recurring
			if err := json.Unmarshal(v, &j); err != nil {
				return errors.Wrapf(err, "decode %s", k)
			}
			t.Recurring[j.ID] = j
			return nil
		}); err != nil {
			return err
		}
		if err := tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			t.Channels[string(k)] = string(v)
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket(bucketSent).ForEach(func(k, v []byte) error {
			n, err := strconv.Atoi(string(v))
			if err != nil {
				return errors.Wrapf(err, "decode sent counter %s", k)
			}
			t.Sent[string(k)] = n
			return nil
		})
	})
	if err != nil {
		return jobs.Table{}, errors.Wrap(err, "storage: load bolt")
	}
	return t, nil
}

// Save recreates the table buckets in one write transaction.
func (s *boltStore) Save(ctx context.Context, t jobs.Table) error {
	err := s.runWrite(ctx, func(tx *bbolt.Tx) error {
		for _, name := range tableBuckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		once := tx.Bucket(bucketOneShot)
		for id, j := range t.OneShot {
			if err := putJSON(once, id, j); err != nil {
				return err
			}
		}
		rec := tx.Bucket(bucketRecurring)
		for id, j := range t.Recurring {
			if err := putJSON(rec, id, j); err != nil {
				return err
			}
		}
		ch := tx.Bucket(bucketChannels)
		for owner, dest := range t.Channels {
			if err := ch.Put([]byte(owner), []byte(dest)); err != nil {
				return err
			}
		}
		sent := tx.Bucket(bucketSent)
		for owner, n := range t.Sent {
			if err := sent.Put([]byte(owner), []byte(strconv.Itoa(n))); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "storage: save bolt")
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), raw)
}

func (s *boltStore) AppendDelivery(ctx context.Context, d Delivery) error {
	s.ids.stamp(&d)
	err := s.runWrite(ctx, func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketDeliveries), d.ID, d)
	})
	return errors.Wrap(err, "storage: append delivery")
}

// RecentDeliveries walks the ULID-keyed bucket backwards.
func (s *boltStore) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	limit = clampLimit(limit)
	var out []Delivery
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var d Delivery
			if err := json.Unmarshal(v, &d); err != nil {
				s.log.Debug("skipping corrupt delivery", logx.String("key", string(k)), logx.Err(err))
				continue
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: read deliveries")
	}
	return out, nil
}

func (s *boltStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
