// Package checklist keeps zero-byte marker files that tell a sweep which
// content keys to reconsider.
//
// There are three lists, each its own directory under the data dir:
//
//	checklist/           local-delete candidates
//	external_checklist/  remote-delete candidates
//	upload_checklist/    pending uploads
//
// A marker lives at <list>/<xx>/<digest>, mirroring the filestore layout.
// Presence only means "look at this key again"; absence proves nothing.
package checklist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dmitrijs2005/tierstore/internal/filestore"
)

type Name string

const (
	Local  Name = "checklist"
	Remote Name = "external_checklist"
	Upload Name = "upload_checklist"
)

// MaxBatch caps Drain batches; it matches the largest IN list and the largest
// remote batch delete.
const MaxBatch = 1000

var ErrUnknownList = errors.New("unknown checklist")

// Entry is one marker found by Drain.
type Entry struct {
	List Name
	Key  string
	Path string
}

type Store struct {
	root string
}

// New prepares all three list directories under root.
func New(root string) (*Store, error) {
	s := &Store{root: filepath.Clean(root)}
	for _, n := range []Name{Local, Remote, Upload} {
		if err := os.MkdirAll(s.dir(n), 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", n, err)
		}
	}
	return s, nil
}

func (s *Store) dir(n Name) string {
	return filepath.Join(s.root, string(n))
}

func (s *Store) markerPath(n Name, key string) (string, error) {
	switch n {
	case Local, Remote, Upload:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownList, n)
	}
	k, err := filestore.SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir(n), filepath.FromSlash(k)), nil
}

// Enqueue drops a marker for key. An existing marker is left alone.
func (s *Store) Enqueue(n Name, key string) error {
	p, err := s.markerPath(n, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", n, key, err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", n, key, err)
	}
	return f.Close()
}

// Has reports whether a marker for key is present.
func (s *Store) Has(n Name, key string) bool {
	p, err := s.markerPath(n, key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove deletes the marker. A marker that is already gone is fine.
func (s *Store) Remove(e Entry) error {
	p := e.Path
	if p == "" {
		var err error
		if p, err = s.markerPath(e.List, e.Key); err != nil {
			return err
		}
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove marker %s %s: %w", e.List, e.Key, err)
	}
	return nil
}

// Drain returns the markers currently in list n, grouped into batches of at
// most batchSize. Markers are not removed; the sweep does that once it has
// decided what to do with each key. Entries that do not have the two-level
// key shape are skipped.
func (s *Store) Drain(n Name, batchSize int) ([][]Entry, error) {
	if batchSize <= 0 || batchSize > MaxBatch {
		batchSize = MaxBatch
	}
	entries, err := s.list(n)
	if err != nil {
		return nil, err
	}

	var batches [][]Entry
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		batches = append(batches, entries[start:end])
	}
	return batches, nil
}

// Count returns how many markers list n holds.
func (s *Store) Count(n Name) (int, error) {
	entries, err := s.list(n)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *Store) list(n Name) ([]Entry, error) {
	if _, err := s.markerPath(n, "00/00"); err != nil {
		return nil, err
	}
	root := s.dir(n)

	var out []Entry
	shards, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", n, err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, shard.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("list %s/%s: %w", n, shard.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			key, err := filestore.SanitizeKey(shard.Name() + "/" + f.Name())
			if err != nil {
				continue
			}
			out = append(out, Entry{
				List: n,
				Key:  key,
				Path: filepath.Join(root, shard.Name(), f.Name()),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Keys returns the keys of a batch, in order.
func Keys(batch []Entry) []string {
	keys := make([]string, len(batch))
	for i, e := range batch {
		keys[i] = e.Key
	}
	return keys
}
