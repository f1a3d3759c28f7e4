// Package filestore keeps attachment bytes on local disk, addressed by
// content.
//
// A content key has the form "<xx>/<digest>" where digest is the hex
// BLAKE2b-256 of the bytes and xx its first two characters, so blobs spread
// over 256 subdirectories:
//
//	<root>/3f/3fa1c0...
//
// The same key is used verbatim as the remote object key.
//
// Writes go to a temporary file under <root>/.tmp first and are renamed into
// place, so a blob is either complete or absent.
package filestore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const tempDirName = ".tmp"

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid content key")
)

// Store is a content-addressed blob directory. Safe for concurrent use:
// every mutation is a single rename or unlink.
type Store struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

func New(root string) (*Store, error) {
	root = filepath.Clean(root)
	s := &Store{root: root, dirMode: 0o750, fileMode: 0o640}
	if err := os.MkdirAll(filepath.Join(root, tempDirName), s.dirMode); err != nil {
		return nil, fmt.Errorf("creating filestore: %w", err)
	}
	return s, nil
}

// Key returns the content key and the hex checksum for data.
func Key(data []byte) (key string, checksum string) {
	sum := blake2b.Sum256(data)
	checksum = hex.EncodeToString(sum[:])
	return checksum[:2] + "/" + checksum, checksum
}

// SanitizeKey normalises a key the way every on-disk lookup does: dots are
// dropped, surrounding slashes and backslashes trimmed. The result must be
// exactly "<dir>/<name>".
func SanitizeKey(key string) (string, error) {
	k := strings.ReplaceAll(key, ".", "")
	k = strings.Trim(k, `/\`)
	dir, name, ok := strings.Cut(k, "/")
	if !ok || dir == "" || name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(dir, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}

// DetectMimetype sniffs the content type from the first bytes of data.
func DetectMimetype(data []byte) string {
	return http.DetectContentType(data)
}

func (s *Store) Root() string {
	return s.root
}

// FullPath returns the absolute on-disk path for key.
func (s *Store) FullPath(key string) (string, error) {
	k, err := SanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *Store) Exists(key string) bool {
	p, err := s.FullPath(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Write stores data and returns its key. Writing bytes that are already
// present is a no-op.
func (s *Store) Write(data []byte) (string, error) {
	key, _ := Key(data)
	if s.Exists(key) {
		return key, nil
	}
	err := s.Fill(key, func(tmp string) error {
		return os.WriteFile(tmp, data, s.fileMode)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// Fill materialises key by letting produce write the bytes into a temporary
// path, which is then renamed into place. Used when the bytes come from
// somewhere other than memory (a remote download).
func (s *Store) Fill(key string, produce func(tmpPath string) error) error {
	dst, err := s.FullPath(key)
	if err != nil {
		return err
	}

	tmp := filepath.Join(s.root, tempDirName, uuid.NewString())
	defer os.Remove(tmp)

	if err := produce(tmp); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), s.dirMode); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("commit blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) Read(key string) ([]byte, error) {
	p, err := s.FullPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read blob %q: %w", key, err)
	}
	return data, nil
}

// Delete unlinks the blob. A blob that is already gone counts as deleted and
// reports removed=false.
func (s *Store) Delete(key string) (removed bool, err error) {
	p, err := s.FullPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("unlink blob %q: %w", key, err)
	}
	return true, nil
}
