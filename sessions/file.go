package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/jrsteele09/sso-gateway/internal/errors"
	"github.com/pkg/errors"
)

// FileStore keeps one JSON file per session in a directory.
// File names are the SHA-256 of the session id so ids never reach the filesystem.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create session directory %s", dir)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

func (s *FileStore) Get(_ context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, apperrors.ErrSessionNotFound
	}
	path := s.path(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session file")
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.Wrap(err, "decode session file")
	}
	if sess.Expired(s.now()) {
		_ = os.Remove(path)
		return nil, apperrors.ErrSessionNotFound
	}
	return &sess, nil
}

// Set writes the session through a temporary file and a rename, so readers
// never observe a partial write.
func (s *FileStore) Set(_ context.Context, id string, sess *Session) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if sess == nil {
		return errors.New("session is required")
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "create temp session file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close session file")
	}
	if err := os.Rename(tmpName, s.path(id)); err != nil {
		return errors.Wrap(err, "commit session file")
	}
	return nil
}

func (s *FileStore) Destroy(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}
