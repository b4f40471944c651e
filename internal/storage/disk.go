package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teris-io/shortid"
)

const maxNameLen = 100

var ErrInvalidPath = errors.New("invalid blob path")

type BlobStore interface {
	// Put writes the content under a new unique name and returns the path
	// relative to the store root along with the number of bytes written.
	Put(conversationId int, filename string, r io.Reader) (string, int64, error)
	Open(path string) (*os.File, error)
	Remove(path string) error
}

// DiskStore keeps blobs on the local filesystem, one directory per conversation.
type DiskStore struct {
	root string
	sid  *shortid.Shortid
	now  func() time.Time
}

var _ BlobStore = (*DiskStore)(nil)

func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	sid, err := shortid.New(1, shortid.DefaultABC, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, fmt.Errorf("shortid: %w", err)
	}

	return &DiskStore{root: abs, sid: sid, now: time.Now}, nil
}

func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) Put(conversationId int, filename string, r io.Reader) (string, int64, error) {
	dir := fmt.Sprintf("conversation-%d", conversationId)
	if err := os.MkdirAll(filepath.Join(s.root, dir), 0o755); err != nil {
		return "", 0, fmt.Errorf("create conversation dir: %w", err)
	}

	id, err := s.sid.Generate()
	if err != nil {
		return "", 0, fmt.Errorf("generate name: %w", err)
	}

	name := fmt.Sprintf("%d-%s-%s", s.now().UnixMilli(), id, SanitizeFilename(filename))
	rel := filepath.Join(dir, name)
	full := filepath.Join(s.root, rel)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create blob: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(full)
		return "", 0, fmt.Errorf("write blob: %w", err)
	}

	return filepath.ToSlash(rel), n, nil
}

func (s *DiskStore) Open(path string) (*os.File, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	return os.Open(full)
}

// Remove deletes the blob. A blob that is already gone is not an error.
func (s *DiskStore) Remove(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

func (s *DiskStore) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", ErrInvalidPath
	}

	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}

	return full, nil
}

// SanitizeFilename reduces a client supplied name to a safe single path element.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	clean := strings.Trim(b.String(), ".")
	if len(clean) > maxNameLen {
		clean = clean[len(clean)-maxNameLen:]
	}
	if clean == "" {
		return "file"
	}

	return clean
}
