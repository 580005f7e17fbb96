// Package fs stores blobs as files under a directory. Every object has a JSON
// sidecar named <key>.meta carrying its version token and headers. All file
// access goes through an os.Root so keys cannot escape the directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cellvault/internal/blob/core"
)

// DefaultRoot is used when New receives an empty directory.
const DefaultRoot = "./blobdata"

const (
	sidecarSuffix = ".meta"
	tempPrefix    = ".tmp-"
)

// Store implements core.Store on the local filesystem. A Put swaps data and
// sidecar into place by rename while holding the store lock, so readers in
// this process see either the old or the new object.
type Store struct {
	dir  string
	root *os.Root
	mu   sync.RWMutex
	now  func() time.Time
}

// New opens (creating if needed) the directory and returns a store over it.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = DefaultRoot
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("open blob root: %w", err)
	}
	return &Store{dir: abs, root: root, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the root directory handle.
func (s *Store) Close() error { return s.root.Close() }

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (sc sidecar) info(key, u string) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.ETag,
		Metadata:     maps.Clone(sc.Metadata),
		LastModified: sc.UpdatedAt,
		URL:          u,
	}
}

// checkKey accepts slash-separated relative keys without "." or ".."
// elements. Names reserved for sidecars and temp files are rejected.
func checkKey(key string) error {
	if !iofs.ValidPath(key) || key == "." {
		return fmt.Errorf("blob key %q: invalid path", key)
	}
	base := path.Base(key)
	if strings.HasSuffix(base, sidecarSuffix) || strings.HasPrefix(base, tempPrefix) {
		return fmt.Errorf("blob key %q: reserved name", key)
	}
	return nil
}

func (s *Store) readSidecar(key string) (sidecar, error) {
	b, err := s.root.ReadFile(key + sidecarSuffix)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return sidecar{}, fmt.Errorf("blob %s: corrupt sidecar: %w", key, err)
	}
	return sc, nil
}

// Put streams r to a temp file, then checks IfMatch and renames the data and
// sidecar into place under the store lock.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	dir := path.Dir(key)
	if dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return core.Info{}, err
		}
	}
	tmp := path.Join(dir, tempPrefix+uuid.NewString())
	size, sum, err := s.spool(tmp, r)
	defer func() { _ = s.root.Remove(tmp) }()
	if err != nil {
		return core.Info{}, err
	}
	now := s.now()
	etag := versionToken(sum, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	created := now
	prev, err := s.readSidecar(key)
	switch {
	case err == nil:
		created = prev.CreatedAt
		if opts.IfMatch != "" && prev.ETag != opts.IfMatch {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrPreconditionFailed)
		}
	case errors.Is(err, iofs.ErrNotExist):
		if opts.IfMatch != "" {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrPreconditionFailed)
		}
	default:
		return core.Info{}, err
	}
	sc := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		ETag:        etag,
		Size:        size,
		CreatedAt:   created,
		UpdatedAt:   now,
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return core.Info{}, err
	}
	metaTmp := tmp + sidecarSuffix
	if err := s.root.WriteFile(metaTmp, b, 0o644); err != nil {
		return core.Info{}, err
	}
	if err := s.root.Rename(tmp, key); err != nil {
		_ = s.root.Remove(metaTmp)
		return core.Info{}, err
	}
	if err := s.root.Rename(metaTmp, key+sidecarSuffix); err != nil {
		return core.Info{}, err
	}
	return sc.info(key, s.fileURL(key)), nil
}

// spool copies r into name and returns its size and sha256.
func (s *Store) spool(name string, r io.Reader) (int64, []byte, error) {
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, nil, err
	}
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, h), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, nil, err
	}
	return size, h.Sum(nil), nil
}

// versionToken mixes the write time into the content hash so rewriting the
// same bytes still produces a new token.
func versionToken(sum []byte, at time.Time) string {
	h := sha256.New()
	_, _ = h.Write(sum)
	_, _ = h.Write([]byte(strconv.FormatInt(at.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.readSidecar(key)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := s.root.Open(key)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	return sc.info(key, s.fileURL(key)), f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	if err := checkKey(key); err != nil {
		return core.Info{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, err := s.readSidecar(key)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	if err != nil {
		return core.Info{}, err
	}
	return sc.info(key, s.fileURL(key)), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.root.Remove(key)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_ = s.root.Remove(key + sidecarSuffix)
	return true, nil
}

// List walks the root for sidecars whose key starts with prefix. Directories
// that cannot contain a match are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []core.Info
	err := iofs.WalkDir(s.root.FS(), ".", func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p == "." || strings.HasPrefix(prefix, p+"/") || strings.HasPrefix(p+"/", prefix) {
				return nil
			}
			return iofs.SkipDir
		}
		name := path.Base(p)
		if !strings.HasSuffix(name, sidecarSuffix) || strings.HasPrefix(name, tempPrefix) {
			return nil
		}
		key := strings.TrimSuffix(p, sidecarSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		sc, err := s.readSidecar(key)
		if err != nil {
			return err
		}
		infos = append(infos, sc.info(key, s.fileURL(key)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(infos, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return infos, nil
}

// PresignURL returns a file:// URL. Only GET is meaningful for local files.
func (s *Store) PresignURL(_ context.Context, key string, opts core.SignedURLOptions) (string, error) {
	if opts.Method != "" && !strings.EqualFold(opts.Method, "GET") {
		return "", core.ErrUnsupported
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	return s.fileURL(key), nil
}

func (s *Store) fileURL(key string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.dir, filepath.FromSlash(key)))}).String()
}
