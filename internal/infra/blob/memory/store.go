// Package memory keeps blobs in process memory. It backs tests and the
// "memory" driver for throwaway runs.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"cellvault/internal/blob/core"
)

// object is never mutated after it is stored; Put swaps in a new one.
type object struct {
	info core.Info
	data []byte
}

// Store implements core.Store on a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
	writes  uint64
}

// New returns an empty store.
func New() *Store { return &Store{objects: make(map[string]*object)} }

func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put replaces key. With IfMatch set the stored ETag must match.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.IfMatch != "" {
		if cur, ok := s.objects[key]; !ok || cur.info.ETag != opts.IfMatch {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrPreconditionFailed)
		}
	}
	s.writes++
	obj := &object{
		data: data,
		info: core.Info{
			Key:          key,
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			ETag:         version(data, s.writes),
			Metadata:     maps.Clone(opts.Metadata),
			LastModified: time.Now().UTC(),
		},
	}
	s.objects[key] = obj
	return obj.snapshot(), nil
}

func (s *Store) lookup(key string) (*object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return obj, nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return obj.snapshot(), io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	obj, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return obj.snapshot(), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return false, nil
	}
	delete(s.objects, key)
	return true, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.objects))
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.snapshot())
		}
	}
	slices.SortFunc(out, func(a, b core.Info) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

// PresignURL is unsupported: memory objects have no address outside the process.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func (o *object) snapshot() core.Info {
	info := o.info
	info.Metadata = maps.Clone(o.info.Metadata)
	return info
}

// version hashes the payload together with the write counter, so identical
// bytes written twice still get distinct tokens.
func version(data []byte, write uint64) string {
	h := sha256.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte("#" + strconv.FormatUint(write, 10)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
