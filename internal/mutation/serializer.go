package mutation

import (
	"context"
	"errors"
	"sync"
	"time"

	"cellvault/internal/failure"
)

// Policy decides what a second caller does while a key is held.
type Policy string

const (
	// PolicyQueue waits for the holder, bounded by the wait timeout.
	PolicyQueue Policy = "queue"
	// PolicyFailFast returns KindBusy immediately.
	PolicyFailFast Policy = "fail_fast"
)

// DefaultWaitTimeout bounds queued acquisitions when none is configured.
const DefaultWaitTimeout = 10 * time.Second

// Serializer grants at most one holder per key. Distinct keys never contend.
// Entries are reference counted and dropped once no caller holds or waits.
type Serializer struct {
	mu          sync.Mutex
	entries     map[string]*lockEntry
	policy      Policy
	waitTimeout time.Duration
	onContended func(key string)
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewSerializer returns a serializer. An empty policy means PolicyQueue and a
// non-positive timeout means DefaultWaitTimeout.
func NewSerializer(policy Policy, waitTimeout time.Duration) *Serializer {
	if policy == "" {
		policy = PolicyQueue
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Serializer{entries: make(map[string]*lockEntry), policy: policy, waitTimeout: waitTimeout}
}

// Policy returns the contention policy in force.
func (s *Serializer) Policy() Policy { return s.policy }

// OnContended registers a callback fired whenever a caller finds key held.
func (s *Serializer) OnContended(fn func(key string)) { s.onContended = fn }

// Do runs fn while holding key. The hold is released on every exit path.
func (s *Serializer) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := s.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (s *Serializer) acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, contextFailure(err)
	}
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	release := func() {
		<-e.sem
		s.unref(key, e)
	}
	select {
	case e.sem <- struct{}{}:
		return release, nil
	default:
	}
	if s.onContended != nil {
		s.onContended(key)
	}
	if s.policy == PolicyFailFast {
		s.unref(key, e)
		return nil, failure.New(failure.KindBusy, "document %s is busy", key)
	}
	timer := time.NewTimer(s.waitTimeout)
	defer timer.Stop()
	select {
	case e.sem <- struct{}{}:
		return release, nil
	case <-timer.C:
		s.unref(key, e)
		return nil, failure.New(failure.KindTimeout, "timed out after %s waiting for document %s", s.waitTimeout, key)
	case <-ctx.Done():
		s.unref(key, e)
		return nil, contextFailure(ctx.Err())
	}
}

func (s *Serializer) unref(key string, e *lockEntry) {
	s.mu.Lock()
	e.refs--
	if e.refs == 0 && s.entries[key] == e {
		delete(s.entries, key)
	}
	s.mu.Unlock()
}

// held returns the number of live entries.
func (s *Serializer) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func contextFailure(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure.Wrap(failure.KindTimeout, err, "request deadline exceeded")
	}
	return failure.Wrap(failure.KindCanceled, err, "request canceled")
}
