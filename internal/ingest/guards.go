package ingest

import (
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/semaphore"
)

// DefaultUploadSlots bounds concurrent uploads to the object store.
const DefaultUploadSlots = 3

// Guards holds the process-local concurrency structures. Restarts lose all
// of this state; the idempotency probes make that survivable.
type Guards struct {
	inFlight mapset.Set[string]
	retries  mapset.Set[string]
	files    *pathLocks
	uploads  *semaphore.Weighted
}

func NewGuards(uploadSlots int) *Guards {
	if uploadSlots <= 0 {
		uploadSlots = DefaultUploadSlots
	}
	return &Guards{
		inFlight: mapset.NewSet[string](),
		retries:  mapset.NewSet[string](),
		files:    newPathLocks(),
		uploads:  semaphore.NewWeighted(int64(uploadSlots)),
	}
}

// TryAcquireMeeting registers an external meeting id as in flight. A false
// return means another pipeline already owns it and the caller must bail
// without side effects.
func (g *Guards) TryAcquireMeeting(externalID string) bool {
	return g.inFlight.Add(externalID)
}

func (g *Guards) ReleaseMeeting(externalID string) {
	g.inFlight.Remove(externalID)
}

// TryBeginRetry registers a manual-retry key. False means the same target
// is already being retried.
func (g *Guards) TryBeginRetry(key string) bool {
	return g.retries.Add(key)
}

func (g *Guards) EndRetry(key string) {
	g.retries.Remove(key)
}

// LockPath serializes access to one local file path. The returned function
// releases the lock.
func (g *Guards) LockPath(path string) func() {
	return g.files.lock(path)
}

// AcquireUploadSlot blocks until an upload slot frees up or ctx ends.
func (g *Guards) AcquireUploadSlot(ctx context.Context) error {
	return g.uploads.Acquire(ctx, 1)
}

func (g *Guards) ReleaseUploadSlot() {
	g.uploads.Release(1)
}

// pathLocks hands out one mutex per path. Entries are never evicted; the
// key space is bounded by the recordings in flight at any moment.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *pathLocks) lock(path string) func() {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
