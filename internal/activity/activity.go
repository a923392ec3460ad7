// Package activity appends engagement events to the project activity log and
// invalidates the shared read cache after each one.
package activity

import (
	"context"
	"log"
	"time"

	"showcase/api/internal/store"
)

type Kind string

const (
	KindNone   Kind = ""
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindStar   Kind = "star"
	KindUnstar Kind = "unstar"
)

// Valid reports whether k names a recordable activity.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindStar, KindUnstar:
		return true
	}
	return false
}

type Sink interface {
	InsertActivity(context.Context, store.Activity) error
}

type Invalidator interface {
	ClearAll(context.Context) error
}

type Recorder struct {
	sink  Sink
	cache Invalidator
	now   func() time.Time
}

func NewRecorder(sink Sink, cache Invalidator) *Recorder {
	return &Recorder{sink: sink, cache: cache, now: time.Now}
}

// Record appends one entry for (projectID, kind, actorID) and then clears
// the cache. KindNone is a no-op. Failures are logged and never surface to
// the caller; the cache is cleared even when the append fails.
func (r *Recorder) Record(ctx context.Context, projectID int64, kind Kind, actorID int64) {
	if !kind.Valid() {
		return
	}

	entry := store.Activity{
		ProjectID: projectID,
		UserID:    actorID,
		Action:    string(kind),
		Timestamp: r.now().UTC(),
	}
	if err := r.sink.InsertActivity(ctx, entry); err != nil {
		log.Printf("activity: append %s for project %d: %v", kind, projectID, err)
	}
	r.Invalidate(ctx)
}

// Invalidate clears the shared cache without writing an activity entry.
func (r *Recorder) Invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.ClearAll(ctx); err != nil {
		log.Printf("activity: clear cache: %v", err)
	}
}
