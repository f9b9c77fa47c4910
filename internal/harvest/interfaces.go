package harvest

import (
	"context"
	"time"
)

// Transport performs one HTTP retrieval with no retry semantics. A non-nil
// error means the request never produced an HTTP response (timeout,
// connection reset); HTTP-level failures come back in the result.
type Transport interface {
	Get(ctx context.Context, url string) (TransportResult, error)
}

// Fetcher executes one retrieval with bounded retries and classifies the
// result. Implemented by Executor; faked in tests.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Outcome
}

// ResourceStore is the single source of truth for "is this leaf already
// materialized". Write must be atomic so a crash mid-write never leaves a
// file that Exists reports as valid.
type ResourceStore interface {
	Exists(node ResourceNode) bool
	Write(ctx context.Context, node ResourceNode, data []byte) error
	Free() (uint64, error)
}

// Replica optionally mirrors stored leaves to a secondary location, e.g. an
// object-storage bucket. Mirror failures are logged, never fatal.
type Replica interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// PageParser extracts child resources from a fetched page. Implementations
// must be pure functions of the HTML and the parent node so discovery is
// reproducible.
type PageParser interface {
	ParseRootChildren(html []byte, root ResourceNode) ([]ResourceNode, error)
	ParseGroupChildren(html []byte, group ResourceNode) ([]ResourceNode, error)
}

// Committer persists a completed partition. Called only when a fetch pass
// reports no outstanding leaves; must be idempotent.
type Committer interface {
	Commit(ctx context.Context, partition string, manifest *Manifest) error
}

// Publisher pushes harvest events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing budget math).
type Clock interface {
	Now() time.Time
}
