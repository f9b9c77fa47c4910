package harvest

import (
	"net/http"
	"time"
)

// NodeKind classifies a node in the resource tree.
type NodeKind string

// Node kinds persisted in manifests.
const (
	NodeRoot  NodeKind = "root"
	NodeGroup NodeKind = "group"
	NodeLeaf  NodeKind = "leaf"
)

// ResourceNode is one expected resource in a partition's tree. IDs are
// deterministic from the ancestor chain and the slug derived from remote
// metadata, so re-discovery of unchanged remote state yields identical IDs.
type ResourceNode struct {
	ID        string   `json:"id"`
	Kind      NodeKind `json:"kind"`
	ParentID  string   `json:"parent_id,omitempty"`
	Location  string   `json:"location"`
	SourceURL string   `json:"source_url"`
}

// ManifestGap records a group or root page that could not be fetched during
// discovery. Its children are simply absent from the manifest; a later
// re-discovery picks them up.
type ManifestGap struct {
	NodeID string `json:"node_id"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Manifest is the persisted, discovered shape of one partition's resource
// tree. It is immutable once written; re-discovery replaces it wholesale.
type Manifest struct {
	Partition    string         `json:"partition"`
	SessionID    string         `json:"session_id"`
	DiscoveredAt time.Time      `json:"discovered_at"`
	Nodes        []ResourceNode `json:"nodes"`
	Gaps         []ManifestGap  `json:"gaps,omitempty"`
}

// Leaves returns the manifest's leaf nodes in tree order.
func (m *Manifest) Leaves() []ResourceNode {
	leaves := make([]ResourceNode, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.Kind == NodeLeaf {
			leaves = append(leaves, n)
		}
	}
	return leaves
}

// OutcomeKind is the tri-state (plus permanent) classification of one fetch.
type OutcomeKind int

// Outcome classifications surfaced by the Executor.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeTransient
	OutcomePermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient_failure"
	case OutcomePermanent:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one executed retrieval.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	RetryAfter time.Duration
	Reason     string
}

// FetchTask tracks one outstanding leaf across batches.
type FetchTask struct {
	Node        ResourceNode
	Attempt     int
	LastOutcome *Outcome
}

// TransportResult is the raw product of one HTTP round trip, before the
// Executor's retry and classification policy is applied.
type TransportResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// PartitionStatus is the user-visible result of a fetch pass.
type PartitionStatus string

// Fetch pass results.
const (
	StatusComplete         PartitionStatus = "complete"
	StatusCompleteWithGaps PartitionStatus = "complete_with_permanent_gaps"
	StatusAborted          PartitionStatus = "aborted"
	StatusNothingToDo      PartitionStatus = "nothing_to_do"
)

// FetchReport summarizes one fetch pass over a partition. A partition may be
// committed only when Committable reports true.
type FetchReport struct {
	Partition         string
	Status            PartitionStatus
	AbortReason       string
	Attempted         int
	Succeeded         int
	RateLimited       int
	Transient         int
	PermanentFailures []string
	Outstanding       int
	Batches           int
	Elapsed           time.Duration
}

// Committable reports whether every required leaf is materialized. A
// partition with permanent gaps stays uncommitted until a re-discovery
// resolves them, so the committer contract of "100% present" holds.
func (r FetchReport) Committable() bool {
	return r.Status == StatusComplete || r.Status == StatusNothingToDo
}

// Throughput returns observed leaves per second for the pass.
func (r FetchReport) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Succeeded) / r.Elapsed.Seconds()
}

// AuditReport lists manifest entries missing or undersized on disk.
type AuditReport struct {
	Partition string
	Total     int
	Present   int
	Missing   []ResourceNode
}

// Progress is a point-in-time snapshot served by the status endpoint.
type Progress struct {
	Partition   string    `json:"partition"`
	SessionID   string    `json:"session_id"`
	Phase       string    `json:"phase"`
	Outstanding int       `json:"outstanding"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Batches     int       `json:"batches"`
	Concurrency int       `json:"concurrency"`
	PacingMs    int64     `json:"pacing_ms"`
	UpdatedAt   time.Time `json:"updated_at"`
}
