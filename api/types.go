// Package api defines the shared types of the scan-control surface: the
// shapes that cross the boundary between the engine and external shells
// (CLI commands, the MCP server, tests). Internal packages depend on these
// types, never the other way around.
package api

import "time"

// NodeKind distinguishes the two station flavors a scan can produce.
type NodeKind string

const (
	KindDirectory NodeKind = "directory"
	KindFile      NodeKind = "file"
)

// ErrorKind is the fixed classification of per-node filesystem errors.
// Classification never aborts a scan; the offending node simply carries
// the kind alongside the raw error text.
type ErrorKind string

const (
	ErrPermissionDenied ErrorKind = "permission-denied"
	ErrNotFound         ErrorKind = "not-found"
	ErrNotADirectory    ErrorKind = "not-a-directory"
	ErrAlreadyExists    ErrorKind = "already-exists"
	ErrInvalidArgument  ErrorKind = "invalid-argument"
	ErrOutOfSpace       ErrorKind = "out-of-space"
	ErrTooManyOpenFiles ErrorKind = "too-many-open-files"
	ErrUnknown          ErrorKind = "unknown"
)

// ScanNode is one filesystem entry observed by a scan. Immutable after
// emission; the two flags are set at emission time.
type ScanNode struct {
	Path          string     `json:"path"`
	Depth         int        `json:"depth"`
	Kind          NodeKind   `json:"kind"`
	Size          int64      `json:"size,omitempty"`
	ModTime       *time.Time `json:"modTime,omitempty"`
	BirthTime     *time.Time `json:"birthTime,omitempty"`
	SymlinkTarget string     `json:"symlinkTarget,omitempty"`
	Error         string     `json:"error,omitempty"`
	ErrorKind     ErrorKind  `json:"errorKind,omitempty"`

	// DepthLimited marks a node emitted one level past MaxDepth; its
	// children were not expanded.
	DepthLimited bool `json:"depthLimited,omitempty"`
	// Truncated marks nodes of the final batch of a scan that hit
	// MaxEntries.
	Truncated bool `json:"truncated,omitempty"`
}

// ScanOptions configures a scan. Invalid values are normalized to the
// defaults by the scanner, never rejected.
type ScanOptions struct {
	// BatchSize is the maximum number of nodes per partial batch.
	BatchSize int `json:"batchSize"`
	// TimeSlice bounds how long the walker works before flushing a
	// partial batch and yielding.
	TimeSlice time.Duration `json:"timeSlice"`
	// MaxDepth limits expansion. Entries one level past the limit are
	// still emitted, flagged DepthLimited. 0 means unbounded.
	MaxDepth int `json:"maxDepth"`
	// MaxEntries halts the walk once this many entries have been
	// processed. 0 means unbounded.
	MaxEntries int `json:"maxEntries"`
	// IncludeMetadata collects size, timestamps and symlink targets.
	IncludeMetadata bool `json:"includeMetadata"`
	// FollowSymlinks resolves symlinked directories and walks into them.
	FollowSymlinks bool `json:"followSymlinks"`
}

const (
	DefaultBatchSize = 250
	DefaultTimeSlice = 12 * time.Millisecond
)

// Normalize replaces invalid option values with defaults.
func (o ScanOptions) Normalize() ScanOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.TimeSlice <= 0 {
		o.TimeSlice = DefaultTimeSlice
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.MaxEntries < 0 {
		o.MaxEntries = 0
	}
	return o
}

// ScanState is a point-in-time snapshot of one scan's progress. Mutated
// only by the scanner that owns the scan id; read-only to consumers.
type ScanState struct {
	ScanID         string `json:"scanId"`
	Root           string `json:"root"`
	FilesProcessed int    `json:"filesProcessed"`
	DirsProcessed  int    `json:"dirsProcessed"`
	Truncated      bool   `json:"truncated"`
	Cancelled      bool   `json:"cancelled"`
	Done           bool   `json:"done"`
	// ApproxCompletion is nil while the scan is unbounded and exactly 1
	// once the entry bound is reached or traversal is exhausted.
	ApproxCompletion *float64 `json:"approxCompletion"`
}

// EventType enumerates the per-scan event stream.
type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventPartial  EventType = "partial"
	EventDone     EventType = "done"
)

// Event is one element of a scan session's ordered event stream. Partial
// events for a scan id never follow its done event.
type Event struct {
	Type   EventType `json:"type"`
	ScanID string    `json:"scanId"`

	// Partial payload.
	Nodes     []ScanNode `json:"nodes,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`

	// Progress / done payload.
	State ScanState `json:"state"`
}

// ExportInfo describes an exported map image.
type ExportInfo struct {
	Width       int  `json:"width"`
	Height      int  `json:"height"`
	ByteSize    int  `json:"byteSize"`
	Transparent bool `json:"transparent"`
}
