package blockstore

import (
	"runtime"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/meta"
)

// HostSampler supplies host-level telemetry. The concrete host sensor
// implementation (CPU ticks, load average, uptime) is deliberately kept
// out of the core engine's scope; this interface is the seam a fuller
// deployment would plug a real sensor package into. DefaultHostSampler
// below is a minimal stand-in built only on the Go runtime, not a
// dedicated OS-sensor library.
type HostSampler interface {
	Sample() HostStats
}

// HostStats mirrors the original engine's per-tick host status fields.
type HostStats struct {
	Goroutines int
	HeapAlloc  uint64
	Uptime     time.Duration
}

// DefaultHostSampler reports process-level stats via the runtime
// package. It intentionally does not attempt host-wide CPU/load-average
// sampling, which original_source sourced from a dedicated sensor crate
// with no equivalent exercised elsewhere in this codebase's dependency
// set.
type DefaultHostSampler struct {
	start time.Time
}

func NewDefaultHostSampler() *DefaultHostSampler {
	return &DefaultHostSampler{start: time.Now()}
}

func (s *DefaultHostSampler) Sample() HostStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return HostStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  m.HeapAlloc,
		Uptime:     time.Since(s.start),
	}
}

// NodeStatus identifies this node for the /status surface.
type NodeStatus struct {
	Name string
	Zone string
}

// MetaStatus aggregates the metadata store's size and row counts.
type MetaStatus struct {
	SizeBytes       int64
	BlocksCount     int64
	DeleteQueueCnt  int64
	MoveQueueCnt    int64
}

// Status is the full aggregate snapshot returned by the /status surface.
type Status struct {
	Node    NodeStatus
	Meta    MetaStatus
	Host    HostStats
	Volumes []Volume
	Buckets []Bucket
}

// StatusCollector assembles Status snapshots. It is purely observational:
// nothing it collects feeds back into Placer decisions.
type StatusCollector struct {
	node    NodeStatus
	store   *meta.BoltStore
	placer  *Placer
	sampler HostSampler
}

// NewStatusCollector constructs a collector. store must be the concrete
// *meta.BoltStore (not the Store interface) because the size/row-count
// helpers are bbolt-specific, not part of the portable metadata API.
func NewStatusCollector(node NodeStatus, store *meta.BoltStore, placer *Placer, sampler HostSampler) *StatusCollector {
	if sampler == nil {
		sampler = NewDefaultHostSampler()
	}
	return &StatusCollector{node: node, store: store, placer: placer, sampler: sampler}
}

// Collect takes one status snapshot.
func (c *StatusCollector) Collect() (*Status, error) {
	size, err := c.store.DBSizeBytes()
	if err != nil {
		return nil, err
	}
	blocks, deleteQueue, moveQueue, err := c.store.CFCounts()
	if err != nil {
		return nil, err
	}
	vols, bkts := c.placer.Snapshot()

	return &Status{
		Node: c.node,
		Meta: MetaStatus{
			SizeBytes:      size,
			BlocksCount:    blocks,
			DeleteQueueCnt: deleteQueue,
			MoveQueueCnt:   moveQueue,
		},
		Host:    c.sampler.Sample(),
		Volumes: vols,
		Buckets: bkts,
	}, nil
}
