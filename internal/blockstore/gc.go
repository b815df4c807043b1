package blockstore

import (
	"os"
	"time"

	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/log"
	"github.com/elzor/vstorage/internal/metrics"
	"github.com/rs/zerolog"
)

// GC periodically drains tombstoned blocks, unlinks their files, and
// purges their metadata rows. The tombstone row is the source of truth
// for crash recovery: a crash between unlink and purge just means the
// next tick finds a tombstone whose file is already gone, which is
// treated as success (not-found on unlink is tolerated, every other
// unlink error is logged and retried next cycle).
type GC struct {
	store   meta.Store
	logger  zerolog.Logger
	batch   int
	timeout time.Duration
	stopCh  chan struct{}
}

// NewGC constructs the garbage collector loop. Capacity accounting for
// a purged block was already applied to the in-memory Placer cache when
// it was tombstoned (see Engine.Delete), so GC itself never touches the
// Placer.
func NewGC(store meta.Store, batch int, timeout time.Duration) *GC {
	return &GC{
		store:   store,
		logger:  log.WithComponent("gc"),
		batch:   batch,
		timeout: timeout,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the GC loop in a background goroutine.
func (g *GC) Start() {
	go g.run()
}

// Stop terminates the GC loop.
func (g *GC) Stop() {
	close(g.stopCh)
}

func (g *GC) run() {
	ticker := time.NewTicker(g.timeout)
	defer ticker.Stop()

	g.logger.Info().Msg("gc started")
	for {
		select {
		case <-ticker.C:
			g.tick()
		case <-g.stopCh:
			g.logger.Info().Msg("gc stopped")
			return
		}
	}
}

func (g *GC) tick() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCCycleDuration)

	tombstones, err := g.store.DrainTombstones(g.batch)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to drain tombstones")
		return
	}
	if len(tombstones) == 0 {
		return
	}

	purged := 0
	for _, b := range tombstones {
		if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
			g.logger.Error().Err(err).Str("block_id", b.ID).Str("path", b.Path).Msg("failed to unlink block file, will retry")
			continue
		}
		if err := g.store.PurgeTombstone(b.ID); err != nil {
			g.logger.Error().Err(err).Str("block_id", b.ID).Msg("failed to purge tombstone")
			continue
		}
		purged++
	}
	metrics.GCBlocksPurgedTotal.Add(float64(purged))
	g.logger.Debug().Int("drained", len(tombstones)).Int("purged", purged).Msg("gc cycle complete")
}
