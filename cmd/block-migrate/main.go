// block-migrate performs offline maintenance on a node's metadata
// database: snapshotting it, reporting column family row counts, and
// sweeping storage volumes for block files an interrupted batch write
// left behind without ever getting a metadata row (see the insert path
// in internal/blockstore/engine.go, which tolerates that outcome rather
// than trying to make the write atomic end to end).
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/elzor/vstorage/internal/blockstore"
	"github.com/elzor/vstorage/internal/blockstore/meta"
)

var (
	metaDBPath = flag.String("meta-db-path", "./info/meta", "Path to the node's metadata database")
	backupPath = flag.String("backup", "", "Path to write a snapshot before inspecting (default: <meta-db-path>.backup-<UTC timestamp>)")
	reconcile  = flag.Bool("reconcile-orphans", false, "Scan volumes for files with no metadata row and report them")
	volumes    = flagStringSlice{}
	dryRun     = flag.Bool("dry-run", true, "With --reconcile-orphans, only report orphans; pass --dry-run=false to delete them")
)

type flagStringSlice []string

func (s *flagStringSlice) String() string { return fmt.Sprint([]string(*s)) }
func (s *flagStringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	flag.Var(&volumes, "volume", "Volume path to scan for orphans (repeatable)")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("vstorage metadata maintenance tool")

	if _, err := os.Stat(*metaDBPath); os.IsNotExist(err) {
		log.Fatalf("metadata database not found at %s", *metaDBPath)
	}

	dst := *backupPath
	if dst == "" {
		dst = *metaDBPath + ".backup-" + time.Now().UTC().Format("20060102150405")
	}

	store, err := meta.NewBoltStore(*metaDBPath)
	if err != nil {
		log.Fatalf("failed to open metadata database: %v", err)
	}
	defer store.Close()

	log.Printf("writing snapshot to %s", dst)
	if err := store.Backup(dst); err != nil {
		log.Fatalf("backup failed: %v", err)
	}
	log.Println("snapshot complete")

	blocks, deleteQueue, moveQueue, err := store.CFCounts()
	if err != nil {
		log.Fatalf("failed to read column family counts: %v", err)
	}
	log.Printf("blocks=%d delete_queue=%d move_queue=%d", blocks, deleteQueue, moveQueue)

	if *reconcile {
		if len(volumes) == 0 {
			log.Fatal("--reconcile-orphans requires at least one --volume")
		}
		if err := reconcileOrphans(store, volumes, *dryRun); err != nil {
			log.Fatalf("reconciliation failed: %v", err)
		}
	}
}

// reconcileOrphans walks every volume's bucket directories looking for
// regular files whose name (the block's write-slot filename) has no
// corresponding row in the live blocks column family and no row in the
// delete queue either. Those are write-path survivors of a crash
// between file write and metadata commit. In dry-run mode they are only
// logged; otherwise they are removed.
func reconcileOrphans(store *meta.BoltStore, volumePaths []string, dryRun bool) error {
	known := make(map[string]struct{})
	err := store.IterBlocks(func(b *blockstore.Block) error {
		known[b.Path] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}
	tombstones, err := store.DrainTombstones(math.MaxInt32)
	if err != nil {
		return err
	}
	for _, b := range tombstones {
		known[b.Path] = struct{}{}
	}

	var orphans, reclaimed int
	for _, root := range volumePaths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := known[path]; ok {
				return nil
			}
			orphans++
			if dryRun {
				log.Printf("orphan (dry-run): %s", path)
				return nil
			}
			if err := os.Remove(path); err != nil {
				log.Printf("failed to remove orphan %s: %v", path, err)
				return nil
			}
			reclaimed++
			log.Printf("removed orphan: %s", path)
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk %s: %w", root, err)
		}
	}

	log.Printf("orphan sweep complete: found=%d removed=%d dry_run=%v", orphans, reclaimed, dryRun)
	return nil
}
