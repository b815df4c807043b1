package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/elzor/vstorage/internal/blockstore/meta"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestGRPCServerProbeHealthy(t *testing.T) {
	store, err := meta.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	defer store.Close()

	srv := NewGRPCServer(store)
	if err := srv.probe(); err != nil {
		t.Fatalf("probe() against an open store error: %v", err)
	}
}

func TestGRPCServerRefreshHealthSetsServing(t *testing.T) {
	store, err := meta.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	defer store.Close()

	srv := NewGRPCServer(store)
	srv.refreshHealth()

	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Check() status = %v, want SERVING", resp.Status)
	}
}

func TestGRPCServerProbeUnhealthyAfterClose(t *testing.T) {
	store, err := meta.NewBoltStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	srv := NewGRPCServer(store)
	if err := srv.probe(); err == nil {
		t.Fatal("probe() against a closed store expected an error")
	}
}
