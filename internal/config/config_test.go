package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error: %v", err)
	}
}

func TestWriteSampleProducesLoadableYAML(t *testing.T) {
	sample, err := WriteSample()
	if err != nil {
		t.Fatalf("WriteSample() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of the sample config error: %v", err)
	}
	if cfg.Node.Name != Default().Node.Name {
		t.Fatalf("Load(sample) Node.Name = %s, want %s", cfg.Node.Name, Default().Node.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() of a missing file expected an error")
	}
}

func TestValidateRejectsEmptyVolumes(t *testing.T) {
	cfg := Default()
	cfg.Storage.Volumes = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with no volumes expected an error")
	}
}

func TestValidateRejectsNonPositiveBlockSizeLimit(t *testing.T) {
	cfg := Default()
	cfg.Storage.BlockSizeLimitBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with zero block size limit expected an error")
	}
}

func TestValidateRejectsNonPositiveBucketSizeLimit(t *testing.T) {
	cfg := Default()
	cfg.Storage.BucketSizeLimitBytes = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with negative bucket size limit expected an error")
	}
}

func TestValidateRejectsEmptyMetaDBPath(t *testing.T) {
	cfg := Default()
	cfg.DB.MetaDBPath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with no meta db path expected an error")
	}
}
