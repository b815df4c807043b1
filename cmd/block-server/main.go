package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elzor/vstorage/internal/blockstore"
	"github.com/elzor/vstorage/internal/blockstore/meta"
	"github.com/elzor/vstorage/internal/config"
	"github.com/elzor/vstorage/internal/log"
	"github.com/elzor/vstorage/pkg/api"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string
var printSampleConfig bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "block-server",
	Short:   "Single-node block storage daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("block-server version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.Flags().StringVar(&configPath, "config", "/etc/vstorage/config.yaml", "Path to the node configuration file")
	rootCmd.Flags().BoolVar(&printSampleConfig, "print-sample-config", false, "Print a default configuration to stdout and exit")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func run(cmd *cobra.Command, args []string) error {
	if printSampleConfig {
		sample, err := config.WriteSample()
		if err != nil {
			return err
		}
		fmt.Print(sample)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Logger.Info().Str("node", cfg.Node.Name).Msg("starting block storage daemon")

	store, err := meta.NewBoltStore(cfg.DB.MetaDBPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer store.Close()

	volumes := make([]*blockstore.Volume, 0, len(cfg.Storage.Volumes))
	bucketsByVolume := make(map[string][]*blockstore.Bucket, len(cfg.Storage.Volumes))
	devices := make(map[uint64]string, len(cfg.Storage.Volumes))
	for _, path := range cfg.Storage.Volumes {
		vol, buckets, err := blockstore.BootstrapVolume(store, path, cfg.Storage.BucketSizeLimitBytes)
		if err != nil {
			return fmt.Errorf("failed to bootstrap volume %s: %w", path, err)
		}
		if other, dup := devices[vol.Device]; dup {
			return fmt.Errorf("volume %s is on the same device as volume %s", path, other)
		}
		devices[vol.Device] = path
		volumes = append(volumes, vol)
		bucketsByVolume[vol.ID] = buckets
	}

	placer := blockstore.NewPlacer(volumes, bucketsByVolume)
	engine := blockstore.NewEngine(store, placer, cfg.Storage.BlockSizeLimitBytes)

	gc := blockstore.NewGC(store, cfg.Storage.GCBatch, time.Duration(cfg.Storage.GCTimeoutSec)*time.Second)
	gc.Start()
	defer gc.Stop()

	validator := blockstore.NewValidator(store, cfg.Storage.BlockCheckIntervalDays)
	validator.Start()
	defer validator.Stop()

	collector := blockstore.NewStatusCollector(
		blockstore.NodeStatus{Name: cfg.Node.Name, Zone: cfg.Node.Zone},
		store, placer, nil,
	)

	httpServer := api.NewHTTPServer(engine, collector)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.Interfaces.REST.LAN); err != nil {
			httpErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	grpcServer := api.NewGRPCServer(store)
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Start(cfg.Interfaces.GRPC.LAN); err != nil {
			grpcErrCh <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	log.Logger.Info().
		Str("rest_addr", cfg.Interfaces.REST.LAN).
		Str("grpc_addr", cfg.Interfaces.GRPC.LAN).
		Msg("daemon ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Logger.Info().Msg("received SIGHUP, ignoring (config reload not supported)")
				continue
			}
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
			grpcServer.Stop()
			return nil
		case err := <-httpErrCh:
			log.Logger.Error().Err(err).Msg("fatal http server error")
			return err
		case err := <-grpcErrCh:
			log.Logger.Error().Err(err).Msg("fatal grpc server error")
			return err
		}
	}
}
