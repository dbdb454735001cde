// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"kvreplica/internal/api"
	"kvreplica/internal/cluster"
	"kvreplica/internal/logging"
	"kvreplica/internal/metrics"
	"kvreplica/internal/repl"
	"kvreplica/internal/snapshot"
	"kvreplica/internal/store"
)

func main() {
	// --- Configuration via flags, defaulting from environment
	// variables (NODE_TYPE,
	// WRITE_QUORUM, MIN_DELAY, MAX_DELAY, FOLLOWERS, PORT). A flag
	// explicitly passed on the command line always wins.
	var (
		id               = flag.String("id", envOr("NODE_ID", "node-1"), "node id")
		role             = flag.String("role", envOr("NODE_TYPE", "leader"), "leader|follower")
		port             = flag.Int("port", envOrInt("PORT", 8080), "http port")
		peers            = flag.String("peers", envOr("FOLLOWERS", ""), "comma-separated follower base URLs (leader only)")
		writeQuorum      = flag.Int("write-quorum", envOrInt("WRITE_QUORUM", 1), "W: required peer acks before answering the client (leader only)")
		minDelaySeconds  = flag.Float64("min-delay", envOrFloat("MIN_DELAY", 0), "lower bound of simulated per-peer delay, in seconds (leader only)")
		maxDelaySeconds  = flag.Float64("max-delay", envOrFloat("MAX_DELAY", 0), "upper bound of simulated per-peer delay, in seconds (leader only)")
		replicateTimeout = flag.Float64("replicate-timeout", envOrFloat("REPLICATE_TIMEOUT", 2), "per-peer replication RPC timeout, in seconds (leader only)")
		snapshotBucket   = flag.String("snapshot-s3-bucket", envOr("SNAPSHOT_S3_BUCKET", ""), "if set, leader periodically exports a JSON snapshot of its store to this S3 bucket")
		snapshotInterval = flag.Float64("snapshot-interval", envOrFloat("SNAPSHOT_INTERVAL", 60), "snapshot export period, in seconds")
	)
	flag.Parse()

	cfg := &cluster.NodeConfig{
		ID:               *id,
		Role:             cluster.Role(*role),
		ListenAddr:       fmt.Sprintf(":%d", *port),
		Peers:            cluster.NormalizePeers(*peers),
		WriteQuorum:      *writeQuorum,
		MinDelay:         time.Duration(*minDelaySeconds * float64(time.Second)),
		MaxDelay:         time.Duration(*maxDelaySeconds * float64(time.Second)),
		ReplicateTimeout: time.Duration(*replicateTimeout * float64(time.Second)),
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.ID, string(cfg.Role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	kv := store.New()
	rec := metrics.New(cfg.ID)
	partitions := cluster.NewPartitionControl()

	var replicator *repl.Replicator
	if cfg.Role == cluster.Leader {
		replicator = repl.New(repl.Config{
			Peers:            cfg.Peers,
			WriteQuorum:      cfg.WriteQuorum,
			MinDelay:         cfg.MinDelay,
			MaxDelay:         cfg.MaxDelay,
			ReplicateTimeout: cfg.ReplicateTimeout,
		}, partitions, logger, rec)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Role == cluster.Leader && *snapshotBucket != "" {
		exporter, err := snapshot.New(ctx, *snapshotBucket, cfg.ID,
			time.Duration(*snapshotInterval*float64(time.Second)), kv, logger)
		if err != nil {
			logger.Errorw("snapshot exporter disabled: failed to initialize", "error", err)
		} else {
			go exporter.Run(ctx)
		}
	}

	server := api.NewServer(cfg, kv, replicator, partitions, logger, rec)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Routes(),
	}

	logger.Infow("starting node",
		"listen_addr", cfg.ListenAddr, "peers", cfg.Peers,
		"write_quorum", cfg.WriteQuorum, "min_delay", cfg.MinDelay, "max_delay", cfg.MaxDelay)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infow("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("graceful shutdown failed", "error", err)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
