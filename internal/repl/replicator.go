// internal/repl/replicator.go
//
// Replicator is the hard part of this system: given one write already
// committed to the leader's local store, it fans the write out to every
// configured peer concurrently, waits only until the write quorum is
// satisfied (or every peer has answered), and returns without waiting
// on stragglers. One goroutine per peer feeds a quorum-aware collector
// over a buffered channel, the same channel-collector shape used for
// replicated writes elsewhere: a node's replication loop in a gossip
// cache, and a quorum writer in a distributed SQL client.
package repl

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kvreplica/internal/cluster"
	"kvreplica/internal/metrics"
)

// Outcome is the ephemeral per-peer result of one replication attempt.
type Outcome struct {
	Peer      string
	Success   bool
	LatencyMS float64
}

// Result is the write result returned to the client.
type Result struct {
	Accepted         bool
	ReplicaCount     int
	Required         int
	Latencies        []float64
	AverageLatencyMS float64
	TotalLatencyMS   float64
}

// Config bundles the leader-only replication parameters.
type Config struct {
	Peers            []string
	WriteQuorum      int
	MinDelay         time.Duration
	MaxDelay         time.Duration
	ReplicateTimeout time.Duration
}

// Replicator dispatches replication RPCs to all configured peers and
// waits for the write quorum.
type Replicator struct {
	cfg        Config
	client     *http.Client
	partitions *cluster.PartitionControl
	logger     *zap.SugaredLogger
	metrics    *metrics.Recorder
}

// New builds a Replicator. partitions and metrics may be nil.
func New(cfg Config, partitions *cluster.PartitionControl, logger *zap.SugaredLogger, rec *metrics.Recorder) *Replicator {
	if partitions == nil {
		partitions = cluster.NewPartitionControl()
	}
	return &Replicator{
		cfg: cfg,
		client: &http.Client{
			// The per-request context deadline (ReplicateTimeout) governs
			// the attempt; this is only a backstop.
			Timeout: cfg.ReplicateTimeout + cfg.MaxDelay + time.Second,
		},
		partitions: partitions,
		logger:     logger,
		metrics:    rec,
	}
}

// Replicate fans (key, value) out to every peer and blocks until the
// quorum decision is known: either W successes have arrived, or every
// peer has terminated (success, failure, or timeout) and W is
// unreachable. Stragglers keep running in the background after an
// early return — their writes still land on
// the follower's store, but no longer influence this call's result.
func (r *Replicator) Replicate(ctx context.Context, key, value string) Result {
	start := time.Now()
	n := len(r.cfg.Peers)

	// Detach from the caller's cancellation: an HTTP request context is
	// cancelled as soon as the handler returns, which would otherwise
	// abort the stragglers left running after an early return.
	ctx = context.WithoutCancel(ctx)

	ch := make(chan Outcome, n) // buffered: stragglers never block on send
	for _, peer := range r.cfg.Peers {
		go r.attempt(ctx, peer, key, value, ch)
	}

	var successCount int
	var latencies []float64
	received := 0

	for received < n && successCount < r.cfg.WriteQuorum {
		o := <-ch
		received++
		if o.Success {
			successCount++
			latencies = append(latencies, o.LatencyMS)
		}
		if r.metrics != nil {
			r.metrics.ObserveReplicationLatency(o.LatencyMS)
		}
	}

	if remaining := n - received; remaining > 0 {
		go r.drain(ch, remaining, key)
	}

	return Result{
		Accepted:         successCount >= r.cfg.WriteQuorum,
		ReplicaCount:     successCount,
		Required:         r.cfg.WriteQuorum,
		Latencies:        latencies,
		AverageLatencyMS: average(latencies),
		TotalLatencyMS:   float64(time.Since(start)) / float64(time.Millisecond),
	}
}

// drain absorbs outcomes from replications still in flight after an
// early return. It only logs and feeds metrics — late outcomes never
// change a client response already sent.
func (r *Replicator) drain(ch <-chan Outcome, remaining int, key string) {
	for i := 0; i < remaining; i++ {
		o := <-ch
		if r.metrics != nil {
			r.metrics.ObserveReplicationLatency(o.LatencyMS)
		}
		if r.logger != nil {
			r.logger.Debugw("late replication outcome after quorum decision",
				"key", key, "peer", o.Peer, "success", o.Success, "latency_ms", o.LatencyMS)
		}
	}
}

// attempt runs one peer's replication RPC: simulated delay, then POST
// /replicate bounded by ReplicateTimeout. Exactly one outcome is always
// sent on ch.
func (r *Replicator) attempt(ctx context.Context, peer, key, value string, ch chan<- Outcome) {
	start := time.Now()

	if r.partitions.IsBlocked(peer) {
		if r.logger != nil {
			r.logger.Infow("skipping replication to partitioned peer", "peer", peer)
		}
		ch <- Outcome{Peer: peer, Success: false, LatencyMS: msSince(start)}
		return
	}

	time.Sleep(randDuration(r.cfg.MinDelay, r.cfg.MaxDelay))

	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.ReplicateTimeout)
	defer cancel()

	success := r.post(attemptCtx, peer, key, value)
	latency := msSince(start)

	if r.logger != nil {
		r.logger.Debugw("replication attempt complete",
			"peer", peer, "success", success, "latency_ms", latency)
	}
	ch <- Outcome{Peer: peer, Success: success, LatencyMS: latency}
}

func (r *Replicator) post(ctx context.Context, peer, key, value string) bool {
	body, err := json.Marshal(ReplicateRequest{Key: key, Value: value})
	if err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/replicate", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var rr ReplicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return false
	}
	return rr.Success
}

// randDuration draws a uniform random duration in [min, max], inclusive.
func randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
