// internal/api/http.go
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kvreplica/internal/apierr"
	"kvreplica/internal/cluster"
	"kvreplica/internal/metrics"
	"kvreplica/internal/repl"
	"kvreplica/internal/store"
)

// Server holds all dependencies for the HTTP API: role gating and JSON
// response helpers around a store, with writes going through the
// quorum-aware Replicator.
type Server struct {
	cfg        *cluster.NodeConfig
	store      *store.Store
	replicator *repl.Replicator // nil on a follower
	partitions *cluster.PartitionControl
	logger     *zap.SugaredLogger
	metrics    *metrics.Recorder
}

// NewServer creates a new API server instance. replicator and metrics
// may be nil (metrics is optional; replicator must be non-nil iff
// cfg.Role == cluster.Leader).
func NewServer(cfg *cluster.NodeConfig, kv *store.Store, replicator *repl.Replicator, partitions *cluster.PartitionControl, logger *zap.SugaredLogger, rec *metrics.Recorder) *Server {
	return &Server{
		cfg:        cfg,
		store:      kv,
		replicator: replicator,
		partitions: partitions,
		logger:     logger,
		metrics:    rec,
	}
}

// setRequest is the JSON body for a client write.
type setRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// setResponse is the /set 2xx body.
type setResponse struct {
	Success                 bool      `json:"success"`
	Key                     string    `json:"key"`
	Value                   string    `json:"value"`
	Replicas                int       `json:"replicas"`
	Required                int       `json:"required"`
	LatencyMS               float64   `json:"latency_ms"`
	AvgReplicationLatencyMS float64   `json:"avg_replication_latency_ms"`
	ReplicationLatencies    []float64 `json:"replication_latencies"`
}

// quorumFailureBody is the /set error body: it carries the same
// accounting fields as the success body plus success:false and error,
// so clients that re-read after an "unsuccessful" write can still see
// what actually happened.
type quorumFailureBody struct {
	Success                 bool      `json:"success"`
	Error                   string    `json:"error"`
	Key                     string    `json:"key"`
	Value                   string    `json:"value"`
	Replicas                int       `json:"replicas"`
	Required                int       `json:"required"`
	LatencyMS               float64   `json:"latency_ms"`
	AvgReplicationLatencyMS float64   `json:"avg_replication_latency_ms"`
	ReplicationLatencies    []float64 `json:"replication_latencies"`
}

// getResponse is the /get 2xx body.
type getResponse struct {
	Success  bool   `json:"success"`
	Key      string `json:"key"`
	Value    string `json:"value"`
	NodeType string `json:"node_type"`
}

// statusResponse is the /status body.
type statusResponse struct {
	NodeType string            `json:"node_type"`
	KeyCount int               `json:"key_count"`
	Keys     map[string]string `json:"keys"`
}

// healthResponse is the /health body.
type healthResponse struct {
	Status   string `json:"status"`
	NodeType string `json:"node_type"`
}

// Routes builds the HTTP handler exposing every endpoint this node serves.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/set", s.handleSet).Methods(http.MethodPost)
	r.HandleFunc("/get", s.handleGet).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/replicate", s.handleReplicate).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/partition", s.handlePartition).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// handleSet accepts a client write. Only the leader answers it: it
// commits locally, fans the write out via the Replicator, and blocks
// until the quorum decision is known before responding.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Role != cluster.Leader {
		s.respondErr(w, apierr.NewRoleMismatch("writes must go to the leader"))
		return
	}

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, apierr.NewClientError("invalid request body", err))
		return
	}
	if req.Key == "" {
		s.respondErr(w, apierr.NewClientError("key must not be empty", nil))
		return
	}

	reqID := uuid.NewString()

	// LOCAL_COMMITTED: the leader's own state is authoritative for
	// subsequent reads before any peer has replicated.
	s.store.Put(req.Key, req.Value)
	if s.logger != nil {
		s.logger.Infow("local commit", "req_id", reqID, "key", req.Key)
	}

	// REPLICATING → QUORUM_MET | QUORUM_FAILED
	result := s.replicator.Replicate(r.Context(), req.Key, req.Value)

	if s.metrics != nil {
		if result.Accepted {
			s.metrics.RecordWrite("accepted")
		} else {
			s.metrics.RecordWrite("quorum_unreached")
		}
		s.metrics.SetStoreSize(s.store.Size())
	}

	if !result.Accepted {
		if s.logger != nil {
			s.logger.Warnw("quorum not reached", "req_id", reqID, "key", req.Key,
				"replicas", result.ReplicaCount, "required", result.Required)
		}
		s.respondJSON(w, http.StatusInternalServerError, quorumFailureBody{
			Success:                 false,
			Error:                   (&apierr.QuorumUnreached{Required: result.Required, Got: result.ReplicaCount}).Error(),
			Key:                     req.Key,
			Value:                   req.Value,
			Replicas:                result.ReplicaCount,
			Required:                result.Required,
			LatencyMS:               result.TotalLatencyMS,
			AvgReplicationLatencyMS: result.AverageLatencyMS,
			ReplicationLatencies:    nonNil(result.Latencies),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, setResponse{
		Success:                 true,
		Key:                     req.Key,
		Value:                   req.Value,
		Replicas:                result.ReplicaCount,
		Required:                result.Required,
		LatencyMS:               result.TotalLatencyMS,
		AvgReplicationLatencyMS: result.AverageLatencyMS,
		ReplicationLatencies:    nonNil(result.Latencies),
	})
}

// handleGet serves a read from the local store only, regardless of role.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var key string
	if r.Method == http.MethodGet {
		key = r.URL.Query().Get("key")
	} else {
		var req struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondErr(w, apierr.NewClientError("invalid request body", err))
			return
		}
		key = req.Key
	}
	if key == "" {
		s.respondErr(w, apierr.NewClientError("missing key", nil))
		return
	}

	value, ok := s.store.Get(key)
	if !ok {
		s.respondErr(w, &apierr.NotFound{Key: key})
		return
	}

	s.respondJSON(w, http.StatusOK, getResponse{
		Success:  true,
		Key:      key,
		Value:    value,
		NodeType: string(s.cfg.Role),
	})
}

// handleReplicate is the endpoint followers expose for the leader.
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Role != cluster.Follower {
		s.respondErr(w, apierr.NewRoleMismatch("only followers accept /replicate"))
		return
	}

	var req repl.ReplicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, apierr.NewClientError("invalid replication body", err))
		return
	}

	s.store.Put(req.Key, req.Value)
	if s.logger != nil {
		s.logger.Debugw("replicated write applied", "key", req.Key)
	}
	if s.metrics != nil {
		s.metrics.SetStoreSize(s.store.Size())
	}

	s.respondJSON(w, http.StatusOK, repl.ReplicateResponse{Success: true})
}

// handleHealth reports readiness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, healthResponse{
		Status:   "healthy",
		NodeType: string(s.cfg.Role),
	})
}

// handleStatus reports node_type and key_count plus a full key/value
// dump.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, statusResponse{
		NodeType: string(s.cfg.Role),
		KeyCount: s.store.Size(),
		Keys:     s.store.Snapshot(),
	})
}

// handlePartition simulates a network partition against one peer, for
// deterministic exercise of the quorum-failure path in tests; see
// internal/cluster.PartitionControl.
func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Role != cluster.Leader {
		s.respondErr(w, apierr.NewRoleMismatch("only the leader simulates partitions"))
		return
	}

	if block := r.URL.Query().Get("block"); block != "" {
		s.partitions.Block(block)
		if s.logger != nil {
			s.logger.Warnw("blocking peer", "peer", block)
		}
	}
	if unblock := r.URL.Query().Get("unblock"); unblock != "" {
		s.partitions.Unblock(unblock)
		if s.logger != nil {
			s.logger.Infow("unblocking peer", "peer", unblock)
		}
	}

	s.respondJSON(w, http.StatusOK, s.partitions.Snapshot())
}

func nonNil(xs []float64) []float64 {
	if xs == nil {
		return []float64{}
	}
	return xs
}

// respondJSON is a helper to write a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Errorw("failed to write json response", "error", err)
	}
}

// respondErr maps a typed error from internal/apierr onto its HTTP
// status.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	type errorBody struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	code := http.StatusInternalServerError
	switch err.(type) {
	case *apierr.ClientError:
		code = http.StatusBadRequest
	case *apierr.RoleMismatch:
		code = http.StatusForbidden
	case *apierr.NotFound:
		code = http.StatusNotFound
	case *apierr.QuorumUnreached:
		code = http.StatusInternalServerError
	}

	if code != http.StatusNotFound && s.logger != nil {
		s.logger.Warnw("request failed", "status", code, "error", err)
	}
	s.respondJSON(w, code, errorBody{Success: false, Error: err.Error()})
}
