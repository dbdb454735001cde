package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kvreplica/internal/cluster"
	"kvreplica/internal/repl"
	"kvreplica/internal/store"
)

func newFollowerServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.New()
	cfg := &cluster.NodeConfig{ID: "follower-1", Role: cluster.Follower, ListenAddr: ":0"}
	srv := NewServer(cfg, st, nil, nil, nil, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func newLeaderServer(t *testing.T, peerURLs []string, quorum int) (*httptest.Server, *store.Store) {
	t.Helper()
	st := store.New()
	cfg := &cluster.NodeConfig{
		ID:               "leader-1",
		Role:             cluster.Leader,
		ListenAddr:       ":0",
		Peers:            peerURLs,
		WriteQuorum:      quorum,
		ReplicateTimeout: time.Second,
	}
	partitions := cluster.NewPartitionControl()
	replicator := repl.New(repl.Config{
		Peers:            cfg.Peers,
		WriteQuorum:      cfg.WriteQuorum,
		ReplicateTimeout: cfg.ReplicateTimeout,
	}, partitions, nil, nil)
	srv := NewServer(cfg, st, replicator, partitions, nil, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestEndToEndSingleWriteAndRead(t *testing.T) {
	f1, f1store := newFollowerServer(t)
	f2, f2store := newFollowerServer(t)
	leader, leaderStore := newLeaderServer(t, []string{f1.URL, f2.URL}, 2)

	resp := postJSON(t, leader.URL+"/set", setRequest{Key: "a", Value: "1"})
	var setResp setResponse
	decode(t, resp, &setResp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, setResp.Success)
	require.Equal(t, 2, setResp.Replicas)
	require.Equal(t, 2, setResp.Required)

	v, ok := leaderStore.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	v, ok = f1store.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
	v, ok = f2store.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestEndToEndReadAbsentKeyIs404(t *testing.T) {
	follower, _ := newFollowerServer(t)

	resp, err := http.Get(follower.URL + "/get?key=ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body getResponse
	decode(t, resp, &body)
	require.False(t, body.Success)
}

func TestEndToEndSetOnFollowerIs403(t *testing.T) {
	follower, _ := newFollowerServer(t)

	resp := postJSON(t, follower.URL+"/set", setRequest{Key: "a", Value: "1"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEndToEndReplicateOnLeaderIs403(t *testing.T) {
	leader, _ := newLeaderServer(t, []string{"http://unused:1"}, 1)

	resp := postJSON(t, leader.URL+"/replicate", repl.ReplicateRequest{Key: "a", Value: "1"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEndToEndQuorumUnreachedIs500(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	leader, leaderStore := newLeaderServer(t, []string{dead.URL}, 1)

	resp := postJSON(t, leader.URL+"/set", setRequest{Key: "a", Value: "1"})
	var body quorumFailureBody
	decode(t, resp, &body)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.False(t, body.Success)
	require.NotEmpty(t, body.Error)

	// Invariant: the leader's local store still reflects the write even
	// though quorum failed — no rollback.
	v, ok := leaderStore.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestHealthAndStatus(t *testing.T) {
	leader, leaderStore := newLeaderServer(t, []string{"http://unused:1"}, 1)
	leaderStore.Put("x", "y")

	resp, err := http.Get(leader.URL + "/health")
	require.NoError(t, err)
	var health healthResponse
	decode(t, resp, &health)
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "leader", health.NodeType)

	resp, err = http.Get(leader.URL + "/status")
	require.NoError(t, err)
	var status statusResponse
	decode(t, resp, &status)
	require.Equal(t, "leader", status.NodeType)
	require.Equal(t, 1, status.KeyCount)
	require.Equal(t, map[string]string{"x": "y"}, status.Keys)
}

func TestPartitionBlockCausesQuorumFailure(t *testing.T) {
	f1, _ := newFollowerServer(t)
	leader, _ := newLeaderServer(t, []string{f1.URL}, 1)

	blockResp, err := http.Post(leader.URL+"/partition?block="+f1.URL, "application/json", nil)
	require.NoError(t, err)
	blockResp.Body.Close()

	resp := postJSON(t, leader.URL+"/set", setRequest{Key: "a", Value: "1"})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	resp.Body.Close()
}
