// internal/cluster/node.go
package cluster

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Role defines the role of a node in the cluster.
type Role string

const (
	Leader   Role = "leader"
	Follower Role = "follower"
)

// NodeConfig holds all configuration for a single node, immutable for
// the node's lifetime.
type NodeConfig struct {
	ID               string        // Unique ID for this node (e.g., "leader-1")
	Role             Role          // This node's role (leader or follower)
	ListenAddr       string        // HTTP listen address, e.g. ":5050"
	Peers            []string      // Follower base URLs (leader only; empty for followers)
	WriteQuorum      int           // W: required successful acks before answering the client (leader only)
	MinDelay         time.Duration // lower bound of the simulated per-peer network delay (leader only)
	MaxDelay         time.Duration // upper bound of the simulated per-peer network delay (leader only)
	ReplicateTimeout time.Duration // per-peer upper bound on a replication attempt (leader only)
}

// Validate checks the invariants this system places on a node's
// configuration. Followers only need an id, a role and a listen address; the
// remaining fields are leader-only and checked only when Role == Leader.
func (c *NodeConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if c.Role != Leader && c.Role != Follower {
		return fmt.Errorf("role must be %q or %q, got %q", Leader, Follower, c.Role)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Role != Leader {
		return nil
	}

	if len(c.Peers) == 0 {
		return fmt.Errorf("leader must be configured with at least one peer")
	}
	if c.WriteQuorum < 1 || c.WriteQuorum > len(c.Peers) {
		return fmt.Errorf("write_quorum must be in [1, %d], got %d", len(c.Peers), c.WriteQuorum)
	}
	if c.MinDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("min_delay and max_delay must be >= 0")
	}
	if c.MinDelay > c.MaxDelay {
		return fmt.Errorf("min_delay (%s) must be <= max_delay (%s)", c.MinDelay, c.MaxDelay)
	}
	if c.ReplicateTimeout <= 0 {
		return fmt.Errorf("replicate_timeout must be > 0")
	}
	return nil
}

// NormalizePeers takes a comma-separated string of peer addresses and
// cleans it up into a slice of valid base URLs.
func NormalizePeers(peersCSV string) []string {
	if strings.TrimSpace(peersCSV) == "" {
		return nil
	}
	parts := strings.Split(peersCSV, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		// Try to parse as a full URL.
		u, err := url.Parse(p)
		if err == nil && u.Scheme != "" && u.Host != "" {
			out = append(out, u.String())
		} else {
			// Likely just "host:port"; assume http.
			out = append(out, fmt.Sprintf("http://%s", p))
		}
	}
	return out
}
