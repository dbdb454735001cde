// Package logging builds the node-wide structured logger. Every line
// carries the node id and role as structured fields rather than a
// formatted "[node-id]" prefix.
package logging

import "go.uber.org/zap"

// New builds a production zap logger tagged with this node's id and role.
func New(nodeID, role string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar().With("node_id", nodeID, "role", role), nil
}
