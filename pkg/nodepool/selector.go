// Package nodepool routes job graphs to compute nodes. Routing is sticky by
// checkpoint with round-robin fallback: repeated jobs for the same model stay
// on the node that already has it loaded, everything else spreads across the
// pool. Selection is not load-aware.
package nodepool

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/promptgate/promptgate/pkg/jsonpath"
)

// ErrNoNodes indicates the selector was built with an empty endpoint list.
var ErrNoNodes = errors.New("no compute nodes configured")

// noCheckpoint keys affinity entries for job graphs that do not declare a
// checkpoint at all.
const noCheckpoint = ""

var checkpointExpr = jsonpath.MustParse("$..ckpt_name")

// Selector owns the affinity cache and the round-robin cursor. One mutex
// spans check-and-update: a lost race here would misroute, not crash, but
// misrouting defeats stickiness.
type Selector struct {
	logger *slog.Logger

	mu       sync.Mutex
	nodes    []string
	cursor   int
	affinity map[string]string
}

// NewSelector creates a selector over the configured node endpoints.
func NewSelector(logger *slog.Logger, nodes []string) (*Selector, error) {
	cleaned := make([]string, 0, len(nodes))

	for _, node := range nodes {
		node = strings.TrimSpace(node)
		if node != "" {
			cleaned = append(cleaned, strings.TrimSuffix(node, "/"))
		}
	}

	if len(cleaned) == 0 {
		return nil, ErrNoNodes
	}

	return &Selector{
		logger:   logger,
		nodes:    cleaned,
		affinity: make(map[string]string),
	}, nil
}

// Select maps a job graph to a node endpoint. The graph's first checkpoint
// match is the affinity key; a cache hit returns the sticky node, a miss
// assigns the next node round-robin and caches it. The cache is never
// evicted; the node set is small and static, and losing an entry only costs
// stickiness.
func (s *Selector) Select(graph any) string {
	checkpoint := noCheckpoint

	if matches := checkpointExpr.Find(graph); len(matches) > 0 {
		if name, ok := matches[0].(string); ok {
			checkpoint = name
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if node, ok := s.affinity[checkpoint]; ok {
		s.logger.Info("Selected sticky node", "node", node, "checkpoint", checkpoint)

		return node
	}

	if s.cursor >= len(s.nodes) {
		s.cursor = 0
	}

	node := s.nodes[s.cursor]
	s.affinity[checkpoint] = node
	s.cursor++

	s.logger.Info("Selected new node", "node", node, "checkpoint", checkpoint)

	return node
}

// Nodes returns the configured endpoints.
func (s *Selector) Nodes() []string {
	return s.nodes
}
