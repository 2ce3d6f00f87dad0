// Package basic provides an outcome recorder that logs outcomes and keeps
// per-agent tallies in memory.
package basic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tjfontaine/taskgate/internal/core/ports"
)

// AgentStats tallies the outcomes recorded for one agent.
type AgentStats struct {
	Completed int `json:"completed"`
	OnTime    int `json:"on_time"`
	Failed    int `json:"failed"`
	Rework    int `json:"rework"`
}

// Recorder implements ports.OutcomeRecorder without a reputation backend.
// This is the default recorder for single-instance deployments.
type Recorder struct {
	mu     sync.Mutex
	stats  map[string]*AgentStats
	logger *slog.Logger
}

// NewRecorder creates a new basic recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		stats:  make(map[string]*AgentStats),
		logger: logger,
	}
}

func (r *Recorder) RecordCompleted(ctx context.Context, o ports.CompletedOutcome) error {
	r.update(o.OrgID, o.AgentID, func(s *AgentStats) {
		s.Completed++
		if o.OnTime {
			s.OnTime++
		}
	})
	r.logger.Info("outcome recorded",
		slog.String("outcome", "completed"),
		slog.String("org_id", o.OrgID),
		slog.String("agent_id", o.AgentID),
		slog.String("task_id", o.TaskID),
		slog.Bool("on_time", o.OnTime),
	)
	return nil
}

func (r *Recorder) RecordFailed(ctx context.Context, o ports.FailedOutcome) error {
	r.update(o.OrgID, o.AgentID, func(s *AgentStats) { s.Failed++ })
	r.logger.Info("outcome recorded",
		slog.String("outcome", "failed"),
		slog.String("org_id", o.OrgID),
		slog.String("agent_id", o.AgentID),
		slog.String("task_id", o.TaskID),
		slog.String("reason", o.Reason),
	)
	return nil
}

func (r *Recorder) RecordRework(ctx context.Context, o ports.ReworkOutcome) error {
	r.update(o.OrgID, o.AgentID, func(s *AgentStats) { s.Rework++ })
	r.logger.Info("outcome recorded",
		slog.String("outcome", "rework"),
		slog.String("org_id", o.OrgID),
		slog.String("agent_id", o.AgentID),
		slog.String("task_id", o.TaskID),
		slog.String("triggered_by", o.TriggeredBy),
	)
	return nil
}

// Stats returns a copy of the tallies for an agent within an organization.
func (r *Recorder) Stats(orgID, agentID string) AgentStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stats[key(orgID, agentID)]; ok {
		return *s
	}
	return AgentStats{}
}

func (r *Recorder) update(orgID, agentID string, fn func(*AgentStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(orgID, agentID)
	s, ok := r.stats[k]
	if !ok {
		s = &AgentStats{}
		r.stats[k] = s
	}
	fn(s)
}

func key(orgID, agentID string) string {
	return orgID + "/" + agentID
}

var _ ports.OutcomeRecorder = (*Recorder)(nil)
