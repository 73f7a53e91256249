package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// Common errors for agent lifecycle management.
var (
	// ErrAgentNotFound indicates the requested agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// RegistryStats is a point-in-time view of the registry counters.
type RegistryStats struct {
	TotalCreated int                        `json:"total_created"`
	TotalDeleted int                        `json:"total_deleted"`
	Active       int                        `json:"active"`
	ByStatus     map[models.AgentStatus]int `json:"by_status"`
}

// Registry tracks every ephemeral agent for the lifetime of the process.
// Deleted agents keep their record so the audit trail survives, but
// nothing can move them out of the deleted state.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*models.AgentInstance
	order        []string
	totalCreated int
	totalDeleted int
	logger       *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]*models.AgentInstance),
		logger: logger,
	}
}

func newAgentID() string {
	return "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create allocates an idle agent for the given type and optional task.
func (r *Registry) Create(agentType models.AgentType, task *models.SubTask) models.AgentInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := newAgentID()
	for r.agents[id] != nil {
		id = newAgentID()
	}

	inst := &models.AgentInstance{
		ID:        id,
		Type:      agentType.Normalize(),
		Status:    models.AgentStatusIdle,
		CreatedAt: time.Now(),
	}
	if task != nil {
		t := *task
		inst.Task = &t
	}
	r.agents[id] = inst
	r.order = append(r.order, id)
	r.totalCreated++

	r.logger.Debug("agent created", zap.String("agent_id", id), zap.String("type", string(inst.Type)))
	return *inst
}

// Get returns a snapshot of the agent.
func (r *Registry) Get(id string) (models.AgentInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.agents[id]
	if !ok {
		return models.AgentInstance{}, false
	}
	return *inst, true
}

// Update applies fn to a copy of the agent and stores it if the resulting
// status transition is allowed.
func (r *Registry) Update(id string, fn func(*models.AgentInstance)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if inst.Status == models.AgentStatusDeleted {
		return fmt.Errorf("%w: %s is deleted", ErrInvalidTransition, id)
	}

	next := *inst
	fn(&next)
	next.ID = inst.ID
	if next.Status != inst.Status {
		if !inst.Status.CanTransitionTo(next.Status) {
			return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, inst.Status, next.Status)
		}
		if next.Status == models.AgentStatusDeleted {
			return fmt.Errorf("%w: use Delete to delete %s", ErrInvalidTransition, id)
		}
	}
	*inst = next
	return nil
}

// Delete discards the agent. The first call for a live agent returns true;
// every later call returns false and leaves the counters unchanged.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.agents[id]
	if !ok || inst.Status == models.AgentStatusDeleted {
		return false
	}
	inst.Status = models.AgentStatusDeleted
	r.totalDeleted++
	r.logger.Debug("agent deleted", zap.String("agent_id", id))
	return true
}

// List returns snapshots in creation order, filtered by status when any
// statuses are given.
func (r *Registry) List(statuses ...models.AgentStatus) []models.AgentInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	want := make(map[models.AgentStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []models.AgentInstance
	for _, id := range r.order {
		inst := r.agents[id]
		if len(want) > 0 && !want[inst.Status] {
			continue
		}
		out = append(out, *inst)
	}
	return out
}

// CleanupCompleted deletes every agent in status completed and returns how
// many it deleted. Failed agents are left for inspection.
func (r *Registry) CleanupCompleted() int {
	var ids []string
	for _, inst := range r.List(models.AgentStatusCompleted) {
		ids = append(ids, inst.ID)
	}
	n := 0
	for _, id := range ids {
		if r.Delete(id) {
			n++
		}
	}
	if n > 0 {
		r.logger.Info("cleaned up completed agents", zap.Int("count", n))
	}
	return n
}

// Stats returns the registry counters.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalCreated: r.totalCreated,
		TotalDeleted: r.totalDeleted,
		ByStatus:     make(map[models.AgentStatus]int),
	}
	for _, inst := range r.agents {
		stats.ByStatus[inst.Status]++
		if inst.Status != models.AgentStatusDeleted {
			stats.Active++
		}
	}
	return stats
}
