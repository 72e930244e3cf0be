package correlation

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/google/uuid"

	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/types"
)

var corrLog = log.WithComponent("correlation")

// StaleMaxLifetime is how long a finished correlation id is still
// remembered in history before the janitor evicts it.
const StaleMaxLifetime = 1200 * time.Second

// Registry tracks in-flight correlation ids and remembers recently
// finished ones for a bounded window.
type Registry struct {
	mu      sync.Mutex
	active  map[string]*types.CorrelationData
	history *gocache.Cache
}

// NewRegistry constructs a Registry whose history entries expire after
// maxLifetime (StaleMaxLifetime when zero).
func NewRegistry(maxLifetime time.Duration) *Registry {
	if maxLifetime <= 0 {
		maxLifetime = StaleMaxLifetime
	}
	return &Registry{
		active:  make(map[string]*types.CorrelationData),
		history: gocache.New(maxLifetime, maxLifetime/2),
	}
}

// New allocates a fresh correlation id and marks it active.
func (r *Registry) New() string {
	id := uuid.NewString()

	r.mu.Lock()
	r.active[id] = &types.CorrelationData{CorrelationID: id, StartTime: time.Now()}
	r.mu.Unlock()

	r.history.SetDefault(id, struct{}{})
	return id
}

// NoteDependency records that dependency (an output path or job
// description) was produced under id. It logs and returns false without
// panicking for an id that was never issued or has already been removed,
// since dependency notifications can race the request that owns them.
func (r *Registry) NoteDependency(id, dependency string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.active[id]
	if !ok {
		if _, known := r.history.Get(id); known {
			corrLog.Warn().Str("correlation_id", id).Msg("dependency noted for inactive correlation id")
		} else {
			corrLog.Error().Str("correlation_id", id).Msg("dependency noted for non-existent correlation id")
		}
		return false
	}

	for _, dep := range data.Dependencies {
		if dep == dependency {
			return true
		}
	}
	data.Dependencies = append(data.Dependencies, dependency)
	return true
}

// Remove marks id finished: it leaves active tracking but its history
// entry survives until the registry's TTL expires it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Get returns a snapshot of the CorrelationData for an active id.
func (r *Registry) Get(id string) (types.CorrelationData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.active[id]
	if !ok {
		return types.CorrelationData{}, false
	}
	return *data, true
}

// ActiveCount returns the number of correlation ids currently in flight.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Clear drops every active id and wipes history.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.active = make(map[string]*types.CorrelationData)
	r.mu.Unlock()
	r.history.Flush()
}
