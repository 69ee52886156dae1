package harness

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the process-wide table of live controllers, keyed by the pid
// of the underlying process. Controllers are added right after spawn, before
// readiness is known, so a crash during startup still leaves the instance
// reachable for cleanup. The original design left registries unsynchronized;
// a mutex makes parallel test execution safe.
type Registry struct {
	mu sync.Mutex
	m  map[int]ServerController
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[int]ServerController)}
}

// Add registers a controller under the given pid.
func (r *Registry) Add(pid int, c ServerController) {
	r.mu.Lock()
	r.m[pid] = c
	r.mu.Unlock()

	log.Info().Int("pid", pid).Msg("Added server to registry")
}

// Remove deregisters the pid. Removing an unknown pid is a no-op.
func (r *Registry) Remove(pid int) {
	r.mu.Lock()
	delete(r.m, pid)
	r.mu.Unlock()

	log.Info().Int("pid", pid).Msg("Removed server from registry")
}

// Len reports the number of registered controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Drain stops every registered controller. Used at framework teardown so no
// server instance survives the run; individual stop failures are logged and
// the drain continues.
func (r *Registry) Drain() {
	r.mu.Lock()
	controllers := make([]ServerController, 0, len(r.m))
	for _, c := range r.m {
		controllers = append(controllers, c)
	}
	r.m = make(map[int]ServerController)
	r.mu.Unlock()

	for _, c := range controllers {
		if err := c.Stop(); err != nil {
			log.Warn().Err(err).Msg("Stopping server during drain")
		}
	}
}
