// Package resources implements the resource manager of spec §4.12: a
// process registry layered over the port manager, signal-driven
// cleanup, and scoped managed-process/managed-port helpers whose exit
// branches run cleanup unconditionally (spec §9's RAII design note).
package resources

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"subscheck/internal/engine"
	"subscheck/internal/portmgr"
)

// Manager owns the process registry and the port manager for one run.
// It is explicitly constructed (spec §9's "Globals" note: no
// module-init-time singleton) so tests and concurrent runs each get
// fresh state.
type Manager struct {
	Ports *portmgr.Manager

	mu        sync.Mutex
	processes map[*engine.Runner]struct{}
}

// New constructs a Manager with its own port manager.
func New(basePort int, recycleDelay time.Duration) *Manager {
	return &Manager{Ports: portmgr.New(basePort, recycleDelay), processes: make(map[*engine.Runner]struct{})}
}

// register adds a runner to the live-process registry. Invariant
// (spec testable property 3): the registry must equal the set of
// actually-running spawned engines at every point between calls.
func (m *Manager) register(r *engine.Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[r] = struct{}{}
}

func (m *Manager) unregister(r *engine.Runner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processes, r)
}

// ActiveProcesses reports the number of currently registered engine
// runners, used by invariant checks.
func (m *Manager) ActiveProcesses() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processes)
}

// ManagedProcess runs fn with runner r registered for the duration of
// fn (fn itself is expected to Start r), and tears r down (terminate,
// close pipes, delete temp file) on every exit path, matching the Python original's managed_process context
// manager (spec §9 "Subprocess ownership and RAII").
func (m *Manager) ManagedProcess(ctx context.Context, r *engine.Runner, fn func() error) error {
	m.register(r)
	defer func() {
		r.Close()
		m.unregister(r)
	}()
	return fn()
}

// ManagedPort allocates a port for holder, runs fn with it, and always
// releases it afterward — even if fn panics or returns an error.
func (m *Manager) ManagedPort(holder string, fn func(port int) error) error {
	port, err := m.Ports.Allocate(holder)
	if err != nil {
		return err
	}
	defer m.Ports.Release(port)
	return fn(port)
}

// CleanupAll terminates and unregisters every registered process. It
// does not touch the port manager: allocated and cooling ports stay as
// they are until their holders release them. Cleanup errors are logged
// but never propagated
// (spec §7 ErrFatal policy: "cleanup is best-effort but must be
// attempted on every path").
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	runners := make([]*engine.Runner, 0, len(m.processes))
	for r := range m.processes {
		runners = append(runners, r)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *engine.Runner) {
			defer wg.Done()
			r.Close()
			m.unregister(r)
		}(r)
	}
	wg.Wait()
}

// NotifyContext returns a context cancelled on SIGINT/SIGTERM, plus a
// stop function the caller must call to release the signal hook. On
// cancellation the caller is expected to invoke CleanupAll before
// exiting (spec §4.12: "schedule a full cleanup").
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	return ctx, stop
}

// LogCleanupStart / LogCleanupDone bracket a cleanup run with the same
// emoji-tagged style the teacher uses elsewhere in this codebase.
func LogCleanupStart() { log.Println("🧹 cleaning up engine processes and ports...") }
func LogCleanupDone()  { log.Println("✅ resource cleanup complete") }
