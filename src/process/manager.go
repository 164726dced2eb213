// Package process owns the lifecycle of the resident's processes and the
// router they talk over.
package process

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"askshot/src/messages"
	"askshot/src/router"
)

// Process interface defines the lifecycle methods for all processes
type Process interface {
	// Start registers the process endpoint and starts its goroutine. It must
	// not block.
	Start(ctx context.Context, router *router.Router) error

	// Stop gracefully shuts down the process
	Stop() error

	// IsRunning returns true if the process is currently running
	IsRunning() bool

	// Name returns the process name for identification
	Name() string
}

// ProcessState represents the current state of a process
type ProcessState int

const (
	StateStopped ProcessState = iota
	StateRunning
	StateStopping
	StateCrashed
)

func (s ProcessState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// dieGrace is how long processes get to react to DIENOW before Stop.
const dieGrace = 100 * time.Millisecond

type processInfo struct {
	process   Process
	state     ProcessState
	startTime time.Time
	lastError error
	ctx       context.Context
	cancel    context.CancelFunc
}

// Manager manages the lifecycle of all application processes
type Manager struct {
	processes map[string]*processInfo
	order     []string
	router    *router.Router
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a manager with a fresh router.
func NewManager() *Manager {
	return NewManagerWithRouter(router.NewRouter())
}

// NewManagerWithRouter creates a manager around an existing router.
func NewManagerWithRouter(r *router.Router) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		processes: make(map[string]*processInfo),
		router:    r,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register adds a process to the manager
func (m *Manager) Register(p Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	if _, exists := m.processes[name]; exists {
		return fmt.Errorf("process %s already registered", name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	m.processes[name] = &processInfo{process: p, state: StateStopped, ctx: ctx, cancel: cancel}
	m.order = append(m.order, name)

	log.Printf("Process %s registered", name)
	return nil
}

// Start starts a specific process
func (m *Manager) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.processes[name]
	if !exists {
		return fmt.Errorf("process %s not found", name)
	}
	if info.state == StateRunning {
		return fmt.Errorf("process %s already running", name)
	}
	if !m.router.IsHealthy() {
		return fmt.Errorf("process %s: %w", name, router.ErrShuttingDown)
	}
	if info.ctx.Err() != nil {
		info.ctx, info.cancel = context.WithCancel(m.ctx)
	}

	log.Printf("Starting process %s", name)
	if err := m.safeStart(info); err != nil {
		info.state = StateCrashed
		info.lastError = err
		log.Printf("Process %s failed to start: %v", name, err)
		return err
	}
	info.state = StateRunning
	info.startTime = time.Now()
	return nil
}

func (m *Manager) safeStart(info *processInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return info.process.Start(info.ctx, m.router)
}

// StartAll starts all registered processes in registration order.
func (m *Manager) StartAll() error {
	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Start(name); err != nil {
			return fmt.Errorf("failed to start process %s: %w", name, err)
		}
	}
	return nil
}

// Stop stops a specific process
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	info, exists := m.processes[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("process %s not found", name)
	}
	if info.state != StateRunning {
		m.mu.Unlock()
		return nil
	}
	info.state = StateStopping
	m.mu.Unlock()

	log.Printf("Stopping process %s", name)
	info.cancel()
	err := info.process.Stop()
	if err != nil {
		log.Printf("Error stopping process %s: %v", name, err)
	}

	m.mu.Lock()
	info.state = StateStopped
	info.lastError = err
	m.mu.Unlock()

	log.Printf("Process %s stopped", name)
	return err
}

// StopAll broadcasts DIENOW, then stops processes in reverse start order.
func (m *Manager) StopAll() {
	log.Printf("Stopping all processes...")

	m.router.Broadcast(messages.NewEnvelope(messages.ProcessMain, messages.Broadcast, messages.DIENOW{}))
	time.Sleep(dieGrace)

	m.mu.RLock()
	names := append([]string(nil), m.order...)
	m.mu.RUnlock()

	for i := len(names) - 1; i >= 0; i-- {
		_ = m.Stop(names[i])
	}

	m.cancel()
	log.Printf("All processes stopped")
}

// GetRouter returns the message router
func (m *Manager) GetRouter() *router.Router {
	return m.router
}

// GetStatus returns the state of every process, refreshed from IsRunning
// so a process that exited on DIENOW shows as stopped.
func (m *Manager) GetStatus() map[string]ProcessState {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := make(map[string]ProcessState)
	for name, info := range m.processes {
		if info.state == StateRunning && !info.process.IsRunning() {
			info.state = StateStopped
		}
		status[name] = info.state
	}
	return status
}

// Names returns the registered process names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}
