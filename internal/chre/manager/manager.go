// Package manager holds the process-scoped context object wrapping the
// single EventLoop, replacing the original source's global singleton with
// an explicit init/teardown object every component receives a reference
// to (spec §9 "Global singletons").
package manager

import (
	"errors"
	"sync"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/loop"
	"github.com/ctxhub/chre-runtime/internal/chre/queue"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// ErrLoopExists is returned by CreateEventLoop when a loop has already
// been created. The source's single-loop assertion becomes an explicit
// error here instead of a process abort.
var ErrLoopExists = errors.New("manager: event loop already created")

// LoopManager is the process-wide holder other components receive a
// reference to instead of reaching into a global. Exactly one EventLoop
// may exist per LoopManager, matching the unsafe-for-multiple-loops
// constraint the source documents.
type LoopManager struct {
	mu  sync.Mutex
	log *logging.Logger
	el  *loop.EventLoop

	scanMonitor    *RequestManager
	sensorManagers map[uint8]*SensorRequestManager
}

// New constructs an empty LoopManager. CreateEventLoop must be called
// before the loop is usable.
func New(log *logging.Logger) *LoopManager {
	if log == nil {
		log = logging.NewDefault()
	}
	return &LoopManager{log: log}
}

// CreateEventLoop constructs the single EventLoop this process will run.
// Calling it twice returns ErrLoopExists.
func (m *LoopManager) CreateEventLoop(poolCapacity, queueCapacity, maxNanoapps int, host loop.HostFlusher, timers loop.TimerCanceler) (*loop.EventLoop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.el != nil {
		return nil, ErrLoopExists
	}
	m.el = loop.New(loop.Config{
		Pool:        event.NewPool(poolCapacity),
		Inbox:       queue.New(queueCapacity),
		Host:        host,
		Timers:      timers,
		MaxNanoapps: maxNanoapps,
		Logger:      m.log,
	})
	return m.el, nil
}

// EventLoop returns the process's event loop, or nil if CreateEventLoop
// has not yet been called.
func (m *LoopManager) EventLoop() *loop.EventLoop {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.el
}

// WithScanMonitor attaches the wifi-scan-monitor capability request
// manager (spec §4.7). Returns the manager for chaining, matching the
// teacher's `With*` builder convention.
func (m *LoopManager) WithScanMonitor(rm *RequestManager) *LoopManager {
	m.scanMonitor = rm
	return m
}

// ScanMonitor returns the attached scan-monitor request manager, or nil.
func (m *LoopManager) ScanMonitor() *RequestManager {
	return m.scanMonitor
}

// WithSensorManager attaches a per-sensor-type request manager (spec
// §4.5, §4.7). Returns the LoopManager for chaining.
func (m *LoopManager) WithSensorManager(sensorType uint8, rm *SensorRequestManager) *LoopManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sensorManagers == nil {
		m.sensorManagers = make(map[uint8]*SensorRequestManager)
	}
	m.sensorManagers[sensorType] = rm
	return m
}

// SensorManager returns the request manager attached for sensorType, or
// nil if none was attached.
func (m *LoopManager) SensorManager(sensorType uint8) *SensorRequestManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sensorManagers[sensorType]
}
