package polling

import (
	"context"
	"sync"
	"time"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

// Task describes one repeating fetch bound to a key.
type Task struct {
	Interval time.Duration

	// Fetch retrieves the current server-side state.
	Fetch func(ctx context.Context) (interface{}, error)

	// Apply consumes a fresh, non-stale result. Runs off the loop
	// goroutine; implementations do their own locking.
	Apply func(result interface{})

	// OnError observes failed ticks. A failed tick never stops the
	// task; polling is retry-tolerant by nature. Optional.
	OnError func(err error)

	// Continue is evaluated after every applied result. Returning
	// false stops the task without an external Stop. Optional; nil
	// means poll until stopped.
	Continue func(result interface{}) bool
}

// Manager runs repeating fetch tasks keyed by entity id. It enforces
// three rules the trackers rely on: at most one task per key, at most
// one in-flight fetch per key, and no application of a response that
// is no longer the freshest issued request for its key.
type Manager struct {
	mu   sync.Mutex
	keys map[string]*entry
	log  Logger
}

type entry struct {
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inFlight bool
	// seq counts issued requests for the key. A response is applied
	// only while its sequence is still the newest; Bump and Stop
	// advance the counter to orphan whatever is in flight.
	seq uint64
	// applyMu serializes the staleness check with the apply it guards,
	// so a newer result applied in between cannot be overwritten by an
	// older one.
	applyMu sync.Mutex
}

func NewManager(log Logger) *Manager {
	if log == nil {
		log = nopLogger{}
	}
	return &Manager{keys: make(map[string]*entry), log: log}
}

func (m *Manager) ent(key string) *entry {
	e := m.keys[key]
	if e == nil {
		e = &entry{}
		m.keys[key] = e
	}
	return e
}

// Start begins the repeating task for key, firing an immediate first
// tick. Returns false (and changes nothing) if key is already active.
func (m *Manager) Start(key string, t Task) bool {
	m.mu.Lock()
	e := m.ent(key)
	if e.running {
		m.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	m.mu.Unlock()

	m.log.Debugf("polling: started %q (every %s)", key, t.Interval)
	go m.loop(ctx, key, t)
	return true
}

func (m *Manager) loop(ctx context.Context, key string, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	m.tick(ctx, key, t)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, key, t)
		}
	}
}

// tick runs a single fetch for key. Skipped while a previous fetch is
// still outstanding, so a slow network never piles up requests.
func (m *Manager) tick(ctx context.Context, key string, t Task) {
	m.mu.Lock()
	e := m.ent(key)
	if !e.running || e.inFlight {
		m.mu.Unlock()
		return
	}
	e.inFlight = true
	e.seq++
	seq := e.seq
	m.mu.Unlock()

	result, err := t.Fetch(ctx)

	m.mu.Lock()
	e.inFlight = false
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if t.OnError != nil {
			t.OnError(err)
		}
		return
	}

	// Stop advances seq, so a stopped task's in-flight result fails
	// the freshness check like any other orphaned response.
	if !m.applyFresh(key, e, seq, t.Apply, result) {
		return
	}
	if t.Continue != nil && !t.Continue(result) {
		m.log.Debugf("polling: %q reached terminal state", key)
		m.Stop(key)
	}
}

// applyFresh applies result only while seq is still the newest issued
// request for key. The check and the apply run under the entry's apply
// lock; without it a result could pass the check, lose the CPU to a
// newer fetch that checks and applies, and then clobber it.
func (m *Manager) applyFresh(key string, e *entry, seq uint64, apply func(interface{}), result interface{}) bool {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	m.mu.Lock()
	fresh := seq == e.seq
	m.mu.Unlock()
	if !fresh {
		m.log.Debugf("polling: dropped stale result for %q", key)
		return false
	}
	apply(result)
	return true
}

// Do runs a one-off fetch for key through the same staleness gate the
// repeating task uses: the result is applied only if no newer fetch
// for key was issued while this one was outstanding. User-triggered
// refreshes go through here so they can never lose to an older poll.
func (m *Manager) Do(ctx context.Context, key string, fetch func(ctx context.Context) (interface{}, error), apply func(result interface{})) error {
	m.mu.Lock()
	e := m.ent(key)
	e.seq++
	seq := e.seq
	m.mu.Unlock()

	result, err := fetch(ctx)
	if err != nil {
		return err
	}
	m.applyFresh(key, e, seq, apply, result)
	return nil
}

// Bump orphans every in-flight fetch for key. Call it after a local
// mutation whose effect a pending response cannot yet reflect, e.g. an
// optimistic delete racing a slow list.
func (m *Manager) Bump(key string) {
	m.mu.Lock()
	m.ent(key).seq++
	m.mu.Unlock()
}

// Stop cancels the task for key. Idempotent; stopping an unknown or
// already-stopped key does nothing. An in-flight fetch is left to
// finish but its result is discarded.
func (m *Manager) Stop(key string) {
	m.mu.Lock()
	e := m.keys[key]
	if e == nil || !e.running {
		m.mu.Unlock()
		return
	}
	e.running = false
	e.seq++
	cancel := e.cancel
	done := e.done
	e.cancel = nil
	e.done = nil
	m.mu.Unlock()

	cancel()
	close(done)
	m.log.Debugf("polling: stopped %q", key)
}

// StopAll cancels every active task. Used when the session dies.
func (m *Manager) StopAll() {
	m.mu.Lock()
	active := make([]string, 0, len(m.keys))
	for key, e := range m.keys {
		if e.running {
			active = append(active, key)
		}
	}
	m.mu.Unlock()

	for _, key := range active {
		m.Stop(key)
	}
}

// Active reports whether a task for key is currently running.
func (m *Manager) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.keys[key]
	return e != nil && e.running
}

// Done returns a channel closed when the task for key stops, whether
// by self-termination, Stop, or StopAll. For an inactive key the
// returned channel is already closed.
func (m *Manager) Done(key string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.keys[key]
	if e == nil || !e.running {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}
