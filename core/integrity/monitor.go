package integrity

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/attempt"
)

// Monitor tracks the active attempt sessions and runs the periodic integrity
// tick: inactivity detection, time-limit enforcement and duplicate-session
// detection. Ticks run on a single loop so no two ticks overlap; Stop cancels
// the loop and drops every session so no violation is recorded against a
// closed attempt.
type Monitor struct {
	svc    *Service
	attSvc *attempt.Service
	logger core.Logger

	tick       time.Duration
	inactivity time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	cancel   context.CancelFunc
	done     chan struct{}

	NowFunc func() time.Time // mockable
}

// session carries the per-attempt counters owned by the monitor; it dies with
// the session, never shared across attempts.
type session struct {
	att          attempt.Attempt
	lastActivity time.Time
}

func NewMonitor(svc *Service, attSvc *attempt.Service, logger core.Logger, conf *core.Config) *Monitor {
	return &Monitor{
		svc:        svc,
		attSvc:     attSvc,
		logger:     logger,
		tick:       conf.Exam.MonitorTickInterval,
		inactivity: conf.Exam.InactivityThreshold,
		sessions:   make(map[string]*session),
		NowFunc:    time.Now,
	}
}

// Start launches the tick loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runTick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and releases all sessions.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.mu.Lock()
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
}

// Watch registers a started attempt for monitoring.
func (m *Monitor) Watch(att attempt.Attempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[att.ID] = &session{att: att, lastActivity: m.NowFunc().UTC()}
}

// Release deregisters an attempt, e.g. on submission or teardown.
func (m *Monitor) Release(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, attemptID)
}

// HandleEvent records client activity (any event counts as activity) and
// delegates classification to the service.
func (m *Monitor) HandleEvent(ctx context.Context, attemptID string, e Event) error {
	m.Touch(attemptID)
	err := m.svc.HandleEvent(ctx, attemptID, e)
	if err == ErrAttemptNotActive {
		m.Release(attemptID)
	}
	return err
}

// Touch resets the inactivity timer for an attempt.
func (m *Monitor) Touch(attemptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[attemptID]; ok {
		s.lastActivity = m.NowFunc().UTC()
	}
}

// runTick performs the periodic checks for every watched session.
func (m *Monitor) runTick(ctx context.Context) {
	now := m.NowFunc().UTC()
	for _, s := range m.snapshot() {
		overrun, err := m.attSvc.CheckTimeLimit(ctx, s.att.ID)
		if err != nil {
			m.logger.Error("time-limit check", err)
			continue
		}
		if overrun {
			m.Release(s.att.ID)
			continue
		}

		att, err := m.attSvc.GetByID(ctx, s.att.ID)
		if err != nil || att.IsTerminal() {
			m.Release(s.att.ID)
			continue
		}

		if idle := now.Sub(s.lastActivity); idle > m.inactivity {
			m.svc.RecordInactivity(ctx, att, idle)
			m.Touch(att.ID) // reset the timer; inactivity does not end the attempt
		}

		m.svc.CheckDuplicateSessions(ctx, att)
	}
}

// snapshot copies the sessions out under the lock; ticks must never touch
// live session state while Touch and Watch mutate it.
func (m *Monitor) snapshot() []session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}
