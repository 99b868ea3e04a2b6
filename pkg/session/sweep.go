package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/metrics"
	"github.com/rallyhouse/rally/pkg/models"
)

// degradeAfter consecutive sweep failures raise the loop_degraded signal.
const degradeAfter = 3

// Start launches the background cleanup sweep. Safe to call once; further
// calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	m.log.Info("Session sweep started",
		"interval", m.cfg.SweepInterval, "retention", m.cfg.Retention)
}

// Stop signals the sweep loop to exit and waits for it.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.log.Info("Session sweep stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				failures++
				metrics.LoopFailures.WithLabelValues("session_sweep").Inc()
				m.log.Error("Sweep failed", "error", err, "consecutive", failures)
				if failures == degradeAfter && m.onDegraded != nil {
					m.onDegraded("session_sweep", err)
				}
				continue
			}
			failures = 0
		}
	}
}

// Sweep expires active sessions past their deadline and removes terminal
// sessions older than the retention window. It is single-flight: a sweep
// already in progress makes concurrent invocations no-ops.
func (m *Manager) Sweep(ctx context.Context) error {
	if !m.sweeping.TryLock() {
		return nil
	}
	defer m.sweeping.Unlock()

	now := m.now().UTC()

	var toExpire, toRemove []uuid.UUID
	for _, e := range m.scan() {
		e.lock.Lock()
		switch {
		case e.s.State == models.SessionActive && !now.Before(e.s.ExpiresAt):
			toExpire = append(toExpire, e.s.ID)
		case e.s.State.Terminal() && e.s.EndedAt != nil && now.Sub(*e.s.EndedAt) > m.cfg.Retention:
			toRemove = append(toRemove, e.s.ID)
		}
		e.lock.Unlock()
	}

	var errs []error
	for _, id := range toExpire {
		if err := m.expire(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range toRemove {
		if err := m.remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	if len(toExpire)+len(toRemove) > 0 {
		m.log.Info("Sweep finished",
			"expired", len(toExpire), "removed", len(toRemove), "errors", len(errs))
	}
	return errors.Join(errs...)
}

func (m *Manager) expire(ctx context.Context, id uuid.UUID) error {
	lock, s, err := m.checkout(id)
	if err != nil {
		return nil // raced with removal
	}
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	if s.State != models.SessionActive || now.Before(s.ExpiresAt) {
		return nil // renewed or already transitioned since the scan
	}
	s.State = models.SessionExpired
	s.EndedAt = &now
	if err := m.store.Update(ctx, s); err != nil {
		return err
	}

	metrics.ActiveSessions.Dec()
	metrics.SessionsSwept.WithLabelValues("expired").Inc()
	m.bus.PublishSessionLifecycle(bus.EventSessionExpired, s, "timeout")
	slog.Debug("Session expired by sweep", "session_id", id)
	return nil
}

func (m *Manager) remove(ctx context.Context, id uuid.UUID) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.locks, id)
	m.mu.Unlock()
	metrics.SessionsSwept.WithLabelValues("removed").Inc()
	return nil
}
