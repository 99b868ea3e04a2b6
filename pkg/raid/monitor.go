package raid

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rallyhouse/rally/pkg/models"
)

// startMonitor launches the raid's poll loop. One monitor per raid;
// repeated calls are no-ops.
func (c *Coordinator) startMonitor(raidID string) {
	rt, err := c.lookup(raidID)
	if err != nil {
		return
	}
	rt.mu.Lock()
	if rt.monitorOn {
		rt.mu.Unlock()
		return
	}
	rt.monitorOn = true
	rt.done = make(chan struct{})
	rt.mu.Unlock()

	go c.monitor(rt, raidID)
}

// monitor drives the raid clock: it times the raid out when the window
// closes, keeps the owning session alive while the raid runs, and
// re-schedules verification for actions the adapter has not confirmed yet.
func (c *Coordinator) monitor(rt *runtime, raidID string) {
	defer close(rt.done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.log.Debug("Raid monitor started", "raid_id", raidID)
	for {
		select {
		case <-rt.ctx.Done():
			return
		case <-ticker.C:
			if c.tick(rt, raidID) {
				return
			}
		}
	}
}

// tick runs one monitor pass. It returns true when the raid reached a
// terminal status and the loop should exit.
func (c *Coordinator) tick(rt *runtime, raidID string) bool {
	s, err := c.sessions.Get(rt.ctx, rt.sessionID)
	if err != nil {
		c.log.Warn("Raid monitor read failed", "raid_id", raidID, "error", err)
		return false
	}
	r := s.Raid
	if r == nil || r.Status.Terminal() {
		return true
	}

	now := c.now()
	if !now.Before(r.EndsAt) {
		if err := c.finish(rt.ctx, raidID, models.RaidTimedOut, "duration elapsed"); err != nil &&
			!errors.Is(err, ErrNotActive) {
			c.log.Warn("Raid timeout transition failed", "raid_id", raidID, "error", err)
		}
		return true
	}

	// An active raid keeps its session out of the expiry sweep.
	if err := c.sessions.Heartbeat(rt.ctx, rt.sessionID); err != nil {
		c.log.Warn("Raid session heartbeat failed", "raid_id", raidID, "error", err)
	}

	cutoff := now.Add(-c.cfg.VerifyLatencyMin)
	for _, a := range r.ActionLog {
		if a.Verified || a.Rejected || a.SubmittedAt.After(cutoff) {
			continue
		}
		c.scheduleVerify(rt, raidID, a.ActionID)
	}
	return false
}

// scheduleVerify runs VerifyAction on a worker goroutine, bounded by the
// raid's verification concurrency cap and deduplicated per action so the
// monitor and the submission path never race the same claim.
func (c *Coordinator) scheduleVerify(rt *runtime, raidID string, actionID uuid.UUID) {
	rt.mu.Lock()
	if _, busy := rt.inflight[actionID]; busy {
		rt.mu.Unlock()
		return
	}
	rt.inflight[actionID] = struct{}{}
	rt.mu.Unlock()

	go func() {
		defer func() {
			rt.mu.Lock()
			delete(rt.inflight, actionID)
			rt.mu.Unlock()
		}()

		select {
		case rt.sem <- struct{}{}:
			defer func() { <-rt.sem }()
		case <-rt.ctx.Done():
			return
		}

		err := c.VerifyAction(rt.ctx, raidID, actionID)
		if err != nil && rt.ctx.Err() == nil && !errors.Is(err, ErrNotActive) {
			c.log.Warn("Scheduled verification failed",
				"raid_id", raidID, "action_id", actionID, "error", err)
		}
	}()
}
