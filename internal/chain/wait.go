package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/locator"
	"github.com/kuitang/dashboard-e2e/internal/obs"
)

type condition struct {
	name string
	met  func(driver.ElementState) bool
}

var (
	conditionVisible = condition{"visible", func(s driver.ElementState) bool { return s.Present() && s.Visible }}
	conditionPresent = condition{"present", func(s driver.ElementState) bool { return s.Present() }}
	conditionAbsent  = condition{"not present", func(s driver.ElementState) bool { return !s.Present() }}
)

// WaitError reports a wait whose condition did not hold before its timeout.
type WaitError struct {
	Command   string
	Stage     string
	Locator   locator.Locator
	Condition string
	Timeout   time.Duration
	Elapsed   time.Duration
}

func (e *WaitError) Error() string {
	msg := fmt.Sprintf("%s: %s still not %s after %s (timeout %s)",
		e.Command, e.Locator, e.Condition, e.Elapsed.Round(time.Millisecond), e.Timeout)
	if e.Stage != "" {
		msg = "stage " + e.Stage + ": " + msg
	}
	return msg
}

// wait checks cond immediately, then every poll interval until it holds or
// timeout elapses. The last check happens at the deadline.
func (c *Chain) wait(ctx context.Context, command, stage string, loc locator.Locator, timeout time.Duration, cond condition) error {
	start := time.Now()
	deadline := start.Add(timeout)
	checks := 0

	for {
		checks++
		state, err := c.find(ctx, loc)
		if err != nil && ctx.Err() != nil {
			err = interruption(ctx, command+" "+loc.String())
		}
		if err != nil {
			c.logCommand(command, loc.String(), start, err)
			return stageError(stage, command, err)
		}
		if cond.met(state) {
			c.log.Debug("chain_command",
				"command", command,
				"locator", loc.String(),
				"stage", stage,
				"checks", checks,
				"dur_ms", obs.DurMS(start),
				"outcome", "ok",
			)
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			werr := &WaitError{
				Command:   command,
				Stage:     stage,
				Locator:   loc,
				Condition: cond.name,
				Timeout:   timeout,
				Elapsed:   time.Since(start),
			}
			c.log.Warn("chain_wait_timeout",
				"command", command,
				"locator", loc.String(),
				"stage", stage,
				"checks", checks,
				"timeout_ms", timeout.Milliseconds(),
			)
			return &errs.Error{Code: errs.Timeout, Err: werr}
		}

		t := time.NewTimer(min(c.poll, remaining))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return stageError(stage, command, interruption(ctx, command+" "+loc.String()))
		}
	}
}

func (c *Chain) find(ctx context.Context, loc locator.Locator) (driver.ElementState, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.drv.Find(callCtx, loc)
}
