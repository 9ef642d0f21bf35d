package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ParamScheduledFireTime is the RFC3339 UTC time of the occurrence that fired.
const ParamScheduledFireTime = "scheduled_fire_time_utc"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type CronConfig struct {
	ID       string
	Pipeline string
	// Schedule is a standard five field expression or a descriptor such as @hourly.
	Schedule string
	Clock    func() time.Time
}

// Cron fires once per scheduled occurrence.
type Cron struct {
	id       string
	pipeline string
	expr     string
	schedule cron.Schedule
	clock    func() time.Time

	mu        sync.Mutex
	lastFired time.Time
}

// NewCron parses the schedule. The first fire is the first occurrence after
// construction.
func NewCron(cfg CronConfig) (*Cron, error) {
	if err := validateBinding("cron", cfg.ID, cfg.Pipeline); err != nil {
		return nil, err
	}
	schedule, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("cron trigger %q: invalid schedule %q: %w", cfg.ID, cfg.Schedule, err)
	}
	c := &Cron{
		id:       cfg.ID,
		pipeline: cfg.Pipeline,
		expr:     cfg.Schedule,
		schedule: schedule,
		clock:    clockOrNow(cfg.Clock),
	}
	c.lastFired = c.clock().UTC()
	return c, nil
}

func (c *Cron) ID() string       { return c.id }
func (c *Cron) Pipeline() string { return c.pipeline }
func (c *Cron) Schedule() string { return c.expr }

// NextFire returns the next occurrence that will fire.
func (c *Cron) NextFire() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schedule.Next(c.lastFired)
}

// Check fires when the clock has reached the next occurrence. Occurrences
// missed between two checks are coalesced into a single fire for the latest
// one.
func (c *Cron) Check(ctx context.Context) (bool, map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock().UTC()
	due := c.schedule.Next(c.lastFired)
	if due.IsZero() || now.Before(due) {
		return false, nil, nil
	}
	for {
		n := c.schedule.Next(due)
		if n.IsZero() || n.After(now) {
			break
		}
		due = n
	}
	c.lastFired = due

	return true, map[string]any{
		ParamTriggerID:         c.id,
		ParamScheduledFireTime: due.UTC().Format(time.RFC3339),
	}, nil
}
