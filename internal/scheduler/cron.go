package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orellanin/campaignrunner/internal/jobqueue"
)

// CronServer wraps asynq.Scheduler to fire the calendar sweep every
// minute without blocking either worker pool.
type CronServer struct {
	scheduler *asynq.Scheduler
	deps      *Deps
}

// NewCronServer builds the cron scheduler against the same Redis the
// job queue uses.
func NewCronServer(redisURL string, deps *Deps) (*CronServer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	s := asynq.NewScheduler(asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}, nil)
	return &CronServer{scheduler: s, deps: deps}, nil
}

const sweepTaskType = "internal:calendar-sweep"

// Register wires the "@every 1m" entry onto the campaign-tick queue, so
// it is served by the same worker pool that runs campaign:tick jobs.
func (c *CronServer) Register() error {
	_, err := c.scheduler.Register("@every 1m", asynq.NewTask(sweepTaskType, nil), asynq.Queue(jobqueue.QueueCampaignTick))
	if err != nil {
		return fmt.Errorf("register calendar sweep: %w", err)
	}
	return nil
}

// RegisterSweepHandler wires the sweep task onto a jobqueue.Server so the
// cron entry actually has a handler to invoke.
func RegisterSweepHandler(server *jobqueue.Server, deps *Deps) {
	server.HandleFunc(sweepTaskType, func(ctx context.Context, _ string, _ []byte) error {
		return Sweep(ctx, deps)
	})
}

// Run starts the cron scheduler; blocks until Shutdown is called.
func (c *CronServer) Run() error {
	return c.scheduler.Run()
}

// Shutdown stops the cron scheduler.
func (c *CronServer) Shutdown() {
	c.scheduler.Shutdown()
}
