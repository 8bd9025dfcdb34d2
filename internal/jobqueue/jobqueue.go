// Package jobqueue wraps asynq for the dispatch engine's two durable task
// types: campaign:tick and email:send. Task IDs are derived from the
// entity id so a duplicate enqueue of an already-queued job is a no-op
// at the queue layer.
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/orellanin/campaignrunner/internal/config"
)

const (
	// QueueCampaignTick is the asynq queue name for campaign:tick jobs,
	// exported so the cron scheduler can target the same queue.
	QueueCampaignTick = "campaign-tick"
	queueTick         = QueueCampaignTick
	queueSend         = "email-send"
	maxRetryEmail     = 5
)

func redisClientOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parse redis url: %w", err)
	}
	return asynq.RedisClientOpt{Addr: opt.Addr, Password: opt.Password, DB: opt.DB}, nil
}

func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	base := 2 * time.Second
	d := base
	for i := 0; i < n; i++ {
		d *= 2
	}
	const maxDelay = 10 * time.Minute
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

// Client enqueues tasks and inspects/cancels queued work.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient builds a Client against the configured Redis instance.
func NewClient(cfg *config.Config) (*Client, error) {
	opt, err := redisClientOpt(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}, nil
}

// NewClientForTest builds a Client against an already-resolved redis
// connection, bypassing config.Config. Used by other packages' tests that
// run against a miniredis instance.
func NewClientForTest(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// Close releases the underlying connections.
func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}
	return c.inspector.Close()
}

// tickTaskID derives a stable per-campaign task id so re-enqueuing the
// next tick for a campaign that already has one queued is a no-op.
func tickTaskID(campaignID int64) string {
	return fmt.Sprintf("campaign-tick:%d", campaignID)
}

// sendTaskID derives a stable per-EmailLog task id, the queue-layer half
// of the EmailLog idempotency guarantee.
func sendTaskID(emailLogID int64) string {
	return fmt.Sprintf("email-send:%d", emailLogID)
}

// EnqueueCampaignTick schedules a campaign:tick job at processAt (now if
// zero-valued).
func (c *Client) EnqueueCampaignTick(campaignID int64, processAt time.Time) error {
	payload := &CampaignTickPayload{CampaignID: campaignID}
	data, err := payload.marshal()
	if err != nil {
		return fmt.Errorf("marshal campaign tick payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(queueTick),
		asynq.TaskID(tickTaskID(campaignID)),
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Minute),
		asynq.Retention(time.Hour),
	}
	if !processAt.IsZero() {
		opts = append(opts, asynq.ProcessAt(processAt))
	}
	_, err = c.client.Enqueue(asynq.NewTask(TypeCampaignTick, data), opts...)
	if err != nil && err != asynq.ErrTaskIDConflict {
		return fmt.Errorf("enqueue campaign tick: %w", err)
	}
	return nil
}

// EnqueueEmailSend schedules an email:send job for one EmailLog at
// processAt, with a per-attempt retry budget and backoff policy.
func (c *Client) EnqueueEmailSend(emailLogID, campaignID int64, attempt int, processAt time.Time) error {
	payload := &EmailSendPayload{EmailLogID: emailLogID, CampaignID: campaignID, Attempt: attempt}
	data, err := payload.marshal()
	if err != nil {
		return fmt.Errorf("marshal email send payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(queueSend),
		asynq.TaskID(sendTaskID(emailLogID)),
		asynq.MaxRetry(maxRetryEmail),
		asynq.Timeout(90 * time.Second),
		asynq.Retention(24 * time.Hour),
	}
	if !processAt.IsZero() {
		opts = append(opts, asynq.ProcessAt(processAt))
	}
	_, err = c.client.Enqueue(asynq.NewTask(TypeEmailSend, data), opts...)
	if err != nil && err != asynq.ErrTaskIDConflict {
		return fmt.Errorf("enqueue email send: %w", err)
	}
	return nil
}

// CancelEmailSend removes a still-pending email:send job, used by
// pause/stop/delete to stop a job that has not started running yet.
// In-flight attempts are not interrupted.
func (c *Client) CancelEmailSend(emailLogID int64) error {
	err := c.inspector.DeleteTask(queueSend, sendTaskID(emailLogID))
	if err != nil && err != asynq.ErrTaskNotFound {
		return fmt.Errorf("cancel email send task: %w", err)
	}
	return nil
}

// CancelCampaignTick removes a still-pending campaign:tick job.
func (c *Client) CancelCampaignTick(campaignID int64) error {
	err := c.inspector.DeleteTask(queueTick, tickTaskID(campaignID))
	if err != nil && err != asynq.ErrTaskNotFound {
		return fmt.Errorf("cancel campaign tick task: %w", err)
	}
	return nil
}

// QueueDepths reports pending+active task counts for both queues, used
// for operational visibility.
func (c *Client) QueueDepths() (map[string]*asynq.QueueInfo, error) {
	out := make(map[string]*asynq.QueueInfo, 2)
	for _, q := range []string{queueTick, queueSend} {
		info, err := c.inspector.GetQueueInfo(q)
		if err != nil {
			continue
		}
		out[q] = info
	}
	return out, nil
}

// Server runs the asynq worker pools for both task types.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer builds the asynq server with the concurrency split config §8
// calls for: campaign-tick gets a small pool, email-send gets the bulk.
func NewServer(cfg *config.Config) (*Server, error) {
	opt, err := redisClientOpt(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	tickConcurrency := cfg.CampaignTickConcurrency
	if tickConcurrency <= 0 {
		tickConcurrency = 2
	}
	sendConcurrency := cfg.EmailSendConcurrency
	if sendConcurrency <= 0 {
		sendConcurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: tickConcurrency + sendConcurrency,
		Queues: map[string]int{
			queueTick: tickConcurrency,
			queueSend: sendConcurrency,
		},
		RetryDelayFunc: retryDelay,
	})

	return &Server{server: server, mux: asynq.NewServeMux()}, nil
}

// HandleFunc registers a handler for a task type. The handler receives
// just the task type and raw payload so callers don't need to import
// asynq directly.
func (s *Server) HandleFunc(taskType string, handler func(ctx context.Context, taskType string, payload []byte) error) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, task *asynq.Task) error {
		return handler(ctx, task.Type(), task.Payload())
	})
}

// Run starts the worker server; blocks until Shutdown is called from
// another goroutine.
func (s *Server) Run() error {
	return s.server.Run(s.mux)
}

// Shutdown stops the worker server, waiting for in-flight tasks.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}
