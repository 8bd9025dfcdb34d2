package jobqueue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c := NewClientForTest(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestEnqueueCampaignTickIsIdempotentPerCampaign(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.EnqueueCampaignTick(1, time.Time{}))
	require.NoError(t, c.EnqueueCampaignTick(1, time.Time{}))

	info, err := c.inspector.GetQueueInfo(queueTick)
	require.NoError(t, err)
	require.Equal(t, 1, info.Pending+info.Scheduled)
}

func TestEnqueueEmailSendIsIdempotentPerEmailLog(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.EnqueueEmailSend(5, 1, 1, time.Time{}))
	require.NoError(t, c.EnqueueEmailSend(5, 1, 1, time.Time{}))

	info, err := c.inspector.GetQueueInfo(queueSend)
	require.NoError(t, err)
	require.Equal(t, 1, info.Pending+info.Scheduled)
}

func TestCancelCampaignTickRemovesPendingJob(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.EnqueueCampaignTick(1, time.Time{}))

	require.NoError(t, c.CancelCampaignTick(1))

	info, err := c.inspector.GetQueueInfo(queueTick)
	require.NoError(t, err)
	require.Equal(t, 0, info.Pending+info.Scheduled)
}

func TestCancelEmailSendOnMissingTaskIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.CancelEmailSend(999))
}
