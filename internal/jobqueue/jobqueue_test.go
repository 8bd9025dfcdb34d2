package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickTaskIDIsStablePerCampaign(t *testing.T) {
	require.Equal(t, "campaign-tick:42", tickTaskID(42))
	require.Equal(t, tickTaskID(42), tickTaskID(42))
	require.NotEqual(t, tickTaskID(42), tickTaskID(43))
}

func TestSendTaskIDIsStablePerEmailLog(t *testing.T) {
	require.Equal(t, "email-send:7", sendTaskID(7))
	require.NotEqual(t, sendTaskID(7), sendTaskID(8))
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	require.Equal(t, 2*time.Second, retryDelay(0, nil, nil))
	require.Equal(t, 4*time.Second, retryDelay(1, nil, nil))
	require.Equal(t, 8*time.Second, retryDelay(2, nil, nil))
	require.Equal(t, 10*time.Minute, retryDelay(20, nil, nil))
}

func TestRedisClientOptRejectsInvalidURL(t *testing.T) {
	_, err := redisClientOpt("::not a url::")
	require.Error(t, err)
}

func TestRedisClientOptParsesAddrAndDB(t *testing.T) {
	opt, err := redisClientOpt("redis://localhost:6379/2")
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", opt.Addr)
	require.Equal(t, 2, opt.DB)
}
