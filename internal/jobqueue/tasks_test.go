package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCampaignTickPayloadRoundTrips(t *testing.T) {
	p := &CampaignTickPayload{CampaignID: 42}
	data, err := p.marshal()
	require.NoError(t, err)

	got, err := UnmarshalCampaignTickPayload(data)
	require.NoError(t, err)
	require.Equal(t, int64(42), got.CampaignID)
}

func TestEmailSendPayloadRoundTrips(t *testing.T) {
	p := &EmailSendPayload{EmailLogID: 7, CampaignID: 42, Attempt: 3}
	data, err := p.marshal()
	require.NoError(t, err)

	got, err := UnmarshalEmailSendPayload(data)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.EmailLogID)
	require.Equal(t, int64(42), got.CampaignID)
	require.Equal(t, 3, got.Attempt)
}

func TestUnmarshalCampaignTickPayloadRejectsGarbage(t *testing.T) {
	_, err := UnmarshalCampaignTickPayload([]byte("not json"))
	require.Error(t, err)
}
