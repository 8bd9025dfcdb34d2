package engine

import (
	"database/sql/driver"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/orellanin/campaignrunner/internal/jobqueue"
	"github.com/orellanin/campaignrunner/internal/model"
	"github.com/orellanin/campaignrunner/internal/store"
)

var campaignColumns = []string{
	"id", "uuid", "user_id", "name", "template_id", "smtp_account_ids", "status",
	"scheduled_at", "started_at", "completed_at", "paused_at", "total_recipients",
	"sent_count", "failed_count", "bounce_count", "bounce_rate",
	"delay_between_emails_ms", "batch_size_min", "batch_size_max", "batch_delay_ms",
	"max_retries_per_email", "created_at", "updated_at",
}

func campaignRow(id int64, status model.CampaignStatus, totalRecipients int64) []driver.Value {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "uuid-1", int64(1), "spring sale", int64(1), "{1}", string(status),
		nil, nil, nil, nil, totalRecipients, int64(0), int64(0), int64(0), 0.0,
		int64(1000), int64(1), int64(5), int64(60000), int64(3), now, now,
	}
}

func newTestCommands(t *testing.T) (*Commands, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := jobqueue.NewClientForTest(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &Commands{Store: store.New(db, nil), Queue: client}, mock
}

func TestStartCampaignIsIdempotentWhenAlreadyRunning(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignRunning, 10)...))

	got, err := c.StartCampaign(t.Context(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, model.CampaignRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCampaignRejectsZeroRecipients(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignDraft, 0)...))

	_, err := c.StartCampaign(t.Context(), 1, 5)
	require.Error(t, err)
	require.Equal(t, KindPrecondition, KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartCampaignTransitionsDraftToRunning(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignDraft, 10)...))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignDraft, 10)...))
	mock.ExpectExec(`UPDATE campaigns SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := c.StartCampaign(t.Context(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, model.CampaignRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPauseCampaignIsIdempotentWhenAlreadyPaused(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignPaused, 10)...))

	got, err := c.PauseCampaign(t.Context(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, model.CampaignPaused, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeCampaignIsIdempotentWhenAlreadyRunning(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignRunning, 10)...))

	got, err := c.ResumeCampaign(t.Context(), 1, 5)
	require.NoError(t, err)
	require.Equal(t, model.CampaignRunning, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopCampaignIsNotIdempotent(t *testing.T) {
	c, mock := newTestCommands(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignCancelled, 10)...))
	mock.ExpectRollback()

	_, err := c.StopCampaign(t.Context(), 1, 5)
	require.Error(t, err)
	require.Equal(t, KindPrecondition, KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
