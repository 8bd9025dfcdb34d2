package store

import (
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

var campaignColumns = []string{
	"id", "uuid", "user_id", "name", "template_id", "smtp_account_ids", "status",
	"scheduled_at", "started_at", "completed_at", "paused_at", "total_recipients",
	"sent_count", "failed_count", "bounce_count", "bounce_rate",
	"delay_between_emails_ms", "batch_size_min", "batch_size_max", "batch_delay_ms",
	"max_retries_per_email", "created_at", "updated_at",
}

func campaignRow(id int64, status model.CampaignStatus) []driver.Value {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "uuid-1", int64(1), "spring sale", int64(1), "{1}", string(status),
		nil, nil, nil, nil, int64(10), int64(0), int64(0), int64(0), 0.0,
		int64(1000), int64(1), int64(5), int64(60000), int64(3), now, now,
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, nil), mock
}

func TestTransitionCampaignRejectsDisallowedSourceStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(1, model.CampaignCancelled)...))
	mock.ExpectRollback()

	_, err := s.TransitionCampaign(t.Context(), 1, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, nil)
	require.Error(t, err)
	require.Equal(t, engine.KindPrecondition, engine.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCampaignAppliesMutateAndCommits(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(7, model.CampaignRunning)...))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE campaigns SET status = $1, scheduled_at = $2, started_at = $3, completed_at = $4,
			paused_at = $5, total_recipients = $6, sent_count = $7, failed_count = $8,
			bounce_count = $9, bounce_rate = $10, updated_at = NOW()
		WHERE id = $11`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var pausedAt *time.Time
	updated, err := s.TransitionCampaign(t.Context(), 7, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, func(c *model.Campaign) {
		now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		c.PausedAt = &now
		pausedAt = c.PausedAt
	})
	require.NoError(t, err)
	require.Equal(t, model.CampaignPaused, updated.Status)
	require.Same(t, pausedAt, updated.PausedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCampaignNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.TransitionCampaign(t.Context(), 99, []model.CampaignStatus{model.CampaignRunning}, model.CampaignPaused, nil)
	require.Error(t, err)
	require.Equal(t, engine.KindNotFound, engine.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
