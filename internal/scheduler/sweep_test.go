package scheduler

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

var smtpAccountColumns = []string{
	"id", "uuid", "user_id", "name", "provider", "host", "port", "secure", "username",
	"encrypted_password", "aws_region", "from_name", "from_email", "daily_quota",
	"min_delay_seconds", "max_delay_seconds", "active", "last_used_at", "created_at", "updated_at",
}

func activeSmtpAccountRow(id int64) []driver.Value {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "uuid-acc", int64(1), "primary", "smtp", "smtp.example.com", int64(587), true, "user",
		"", "", "sender", "sender@example.com", int64(500),
		int64(10), int64(45), true, nil, now, now,
	}
}

func newTestDeps(t *testing.T) (*Deps, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := jobqueue.NewClientForTest(opt)
	t.Cleanup(func() { client.Close() })

	return &Deps{
		Store: store.New(db, nil),
		Queue: client,
		Clock: func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
	}, mock
}

func TestPromoteOrFailFailsCampaignWithNoActiveAccounts(t *testing.T) {
	d, mock := newTestDeps(t)
	due := &model.Campaign{ID: 5, SmtpAccountIDs: []int64{9}, TotalRecipients: 10}

	mock.ExpectQuery(`SELECT id, uuid, user_id, name, provider, host`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(smtpAccountColumns))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(5, model.CampaignScheduled, 10)...))
	mock.ExpectExec(`UPDATE campaigns SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := promoteOrFail(t.Context(), d, due)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteOrFailPromotesAndEnqueuesTick(t *testing.T) {
	d, mock := newTestDeps(t)
	due := &model.Campaign{ID: 6, SmtpAccountIDs: []int64{9}, TotalRecipients: 10}

	mock.ExpectQuery(`SELECT id, uuid, user_id, name, provider, host`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(smtpAccountColumns).AddRow(activeSmtpAccountRow(9)...))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at`).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(campaignColumns).AddRow(campaignRow(6, model.CampaignScheduled, 10)...))
	mock.ExpectExec(`UPDATE campaigns SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := promoteOrFail(t.Context(), d, due)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
