package store

import (
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestTryConsumeDailyQuotaGrantsUnderLimit(t *testing.T) {
	s, mock := newMockStore(t)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT daily_quota FROM smtp_accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_quota"}).AddRow(500))
	mock.ExpectExec(`INSERT INTO daily_quotas`).
		WithArgs(int64(9), day).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`UPDATE daily_quotas SET sent_count = sent_count \+ 1`).
		WithArgs(int64(9), day, 500).
		WillReturnRows(sqlmock.NewRows([]string{"sent_count"}).AddRow(1))
	mock.ExpectCommit()

	granted, remaining, err := s.TryConsumeDailyQuota(t.Context(), 9, day)
	require.NoError(t, err)
	require.True(t, granted)
	require.Equal(t, 499, remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryConsumeDailyQuotaDeniesAtLimit(t *testing.T) {
	s, mock := newMockStore(t)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT daily_quota FROM smtp_accounts WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_quota"}).AddRow(500))
	mock.ExpectExec(`INSERT INTO daily_quotas`).
		WithArgs(int64(9), day).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`UPDATE daily_quotas SET sent_count = sent_count \+ 1`).
		WithArgs(int64(9), day, 500).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	granted, remaining, err := s.TryConsumeDailyQuota(t.Context(), 9, day)
	require.NoError(t, err)
	require.False(t, granted)
	require.Equal(t, 0, remaining)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundDailyQuotaDecrementsFloorAtZero(t *testing.T) {
	s, mock := newMockStore(t)
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE daily_quotas SET sent_count = GREATEST`).
		WithArgs(int64(9), day).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RefundDailyQuota(t.Context(), 9, day)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
