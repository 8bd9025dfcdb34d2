package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orellanin/campaignrunner/internal/engine"
)

// TryConsumeDailyQuota atomically increments the per-(smtpAccount,date)
// send counter, guarded so it never exceeds the account's daily_quota.
// granted is false if the quota is already exhausted for the day.
func (s *Store) TryConsumeDailyQuota(ctx context.Context, smtpAccountID int64, date time.Time) (granted bool, remaining int, err error) {
	day := date.UTC().Truncate(24 * time.Hour)

	tx, txErr := s.db.BeginTx(ctx, nil)
	if txErr != nil {
		return false, 0, engine.Wrap(engine.KindInternal, txErr, "begin quota tx")
	}
	defer tx.Rollback()

	var dailyQuota int
	if err := tx.QueryRowContext(ctx, `SELECT daily_quota FROM smtp_accounts WHERE id = $1 FOR UPDATE`, smtpAccountID).Scan(&dailyQuota); err != nil {
		return false, 0, engine.Wrap(engine.KindInternal, err, "load smtp account quota")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_quotas (smtp_account_id, quota_date, sent_count)
		VALUES ($1, $2, 0)
		ON CONFLICT (smtp_account_id, quota_date) DO NOTHING`, smtpAccountID, day)
	if err != nil {
		return false, 0, engine.Wrap(engine.KindInternal, err, "ensure quota row")
	}

	var sentCount int
	err = tx.QueryRowContext(ctx, `
		UPDATE daily_quotas SET sent_count = sent_count + 1
		WHERE smtp_account_id = $1 AND quota_date = $2 AND sent_count < $3
		RETURNING sent_count`, smtpAccountID, day, dailyQuota).Scan(&sentCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if commitErr := tx.Commit(); commitErr != nil {
				return false, 0, engine.Wrap(engine.KindInternal, commitErr, "commit quota tx")
			}
			return false, 0, nil
		}
		return false, 0, engine.Wrap(engine.KindInternal, err, "consume daily quota")
	}

	if err := tx.Commit(); err != nil {
		return false, 0, engine.Wrap(engine.KindInternal, err, "commit quota tx")
	}
	return true, dailyQuota - sentCount, nil
}

// RefundDailyQuota decrements a speculative consume that never reached
// the wire (pool acquire failure, panic recovery before send).
func (s *Store) RefundDailyQuota(ctx context.Context, smtpAccountID int64, date time.Time) error {
	day := date.UTC().Truncate(24 * time.Hour)
	_, err := s.db.ExecContext(ctx, `
		UPDATE daily_quotas SET sent_count = GREATEST(sent_count - 1, 0)
		WHERE smtp_account_id = $1 AND quota_date = $2`, smtpAccountID, day)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "refund daily quota")
	}
	return nil
}
