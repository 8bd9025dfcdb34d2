package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

// CreateQueuedEmailLog inserts the QUEUED EmailLog row the scheduler's
// tick algorithm creates for each recipient it paces into a send slot.
func (s *Store) CreateQueuedEmailLog(ctx context.Context, campaignID, recipientID, smtpAccountID int64) (*model.EmailLog, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO email_logs (campaign_id, recipient_id, smtp_account_id, status)
		VALUES ($1,$2,$3,'QUEUED')
		RETURNING id, campaign_id, recipient_id, smtp_account_id, status, subject_snapshot,
			sent_at, failed_at, error_message, message_id, bounce_reason, created_at, updated_at`,
		campaignID, recipientID, smtpAccountID)
	log, err := scanEmailLog(row)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert email log")
	}
	return log, nil
}

// EmailLogContext is the joined view the Sender loads for one job.
type EmailLogContext struct {
	Log       *model.EmailLog
	Recipient *model.CampaignRecipient
	Campaign  *model.Campaign
	Account   *model.SmtpAccount
}

// LoadEmailLogContext joins an EmailLog with its recipient, campaign and
// smtp account. Returns STALE_JOB if the EmailLog no longer exists (a
// stale job after a restart/delete).
func (s *Store) LoadEmailLogContext(ctx context.Context, emailLogID int64) (*EmailLogContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT el.id, el.campaign_id, el.recipient_id, el.smtp_account_id, el.status,
			el.subject_snapshot, el.sent_at, el.failed_at, el.error_message, el.message_id,
			el.bounce_reason, el.created_at, el.updated_at,
			r.id, r.campaign_id, r.email, r.first_name, r.last_name, r.vars, r.status, r.sent_at,
			r.failed_reason, r.assigned_smtp_account_id, r.claim_seq
		FROM email_logs el
		JOIN campaign_recipients r ON r.id = el.recipient_id
		WHERE el.id = $1`, emailLogID)

	var (
		log       model.EmailLog
		rec       model.CampaignRecipient
		recVars   []byte
	)
	err := row.Scan(&log.ID, &log.CampaignID, &log.RecipientID, &log.SmtpAccountID, &log.Status,
		&log.SubjectSnapshot, &log.SentAt, &log.FailedAt, &log.ErrorMessage, &log.MessageID,
		&log.BounceReason, &log.CreatedAt, &log.UpdatedAt,
		&rec.ID, &rec.CampaignID, &rec.Email, &rec.FirstName, &rec.LastName, &recVars, &rec.Status,
		&rec.SentAt, &rec.FailedReason, &rec.AssignedSmtpAccountID, &rec.ClaimSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindStaleJob, "email log %d no longer exists", emailLogID)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "load email log context")
	}
	rec.Vars, err = unmarshalVars(recVars)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "unmarshal recipient vars")
	}

	campaign, err := s.GetCampaignByIDUnscoped(ctx, log.CampaignID)
	if err != nil {
		return nil, err
	}
	account, err := s.getSmtpAccountUnscoped(ctx, log.SmtpAccountID)
	if err != nil {
		return nil, err
	}

	return &EmailLogContext{Log: &log, Recipient: &rec, Campaign: campaign, Account: account}, nil
}

func (s *Store) getSmtpAccountUnscoped(ctx context.Context, id int64) (*model.SmtpAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, provider, host, port, secure, username,
			encrypted_password, aws_region, from_name, from_email, daily_quota,
			min_delay_seconds, max_delay_seconds, active, last_used_at, created_at, updated_at
		FROM smtp_accounts WHERE id = $1`, id)
	acc, err := scanSmtpAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "smtp account %d not found", id)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "get smtp account")
	}
	return acc, nil
}

// SnapshotSubject records the rendered subject onto an EmailLog before
// send, step 5 of the sender algorithm.
func (s *Store) SnapshotSubject(ctx context.Context, emailLogID int64, subject string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE email_logs SET subject_snapshot = $1, updated_at = NOW() WHERE id = $2`,
		subject, emailLogID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "snapshot subject")
	}
	return nil
}

// AttemptOutcome is the terminal result of one email:send job run,
// recorded atomically by RecordAttemptOutcome.
type AttemptOutcome struct {
	Success      bool
	MessageID    string
	ErrorMessage string
	Bounce       bool
	BounceReason string
}

// RecordAttemptOutcome atomically updates the EmailLog row, its
// recipient, and the campaign's counters in one transaction, recomputing
// bounceRate, and returns the post-update campaign snapshot.
func (s *Store) RecordAttemptOutcome(ctx context.Context, emailLogID int64, outcome AttemptOutcome) (*model.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin outcome tx")
	}
	defer tx.Rollback()

	var campaignID, recipientID int64
	if err := tx.QueryRowContext(ctx, `SELECT campaign_id, recipient_id FROM email_logs WHERE id = $1`, emailLogID).
		Scan(&campaignID, &recipientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindStaleJob, "email log %d no longer exists", emailLogID)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "load email log campaign")
	}

	var c model.Campaign
	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1 FOR UPDATE`, campaignID)
	if err := row.Scan(scanCampaignDest(&c)...); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "lock campaign for outcome")
	}

	now := time.Now().UTC()
	if outcome.Success {
		_, err = tx.ExecContext(ctx, `
			UPDATE email_logs SET status = 'SENT', sent_at = $1, message_id = $2, updated_at = NOW()
			WHERE id = $3`, now, outcome.MessageID, emailLogID)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "mark email log sent")
		}
		_, err = tx.ExecContext(ctx, `UPDATE campaign_recipients SET status = 'SENT', sent_at = $1 WHERE id = $2`, now, recipientID)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "mark recipient sent")
		}
		c.SentCount++
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE email_logs SET status = 'FAILED', failed_at = $1, error_message = $2, bounce_reason = $3,
				updated_at = NOW() WHERE id = $4`, now, outcome.ErrorMessage, nullIfEmpty(outcome.BounceReason), emailLogID)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "mark email log failed")
		}
		recStatus := model.RecipientFailed
		if outcome.Bounce {
			recStatus = model.RecipientBounced
		}
		_, err = tx.ExecContext(ctx, `UPDATE campaign_recipients SET status = $1, failed_reason = $2 WHERE id = $3`,
			recStatus, outcome.ErrorMessage, recipientID)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "mark recipient failed")
		}
		c.FailedCount++
		if outcome.Bounce {
			c.BounceCount++
		}
	}
	c.RecomputeBounceRate()

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET sent_count = $1, failed_count = $2, bounce_count = $3, bounce_rate = $4,
			updated_at = NOW() WHERE id = $5`, c.SentCount, c.FailedCount, c.BounceCount, c.BounceRate, campaignID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "update campaign counters")
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit outcome tx")
	}
	return &c, nil
}

// MarkEmailLogFailedNoRetry is used for terminal non-SMTP failures
// (quota exceeded, stale job) that still need the campaign counters
// updated but carry no transport-level bounce classification.
func (s *Store) MarkEmailLogFailedNoRetry(ctx context.Context, emailLogID int64, reason string) (*model.Campaign, error) {
	return s.RecordAttemptOutcome(ctx, emailLogID, AttemptOutcome{Success: false, ErrorMessage: reason})
}

// ListEmailLogsFilter scopes ListEmailLogs.
type ListEmailLogsFilter struct {
	CampaignID int64
	Status     model.EmailLogStatus
	Limit      int
	Offset     int
}

// ListEmailLogs returns a paginated, optionally status-filtered page of
// EmailLog rows for a campaign.
func (s *Store) ListEmailLogs(ctx context.Context, f ListEmailLogsFilter) ([]*model.EmailLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, campaign_id, recipient_id, smtp_account_id, status, subject_snapshot, sent_at,
			failed_at, error_message, message_id, bounce_reason, created_at, updated_at
		FROM email_logs WHERE campaign_id = $1`
	args := []any{f.CampaignID}
	if f.Status != "" {
		query += ` AND status = $2 ORDER BY id DESC LIMIT $3 OFFSET $4`
		args = append(args, f.Status, limit, f.Offset)
	} else {
		query += ` ORDER BY id DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list email logs")
	}
	defer rows.Close()

	var out []*model.EmailLog
	for rows.Next() {
		var l model.EmailLog
		if err := rows.Scan(&l.ID, &l.CampaignID, &l.RecipientID, &l.SmtpAccountID, &l.Status,
			&l.SubjectSnapshot, &l.SentAt, &l.FailedAt, &l.ErrorMessage, &l.MessageID, &l.BounceReason,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan email log")
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// ListQueuedEmailLogIDs returns the ids of a campaign's still-QUEUED
// EmailLog rows, used by pause/auto-pause to cancel pending send jobs.
func (s *Store) ListQueuedEmailLogIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM email_logs WHERE campaign_id = $1 AND status = 'QUEUED'`, campaignID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list queued email logs")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan queued email log id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanEmailLog(row *sql.Row) (*model.EmailLog, error) {
	var l model.EmailLog
	err := row.Scan(&l.ID, &l.CampaignID, &l.RecipientID, &l.SmtpAccountID, &l.Status, &l.SubjectSnapshot,
		&l.SentAt, &l.FailedAt, &l.ErrorMessage, &l.MessageID, &l.BounceReason, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
