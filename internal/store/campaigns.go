package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

// RecipientInput is one row of an ingested audience before dedup.
type RecipientInput struct {
	Email     string
	FirstName string
	LastName  string
	Vars      map[string]string
}

// CreateCampaignCommand is the input to CreateCampaign.
type CreateCampaignCommand struct {
	UserID         int64
	Name           string
	TemplateID     int64
	SmtpAccountIDs []int64
	ScheduledAt    *time.Time
	Settings       model.CampaignSettings
	Recipients     []RecipientInput
}

// CreateCampaign validates ownership of the template and smtp accounts,
// dedups recipients by lowercased email, and inserts the campaign plus
// its recipient rows in one transaction.
func (s *Store) CreateCampaign(ctx context.Context, cmd CreateCampaignCommand) (*model.Campaign, error) {
	if cmd.Name == "" {
		return nil, engine.Newf(engine.KindValidation, "campaign name is required")
	}
	if len(cmd.SmtpAccountIDs) == 0 {
		return nil, engine.Newf(engine.KindValidation, "at least one smtp account is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin create campaign tx")
	}
	defer tx.Rollback()

	var templateOwned bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM templates WHERE id = $1 AND user_id = $2)`,
		cmd.TemplateID, cmd.UserID).Scan(&templateOwned); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "check template ownership")
	}
	if !templateOwned {
		return nil, engine.Newf(engine.KindValidation, "template %d is not owned by this user", cmd.TemplateID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, active FROM smtp_accounts WHERE id = ANY($1) AND user_id = $2`,
		intArray(cmd.SmtpAccountIDs), cmd.UserID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "check smtp account ownership")
	}
	seen := make(map[int64]bool, len(cmd.SmtpAccountIDs))
	for rows.Next() {
		var id int64
		var active bool
		if err := rows.Scan(&id, &active); err != nil {
			rows.Close()
			return nil, engine.Wrap(engine.KindInternal, err, "scan smtp account")
		}
		if !active {
			rows.Close()
			return nil, engine.Newf(engine.KindValidation, "smtp account %d is inactive", id)
		}
		seen[id] = true
	}
	rows.Close()
	for _, id := range cmd.SmtpAccountIDs {
		if !seen[id] {
			return nil, engine.Newf(engine.KindValidation, "smtp account %d is not owned by this user", id)
		}
	}

	deduped := dedupRecipients(cmd.Recipients)

	status := model.CampaignRunning
	if cmd.ScheduledAt != nil && cmd.ScheduledAt.After(time.Now().UTC()) {
		status = model.CampaignScheduled
	}
	if status == model.CampaignRunning && len(deduped) == 0 {
		return nil, engine.Newf(engine.KindPrecondition, "campaign has no recipients")
	}

	var c model.Campaign
	err = tx.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			 total_recipients, delay_between_emails_ms, batch_size_min, batch_size_max,
			 batch_delay_ms, max_retries_per_email)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at`,
		cmd.UserID, cmd.Name, cmd.TemplateID, intArray(cmd.SmtpAccountIDs), status, cmd.ScheduledAt,
		len(deduped), cmd.Settings.DelayBetweenEmails.Milliseconds(), cmd.Settings.BatchSizeMin,
		cmd.Settings.BatchSizeMax, cmd.Settings.BatchDelay.Milliseconds(), cmd.Settings.MaxRetriesPerEmail,
	).Scan(scanCampaignDest(&c)...)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert campaign")
	}

	if len(deduped) > 0 {
		if err := insertRecipients(ctx, tx, c.ID, deduped); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit create campaign tx")
	}
	return &c, nil
}

func dedupRecipients(in []RecipientInput) []RecipientInput {
	seen := make(map[string]bool, len(in))
	out := make([]RecipientInput, 0, len(in))
	for _, r := range in {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		r.Email = email
		out = append(out, r)
	}
	return out
}

func insertRecipients(ctx context.Context, tx *sql.Tx, campaignID int64, recipients []RecipientInput) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_recipients (campaign_id, email, first_name, last_name, vars)
		VALUES ($1,$2,$3,$4,$5)`)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "prepare recipient insert")
	}
	defer stmt.Close()

	for _, r := range recipients {
		varsJSON, err := marshalVars(r.Vars)
		if err != nil {
			return engine.Wrap(engine.KindInternal, err, "marshal recipient vars")
		}
		if _, err := stmt.ExecContext(ctx, campaignID, r.Email, nullIfEmpty(r.FirstName), nullIfEmpty(r.LastName), varsJSON); err != nil {
			return engine.Wrap(engine.KindInternal, err, "insert recipient")
		}
	}
	return nil
}

// TransitionCampaign performs the compare-and-swap status flip under a
// row lock; mutate may set transition-specific fields in the same
// transaction as the status change.
func (s *Store) TransitionCampaign(ctx context.Context, id int64, from []model.CampaignStatus, to model.CampaignStatus, mutate func(*model.Campaign)) (*model.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin transition tx")
	}
	defer tx.Rollback()

	var c model.Campaign
	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(scanCampaignDest(&c)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindNotFound, "campaign %d not found", id)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "lock campaign")
	}

	if !statusIn(c.Status, from) {
		return nil, engine.Newf(engine.KindPrecondition, "campaign %d is %s, cannot transition to %s", id, c.Status, to)
	}

	c.Status = to
	if mutate != nil {
		mutate(&c)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, scheduled_at = $2, started_at = $3, completed_at = $4,
			paused_at = $5, total_recipients = $6, sent_count = $7, failed_count = $8,
			bounce_count = $9, bounce_rate = $10, updated_at = NOW()
		WHERE id = $11`,
		c.Status, c.ScheduledAt, c.StartedAt, c.CompletedAt, c.PausedAt, c.TotalRecipients,
		c.SentCount, c.FailedCount, c.BounceCount, c.BounceRate, id)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "update campaign transition")
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit transition tx")
	}
	return &c, nil
}

func statusIn(s model.CampaignStatus, set []model.CampaignStatus) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// RestartCampaign resets a COMPLETED/FAILED/PAUSED campaign to RUNNING,
// purging prior EmailLog rows and resetting recipients to PENDING.
func (s *Store) RestartCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin restart tx")
	}
	defer tx.Rollback()

	var c model.Campaign
	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1 FOR UPDATE`, id)
	if err := row.Scan(scanCampaignDest(&c)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindNotFound, "campaign %d not found", id)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "lock campaign")
	}
	if c.Status != model.CampaignCompleted && c.Status != model.CampaignFailed && c.Status != model.CampaignPaused {
		return nil, engine.Newf(engine.KindPrecondition, "campaign %d is %s, cannot restart", id, c.Status)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM email_logs WHERE campaign_id = $1`, id); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "purge email logs")
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'PENDING', sent_at = NULL, failed_reason = NULL,
			assigned_smtp_account_id = NULL, claim_seq = NULL WHERE campaign_id = $1`, id); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "reset recipients")
	}

	c.Status = model.CampaignRunning
	c.SentCount, c.FailedCount, c.BounceCount = 0, 0, 0
	c.BounceRate = 0
	c.StartedAt, c.CompletedAt, c.PausedAt = nil, nil, nil

	_, err = tx.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, sent_count = 0, failed_count = 0, bounce_count = 0,
			bounce_rate = 0, started_at = NULL, completed_at = NULL, paused_at = NULL, updated_at = NOW()
		WHERE id = $2`, c.Status, id)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "update campaign restart")
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit restart tx")
	}
	return &c, nil
}

// DuplicateCampaign deep-copies a campaign's config and recipients into a
// fresh DRAFT campaign with every recipient reset to PENDING.
func (s *Store) DuplicateCampaign(ctx context.Context, userID, id int64, newName string) (*model.Campaign, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin duplicate tx")
	}
	defer tx.Rollback()

	var src model.Campaign
	row := tx.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID)
	if err := row.Scan(scanCampaignDest(&src)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindNotFound, "campaign %d not found", id)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "load source campaign")
	}

	var dst model.Campaign
	err = tx.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(user_id, name, template_id, smtp_account_ids, status, total_recipients,
			 delay_between_emails_ms, batch_size_min, batch_size_max, batch_delay_ms, max_retries_per_email)
		VALUES ($1,$2,$3,$4,'DRAFT',$5,$6,$7,$8,$9,$10)
		RETURNING id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at`,
		userID, newName, src.TemplateID, intArray(src.SmtpAccountIDs), src.TotalRecipients,
		src.Settings.DelayBetweenEmails.Milliseconds(), src.Settings.BatchSizeMin,
		src.Settings.BatchSizeMax, src.Settings.BatchDelay.Milliseconds(), src.Settings.MaxRetriesPerEmail,
	).Scan(scanCampaignDest(&dst)...)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert duplicated campaign")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaign_recipients (campaign_id, email, first_name, last_name, vars, status)
		SELECT $1, email, first_name, last_name, vars, 'PENDING' FROM campaign_recipients WHERE campaign_id = $2`,
		dst.ID, src.ID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "duplicate recipients")
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit duplicate tx")
	}
	return &dst, nil
}

// DeleteCampaign removes a campaign and its recipients/logs (cascade),
// refusing while it is RUNNING.
func (s *Store) DeleteCampaign(ctx context.Context, userID, id int64) error {
	var status model.CampaignStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Newf(engine.KindNotFound, "campaign %d not found", id)
	}
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "load campaign status")
	}
	if status == model.CampaignRunning {
		return engine.Newf(engine.KindPrecondition, "campaign %d is running, pause or stop it first", id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "delete campaign")
	}
	return requireRowsAffected(res, "campaign", id)
}

// GetCampaign loads one campaign, scoped to its owner.
func (s *Store) GetCampaign(ctx context.Context, userID, id int64) (*model.Campaign, error) {
	var c model.Campaign
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1 AND user_id = $2`, id, userID)
	if err := row.Scan(scanCampaignDest(&c)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindNotFound, "campaign %d not found", id)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "get campaign")
	}
	return &c, nil
}

// GetCampaignByIDUnscoped loads a campaign by id only, for background
// workers that do not carry a user context.
func (s *Store) GetCampaignByIDUnscoped(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE id = $1`, id)
	if err := row.Scan(scanCampaignDest(&c)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engine.Newf(engine.KindNotFound, "campaign %d not found", id)
		}
		return nil, engine.Wrap(engine.KindInternal, err, "get campaign")
	}
	return &c, nil
}

// ListCampaigns returns every campaign owned by a user, newest first.
func (s *Store) ListCampaigns(ctx context.Context, userID int64) ([]*model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list campaigns")
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(scanCampaignRowsDest(&c)...); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan campaign")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ListDueScheduledCampaigns returns every SCHEDULED campaign whose
// scheduled_at has passed, for the calendar sweep.
func (s *Store) ListDueScheduledCampaigns(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, name, template_id, smtp_account_ids, status, scheduled_at,
			started_at, completed_at, paused_at, total_recipients, sent_count, failed_count,
			bounce_count, bounce_rate, delay_between_emails_ms, batch_size_min, batch_size_max,
			batch_delay_ms, max_retries_per_email, created_at, updated_at
		FROM campaigns WHERE status = 'SCHEDULED' AND scheduled_at <= NOW()`)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list due campaigns")
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(scanCampaignRowsDest(&c)...); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan campaign")
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// CampaignStats is the read-model for GetCampaignStats.
type CampaignStats struct {
	Campaign        *model.Campaign
	PendingCount    int
	QueuedCount     int
	SentCount       int
	FailedCount     int
	BouncedCount    int
}

// GetCampaignStats joins the campaign row with a live recipient-status
// breakdown.
func (s *Store) GetCampaignStats(ctx context.Context, userID, id int64) (*CampaignStats, error) {
	c, err := s.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 GROUP BY status`, id)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "load recipient status breakdown")
	}
	defer rows.Close()

	stats := &CampaignStats{Campaign: c}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan status breakdown")
		}
		switch model.RecipientStatus(status) {
		case model.RecipientPending:
			stats.PendingCount = count
		case model.RecipientQueued:
			stats.QueuedCount = count
		case model.RecipientSent:
			stats.SentCount = count
		case model.RecipientFailed:
			stats.FailedCount = count
		case model.RecipientBounced:
			stats.BouncedCount = count
		}
	}
	return stats, rows.Err()
}

func scanCampaignDest(c *model.Campaign) []any {
	return []any{
		&c.ID, &c.UUID, &c.UserID, &c.Name, &c.TemplateID, pq.Array(&c.SmtpAccountIDs), &c.Status,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.PausedAt, &c.TotalRecipients, &c.SentCount,
		&c.FailedCount, &c.BounceCount, &c.BounceRate, durationMsDest(&c.Settings.DelayBetweenEmails),
		&c.Settings.BatchSizeMin, &c.Settings.BatchSizeMax, durationMsDest(&c.Settings.BatchDelay),
		&c.Settings.MaxRetriesPerEmail, &c.CreatedAt, &c.UpdatedAt,
	}
}

func scanCampaignRowsDest(c *model.Campaign) []any {
	return scanCampaignDest(c)
}

// durationMsScan adapts a millisecond INT column onto a time.Duration field.
type durationMsScan struct{ d *time.Duration }

func durationMsDest(d *time.Duration) *durationMsScan { return &durationMsScan{d: d} }

func (s *durationMsScan) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*s.d = time.Duration(v) * time.Millisecond
	case nil:
		*s.d = 0
	default:
		return fmt.Errorf("durationMsScan: unsupported type %T", src)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
