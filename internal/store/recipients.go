package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

func marshalVars(vars map[string]string) ([]byte, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return json.Marshal(vars)
}

func unmarshalVars(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var vars map[string]string
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// ClaimNextBatch atomically flips up to limit recipient rows from
// PENDING or QUEUED (retry re-claim) to QUEUED, assigning each a
// monotonic per-campaign claim_seq. A row already QUEUED by this same
// call is never reclaimed twice.
func (s *Store) ClaimNextBatch(ctx context.Context, campaignID int64, limit int) ([]model.CampaignRecipient, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "begin claim tx")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM campaign_recipients
		WHERE campaign_id = $1 AND status IN ('PENDING','QUEUED')
		ORDER BY id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, campaignID, limit)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "select claimable recipients")
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, engine.Wrap(engine.KindInternal, err, "scan claimable id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "iterate claimable recipients")
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	var nextSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(claim_seq), 0) FROM campaign_recipients WHERE campaign_id = $1`, campaignID).Scan(&nextSeq); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "load claim sequence high water mark")
	}

	claimed := make([]model.CampaignRecipient, 0, len(ids))
	updateStmt, err := tx.PrepareContext(ctx, `
		UPDATE campaign_recipients SET status = 'QUEUED', claim_seq = $1 WHERE id = $2
		RETURNING id, campaign_id, email, first_name, last_name, vars, status, sent_at,
			failed_reason, assigned_smtp_account_id, claim_seq`)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "prepare claim update")
	}
	defer updateStmt.Close()

	for _, id := range ids {
		nextSeq++
		r, err := scanRecipient(updateStmt.QueryRowContext(ctx, nextSeq, id))
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "claim recipient")
		}
		claimed = append(claimed, *r)
	}

	if err := tx.Commit(); err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "commit claim tx")
	}
	return claimed, nil
}

// AssignSmtpAccount records which SmtpAccount a claimed recipient was
// routed to, called by the scheduler's pacing pass right after claim.
func (s *Store) AssignSmtpAccount(ctx context.Context, recipientID, smtpAccountID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE campaign_recipients SET assigned_smtp_account_id = $1 WHERE id = $2`,
		smtpAccountID, recipientID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "assign smtp account to recipient")
	}
	return nil
}

// ReleaseUnclaimedBatch flips QUEUED recipients with no EmailLog row yet
// back to PENDING, used by ResumeCampaign to undo a stale claim.
func (s *Store) ReleaseUnclaimedBatch(ctx context.Context, campaignID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'PENDING'
		WHERE campaign_id = $1 AND status = 'QUEUED'
		AND id NOT IN (SELECT recipient_id FROM email_logs WHERE campaign_id = $1)`, campaignID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "release unclaimed batch")
	}
	return nil
}

// CountPendingRecipients reports how many recipients are still PENDING or
// QUEUED (not yet in a terminal state), used by the tick algorithm's
// completion check.
func (s *Store) CountPendingRecipients(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1 AND status IN ('PENDING','QUEUED')`,
		campaignID).Scan(&n)
	if err != nil {
		return 0, engine.Wrap(engine.KindInternal, err, "count pending recipients")
	}
	return n, nil
}

func scanRecipient(row *sql.Row) (*model.CampaignRecipient, error) {
	var r model.CampaignRecipient
	var varsRaw []byte
	err := row.Scan(&r.ID, &r.CampaignID, &r.Email, &r.FirstName, &r.LastName, &varsRaw, &r.Status,
		&r.SentAt, &r.FailedReason, &r.AssignedSmtpAccountID, &r.ClaimSeq)
	if err != nil {
		return nil, err
	}
	r.Vars, err = unmarshalVars(varsRaw)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
