package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

// CreateSmtpAccountCommand is the input to CreateSmtpAccount. Password is
// the plaintext credential; it is encrypted before it ever reaches SQL.
type CreateSmtpAccountCommand struct {
	UserID          int64
	Name            string
	Provider        model.ProviderKind
	Host            string
	Port            int
	Secure          bool
	Username        string
	Password        string
	AWSRegion       string
	FromName        string
	FromEmail       string
	DailyQuota      int
	MinDelaySeconds int
	MaxDelaySeconds int
}

// CreateSmtpAccount encrypts the credential and inserts the account row.
// Callers are expected to have already verified the credential against
// the live provider before calling this (see engine.CreateSmtpAccount).
func (s *Store) CreateSmtpAccount(ctx context.Context, cmd CreateSmtpAccountCommand) (*model.SmtpAccount, error) {
	if cmd.FromEmail == "" || cmd.Name == "" {
		return nil, engine.Newf(engine.KindValidation, "name and from_email are required")
	}

	var encrypted string
	if cmd.Password != "" {
		var err error
		encrypted, err = s.box.Encrypt(cmd.Password)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "encrypt smtp credential")
		}
	}

	if cmd.DailyQuota <= 0 {
		cmd.DailyQuota = 500
	}
	if cmd.MinDelaySeconds <= 0 {
		cmd.MinDelaySeconds = 10
	}
	if cmd.MaxDelaySeconds <= 0 {
		cmd.MaxDelaySeconds = 45
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO smtp_accounts
			(user_id, name, provider, host, port, secure, username, encrypted_password,
			 aws_region, from_name, from_email, daily_quota, min_delay_seconds, max_delay_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, uuid, user_id, name, provider, host, port, secure, username,
			encrypted_password, aws_region, from_name, from_email, daily_quota,
			min_delay_seconds, max_delay_seconds, active, last_used_at, created_at, updated_at`,
		cmd.UserID, cmd.Name, cmd.Provider, cmd.Host, cmd.Port, cmd.Secure, cmd.Username, encrypted,
		cmd.AWSRegion, cmd.FromName, cmd.FromEmail, cmd.DailyQuota, cmd.MinDelaySeconds, cmd.MaxDelaySeconds,
	)

	acc, err := scanSmtpAccount(row)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert smtp account")
	}
	return acc, nil
}

// GetSmtpAccount loads one account, scoped to its owner.
func (s *Store) GetSmtpAccount(ctx context.Context, userID, id int64) (*model.SmtpAccount, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, user_id, name, provider, host, port, secure, username,
			encrypted_password, aws_region, from_name, from_email, daily_quota,
			min_delay_seconds, max_delay_seconds, active, last_used_at, created_at, updated_at
		FROM smtp_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	acc, err := scanSmtpAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "smtp account %d not found", id)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "get smtp account")
	}
	return acc, nil
}

// DecryptPassword returns the plaintext credential for an account. Used
// only by the sender when dialing a transport; never logged.
func (s *Store) DecryptPassword(acc *model.SmtpAccount) (string, error) {
	if acc.EncryptedPassword == "" {
		return "", nil
	}
	return s.box.Decrypt(acc.EncryptedPassword)
}

// ListSmtpAccounts returns every account owned by a user, newest first.
func (s *Store) ListSmtpAccounts(ctx context.Context, userID int64) ([]*model.SmtpAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, name, provider, host, port, secure, username,
			encrypted_password, aws_region, from_name, from_email, daily_quota,
			min_delay_seconds, max_delay_seconds, active, last_used_at, created_at, updated_at
		FROM smtp_accounts WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list smtp accounts")
	}
	defer rows.Close()

	var out []*model.SmtpAccount
	for rows.Next() {
		acc, err := scanSmtpAccountRows(rows)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan smtp account")
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// ListActiveSmtpAccountsByIDs loads the active accounts among ids, used by
// the scheduler to resolve a campaign's sending pool on each tick.
func (s *Store) ListActiveSmtpAccountsByIDs(ctx context.Context, ids []int64) ([]*model.SmtpAccount, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, user_id, name, provider, host, port, secure, username,
			encrypted_password, aws_region, from_name, from_email, daily_quota,
			min_delay_seconds, max_delay_seconds, active, last_used_at, created_at, updated_at
		FROM smtp_accounts WHERE id = ANY($1) AND active = true`, intArray(ids))
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "list active smtp accounts")
	}
	defer rows.Close()

	var out []*model.SmtpAccount
	for rows.Next() {
		acc, err := scanSmtpAccountRows(rows)
		if err != nil {
			return nil, engine.Wrap(engine.KindInternal, err, "scan smtp account")
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// ToggleSmtpAccount flips the active flag.
func (s *Store) ToggleSmtpAccount(ctx context.Context, userID, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE smtp_accounts SET active = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`,
		active, id, userID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "toggle smtp account")
	}
	return requireRowsAffected(res, "smtp account", id)
}

// TouchLastUsed records the most recent successful send through an
// account, called by the sender after every successful delivery.
func (s *Store) TouchLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `UPDATE smtp_accounts SET last_used_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "touch smtp account")
	}
	return nil
}

// DeleteSmtpAccount removes an account, rejecting the delete while any
// non-terminal campaign still references it.
func (s *Store) DeleteSmtpAccount(ctx context.Context, userID, id int64) error {
	var inUse bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM campaigns
			WHERE user_id = $1 AND $2 = ANY(smtp_account_ids)
			AND status NOT IN ('COMPLETED','FAILED','CANCELLED')
		)`, userID, id).Scan(&inUse)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "check smtp account usage")
	}
	if inUse {
		return engine.Newf(engine.KindPrecondition, "smtp account %d is used by an active campaign", id)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM smtp_accounts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "delete smtp account")
	}
	return requireRowsAffected(res, "smtp account", id)
}

func scanSmtpAccount(row *sql.Row) (*model.SmtpAccount, error) {
	var a model.SmtpAccount
	err := row.Scan(&a.ID, &a.UUID, &a.UserID, &a.Name, &a.Provider, &a.Host, &a.Port, &a.Secure,
		&a.Username, &a.EncryptedPassword, &a.AWSRegion, &a.FromName, &a.FromEmail, &a.DailyQuota,
		&a.MinDelaySeconds, &a.MaxDelaySeconds, &a.Active, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanSmtpAccountRows(rows *sql.Rows) (*model.SmtpAccount, error) {
	var a model.SmtpAccount
	err := rows.Scan(&a.ID, &a.UUID, &a.UserID, &a.Name, &a.Provider, &a.Host, &a.Port, &a.Secure,
		&a.Username, &a.EncryptedPassword, &a.AWSRegion, &a.FromName, &a.FromEmail, &a.DailyQuota,
		&a.MinDelaySeconds, &a.MaxDelaySeconds, &a.Active, &a.LastUsedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
