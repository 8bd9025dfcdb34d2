package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InitSchema creates all required tables if they don't already exist.
// Called once on process startup.
func InitSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	uuid UUID UNIQUE DEFAULT gen_random_uuid(),
	email VARCHAR(255) UNIQUE NOT NULL,
	password_hash VARCHAR(255) NOT NULL,
	first_name VARCHAR(255),
	last_name VARCHAR(255),
	active BOOLEAN DEFAULT true,
	created_at TIMESTAMPTZ(6) DEFAULT NOW(),
	updated_at TIMESTAMPTZ(6) DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS smtp_accounts (
	id SERIAL PRIMARY KEY,
	uuid UUID UNIQUE DEFAULT gen_random_uuid(),
	user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name VARCHAR(255) NOT NULL,
	provider VARCHAR(20) NOT NULL DEFAULT 'smtp',
	host VARCHAR(255),
	port INT,
	secure BOOLEAN DEFAULT true,
	username VARCHAR(255),
	encrypted_password TEXT,
	aws_region VARCHAR(50),
	from_name VARCHAR(255) NOT NULL,
	from_email VARCHAR(255) NOT NULL,
	daily_quota INT NOT NULL DEFAULT 500,
	min_delay_seconds INT NOT NULL DEFAULT 10,
	max_delay_seconds INT NOT NULL DEFAULT 45,
	active BOOLEAN DEFAULT true,
	last_used_at TIMESTAMPTZ(6),
	created_at TIMESTAMPTZ(6) DEFAULT NOW(),
	updated_at TIMESTAMPTZ(6) DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS templates (
	id SERIAL PRIMARY KEY,
	uuid UUID UNIQUE DEFAULT gen_random_uuid(),
	user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name VARCHAR(255) NOT NULL,
	subject VARCHAR(500) NOT NULL,
	body_html TEXT NOT NULL,
	variables TEXT[] DEFAULT '{}',
	created_at TIMESTAMPTZ(6) DEFAULT NOW(),
	updated_at TIMESTAMPTZ(6) DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id SERIAL PRIMARY KEY,
	uuid UUID UNIQUE DEFAULT gen_random_uuid(),
	user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name VARCHAR(255) NOT NULL,
	template_id INT NOT NULL REFERENCES templates(id),
	smtp_account_ids INT[] NOT NULL,
	status VARCHAR(20) NOT NULL DEFAULT 'DRAFT',
	scheduled_at TIMESTAMPTZ(6),
	started_at TIMESTAMPTZ(6),
	completed_at TIMESTAMPTZ(6),
	paused_at TIMESTAMPTZ(6),
	total_recipients INT DEFAULT 0,
	sent_count INT DEFAULT 0,
	failed_count INT DEFAULT 0,
	bounce_count INT DEFAULT 0,
	bounce_rate NUMERIC(5,2) DEFAULT 0,
	delay_between_emails_ms INT NOT NULL DEFAULT 0,
	batch_size_min INT NOT NULL DEFAULT 20,
	batch_size_max INT NOT NULL DEFAULT 40,
	batch_delay_ms INT NOT NULL DEFAULT 300000,
	max_retries_per_email INT NOT NULL DEFAULT 3,
	created_at TIMESTAMPTZ(6) DEFAULT NOW(),
	updated_at TIMESTAMPTZ(6) DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS campaign_recipients (
	id BIGSERIAL PRIMARY KEY,
	campaign_id INT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	email VARCHAR(255) NOT NULL,
	first_name VARCHAR(255),
	last_name VARCHAR(255),
	vars JSONB DEFAULT '{}',
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	sent_at TIMESTAMPTZ(6),
	failed_reason TEXT,
	assigned_smtp_account_id INT REFERENCES smtp_accounts(id),
	claim_seq BIGINT,
	UNIQUE(campaign_id, email)
);
CREATE INDEX IF NOT EXISTS idx_campaign_recipients_status ON campaign_recipients(campaign_id, status);

CREATE TABLE IF NOT EXISTS email_logs (
	id BIGSERIAL PRIMARY KEY,
	campaign_id INT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	recipient_id BIGINT NOT NULL REFERENCES campaign_recipients(id) ON DELETE CASCADE,
	smtp_account_id INT NOT NULL REFERENCES smtp_accounts(id),
	status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
	subject_snapshot VARCHAR(500),
	sent_at TIMESTAMPTZ(6),
	failed_at TIMESTAMPTZ(6),
	error_message TEXT,
	message_id VARCHAR(500),
	bounce_reason TEXT,
	created_at TIMESTAMPTZ(6) DEFAULT NOW(),
	updated_at TIMESTAMPTZ(6) DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_email_logs_campaign ON email_logs(campaign_id, status);
CREATE INDEX IF NOT EXISTS idx_email_logs_recipient ON email_logs(recipient_id);

CREATE TABLE IF NOT EXISTS daily_quotas (
	id BIGSERIAL PRIMARY KEY,
	smtp_account_id INT NOT NULL REFERENCES smtp_accounts(id) ON DELETE CASCADE,
	quota_date DATE NOT NULL,
	sent_count INT NOT NULL DEFAULT 0,
	UNIQUE(smtp_account_id, quota_date)
);
`
