// Package store is the transactional persistence layer for every entity
// in the campaign dispatch engine. It talks raw SQL over database/sql,
// matching the rest of this codebase's no-ORM convention.
package store

import (
	"database/sql"

	"github.com/orellanin/campaignrunner/internal/cryptobox"
)

// Store wraps a Postgres connection pool and the encryption box used for
// SmtpAccount passwords.
type Store struct {
	db  *sql.DB
	box *cryptobox.Box
}

// New builds a Store.
func New(db *sql.DB, box *cryptobox.Box) *Store {
	return &Store{db: db, box: box}
}
