package store

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

// RegisterUserCommand is the input to RegisterUser.
type RegisterUserCommand struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// RegisterUser hashes the password with bcrypt and inserts the user row.
// Full session/auth management is external to this engine; this is the
// one piece of user management the engine itself needs (campaigns are
// owned by a user).
func (s *Store) RegisterUser(ctx context.Context, cmd RegisterUserCommand) (*model.User, error) {
	if cmd.Email == "" || cmd.Password == "" {
		return nil, engine.Newf(engine.KindValidation, "email and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "hash password")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, uuid, email, password_hash, first_name, last_name, active, created_at, updated_at`,
		cmd.Email, string(hash), cmd.FirstName, cmd.LastName,
	)

	u, err := scanUser(row)
	if isUniqueViolation(err) {
		return nil, engine.Newf(engine.KindValidation, "email already registered")
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "insert user")
	}
	return u, nil
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, email, password_hash, first_name, last_name, active, created_at, updated_at
		FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.Newf(engine.KindNotFound, "user %d not found", id)
	}
	if err != nil {
		return nil, engine.Wrap(engine.KindInternal, err, "get user")
	}
	return u, nil
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.UUID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
