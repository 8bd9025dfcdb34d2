package store

import (
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/orellanin/campaignrunner/internal/cryptobox"
	"github.com/orellanin/campaignrunner/internal/engine"
	"github.com/orellanin/campaignrunner/internal/model"
)

func newMockStoreWithBox(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := cryptobox.New("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return New(db, box), mock
}

func smtpAccountRow(id int64, encrypted string) *sqlmock.Rows {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{
		"id", "uuid", "user_id", "name", "provider", "host", "port", "secure", "username",
		"encrypted_password", "aws_region", "from_name", "from_email", "daily_quota",
		"min_delay_seconds", "max_delay_seconds", "active", "last_used_at", "created_at", "updated_at",
	}).AddRow(id, "uuid-acc", int64(1), "primary", "smtp", "smtp.example.com", 587, true, "user",
		encrypted, "", "sender", "sender@example.com", 500, 10, 45, true, nil, now, now)
}

func TestCreateSmtpAccountEncryptsPasswordBeforeInsert(t *testing.T) {
	s, mock := newMockStoreWithBox(t)

	mock.ExpectQuery(`INSERT INTO smtp_accounts`).
		WithArgs(int64(1), "primary", model.ProviderSMTP, "smtp.example.com", 587, true, "user",
			sqlmock.AnyArg(), "", "sender", "sender@example.com", 500, 10, 45).
		WillReturnRows(smtpAccountRow(1, "ciphertext"))

	acc, err := s.CreateSmtpAccount(t.Context(), CreateSmtpAccountCommand{
		UserID: 1, Name: "primary", Provider: model.ProviderSMTP, Host: "smtp.example.com", Port: 587,
		Secure: true, Username: "user", Password: "hunter2", FromName: "sender", FromEmail: "sender@example.com",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), acc.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSmtpAccountRequiresNameAndFromEmail(t *testing.T) {
	s, _ := newMockStoreWithBox(t)
	_, err := s.CreateSmtpAccount(t.Context(), CreateSmtpAccountCommand{UserID: 1})
	require.Error(t, err)
	require.Equal(t, engine.KindValidation, engine.KindOf(err))
}

func TestDecryptPasswordRoundTripsThroughEncrypt(t *testing.T) {
	s, _ := newMockStoreWithBox(t)

	encrypted, err := s.box.Encrypt("hunter2")
	require.NoError(t, err)

	got, err := s.DecryptPassword(&model.SmtpAccount{EncryptedPassword: encrypted})
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestDecryptPasswordEmptyIsEmpty(t *testing.T) {
	s, _ := newMockStoreWithBox(t)
	got, err := s.DecryptPassword(&model.SmtpAccount{EncryptedPassword: ""})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGetSmtpAccountNotFound(t *testing.T) {
	s, mock := newMockStoreWithBox(t)
	mock.ExpectQuery(`SELECT id, uuid, user_id, name, provider, host`).
		WithArgs(int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "uuid", "user_id", "name", "provider", "host", "port", "secure", "username",
			"encrypted_password", "aws_region", "from_name", "from_email", "daily_quota",
			"min_delay_seconds", "max_delay_seconds", "active", "last_used_at", "created_at", "updated_at",
		}))

	_, err := s.GetSmtpAccount(t.Context(), 1, 1)
	require.Error(t, err)
	require.Equal(t, engine.KindNotFound, engine.KindOf(err))
}

func TestDeleteSmtpAccountRejectedWhileInUse(t *testing.T) {
	s, mock := newMockStoreWithBox(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(1), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.DeleteSmtpAccount(t.Context(), 1, 9)
	require.Error(t, err)
	require.Equal(t, engine.KindPrecondition, engine.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
