package store

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/orellanin/campaignrunner/internal/engine"
)

// isUniqueViolation reports whether err is a Postgres unique_violation,
// the one pq error code every store method needs to translate into a
// validation error instead of an internal one.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// isForeignKeyViolation reports whether err is a Postgres
// foreign_key_violation.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return false
}

// intArray adapts a plain int64 slice for use with pq's ANY($1) syntax.
func intArray(ids []int64) interface{} {
	return pq.Array(ids)
}

// requireRowsAffected returns a NOT_FOUND error if res reports zero rows
// affected, the standard idiom for scoped UPDATE/DELETE statements where
// the WHERE clause also enforces ownership.
func requireRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return engine.Wrap(engine.KindInternal, err, "check rows affected")
	}
	if n == 0 {
		return engine.Newf(engine.KindNotFound, "%s %d not found", entity, id)
	}
	return nil
}
