package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fastygo/identity/domain"
)

const uniqueViolation = "23505"

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// classify maps driver errors onto the domain taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrIdentityNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return domain.ErrIdentityExists
		}
		return domain.WrapError(domain.ErrCodeInternal, op, err)
	}
	return domain.Unavailable(op, err)
}
