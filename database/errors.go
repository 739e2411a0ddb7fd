package database

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/kbukum/e2ekit/errors"
)

// IsConnectionError reports whether err looks like a lost or refused
// connection that a retry might fix.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no route to host",
		"connection closed",
		"unexpected eof",
		"driver: bad connection",
		"the database system is starting up",
		"the database system is shutting down",
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p) {
			return true
		}
	}
	return false
}

// IsRetryableError determines if a database error should trigger a retry.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if IsConnectionError(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57P03":
			return true
		}
	}
	return false
}

// FromDatabase converts a database error into an AppError.
func FromDatabase(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if ae, ok := apperrors.AsAppError(err); ok {
		return ae
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("record", "")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.AlreadyExists(pgErr.TableName).WithCause(err)
	}
	if IsConnectionError(err) {
		return apperrors.ConnectionFailed("database").WithCause(err)
	}
	ae := apperrors.DatabaseError(err)
	ae.Retryable = IsRetryableError(err)
	return ae
}
