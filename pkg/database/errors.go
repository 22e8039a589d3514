package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDependencyFailure marks failures of the record store that are not the
// caller's fault. Callers may retry later; nothing retries automatically.
var ErrDependencyFailure = errors.New("record store unavailable")

// Postgres SQLSTATE codes the services branch on.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
// If constraint is non-empty the violated constraint name must match too.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	return pgCode(err) == codeCheckViolation
}

// IsDependencyFailure reports whether err was caused by the store being
// slow, contended or unreachable rather than by a business rule.
func IsDependencyFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDependencyFailure) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) {
		return true
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}

	switch pgCode(err) {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
		return true
	}
	return false
}

// Classify tags store failures with ErrDependencyFailure so callers can
// tell them apart from business rule violations. Other errors pass through.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrDependencyFailure) || !IsDependencyFailure(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDependencyFailure, err)
}
