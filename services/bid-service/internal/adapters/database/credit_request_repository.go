package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
)

const (
	creditRequestColumns    = `id, user_id, amount, reason, status, admin_notes, created_at, updated_at, decided_at`
	onePendingPerUserConstr = "credit_requests_one_pending_per_user"
)

// PostgresCreditRequestRepository implements creditrequests.Repository using pgx
type PostgresCreditRequestRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCreditRequestRepository creates a new PostgreSQL credit request repository
func NewPostgresCreditRequestRepository(pool *pgxpool.Pool) *PostgresCreditRequestRepository {
	return &PostgresCreditRequestRepository{pool: pool}
}

// CreateRequest inserts a pending request
func (r *PostgresCreditRequestRepository) CreateRequest(ctx context.Context, tx pgx.Tx, req *creditrequests.CreditRequest) error {
	query := `
		INSERT INTO credit_requests (` + creditRequestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, query,
		req.ID,
		req.UserID,
		req.Amount,
		req.Reason,
		req.Status,
		req.AdminNotes,
		req.CreatedAt,
		req.UpdatedAt,
		req.DecidedAt,
	)
	if err != nil {
		if pkgdb.IsUniqueViolation(err, onePendingPerUserConstr) {
			return creditrequests.ErrDuplicatePendingRequest
		}
		return fmt.Errorf("failed to insert credit request: %w", err)
	}
	return nil
}

// HasPendingRequest reports whether the user already has a pending request
func (r *PostgresCreditRequestRepository) HasPendingRequest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credit_requests WHERE user_id = $1 AND status = 'pending')`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending request: %w", err)
	}
	return exists, nil
}

// GetRequestForUpdate locks the request row
func (r *PostgresCreditRequestRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*creditrequests.CreditRequest, error) {
	rows, err := tx.Query(ctx, `SELECT `+creditRequestColumns+` FROM credit_requests WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get credit request: %w", err)
	}
	req, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[creditrequests.CreditRequest])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, creditrequests.ErrCreditRequestNotFound
		}
		return nil, fmt.Errorf("failed to get credit request: %w", err)
	}
	return req, nil
}

// UpdateDecision stores the decided status
func (r *PostgresCreditRequestRepository) UpdateDecision(ctx context.Context, tx pgx.Tx, req *creditrequests.CreditRequest) error {
	query := `
		UPDATE credit_requests
		SET status = $1, admin_notes = $2, updated_at = $3, decided_at = $4
		WHERE id = $5
	`
	result, err := tx.Exec(ctx, query, req.Status, req.AdminNotes, req.UpdatedAt, req.DecidedAt, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update credit request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return creditrequests.ErrCreditRequestNotFound
	}
	return nil
}

// ListRequests returns requests newest first
func (r *PostgresCreditRequestRepository) ListRequests(ctx context.Context, filter creditrequests.ListFilter) ([]*creditrequests.CreditRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != uuid.Nil {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + creditRequestColumns + ` FROM credit_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit requests: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[creditrequests.CreditRequest])
	if err != nil {
		return nil, fmt.Errorf("failed to scan credit requests: %w", err)
	}
	return result, nil
}
