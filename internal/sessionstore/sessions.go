package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/lib/pq"
)

const sessionColumns = `session_ref, user_id, cart_id, items, total, currency, status, abandon_reason, expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.CheckoutSession, error) {
	var (
		s         domain.CheckoutSession
		itemsJSON []byte
	)
	if err := row.Scan(
		&s.Ref,
		&s.UserID,
		&s.CartID,
		&itemsJSON,
		&s.Total,
		&s.Currency,
		&s.Status,
		&s.AbandonReason,
		&s.ExpiresAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &s.Items); err != nil {
		return nil, fmt.Errorf("unmarshal session items: %w", err)
	}
	return &s, nil
}

func (r *Repository) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	itemsJSON, err := json.Marshal(s.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal session items: %w", err)
	}

	query := `INSERT INTO checkout_sessions (` + sessionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, insertErr := r.db.ExecContext(ctx, query,
		s.Ref,
		s.UserID,
		s.CartID,
		itemsJSON,
		s.Total,
		s.Currency,
		s.Status,
		s.AbandonReason,
		s.ExpiresAt,
		s.CreatedAt,
		s.UpdatedAt)
	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateSession
		}
		return fmt.Errorf("insert checkout session: %w", insertErr)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, ref string) (*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE session_ref = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkout session: %w", err)
	}
	return s, nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + `
	          FROM checkout_sessions
	          WHERE status = $1 AND expires_at <= $2
	          ORDER BY expires_at
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, domain.SessionStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListUnsettled returns terminal sessions whose cart has not been confirmed
// finished, oldest first.
func (r *Repository) ListUnsettled(ctx context.Context, limit int) ([]*domain.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + `
	          FROM checkout_sessions
	          WHERE status IN ($1, $2) AND NOT cart_settled
	          ORDER BY updated_at
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query,
		domain.SessionStatusCompleted, domain.SessionStatusAbandoned, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsettled sessions: %w", err)
	}
	return collectSessions(rows)
}

// MarkCartSettled records that the cart frozen by ref has left
// PENDING_CHECKOUT. Unknown refs are ignored.
func (r *Repository) MarkCartSettled(ctx context.Context, ref string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE checkout_sessions SET cart_settled = TRUE WHERE session_ref = $1`, ref)
	if err != nil {
		return fmt.Errorf("mark cart settled: %w", err)
	}
	return nil
}

func collectSessions(rows *sql.Rows) ([]*domain.CheckoutSession, error) {
	defer rows.Close()

	var sessions []*domain.CheckoutSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sessions, nil
}

func (r *Repository) AbandonSession(ctx context.Context, ref string, reason domain.AbandonReason) (bool, error) {
	query := `UPDATE checkout_sessions
	          SET status = $1, abandon_reason = $2, updated_at = NOW()
	          WHERE session_ref = $3 AND status = $4`

	res, err := r.db.ExecContext(ctx, query,
		domain.SessionStatusAbandoned, reason, ref, domain.SessionStatusPending)
	if err != nil {
		return false, fmt.Errorf("abandon session: %w", err)
	}
	return affected(res)
}

// CompleteSession marks the session completed and writes its order and
// outbox event in one transaction.
func (r *Repository) CompleteSession(ctx context.Context, order *domain.Order, event *OutboxEvent) (bool, error) {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return false, fmt.Errorf("failed to marshal order items: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, updated_at = NOW()
		 WHERE session_ref = $2 AND status = $3`,
		domain.SessionStatusCompleted, order.SessionRef, domain.SessionStatusPending)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, session_ref, user_id, items, total, currency, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID,
		order.SessionRef,
		order.UserID,
		itemsJSON,
		order.Total,
		order.Currency,
		order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return false, ErrDuplicateOrder
		}
		return false, fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		event.ID, event.AggregateID, event.EventType, event.Payload)
	if err != nil {
		return false, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (r *Repository) MarkManualReview(ctx context.Context, issue *domain.ReconciliationIssue) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE checkout_sessions SET status = $1, updated_at = NOW()
		 WHERE session_ref = $2 AND status = $3`,
		domain.SessionStatusManualReview, issue.SessionRef, domain.SessionStatusPending)
	if err != nil {
		return false, fmt.Errorf("mark manual review: %w", err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}

	if err := insertIssue(ctx, tx, issue); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

func (r *Repository) RecordIssue(ctx context.Context, issue *domain.ReconciliationIssue) error {
	return insertIssue(ctx, r.db, issue)
}

func (r *Repository) ListIssues(ctx context.Context, ref string) ([]*domain.ReconciliationIssue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_ref, expected, confirmed, reason, detected_at
		 FROM reconciliation_issues WHERE session_ref = $1 ORDER BY id`, ref)
	if err != nil {
		return nil, fmt.Errorf("query reconciliation issues: %w", err)
	}
	defer rows.Close()

	var issues []*domain.ReconciliationIssue
	for rows.Next() {
		var i domain.ReconciliationIssue
		if err := rows.Scan(&i.SessionRef, &i.Expected, &i.Confirmed, &i.Reason, &i.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan issue row: %w", err)
		}
		issues = append(issues, &i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return issues, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertIssue(ctx context.Context, db execer, issue *domain.ReconciliationIssue) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO reconciliation_issues (session_ref, expected, confirmed, reason, detected_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_ref, reason, confirmed) DO NOTHING`,
		issue.SessionRef, issue.Expected, issue.Confirmed, issue.Reason, issue.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert reconciliation issue: %w", err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
