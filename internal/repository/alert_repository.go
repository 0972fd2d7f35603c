package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
)

// AlertRepository handles persistence for fraud alerts and their audit trail.
// Alerts are never deleted; every status change appends an audit row.
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository constructs the repository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// FindByID loads a single alert.
func (r *AlertRepository) FindByID(ctx context.Context, id string) (*models.FraudAlert, error) {
	query := fmt.Sprintf(`SELECT %s FROM fraud_alerts WHERE id = $1`, alertColumns)
	var alert models.FraudAlert
	if err := r.db.GetContext(ctx, &alert, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find alert: %w", err)
	}
	return &alert, nil
}

// List returns alerts matching the filter.
func (r *AlertRepository) List(ctx context.Context, filter models.AlertFilter) ([]models.FraudAlert, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM fraud_alerts WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		alertColumns, whereClause, size, offset)
	var rows []models.FraudAlert
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM fraud_alerts WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}
	return rows, total, nil
}

// Transition performs a compare-and-swap status update and appends the audit
// row in the same transaction. sql.ErrNoRows means the alert was not in any
// of the expected from-states (closed, or mid-transition elsewhere).
func (r *AlertRepository) Transition(ctx context.Context, id string, from []models.AlertStatus, to models.AlertStatus, actor string, now time.Time) (*models.FraudAlert, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin alert transition: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	fromValues := make([]string, len(from))
	for i, s := range from {
		fromValues[i] = string(s)
	}
	query := fmt.Sprintf(`UPDATE fraud_alerts
SET status = $2,
    resolved_at = CASE WHEN $2 IN ('RESOLVED','DISMISSED') THEN $3 ELSE resolved_at END,
    resolved_by = CASE WHEN $2 IN ('RESOLVED','DISMISSED') THEN $4 ELSE resolved_by END
WHERE id = $1 AND status = ANY($5)
RETURNING %s`, alertColumns)
	var updated models.FraudAlert
	prev, err := r.findStatusTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.GetContext(ctx, &updated, query, id, to, now, actor, pq.Array(fromValues)); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("transition alert: %w", err)
	}

	audit := `INSERT INTO fraud_alert_audit (alert_id, actor, from_status, to_status, created_at)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, audit, id, actor, prev, updated.Status, now); err != nil {
		return nil, fmt.Errorf("append alert audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit alert transition: %w", err)
	}
	commit = true
	return &updated, nil
}

func (r *AlertRepository) findStatusTx(ctx context.Context, tx *sqlx.Tx, id string) (models.AlertStatus, error) {
	var status models.AlertStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM fraud_alerts WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("load alert status: %w", err)
	}
	return status, nil
}

// AuditTrail returns the append-only disposition history for an alert.
func (r *AlertRepository) AuditTrail(ctx context.Context, alertID string) ([]models.AlertAuditEntry, error) {
	query := `SELECT id, alert_id, actor, from_status, to_status, created_at
FROM fraud_alert_audit WHERE alert_id = $1 ORDER BY created_at ASC, id ASC`
	var rows []models.AlertAuditEntry
	if err := r.db.SelectContext(ctx, &rows, query, alertID); err != nil {
		return nil, fmt.Errorf("alert audit trail: %w", err)
	}
	return rows, nil
}
