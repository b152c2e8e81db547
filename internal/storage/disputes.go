package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shinrai/internal/model"
)

// CreateDispute records d against a preview score, moves the score to
// disputed and writes the audit and notification rows.
func (db *DB) CreateDispute(ctx context.Context, d model.ScoreDispute) (model.ScoreDispute, error) {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var (
			personID uuid.UUID
			status   model.ScoreStatus
		)
		err := tx.QueryRow(ctx,
			`SELECT person_id, status FROM accountability_scores WHERE id = $1 FOR UPDATE`, d.ScoreID,
		).Scan(&personID, &status)
		if err != nil {
			return notFound(err)
		}
		if status != model.ScorePreview {
			return model.ErrScoreNotInPreview
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO accountability_score_disputes (id, score_id, user_id, reason, evidence, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, d.ScoreID, d.UserID, d.Reason, d.Evidence, d.Status, d.CreatedAt); err != nil {
			if pgCode(err) == codeUniqueViolation {
				return model.ErrDuplicateDispute
			}
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accountability_scores SET status = 'disputed' WHERE id = $1`, d.ScoreID); err != nil {
			return err
		}

		payload := map[string]any{"disputeId": d.ID.String(), "reason": d.Reason}
		actor := d.UserID
		if err := insertAudit(ctx, tx, d.ScoreID, model.ScoreAudit{
			Action:    model.AuditDisputeSubmitted,
			Payload:   payload,
			ActorID:   &actor,
			CreatedAt: d.CreatedAt,
		}); err != nil {
			return err
		}
		return insertScoreNotification(ctx, tx, model.ScoreNotification{
			PersonID:  personID,
			Type:      model.NotificationScoreDispute,
			Payload:   payload,
			CreatedAt: d.CreatedAt,
		})
	})
	if err != nil {
		return model.ScoreDispute{}, fmt.Errorf("storage: create dispute: %w", err)
	}
	return d, nil
}

// ResolveDispute closes a pending dispute. Approval publishes the score and
// rejection returns it to preview.
func (db *DB) ResolveDispute(ctx context.Context, review model.ScoreDispute) (model.ScoreDispute, error) {
	var d model.ScoreDispute
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id, score_id, user_id, reason, evidence, status, created_at
			 FROM accountability_score_disputes WHERE id = $1 FOR UPDATE`, review.ID,
		).Scan(&d.ID, &d.ScoreID, &d.UserID, &d.Reason, &d.Evidence, &d.Status, &d.CreatedAt)
		if err != nil {
			return notFound(err)
		}
		if d.Status != model.DisputePending {
			return model.ErrDisputeNotPending
		}

		d.Status = review.Status
		d.ReviewedBy = review.ReviewedBy
		d.ReviewNotes = review.ReviewNotes
		d.ReviewedAt = review.ReviewedAt
		if _, err := tx.Exec(ctx,
			`UPDATE accountability_score_disputes
			 SET status = $2, reviewed_by = $3, review_notes = $4, reviewed_at = $5
			 WHERE id = $1`,
			d.ID, d.Status, d.ReviewedBy, d.ReviewNotes, d.ReviewedAt); err != nil {
			return err
		}

		if d.Status == model.DisputeApproved {
			_, err = tx.Exec(ctx,
				`UPDATE accountability_scores SET status = 'published', published_at = $2 WHERE id = $1`,
				d.ScoreID, d.ReviewedAt)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE accountability_scores SET status = 'preview' WHERE id = $1`, d.ScoreID)
		}
		if err != nil {
			return err
		}

		payload := map[string]any{"disputeId": d.ID.String(), "status": string(d.Status)}
		if d.ReviewNotes != nil {
			payload["notes"] = *d.ReviewNotes
		}
		return insertAudit(ctx, tx, d.ScoreID, model.ScoreAudit{
			Action:    model.AuditDisputeReviewed,
			Payload:   payload,
			ActorID:   d.ReviewedBy,
			CreatedAt: *d.ReviewedAt,
		})
	})
	if err != nil {
		return model.ScoreDispute{}, fmt.Errorf("storage: resolve dispute: %w", err)
	}
	return d, nil
}
