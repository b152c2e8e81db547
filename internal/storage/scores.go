package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shinrai/internal/model"
)

const scoreColumns = `id, person_id, overall_score, completion_score, delivery_score, community_score,
	efficiency_score, communication_score, flag_penalty, confirmed_flags, badge, confidence,
	data_points, status, preview_until, published_at, calculated_at`

func scanScore(row pgx.Row) (model.AccountabilityScore, error) {
	var s model.AccountabilityScore
	err := row.Scan(&s.ID, &s.PersonID, &s.OverallScore, &s.CompletionScore, &s.DeliveryScore,
		&s.CommunityScore, &s.EfficiencyScore, &s.CommunicationScore, &s.FlagPenalty, &s.ConfirmedFlags,
		&s.Badge, &s.Confidence, &s.DataPoints, &s.Status, &s.PreviewUntil, &s.PublishedAt, &s.CalculatedAt)
	return s, err
}

// SavePersonScore upserts the score row for score.PersonID, keeping its id,
// and appends audit and note in the same transaction. A recalculated score
// always goes back to preview.
func (db *DB) SavePersonScore(ctx context.Context, score model.AccountabilityScore, audit model.ScoreAudit, note model.ScoreNotification) (model.AccountabilityScore, error) {
	var stored model.AccountabilityScore
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		stored, err = scanScore(tx.QueryRow(ctx,
			`INSERT INTO accountability_scores (person_id, overall_score, completion_score, delivery_score,
			 community_score, efficiency_score, communication_score, flag_penalty, confirmed_flags, badge,
			 confidence, data_points, status, preview_until, published_at, calculated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULL, $15)
			 ON CONFLICT (person_id) DO UPDATE SET
			   overall_score = EXCLUDED.overall_score,
			   completion_score = EXCLUDED.completion_score,
			   delivery_score = EXCLUDED.delivery_score,
			   community_score = EXCLUDED.community_score,
			   efficiency_score = EXCLUDED.efficiency_score,
			   communication_score = EXCLUDED.communication_score,
			   flag_penalty = EXCLUDED.flag_penalty,
			   confirmed_flags = EXCLUDED.confirmed_flags,
			   badge = EXCLUDED.badge,
			   confidence = EXCLUDED.confidence,
			   data_points = EXCLUDED.data_points,
			   status = EXCLUDED.status,
			   preview_until = EXCLUDED.preview_until,
			   published_at = NULL,
			   calculated_at = EXCLUDED.calculated_at
			 RETURNING `+scoreColumns,
			score.PersonID, score.OverallScore, score.CompletionScore, score.DeliveryScore,
			score.CommunityScore, score.EfficiencyScore, score.CommunicationScore, score.FlagPenalty,
			score.ConfirmedFlags, score.Badge, score.Confidence, score.DataPoints, score.Status,
			score.PreviewUntil, score.CalculatedAt))
		if err != nil {
			return err
		}
		if err := insertAudit(ctx, tx, stored.ID, audit); err != nil {
			return err
		}
		return insertScoreNotification(ctx, tx, note)
	})
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return model.AccountabilityScore{}, fmt.Errorf("storage: save person score: %w", ErrNotFound)
		}
		return model.AccountabilityScore{}, fmt.Errorf("storage: save person score: %w", err)
	}
	return stored, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, scoreID uuid.UUID, a model.ScoreAudit) error {
	payload := a.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO accountability_score_audits (score_id, action, payload, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		scoreID, a.Action, payload, a.ActorID, a.CreatedAt)
	return err
}

func insertScoreNotification(ctx context.Context, tx pgx.Tx, n model.ScoreNotification) error {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO accountability_notifications (person_id, type, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		n.PersonID, n.Type, payload, n.CreatedAt)
	return err
}

// SaveOrganizationScore upserts the score row for score.OrganizationID.
func (db *DB) SaveOrganizationScore(ctx context.Context, score model.OrganizationScore) (model.OrganizationScore, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO organization_accountability_scores (organization_id, overall_score, badge, calculated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id) DO UPDATE SET
		   overall_score = EXCLUDED.overall_score,
		   badge = EXCLUDED.badge,
		   calculated_at = EXCLUDED.calculated_at
		 RETURNING id`,
		score.OrganizationID, score.OverallScore, score.Badge, score.CalculatedAt,
	).Scan(&score.ID)
	if err != nil {
		return model.OrganizationScore{}, fmt.Errorf("storage: save organization score: %w", err)
	}
	return score, nil
}

// GetPersonScore retrieves the stored score of a person.
func (db *DB) GetPersonScore(ctx context.Context, personID uuid.UUID) (model.AccountabilityScore, error) {
	s, err := scanScore(db.pool.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM accountability_scores WHERE person_id = $1`, personID))
	if err != nil {
		return model.AccountabilityScore{}, fmt.Errorf("storage: get person score: %w", notFound(err))
	}
	return s, nil
}

// GetOrganizationScore retrieves the stored score of an organization.
func (db *DB) GetOrganizationScore(ctx context.Context, orgID uuid.UUID) (model.OrganizationScore, error) {
	var s model.OrganizationScore
	err := db.pool.QueryRow(ctx,
		`SELECT id, organization_id, overall_score, badge, calculated_at
		 FROM organization_accountability_scores WHERE organization_id = $1`, orgID,
	).Scan(&s.ID, &s.OrganizationID, &s.OverallScore, &s.Badge, &s.CalculatedAt)
	if err != nil {
		return model.OrganizationScore{}, fmt.Errorf("storage: get organization score: %w", notFound(err))
	}
	return s, nil
}

// Leaderboard returns up to limit person scores, highest first.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.person_id, p.name, s.overall_score, s.badge, s.confidence, s.status
		 FROM accountability_scores s JOIN people p ON p.id = s.person_id
		 ORDER BY s.overall_score DESC, p.name
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: leaderboard: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LeaderboardEntry, error) {
		var e model.LeaderboardEntry
		err := row.Scan(&e.PersonID, &e.PersonName, &e.OverallScore, &e.Badge, &e.Confidence, &e.Status)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan leaderboard: %w", err)
	}
	return out, nil
}

// PublishExpiredScores publishes preview scores whose window closed at or
// before now and that have no pending dispute. Each gets a score_published
// audit row.
func (db *DB) PublishExpiredScores(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`WITH published AS (
			   UPDATE accountability_scores s
			   SET status = 'published', published_at = $1
			   WHERE s.status = 'preview' AND s.preview_until <= $1
			     AND NOT EXISTS (
			       SELECT 1 FROM accountability_score_disputes d
			       WHERE d.score_id = s.id AND d.status = 'pending')
			   RETURNING s.id
			 )
			 INSERT INTO accountability_score_audits (score_id, action, payload, created_at)
			 SELECT id, $2, '{"reason": "preview_expired"}'::jsonb, $1 FROM published`,
			now, model.AuditScorePublished)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("storage: publish expired scores: %w", err)
	}
	return n, nil
}
