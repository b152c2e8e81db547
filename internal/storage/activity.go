package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shinrai/internal/model"
)

func (db *DB) ListPersonIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM people ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list people: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("storage: scan people: %w", err)
	}
	return ids, nil
}

func (db *DB) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM organizations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list organizations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("storage: scan organizations: %w", err)
	}
	return ids, nil
}

// GetPersonActivity gathers everything the person scorer needs in one
// repeatable-read snapshot.
func (db *DB) GetPersonActivity(ctx context.Context, personID uuid.UUID) (model.PersonActivity, error) {
	a := model.PersonActivity{PersonID: personID}
	err := pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM people WHERE id = $1)`, personID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		rows, err := tx.Query(ctx,
			`SELECT p.id, p.funding_status, p.status
			 FROM project_people pp JOIN projects p ON p.id = pp.project_id
			 WHERE pp.person_id = $1`, personID)
		if err != nil {
			return err
		}
		a.Projects, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProjectOutcome, error) {
			var p model.ProjectOutcome
			err := row.Scan(&p.ProjectID, &p.FundingStatus, &p.Status)
			return p, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT m.status, m.due_date, COALESCE(m.poa_status, ''), m.poa_approved_at
			 FROM milestones m JOIN project_people pp ON pp.project_id = m.project_id
			 WHERE pp.person_id = $1`, personID)
		if err != nil {
			return err
		}
		a.Milestones, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MilestoneOutcome, error) {
			var m model.MilestoneOutcome
			err := row.Scan(&m.Status, &m.DueDate, &m.PoAStatus, &m.PoAApprovedAt)
			return m, err
		})
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM monthly_reports r JOIN project_people pp ON pp.project_id = r.project_id
			 WHERE pp.person_id = $1`, personID).Scan(&a.ReportsSubmitted); err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT r.rating FROM reviews r JOIN project_people pp ON pp.project_id = r.project_id
			 WHERE pp.person_id = $1`, personID)
		if err != nil {
			return err
		}
		a.ReviewRatings, err = pgx.CollectRows(rows, pgx.RowTo[int])
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx,
			`SELECT count(*),
			        count(*) FILTER (WHERE EXISTS (SELECT 1 FROM concern_responses cr WHERE cr.concern_id = c.id))
			 FROM concerns c JOIN project_people pp ON pp.project_id = c.project_id
			 WHERE pp.person_id = $1`, personID).Scan(&a.ConcernsTotal, &a.ConcernsResponded); err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT f.severity FROM flags f JOIN project_people pp ON pp.project_id = f.project_id
			 WHERE pp.person_id = $1 AND f.status = 'confirmed'`, personID)
		if err != nil {
			return err
		}
		a.ConfirmedFlags, err = pgx.CollectRows(rows, pgx.RowTo[model.FlagSeverity])
		return err
	})
	if err != nil {
		return model.PersonActivity{}, fmt.Errorf("storage: person activity: %w", err)
	}
	return a, nil
}

// GetOrganizationProfile gathers an organization's projects, their teams and
// the stored scores of its members.
func (db *DB) GetOrganizationProfile(ctx context.Context, orgID uuid.UUID) (model.OrganizationProfile, error) {
	p := model.OrganizationProfile{OrganizationID: orgID}
	err := pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT completed_proposals_count FROM organizations WHERE id = $1`, orgID,
		).Scan(&p.CompletedProposalsCount)
		if err != nil {
			return notFound(err)
		}

		rows, err := tx.Query(ctx,
			`SELECT project_id FROM project_organizations WHERE organization_id = $1 ORDER BY project_id`, orgID)
		if err != nil {
			return err
		}
		if p.ProjectIDs, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID]); err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT pp.project_id, pp.person_id, pp.role, pp.is_primary
			 FROM project_people pp JOIN project_organizations po ON po.project_id = pp.project_id
			 WHERE po.organization_id = $1
			 ORDER BY pp.project_id, pp.person_id`, orgID)
		if err != nil {
			return err
		}
		p.ProjectPeople, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ProjectPerson, error) {
			var l model.ProjectPerson
			err := row.Scan(&l.ProjectID, &l.PersonID, &l.Role, &l.IsPrimary)
			return l, err
		})
		if err != nil {
			return err
		}

		rows, err = tx.Query(ctx,
			`SELECT s.person_id, s.overall_score, s.badge
			 FROM organization_members om JOIN accountability_scores s ON s.person_id = om.person_id
			 WHERE om.organization_id = $1`, orgID)
		if err != nil {
			return err
		}
		p.MemberScores, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.MemberScore, error) {
			var m model.MemberScore
			err := row.Scan(&m.PersonID, &m.OverallScore, &m.Badge)
			return m, err
		})
		return err
	})
	if err != nil {
		return model.OrganizationProfile{}, fmt.Errorf("storage: organization profile: %w", err)
	}
	return p, nil
}
