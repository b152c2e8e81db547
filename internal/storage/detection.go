package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shinrai/internal/model"
)

// ListPersonProjectLinks returns every person-project membership joined with
// its project and fund.
func (db *DB) ListPersonProjectLinks(ctx context.Context) ([]model.PersonProjectLink, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT pp.person_id, pe.name, p.id, p.title, f.id, f.name, f.number,
		 p.funding_status, p.status, p.funding_amount::float8
		 FROM project_people pp
		 JOIN people pe ON pe.id = pp.person_id
		 JOIN projects p ON p.id = pp.project_id
		 JOIN funds f ON f.id = p.fund_id
		 ORDER BY pp.person_id, f.number, p.created_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list person project links: %w", err)
	}
	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PersonProjectLink, error) {
		var l model.PersonProjectLink
		err := row.Scan(&l.PersonID, &l.PersonName, &l.ProjectID, &l.ProjectTitle, &l.FundID, &l.FundName,
			&l.FundNumber, &l.FundingStatus, &l.Status, &l.FundingAmount)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan person project links: %w", err)
	}
	return links, nil
}

// ListStaleProjects returns funded projects in one of statuses that were last
// updated strictly before updatedBefore.
func (db *DB) ListStaleProjects(ctx context.Context, statuses []model.ProjectStatus, updatedBefore time.Time) ([]model.StaleProject, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := db.pool.Query(ctx,
		`SELECT p.id, p.title, f.name, p.funding_amount::float8, p.updated_at
		 FROM projects p JOIN funds f ON f.id = p.fund_id
		 WHERE p.funding_status = 'funded' AND p.status = ANY($1) AND p.updated_at < $2
		 ORDER BY p.updated_at`,
		names, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("storage: list stale projects: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.StaleProject, error) {
		var p model.StaleProject
		err := row.Scan(&p.ProjectID, &p.Title, &p.FundName, &p.FundingAmount, &p.UpdatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan stale projects: %w", err)
	}
	return out, nil
}

// ListOverdueMilestones returns unfinished milestones due strictly before
// dueBefore on funded projects that are neither completed nor cancelled.
func (db *DB) ListOverdueMilestones(ctx context.Context, dueBefore time.Time) ([]model.OverdueMilestone, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT m.id, m.title, m.due_date, p.id, p.title, f.name
		 FROM milestones m
		 JOIN projects p ON p.id = m.project_id
		 JOIN funds f ON f.id = p.fund_id
		 WHERE m.status IN ('pending', 'in_progress')
		   AND m.due_date IS NOT NULL AND m.due_date < $1
		   AND p.funding_status = 'funded'
		   AND p.status NOT IN ('completed', 'cancelled')
		 ORDER BY m.due_date`,
		dueBefore)
	if err != nil {
		return nil, fmt.Errorf("storage: list overdue milestones: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OverdueMilestone, error) {
		var m model.OverdueMilestone
		err := row.Scan(&m.MilestoneID, &m.MilestoneTitle, &m.DueDate, &m.ProjectID, &m.ProjectTitle, &m.FundName)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan overdue milestones: %w", err)
	}
	return out, nil
}

// ListProposals returns the comparable text of every project.
func (db *DB) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, fund_id, category, title, description, problem, solution
		 FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list proposals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Proposal, error) {
		var p model.Proposal
		err := row.Scan(&p.ProjectID, &p.FundID, &p.Category, &p.Title, &p.Description, &p.Problem, &p.Solution)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan proposals: %w", err)
	}
	return out, nil
}

// InsertAutomatedFlag inserts r as a pending automated flag unless an open
// (pending or confirmed) automated flag already exists for the same project
// and category. The partial unique index makes the check atomic.
func (db *DB) InsertAutomatedFlag(ctx context.Context, r model.DetectionResult) (bool, error) {
	meta := r.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO flags (project_id, type, category, severity, status, title, description, metadata)
		 VALUES ($1, 'automated', $2, $3, 'pending', $4, $5, $6)
		 ON CONFLICT (project_id, category) WHERE type = 'automated' AND status IN ('pending', 'confirmed')
		 DO NOTHING`,
		r.ProjectID, r.Category, r.Severity, r.Title, r.Description, meta)
	if err != nil {
		return false, fmt.Errorf("storage: insert automated flag: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// NotifyAdmins writes one notification to every admin user and returns how
// many were written.
func (db *DB) NotifyAdmins(ctx context.Context, notificationType, title, message string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO notifications (user_id, type, title, message)
		 SELECT id, $1, $2, $3 FROM users WHERE role = 'admin'`,
		notificationType, title, message)
	if err != nil {
		return 0, fmt.Errorf("storage: notify admins: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
