package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/shinrai/internal/model"
)

const flagColumns = `id, project_id, type, category, severity, status, title, description, metadata,
	reviewed_by, reviewed_at, resolved_at, created_at, updated_at`

func scanFlag(row pgx.Row) (model.Flag, error) {
	var f model.Flag
	err := row.Scan(&f.ID, &f.ProjectID, &f.Type, &f.Category, &f.Severity, &f.Status, &f.Title,
		&f.Description, &f.Metadata, &f.ReviewedBy, &f.ReviewedAt, &f.ResolvedAt, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// ListFlags returns one page of flags matching filter, most severe and then
// most recent first, with per-status counts over the whole table.
func (db *DB) ListFlags(ctx context.Context, filter model.FlagFilter) (model.FlagPage, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Category != "" {
		add("category = $%d", filter.Category)
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.ProjectID != nil {
		add("project_id = $%d", *filter.ProjectID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := model.FlagPage{Stats: model.FlagStats{}}
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM flags`+where, args...).Scan(&page.Total); err != nil {
		return model.FlagPage{}, fmt.Errorf("storage: count flags: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := db.pool.Query(ctx,
		`SELECT `+flagColumns+` FROM flags`+where+`
		 ORDER BY CASE severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC,
		          created_at DESC`+
			fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return model.FlagPage{}, fmt.Errorf("storage: list flags: %w", err)
	}
	page.Flags, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Flag, error) {
		return scanFlag(row)
	})
	if err != nil {
		return model.FlagPage{}, fmt.Errorf("storage: scan flags: %w", err)
	}
	if page.Flags == nil {
		page.Flags = []model.Flag{}
	}

	rows, err = db.pool.Query(ctx, `SELECT status, count(*) FROM flags GROUP BY status`)
	if err != nil {
		return model.FlagPage{}, fmt.Errorf("storage: flag stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status model.FlagStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return model.FlagPage{}, fmt.Errorf("storage: scan flag stats: %w", err)
		}
		page.Stats[status] = n
	}
	if err := rows.Err(); err != nil {
		return model.FlagPage{}, fmt.Errorf("storage: flag stats: %w", err)
	}
	return page, nil
}

// GetFlag returns a flag and the title of its project.
func (db *DB) GetFlag(ctx context.Context, id uuid.UUID) (model.Flag, string, error) {
	var (
		f     model.Flag
		title string
	)
	err := db.pool.QueryRow(ctx,
		`SELECT f.id, f.project_id, f.type, f.category, f.severity, f.status, f.title, f.description,
		 f.metadata, f.reviewed_by, f.reviewed_at, f.resolved_at, f.created_at, f.updated_at, p.title
		 FROM flags f JOIN projects p ON p.id = f.project_id WHERE f.id = $1`, id,
	).Scan(&f.ID, &f.ProjectID, &f.Type, &f.Category, &f.Severity, &f.Status, &f.Title,
		&f.Description, &f.Metadata, &f.ReviewedBy, &f.ReviewedAt, &f.ResolvedAt, &f.CreatedAt, &f.UpdatedAt, &title)
	if err != nil {
		return model.Flag{}, "", fmt.Errorf("storage: get flag: %w", notFound(err))
	}
	return f, title, nil
}

// SetFlagStatus moves a flag from one status to update.Status, provided it is
// still in from. Review and resolution stamps are only overwritten when set.
func (db *DB) SetFlagStatus(ctx context.Context, id uuid.UUID, from model.FlagStatus, update model.Flag) (model.Flag, error) {
	f, err := scanFlag(db.pool.QueryRow(ctx,
		`UPDATE flags SET
		   status = $3,
		   reviewed_by = CASE WHEN $4::timestamptz IS NULL THEN reviewed_by ELSE $5 END,
		   reviewed_at = COALESCE($4, reviewed_at),
		   resolved_at = COALESCE($6, resolved_at),
		   updated_at = now()
		 WHERE id = $1 AND status = $2
		 RETURNING `+flagColumns,
		id, from, update.Status, update.ReviewedAt, update.ReviewedBy, update.ResolvedAt))
	if err == nil {
		return f, nil
	}
	if err != pgx.ErrNoRows {
		return model.Flag{}, fmt.Errorf("storage: set flag status: %w", err)
	}
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flags WHERE id = $1)`, id).Scan(&exists); err != nil {
		return model.Flag{}, fmt.Errorf("storage: set flag status: %w", err)
	}
	if !exists {
		return model.Flag{}, fmt.Errorf("storage: set flag status: %w", ErrNotFound)
	}
	return model.Flag{}, fmt.Errorf("storage: set flag status: %w", model.ErrInvalidTransition)
}

// MergeFlagMetadata sets key in the metadata of a pending flag.
func (db *DB) MergeFlagMetadata(ctx context.Context, id uuid.UUID, key string, value any) (model.Flag, error) {
	f, err := scanFlag(db.pool.QueryRow(ctx,
		`UPDATE flags SET metadata = metadata || jsonb_build_object($2::text, $3::jsonb), updated_at = now()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING `+flagColumns,
		id, key, value))
	if err == nil {
		return f, nil
	}
	if err != pgx.ErrNoRows {
		return model.Flag{}, fmt.Errorf("storage: merge flag metadata: %w", err)
	}
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flags WHERE id = $1)`, id).Scan(&exists); err != nil {
		return model.Flag{}, fmt.Errorf("storage: merge flag metadata: %w", err)
	}
	if !exists {
		return model.Flag{}, fmt.Errorf("storage: merge flag metadata: %w", ErrNotFound)
	}
	return model.Flag{}, fmt.Errorf("storage: merge flag metadata: %w", model.ErrFlagNotPending)
}

// CreateFlag inserts f as given.
func (db *DB) CreateFlag(ctx context.Context, f model.Flag) (model.Flag, error) {
	stored, err := scanFlag(db.pool.QueryRow(ctx,
		`INSERT INTO flags (id, project_id, type, category, severity, status, title, description, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+flagColumns,
		f.ID, f.ProjectID, f.Type, f.Category, f.Severity, f.Status, f.Title, f.Description, f.Metadata,
		f.CreatedAt, f.UpdatedAt))
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return model.Flag{}, fmt.Errorf("storage: create flag: %w", ErrNotFound)
		}
		return model.Flag{}, fmt.Errorf("storage: create flag: %w", err)
	}
	return stored, nil
}
