// Package postgres implements every storage.*Store interface against a
// relational schema (internal/platform/migrations), grounded on the
// teacher's internal/app/storage/postgres idiom: plain database/sql,
// positional $N parameters, json.Marshal'd JSONB blob columns, uuid.NewString
// IDs, and sql.NullTime for optional timestamps.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/riftwatch/easm/domain/project"
	"github.com/riftwatch/easm/internal/platform/apierr"
)

const uniqueViolation = "23505"

// isUnique reports whether err is a Postgres unique_violation.
func isUnique(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}

type ProjectStore struct {
	db *sql.DB
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

func (s *ProjectStore) Create(ctx context.Context, p *project.Project) error {
	rl, err := json.Marshal(p.RateLimitConfig)
	if err != nil {
		return apierr.Internal(err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, rate_limit_config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Description, rl, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUnique(err) {
			return apierr.Conflict("project name already exists")
		}
		return apierr.TransientBackend(err)
	}
	return nil
}

func (s *ProjectStore) scanOne(row *sql.Row) (*project.Project, error) {
	var p project.Project
	var rl []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &rl, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("project", "")
		}
		return nil, apierr.TransientBackend(err)
	}
	if err := json.Unmarshal(rl, &p.RateLimitConfig); err != nil {
		return nil, apierr.Internal(err)
	}
	return &p, nil
}

func (s *ProjectStore) Get(ctx context.Context, id string) (*project.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rate_limit_config, created_at, updated_at
		FROM projects WHERE id = $1
	`, id)
	p, err := s.scanOne(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("project", id)
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectStore) GetByName(ctx context.Context, name string) (*project.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rate_limit_config, created_at, updated_at
		FROM projects WHERE name = $1
	`, name)
	p, err := s.scanOne(row)
	if err != nil {
		if apierr.KindOf(err) == apierr.KindNotFound {
			return nil, apierr.NotFound("project", name)
		}
		return nil, err
	}
	return p, nil
}

func (s *ProjectStore) List(ctx context.Context) ([]*project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, rate_limit_config, created_at, updated_at
		FROM projects ORDER BY created_at
	`)
	if err != nil {
		return nil, apierr.TransientBackend(err)
	}
	defer rows.Close()

	var out []*project.Project
	for rows.Next() {
		var p project.Project
		var rl []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &rl, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apierr.TransientBackend(err)
		}
		if err := json.Unmarshal(rl, &p.RateLimitConfig); err != nil {
			return nil, apierr.Internal(err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *ProjectStore) Update(ctx context.Context, p *project.Project) error {
	rl, err := json.Marshal(p.RateLimitConfig)
	if err != nil {
		return apierr.Internal(err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE projects SET name = $2, description = $3, rate_limit_config = $4, updated_at = $5
		WHERE id = $1
	`, p.ID, p.Name, p.Description, rl, p.UpdatedAt)
	if err != nil {
		if isUnique(err) {
			return apierr.Conflict("project name already exists")
		}
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "project", p.ID)
}

func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return apierr.TransientBackend(err)
	}
	return checkRowsAffected(res, "project", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.TransientBackend(err)
	}
	if n == 0 {
		return apierr.NotFound(entity, id)
	}
	return nil
}
