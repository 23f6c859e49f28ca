package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// ProjectStore implements store.ProjectStore.
type ProjectStore struct {
	db *DB
}

func (s *ProjectStore) Ensure(ctx context.Context, path, name string) (*store.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, store.InvalidArgumentf("project path %q: %v", path, err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	id := store.ProjectID(abs)

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, path, name, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			id, abs, name, unix(time.Now()))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure project: %w", err)
	}
	return s.Get(ctx, id)
}

func (s *ProjectStore) Get(ctx context.Context, id string) (*store.Project, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT id, path, name, metadata, created_at FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func (s *ProjectStore) GetByPath(ctx context.Context, path string) (*store.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, store.InvalidArgumentf("project path %q: %v", path, err)
	}
	return s.Get(ctx, store.ProjectID(abs))
}

func (s *ProjectStore) List(ctx context.Context) ([]*store.Project, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT id, path, name, metadata, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*store.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ProjectStore) UpdateName(ctx context.Context, id, name string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE projects SET name = ? WHERE id = ?`, name, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("project %s", id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*store.Project, error) {
	var p store.Project
	var meta string
	var createdAt float64
	err := row.Scan(&p.ID, &p.Path, &p.Name, &meta, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("project")
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}
	p.Metadata = unmarshalMeta(meta)
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}
