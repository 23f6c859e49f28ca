package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// ProjectLinkStore implements store.ProjectLinkStore. Pairs are stored
// canonically ordered (a < b); callers may pass them either way.
type ProjectLinkStore struct {
	db *DB
}

// canonical returns the pair in stored order plus the link type flipped
// when the caller's order was reversed.
func canonical(a, b string, lt store.LinkType) (string, string, store.LinkType) {
	if a <= b {
		return a, b, lt
	}
	switch lt {
	case store.LinkAToB:
		lt = store.LinkBToA
	case store.LinkBToA:
		lt = store.LinkAToB
	}
	return b, a, lt
}

func (s *ProjectLinkStore) Link(ctx context.Context, a, b string, linkType store.LinkType) error {
	if a == b {
		return store.InvalidArgumentf("cannot link a project to itself")
	}
	if linkType == "" {
		linkType = store.LinkBidirectional
	}
	pa, pb, lt := canonical(a, b, linkType)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO project_links (project_a, project_b, link_type, enabled, created_at)
			 VALUES (?, ?, ?, 1, ?)
			 ON CONFLICT (project_a, project_b)
			 DO UPDATE SET link_type = excluded.link_type, enabled = 1`,
			pa, pb, string(lt), unix(time.Now()))
		if err != nil && isUniqueViolation(err) {
			return store.Conflictf("projects already linked")
		}
		return err
	})
}

func (s *ProjectLinkStore) Unlink(ctx context.Context, a, b string) error {
	pa, pb, _ := canonical(a, b, store.LinkBidirectional)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM project_links WHERE project_a = ? AND project_b = ?`, pa, pb)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("link between %s and %s", a, b)
		}
		return nil
	})
}

func (s *ProjectLinkStore) Get(ctx context.Context, a, b string) (*store.ProjectLink, error) {
	pa, pb, _ := canonical(a, b, store.LinkBidirectional)
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT project_a, project_b, link_type, enabled, created_at
		 FROM project_links WHERE project_a = ? AND project_b = ?`, pa, pb)
	return scanLink(row)
}

func (s *ProjectLinkStore) List(ctx context.Context) ([]*store.ProjectLink, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT project_a, project_b, link_type, enabled, created_at
		 FROM project_links ORDER BY project_a, project_b`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []*store.ProjectLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *ProjectLinkStore) SetEnabled(ctx context.Context, a, b string, enabled bool) error {
	pa, pb, _ := canonical(a, b, store.LinkBidirectional)
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE project_links SET enabled = ? WHERE project_a = ? AND project_b = ?`,
			boolInt(enabled), pa, pb)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("link between %s and %s", a, b)
		}
		return nil
	})
}

func scanLink(row rowScanner) (*store.ProjectLink, error) {
	var l store.ProjectLink
	var enabled int
	var createdAt float64
	err := row.Scan(&l.ProjectA, &l.ProjectB, (*string)(&l.LinkType), &enabled, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("project link")
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	l.Enabled = enabled != 0
	l.CreatedAt = fromUnix(createdAt)
	return &l, nil
}
