package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentmesh/internal/store"
)

// ChannelStore implements store.ChannelStore.
type ChannelStore struct {
	db *DB
}

const channelColumns = `id, channel_type, access_type, scope, project_id, name, description,
	is_default, is_archived, archived_at, owner_name, owner_project_id, metadata, created_at`

func validateChannel(c *store.Channel) error {
	if c.ID == "" {
		return store.InvalidArgumentf("channel id must not be empty")
	}
	if c.Scope == store.ScopeProject && c.ProjectID == "" {
		return store.InvalidArgumentf("project-scoped channel requires a project id")
	}
	if c.Scope == store.ScopeGlobal && c.ProjectID != "" {
		return store.InvalidArgumentf("global channel must not carry a project id")
	}
	if c.ChannelType == store.TypeDirect && c.AccessType != store.AccessPrivate {
		return store.InvalidArgumentf("direct channels must be private")
	}
	if store.IsNotesChannel(c.ID) && c.Owner == nil {
		return store.InvalidArgumentf("notes channel requires an owner")
	}
	return nil
}

func (s *ChannelStore) Create(ctx context.Context, c *store.Channel) error {
	if err := validateChannel(c); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return insertChannel(ctx, tx, c)
	})
	if isUniqueViolation(err) {
		return store.Conflictf("channel %s already exists", c.ID)
	}
	return err
}

// insertChannel writes one channel row inside an existing transaction.
// Shared with the façade paths that provision channels and memberships
// atomically (DM and notes auto-create).
func insertChannel(ctx context.Context, tx *sql.Tx, c *store.Channel) error {
	var ownerName, ownerProject any
	if c.Owner != nil {
		ownerName, ownerProject = c.Owner.Name, c.Owner.ProjectID
	}
	var projectID any
	if c.ProjectID != "" {
		projectID = c.ProjectID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO channels (id, channel_type, access_type, scope, project_id, name,
		     description, is_default, is_archived, owner_name, owner_project_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		c.ID, string(c.ChannelType), string(c.AccessType), string(c.Scope),
		projectID, c.Name, c.Description, boolInt(c.IsDefault),
		ownerName, ownerProject, marshalMeta(c.Metadata), unix(c.CreatedAt))
	return err
}

func (s *ChannelStore) Ensure(ctx context.Context, c *store.Channel) (*store.Channel, bool, error) {
	existing, err := s.Get(ctx, c.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	err = s.Create(ctx, c)
	if errors.Is(err, store.ErrConflict) {
		// Lost the race; re-read.
		existing, err = s.Get(ctx, c.ID)
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	created, err := s.Get(ctx, c.ID)
	return created, true, err
}

func (s *ChannelStore) Get(ctx context.Context, id string) (*store.Channel, error) {
	row := s.db.reader.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	return scanChannel(row)
}

func (s *ChannelStore) List(ctx context.Context) ([]*store.Channel, error) {
	rows, err := s.db.reader.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()
	return collectChannels(rows)
}

func (s *ChannelStore) ListDefaults(ctx context.Context, scope store.Scope, projectID string) ([]*store.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE is_default = 1 AND is_archived = 0 AND scope = ?`
	args := []any{string(scope)}
	if scope == store.ScopeProject {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}

	rows, err := s.db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list default channels: %w", err)
	}
	defer rows.Close()
	return collectChannels(rows)
}

func (s *ChannelStore) Archive(ctx context.Context, id string, at time.Time) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channels SET is_archived = 1, archived_at = ?
			 WHERE id = ? AND is_archived = 0`,
			unix(at), id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			// Distinguish missing from already archived.
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM channels WHERE id = ?`, id).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return store.NotFoundf("channel %s", id)
			}
		}
		return nil
	})
}

func (s *ChannelStore) UpdateDescription(ctx context.Context, id, description string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE channels SET description = ? WHERE id = ?`, description, id)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return store.NotFoundf("channel %s", id)
		}
		return nil
	})
}

func collectChannels(rows *sql.Rows) ([]*store.Channel, error) {
	var out []*store.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChannel(row rowScanner) (*store.Channel, error) {
	var c store.Channel
	var projectID, ownerName, ownerProject sql.NullString
	var archivedAt sql.NullFloat64
	var meta string
	var isDefault, isArchived int
	var createdAt float64

	err := row.Scan(&c.ID, (*string)(&c.ChannelType), (*string)(&c.AccessType),
		(*string)(&c.Scope), &projectID, &c.Name, &c.Description,
		&isDefault, &isArchived, &archivedAt, &ownerName, &ownerProject,
		&meta, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.NotFoundf("channel")
	}
	if err != nil {
		return nil, fmt.Errorf("scan channel: %w", err)
	}

	c.ProjectID = projectID.String
	c.IsDefault = isDefault != 0
	c.IsArchived = isArchived != 0
	if archivedAt.Valid {
		t := fromUnix(archivedAt.Float64)
		c.ArchivedAt = &t
	}
	if ownerName.Valid {
		c.Owner = &store.AgentRef{Name: ownerName.String, ProjectID: ownerProject.String}
	}
	c.Metadata = unmarshalMeta(meta)
	c.CreatedAt = fromUnix(createdAt)
	return &c, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
