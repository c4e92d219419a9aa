package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

var (
	ErrIndexerNotFound = errors.New("indexer not found")
	ErrProfileNotFound = errors.New("app profile not found")
)

// Store persists indexer definitions and application profiles.
type Store interface {
	GetIndexer(ctx context.Context, id int64) (*types.IndexerDefinition, error)
	ListIndexers(ctx context.Context) ([]*types.IndexerDefinition, error)
	CreateIndexer(ctx context.Context, def *types.IndexerDefinition, profileIDs []int64) (*types.IndexerDefinition, error)
	UpdateIndexer(ctx context.Context, def *types.IndexerDefinition, profileIDs []int64) (*types.IndexerDefinition, error)
	DeleteIndexer(ctx context.Context, id int64) error

	GetProfile(ctx context.Context, id int64) (*types.AppProfile, error)
	ListProfiles(ctx context.Context) ([]*types.AppProfile, error)
	SaveProfile(ctx context.Context, p *types.AppProfile) (*types.AppProfile, error)
	DeleteProfile(ctx context.Context, id int64) error
}

// SQLStore implements Store on the SQLite schema.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore creates a store on a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const indexerColumns = `id, name, implementation, protocol, privacy, enabled, priority, settings, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndexer(row rowScanner) (*types.IndexerDefinition, error) {
	var (
		def      types.IndexerDefinition
		protocol string
		privacy  string
		enabled  int64
		priority int64
		settings string
	)
	if err := row.Scan(&def.ID, &def.Name, &def.Implementation, &protocol, &privacy,
		&enabled, &priority, &settings, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.Protocol = types.Protocol(protocol)
	def.Privacy = types.Privacy(privacy)
	def.Enabled = enabled == 1
	def.Priority = int(priority)
	if settings != "" {
		def.Settings = json.RawMessage(settings)
	}
	return &def, nil
}

func (s *SQLStore) GetIndexer(ctx context.Context, id int64) (*types.IndexerDefinition, error) {
	def, err := scanIndexer(s.db.QueryRowContext(ctx,
		`SELECT `+indexerColumns+` FROM indexers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIndexerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexer: %w", err)
	}
	if err := s.attachProfiles(ctx, []*types.IndexerDefinition{def}); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *SQLStore) ListIndexers(ctx context.Context) ([]*types.IndexerDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+indexerColumns+` FROM indexers ORDER BY priority, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexers: %w", err)
	}
	defer rows.Close()

	defs := make([]*types.IndexerDefinition, 0)
	for rows.Next() {
		def, err := scanIndexer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indexer: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachProfiles(ctx, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (s *SQLStore) CreateIndexer(ctx context.Context, def *types.IndexerDefinition, profileIDs []int64) (*types.IndexerDefinition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO indexers (name, implementation, protocol, privacy, enabled, priority, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Implementation, string(def.Protocol), string(def.Privacy),
		boolToInt64(def.Enabled), def.Priority, settingsString(def.Settings), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := setProfiles(ctx, tx, id, profileIDs); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetIndexer(ctx, id)
}

func (s *SQLStore) UpdateIndexer(ctx context.Context, def *types.IndexerDefinition, profileIDs []int64) (*types.IndexerDefinition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		UPDATE indexers SET name = ?, implementation = ?, protocol = ?, privacy = ?,
			enabled = ?, priority = ?, settings = ?, updated_at = ?
		WHERE id = ?`,
		def.Name, def.Implementation, string(def.Protocol), string(def.Privacy),
		boolToInt64(def.Enabled), def.Priority, settingsString(def.Settings), s.now().UTC(), def.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update indexer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrIndexerNotFound
	}
	if profileIDs != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM indexer_app_profiles WHERE indexer_id = ?`, def.ID); err != nil {
			return nil, err
		}
		if err := setProfiles(ctx, tx, def.ID, profileIDs); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetIndexer(ctx, def.ID)
}

func (s *SQLStore) DeleteIndexer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIndexerNotFound
	}
	return nil
}

func setProfiles(ctx context.Context, tx *sql.Tx, indexerID int64, profileIDs []int64) error {
	for _, pid := range profileIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO indexer_app_profiles (indexer_id, profile_id) VALUES (?, ?)`,
			indexerID, pid); err != nil {
			return fmt.Errorf("failed to link profile %d: %w", pid, err)
		}
	}
	return nil
}

func (s *SQLStore) attachProfiles(ctx context.Context, defs []*types.IndexerDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	byID := make(map[int64]*types.IndexerDefinition, len(defs))
	args := make([]any, 0, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
		args = append(args, d.ID)
	}

	query := `
		SELECT iap.indexer_id, p.id, p.name, p.enable_rss, p.enable_automatic_search,
			p.enable_interactive_search, p.application_ids
		FROM indexer_app_profiles iap
		JOIN app_profiles p ON p.id = iap.profile_id
		WHERE iap.indexer_id IN (?` + strings.Repeat(", ?", len(args)-1) + `)
		ORDER BY p.id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load app profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var indexerID int64
		p, err := scanProfileWith(rows, &indexerID)
		if err != nil {
			return err
		}
		if d, ok := byID[indexerID]; ok {
			d.AppProfiles = append(d.AppProfiles, *p)
		}
	}
	return rows.Err()
}

func scanProfileWith(row rowScanner, prefix ...any) (*types.AppProfile, error) {
	var (
		p                        types.AppProfile
		rss, automatic, interact int64
		appIDs                   string
	)
	dest := append(prefix, &p.ID, &p.Name, &rss, &automatic, &interact, &appIDs)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.EnableRss = rss == 1
	p.EnableAutomaticSearch = automatic == 1
	p.EnableInteractiveSearch = interact == 1
	p.ApplicationIDs = []int64{}
	if appIDs != "" {
		if err := json.Unmarshal([]byte(appIDs), &p.ApplicationIDs); err != nil {
			return nil, fmt.Errorf("invalid application ids for profile %d: %w", p.ID, err)
		}
	}
	return &p, nil
}

const profileColumns = `id, name, enable_rss, enable_automatic_search, enable_interactive_search, application_ids`

func (s *SQLStore) GetProfile(ctx context.Context, id int64) (*types.AppProfile, error) {
	p, err := scanProfileWith(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM app_profiles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app profile: %w", err)
	}
	return p, nil
}

func (s *SQLStore) ListProfiles(ctx context.Context) ([]*types.AppProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM app_profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list app profiles: %w", err)
	}
	defer rows.Close()

	out := make([]*types.AppProfile, 0)
	for rows.Next() {
		p, err := scanProfileWith(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProfile inserts p when its ID is zero and updates it otherwise.
func (s *SQLStore) SaveProfile(ctx context.Context, p *types.AppProfile) (*types.AppProfile, error) {
	appIDs := p.ApplicationIDs
	if appIDs == nil {
		appIDs = []int64{}
	}
	appIDsJSON, err := json.Marshal(appIDs)
	if err != nil {
		return nil, err
	}

	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO app_profiles (name, enable_rss, enable_automatic_search, enable_interactive_search, application_ids)
			VALUES (?, ?, ?, ?, ?)`,
			p.Name, boolToInt64(p.EnableRss), boolToInt64(p.EnableAutomaticSearch),
			boolToInt64(p.EnableInteractiveSearch), string(appIDsJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to create app profile: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		return s.GetProfile(ctx, id)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_profiles SET name = ?, enable_rss = ?, enable_automatic_search = ?,
			enable_interactive_search = ?, application_ids = ?
		WHERE id = ?`,
		p.Name, boolToInt64(p.EnableRss), boolToInt64(p.EnableAutomaticSearch),
		boolToInt64(p.EnableInteractiveSearch), string(appIDsJSON), p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update app profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrProfileNotFound
	}
	return s.GetProfile(ctx, p.ID)
}

func (s *SQLStore) DeleteProfile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete app profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func settingsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
