package applications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMappingNotFound is returned when no AppIndexerMap row exists.
var ErrMappingNotFound = errors.New("indexer mapping not found")

// Store persists applications.
type Store interface {
	GetApplication(ctx context.Context, id int64) (*Application, error)
	ListApplications(ctx context.Context) ([]*Application, error)
	CreateApplication(ctx context.Context, app *Application) (*Application, error)
	UpdateApplication(ctx context.Context, app *Application) (*Application, error)
	DeleteApplication(ctx context.Context, id int64) error
}

// MapStore persists the AppIndexerMap table.
type MapStore interface {
	ListMappings(ctx context.Context, appID int64) ([]AppIndexerMap, error)
	GetMapping(ctx context.Context, appID, indexerID int64) (*AppIndexerMap, error)
	InsertMapping(ctx context.Context, m AppIndexerMap) (*AppIndexerMap, error)
	DeleteMapping(ctx context.Context, id int64) error
}

// Sealer encrypts application API keys at rest. *crypto.SecretStore
// implements it.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SQLStore implements Store and MapStore on the SQLite schema.
type SQLStore struct {
	db     *sql.DB
	now    func() time.Time
	sealer Sealer
}

// NewSQLStore creates a store on a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// SetSealer stores API keys encrypted from now on. Keys written in plain
// text earlier are still readable.
func (s *SQLStore) SetSealer(sealer Sealer) {
	s.sealer = sealer
}

func (s *SQLStore) seal(apiKey string) (string, error) {
	if s.sealer == nil {
		return apiKey, nil
	}
	sealed, err := s.sealer.Encrypt(apiKey)
	if err != nil {
		return "", fmt.Errorf("seal api key: %w", err)
	}
	return sealed, nil
}

func (s *SQLStore) open(app *Application) error {
	if s.sealer == nil {
		return nil
	}
	key, err := s.sealer.Decrypt(app.APIKey)
	if err != nil {
		return fmt.Errorf("open api key of application %d: %w", app.ID, err)
	}
	app.APIKey = key
	return nil
}

const appColumns = `id, name, implementation, base_url, api_key, sync_level, sync_categories, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*Application, error) {
	var (
		app   Application
		level string
		cats  string
	)
	if err := row.Scan(&app.ID, &app.Name, &app.Implementation, &app.BaseURL, &app.APIKey,
		&level, &cats, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.SyncLevel = SyncLevel(level)
	if err := json.Unmarshal([]byte(cats), &app.SyncCategories); err != nil {
		return nil, fmt.Errorf("decode sync categories of application %d: %w", app.ID, err)
	}
	return &app, nil
}

func encodeCategories(cats []int) (string, error) {
	if cats == nil {
		cats = []int{}
	}
	data, err := json.Marshal(cats)
	return string(data), err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLStore) GetApplication(ctx context.Context, id int64) (*Application, error) {
	app, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM applications WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application %d: %w", id, err)
	}
	if err := s.open(app); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *SQLStore) ListApplications(ctx context.Context) ([]*Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appColumns+` FROM applications ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []*Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		if err := s.open(app); err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateApplication(ctx context.Context, app *Application) (*Application, error) {
	cats, err := encodeCategories(app.SyncCategories)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.seal(app.APIKey)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO applications (name, implementation, base_url, api_key, sync_level, sync_categories, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		app.Name, app.Implementation, app.BaseURL, apiKey, string(app.SyncLevel), cats, now, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: name %q already exists", ErrInvalidApplication, app.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetApplication(ctx, id)
}

func (s *SQLStore) UpdateApplication(ctx context.Context, app *Application) (*Application, error) {
	cats, err := encodeCategories(app.SyncCategories)
	if err != nil {
		return nil, err
	}
	apiKey, err := s.seal(app.APIKey)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE applications SET name = ?, implementation = ?, base_url = ?, api_key = ?,
			sync_level = ?, sync_categories = ?, updated_at = ?
		WHERE id = ?`,
		app.Name, app.Implementation, app.BaseURL, apiKey, string(app.SyncLevel), cats, s.now().UTC(), app.ID)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: name %q already exists", ErrInvalidApplication, app.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("update application %d: %w", app.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetApplication(ctx, app.ID)
}

func (s *SQLStore) DeleteApplication(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete application %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListMappings(ctx context.Context, appID int64) ([]AppIndexerMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, app_id, indexer_id, remote_indexer_id FROM app_indexer_maps
		WHERE app_id = ? ORDER BY indexer_id`, appID)
	if err != nil {
		return nil, fmt.Errorf("list mappings of application %d: %w", appID, err)
	}
	defer rows.Close()

	var out []AppIndexerMap
	for rows.Next() {
		var m AppIndexerMap
		if err := rows.Scan(&m.ID, &m.AppID, &m.IndexerID, &m.RemoteIndexerID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetMapping(ctx context.Context, appID, indexerID int64) (*AppIndexerMap, error) {
	var m AppIndexerMap
	err := s.db.QueryRowContext(ctx, `
		SELECT id, app_id, indexer_id, remote_indexer_id FROM app_indexer_maps
		WHERE app_id = ? AND indexer_id = ?`, appID, indexerID).
		Scan(&m.ID, &m.AppID, &m.IndexerID, &m.RemoteIndexerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

func (s *SQLStore) InsertMapping(ctx context.Context, m AppIndexerMap) (*AppIndexerMap, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_indexer_maps (app_id, indexer_id, remote_indexer_id, created_at)
		VALUES (?, ?, ?, ?)`, m.AppID, m.IndexerID, m.RemoteIndexerID, s.now().UTC())
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: indexer %d already mapped in application %d", ErrSyncConflict, m.IndexerID, m.AppID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	m.ID = id
	return &m, nil
}

func (s *SQLStore) DeleteMapping(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM app_indexer_maps WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete mapping %d: %w", id, err)
	}
	return nil
}
