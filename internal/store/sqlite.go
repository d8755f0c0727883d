package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"SignalSentinel/internal/model"
)

// SQLiteStore persists opportunities and tenants to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(dbPath string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %v: %w", err, model.ErrPersistence)
	}
	// a single connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %v: %w", err, model.ErrPersistence)
		}
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %v: %w", err, model.ErrPersistence)
	}

	log.Info().Str("path", dbPath).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS opportunities (
			id             TEXT PRIMARY KEY,
			symbol         TEXT NOT NULL,
			strategy       TEXT NOT NULL,
			entry_price    REAL NOT NULL,
			targets        TEXT NOT NULL,
			stop_loss      REAL NOT NULL,
			target_index   INTEGER NOT NULL,
			status         TEXT NOT NULL,
			predecessor_id TEXT,
			exit_price     REAL,
			alert_refs     TEXT,
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_opp_active_pair
			ON opportunities(symbol, strategy) WHERE status = 'active'`,
		`CREATE INDEX IF NOT EXISTS idx_opp_created ON opportunities(created_at)`,

		`CREATE TABLE IF NOT EXISTS tenants (
			id                   TEXT PRIMARY KEY,
			approved             INTEGER NOT NULL,
			active               INTEGER NOT NULL,
			subscription_expires INTEGER,
			settings             TEXT NOT NULL,
			created_at           INTEGER NOT NULL,
			updated_at           INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const oppColumns = `id, symbol, strategy, entry_price, targets, stop_loss, target_index,
	status, predecessor_id, exit_price, alert_refs, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isActivePairConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "opportunities.symbol")
}

func insertOpportunity(ctx context.Context, ex execer, o *model.Opportunity) error {
	targets, err := json.Marshal(o.Targets)
	if err != nil {
		return err
	}
	refs, err := json.Marshal(o.AlertRefs)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO opportunities (`+oppColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Symbol, o.Strategy, o.EntryPrice, string(targets), o.StopLoss, o.TargetIndex,
		string(o.Status), o.PredecessorID, o.ExitPrice, string(refs),
		o.CreatedAt.UnixMilli(), o.UpdatedAt.UnixMilli(),
	)
	return err
}

func scanOpportunity(row rowScanner) (*model.Opportunity, error) {
	var (
		o                   model.Opportunity
		targets, status     string
		predecessor, refs   sql.NullString
		exit                sql.NullFloat64
		createdAt, updateAt int64
	)
	if err := row.Scan(&o.ID, &o.Symbol, &o.Strategy, &o.EntryPrice, &targets, &o.StopLoss,
		&o.TargetIndex, &status, &predecessor, &exit, &refs, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(targets), &o.Targets); err != nil {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	alertRefs, err := decodeRefs(refs)
	if err != nil {
		return nil, fmt.Errorf("decode alert refs: %w", err)
	}
	o.AlertRefs = alertRefs
	o.Status = model.OpportunityStatus(status)
	o.PredecessorID = predecessor.String
	o.ExitPrice = exit.Float64
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updateAt).UTC()
	return &o, nil
}

func (s *SQLiteStore) CreateOpportunity(ctx context.Context, o *model.Opportunity) error {
	if err := insertOpportunity(ctx, s.db, o); err != nil {
		if isActivePairConflict(err) {
			return fmt.Errorf("%s/%s: %w", o.Symbol, o.Strategy, model.ErrActiveExists)
		}
		return fmt.Errorf("insert opportunity %s: %v: %w", o.ID, err, model.ErrPersistence)
	}
	return nil
}

func (s *SQLiteStore) GetOpportunity(ctx context.Context, id string) (*model.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+oppColumns+` FROM opportunities WHERE id = ?`, id)
	o, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("opportunity %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get opportunity %s: %v: %w", id, err, model.ErrPersistence)
	}
	return o, nil
}

func (s *SQLiteStore) queryOpportunities(ctx context.Context, where string, args ...any) ([]*model.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+oppColumns+` FROM opportunities WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %v: %w", err, model.ErrPersistence)
	}
	defer rows.Close()

	var out []*model.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %v: %w", err, model.ErrPersistence)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunities: %v: %w", err, model.ErrPersistence)
	}
	return out, nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*model.Opportunity, error) {
	return s.queryOpportunities(ctx, `status = ?`, string(model.StatusActive))
}

func (s *SQLiteStore) ListCreatedSince(ctx context.Context, since time.Time) ([]*model.Opportunity, error) {
	return s.queryOpportunities(ctx, `created_at >= ?`, since.UnixMilli())
}

func (s *SQLiteStore) ApplyTransition(ctx context.Context, o *model.Opportunity, successor *model.Opportunity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %v: %w", err, model.ErrPersistence)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE opportunities
		SET target_index = ?, status = ?, stop_loss = ?, exit_price = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		o.TargetIndex, string(o.Status), o.StopLoss, o.ExitPrice, o.UpdatedAt.UnixMilli(),
		o.ID, string(model.StatusActive),
	)
	if err != nil {
		return fmt.Errorf("update opportunity %s: %v: %w", o.ID, err, model.ErrPersistence)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return fmt.Errorf("opportunity %s is not active: %w", o.ID, model.ErrPersistence)
	}

	var rawRefs sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT alert_refs FROM opportunities WHERE id = ?`, o.ID).Scan(&rawRefs); err != nil {
		return fmt.Errorf("read alert refs %s: %v: %w", o.ID, err, model.ErrPersistence)
	}
	refs, err := decodeRefs(rawRefs)
	if err != nil {
		return fmt.Errorf("decode alert refs %s: %v: %w", o.ID, err, model.ErrPersistence)
	}

	if successor != nil {
		if err := insertOpportunity(ctx, tx, successor); err != nil {
			if isActivePairConflict(err) {
				return fmt.Errorf("%s/%s: %w", successor.Symbol, successor.Strategy, model.ErrActiveExists)
			}
			return fmt.Errorf("insert successor %s: %v: %w", successor.ID, err, model.ErrPersistence)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %v: %w", err, model.ErrPersistence)
	}
	o.AlertRefs = refs
	return nil
}

// decodeRefs reads an alert_refs column; NULL and "null" decode to nil.
func decodeRefs(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil, nil
	}
	var refs map[string]string
	if err := json.Unmarshal([]byte(raw.String), &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *SQLiteStore) MergeAlertRefs(ctx context.Context, id string, refs map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %v: %w", err, model.ErrPersistence)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT alert_refs FROM opportunities WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("opportunity %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read alert refs %s: %v: %w", id, err, model.ErrPersistence)
	}

	merged, err := decodeRefs(raw)
	if err != nil {
		return fmt.Errorf("decode alert refs %s: %v: %w", id, err, model.ErrPersistence)
	}
	if merged == nil {
		merged = make(map[string]string, len(refs))
	}
	for k, v := range refs {
		merged[k] = v
	}
	enc, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode alert refs: %v: %w", err, model.ErrPersistence)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE opportunities SET alert_refs = ? WHERE id = ?`, string(enc), id); err != nil {
		return fmt.Errorf("write alert refs %s: %v: %w", id, err, model.ErrPersistence)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %v: %w", err, model.ErrPersistence)
	}
	return nil
}

const tenantColumns = `id, approved, active, subscription_expires, settings, created_at, updated_at`

func scanTenant(row rowScanner) (*model.Tenant, error) {
	var (
		t                   model.Tenant
		settings            string
		expires             sql.NullInt64
		createdAt, updateAt int64
	)
	if err := row.Scan(&t.ID, &t.Approved, &t.Active, &expires, &settings, &createdAt, &updateAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if expires.Valid {
		exp := time.UnixMilli(expires.Int64).UTC()
		t.SubscriptionExpires = &exp
	}
	t.CreatedAt = time.UnixMilli(createdAt).UTC()
	t.UpdatedAt = time.UnixMilli(updateAt).UTC()
	return &t, nil
}

func tenantArgs(t *model.Tenant) ([]any, error) {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, err
	}
	var expires sql.NullInt64
	if t.SubscriptionExpires != nil {
		expires = sql.NullInt64{Int64: t.SubscriptionExpires.UnixMilli(), Valid: true}
	}
	return []any{t.Approved, t.Active, expires, string(settings), t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli()}, nil
}

func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*model.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %v: %w", id, err, model.ErrPersistence)
	}
	return t, nil
}

func (s *SQLiteStore) InsertTenantIfAbsent(ctx context.Context, t *model.Tenant) (*model.Tenant, bool, error) {
	args, err := tenantArgs(t)
	if err != nil {
		return nil, false, fmt.Errorf("encode tenant %s: %v: %w", t.ID, err, model.ErrPersistence)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		append([]any{t.ID}, args...)...)
	if err != nil {
		return nil, false, fmt.Errorf("insert tenant %s: %v: %w", t.ID, err, model.ErrPersistence)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert tenant %s: %v: %w", t.ID, err, model.ErrPersistence)
	}
	stored, err := s.GetTenant(ctx, t.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

func (s *SQLiteStore) SaveTenant(ctx context.Context, t *model.Tenant) error {
	args, err := tenantArgs(t)
	if err != nil {
		return fmt.Errorf("encode tenant %s: %v: %w", t.ID, err, model.ErrPersistence)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tenants
		SET approved = ?, active = ?, subscription_expires = ?, settings = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, append(args, t.ID)...)
	if err != nil {
		return fmt.Errorf("save tenant %s: %v: %w", t.ID, err, model.ErrPersistence)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tenant %s: %w", t.ID, model.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %v: %w", err, model.ErrPersistence)
	}
	defer rows.Close()

	var out []*model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %v: %w", err, model.ErrPersistence)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %v: %w", err, model.ErrPersistence)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
