/*
Package sqlite provides a SQLite-backed implementation of store.Repository.

PURPOSE:
  Persists coverages, pricing rules, rule history, profiles and profile rule
  links. In production, the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

STORAGE LAYOUT:
  Each record is stored as a JSON document next to the columns the store
  needs for lookups and uniqueness. Decimals round-trip through JSON as
  strings, so no precision is lost.

KEY TABLES:
  coverages:      Benefit documents keyed by normalized code
  pricing_rules:  Rule documents, unique (insurance_type, name)
  rule_history:   Append-only audit of rule changes
  profiles:       Profile documents
  profile_rules:  Profile-to-rule links with order_index

ARCHIVING:
  Nothing is hard-deleted. Archived rules stay in pricing_rules with
  state = 'archived' and are hidden from ListRules unless requested.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  repo, err := sqlite.New("./data/pricing.db")
  if err != nil {
      log.Fatal(err)
  }
  defer repo.Close()

SEE ALSO:
  - store/store.go: Repository contract
  - store/memory:   In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/nasri82/cardinsa-pricing/core"
	"github.com/nasri82/cardinsa-pricing/coverage"
	"github.com/nasri82/cardinsa-pricing/pricing"
	"github.com/nasri82/cardinsa-pricing/store"
)

// Store implements store.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.Repository = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS coverages (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		data_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pricing_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		insurance_type TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'active',
		priority INTEGER NOT NULL DEFAULT 0,
		rule_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Rule names are unique per insurance type, ignoring case
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rules_type_name
		ON pricing_rules(insurance_type, name COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_rules_state
		ON pricing_rules(state);

	-- Append-only audit trail
	CREATE TABLE IF NOT EXISTS rule_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL REFERENCES pricing_rules(id),
		old_version INTEGER NOT NULL,
		new_version INTEGER NOT NULL,
		changed_fields_json TEXT NOT NULL,
		reason TEXT,
		before_json TEXT,
		after_json TEXT,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rule_history_rule
		ON rule_history(rule_id, id);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		insurance_type TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		profile_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profile_rules (
		profile_id TEXT NOT NULL REFERENCES profiles(id),
		rule_id TEXT NOT NULL REFERENCES pricing_rules(id),
		order_index INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (profile_id, rule_id)
	);

	CREATE INDEX IF NOT EXISTS idx_profile_rules_order
		ON profile_rules(profile_id, order_index);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// COVERAGES
// =============================================================================

func (s *Store) CreateCoverage(ctx context.Context, b *coverage.Benefit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode coverage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO coverages (code, name, status, data_json, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Code, b.Name, string(b.Status), string(data), b.Version, now(),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: coverage %s already exists", core.ErrConflict, b.Code)
	}
	if err != nil {
		return fmt.Errorf("failed to insert coverage: %w", err)
	}
	return nil
}

func (s *Store) GetCoverage(ctx context.Context, code string) (*coverage.Benefit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data_json FROM coverages WHERE code = ?",
		coverage.NormalizeCode(code),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrCoverageNotFound, code)
	}
	if err != nil {
		return nil, err
	}

	var b coverage.Benefit
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("failed to decode coverage %s: %w", code, err)
	}
	return &b, nil
}

func (s *Store) ListCoverages(ctx context.Context) ([]*coverage.Benefit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT data_json FROM coverages ORDER BY code")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*coverage.Benefit
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var b coverage.Benefit
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			return nil, fmt.Errorf("failed to decode coverage: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) SaveCoverage(ctx context.Context, b *coverage.Benefit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode coverage: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE coverages SET name = ?, status = ?, data_json = ?, version = ?, updated_at = ?
		WHERE code = ?`,
		b.Name, string(b.Status), string(data), b.Version, now(), b.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update coverage: %w", err)
	}
	return requireRow(res, fmt.Errorf("%w: %s", core.ErrCoverageNotFound, b.Code))
}

// =============================================================================
// RULES
// =============================================================================

func (s *Store) CreateRule(ctx context.Context, r *pricing.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pricing_rules
		(id, name, insurance_type, rule_type, state, priority, rule_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.InsuranceType, string(r.RuleType), string(r.State), r.Priority,
		string(data), r.Version, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: rule %q already exists for %s", core.ErrConflict, r.Name, r.InsuranceType)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (*pricing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRowContext(ctx, "SELECT rule_json FROM pricing_rules WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrRuleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRule(data)
}

func (s *Store) ListRules(ctx context.Context, f store.RuleFilter) ([]*pricing.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT rule_json FROM pricing_rules WHERE 1 = 1"
	var args []any
	if f.InsuranceType != "" {
		query += " AND insurance_type = ?"
		args = append(args, f.InsuranceType)
	}
	if f.RuleType != "" {
		query += " AND rule_type = ?"
		args = append(args, string(f.RuleType))
	}
	if !f.IncludeArchived {
		query += " AND state != ?"
		args = append(args, string(pricing.StateArchived))
	}
	query += " ORDER BY priority, name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []*pricing.Rule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		r, err := decodeRule(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRule rewrites the rule row and appends its history row in one
// database transaction.
func (s *Store) UpdateRule(ctx context.Context, r *pricing.Rule, change pricing.RuleChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE pricing_rules
		SET name = ?, insurance_type = ?, rule_type = ?, state = ?, priority = ?,
		    rule_json = ?, version = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.InsuranceType, string(r.RuleType), string(r.State), r.Priority,
		string(data), r.Version, formatTime(r.UpdatedAt), r.ID,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: rule %q already exists for %s", core.ErrConflict, r.Name, r.InsuranceType)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if err := requireRow(res, fmt.Errorf("%w: %s", core.ErrRuleNotFound, r.ID)); err != nil {
		return err
	}

	if err := appendHistory(ctx, sqlTx, store.HistoryFromChange(change)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendHistory(ctx context.Context, db execer, h store.HistoryEntry) error {
	fields, _ := json.Marshal(h.ChangedFields)
	before, _ := json.Marshal(h.Before)
	after, _ := json.Marshal(h.After)

	_, err := db.ExecContext(ctx, `
		INSERT INTO rule_history
		(rule_id, old_version, new_version, changed_fields_json, reason, before_json, after_json, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.RuleID, h.OldVersion, h.NewVersion, string(fields), nullString(h.Reason),
		string(before), string(after), formatTime(h.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append rule history: %w", err)
	}
	return nil
}

func (s *Store) RuleHistory(ctx context.Context, ruleID string) ([]store.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pricing_rules WHERE id = ?", ruleID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrRuleNotFound, ruleID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, old_version, new_version, changed_fields_json, reason,
		       before_json, after_json, changed_at
		FROM rule_history
		WHERE rule_id = ?
		ORDER BY id ASC`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rule history: %w", err)
	}
	defer rows.Close()

	out := []store.HistoryEntry{}
	for rows.Next() {
		var (
			h                     store.HistoryEntry
			fields, before, after string
			reason                sql.NullString
			changedAt             string
		)
		if err := rows.Scan(&h.ID, &h.RuleID, &h.OldVersion, &h.NewVersion, &fields, &reason,
			&before, &after, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule history: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &h.ChangedFields); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(before), &h.Before); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(after), &h.After); err != nil {
			return nil, err
		}
		h.Reason = reason.String
		h.ChangedAt = parseTime(changedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func decodeRule(data string) (*pricing.Rule, error) {
	var r pricing.Rule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode rule: %w", err)
	}
	return &r, nil
}

// =============================================================================
// PROFILES
// =============================================================================

func (s *Store) CreateProfile(ctx context.Context, p *pricing.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, insurance_type, is_active, profile_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.InsuranceType, p.IsActive, string(data), now(),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: profile %s already exists", core.ErrConflict, p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, p *pricing.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET name = ?, insurance_type = ?, is_active = ?, profile_json = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.InsuranceType, p.IsActive, string(data), now(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return requireRow(res, fmt.Errorf("%w: %s", core.ErrProfileNotFound, p.ID))
}

func (s *Store) GetProfile(ctx context.Context, id string) (*pricing.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getProfile(ctx, id)
}

func (s *Store) getProfile(ctx context.Context, id string) (*pricing.Profile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT profile_json FROM profiles WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var p pricing.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]*pricing.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT profile_json FROM profiles ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*pricing.Profile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p pricing.Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// LinkRule attaches a rule to a profile, or moves it if already linked.
func (s *Store) LinkRule(ctx context.Context, link pricing.ProfileRuleLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkExists(ctx, "profiles", link.ProfileID, core.ErrProfileNotFound); err != nil {
		return err
	}
	if err := s.checkExists(ctx, "pricing_rules", link.RuleID, core.ErrRuleNotFound); err != nil {
		return err
	}
	return upsertLink(ctx, s.db, link)
}

func upsertLink(ctx context.Context, db execer, link pricing.ProfileRuleLink) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO profile_rules (profile_id, rule_id, order_index, is_active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile_id, rule_id) DO UPDATE SET
			order_index = excluded.order_index,
			is_active = excluded.is_active`,
		link.ProfileID, link.RuleID, link.OrderIndex, link.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to save profile rule link: %w", err)
	}
	return nil
}

// ReplaceLinks swaps a profile's link set atomically.
func (s *Store) ReplaceLinks(ctx context.Context, profileID string, links []pricing.ProfileRuleLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkExists(ctx, "profiles", profileID, core.ErrProfileNotFound); err != nil {
		return err
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM profile_rules WHERE profile_id = ?", profileID); err != nil {
		return fmt.Errorf("failed to clear profile rule links: %w", err)
	}
	for _, l := range links {
		l.ProfileID = profileID
		if err := upsertLink(ctx, sqlTx, l); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// ProfileLinks returns the links in storage order with Rule populated.
// A link whose rule row is missing keeps a nil Rule.
func (s *Store) ProfileLinks(ctx context.Context, profileID string) ([]pricing.ProfileRuleLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkExists(ctx, "profiles", profileID, core.ErrProfileNotFound); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pr.profile_id, pr.rule_id, pr.order_index, pr.is_active, r.rule_json
		FROM profile_rules pr
		LEFT JOIN pricing_rules r ON r.id = pr.rule_id
		WHERE pr.profile_id = ?
		ORDER BY pr.rowid ASC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile rule links: %w", err)
	}
	defer rows.Close()

	out := []pricing.ProfileRuleLink{}
	for rows.Next() {
		var (
			l        pricing.ProfileRuleLink
			ruleJSON sql.NullString
		)
		if err := rows.Scan(&l.ProfileID, &l.RuleID, &l.OrderIndex, &l.IsActive, &ruleJSON); err != nil {
			return nil, fmt.Errorf("failed to scan profile rule link: %w", err)
		}
		if ruleJSON.Valid {
			r, err := decodeRule(ruleJSON.String)
			if err != nil {
				return nil, err
			}
			l.Rule = r
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// checkExists must be called with s.mu held.
func (s *Store) checkExists(ctx context.Context, table, id string, notFound error) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"profile_rules", "rule_history", "profiles", "pricing_rules", "coverages"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func now() string {
	return formatTime(time.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
