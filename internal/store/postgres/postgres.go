// Package postgres implements the real, Postgres-backed TupleStore,
// HierarchyStore, and AuditStore, per spec.md §3-§4. It mirrors melange's
// Checker (_examples/pthm-melange/checker.go): a narrow Execer interface
// satisfied by *sql.DB, *sql.Tx, or *sql.Conn so callers can run permission
// writes inside their own transaction, and a sqlState-based error mapper
// that works across both the pgx and lib/pq drivers without depending on
// either driver's concrete error type.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relgraph/relgraph/internal/locks"
	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Execer is the minimal database/sql surface the store needs. *sql.DB,
// *sql.Tx, and *sql.Conn all satisfy it, so a Store can run inside a
// caller-managed transaction (for atomic mutation+audit commits) or against
// a plain pool.
type Execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Migrate applies the base schema (tables, indexes) idempotently. It does
// not create audit partitions; call Store.EnsurePartitions for that.
//
// Unlike melange's checksum-gated migrator (pkg/migrator), this schema is
// static — there is no per-deployment relation schema to codegen DDL from —
// so idempotence comes entirely from CREATE ... IF NOT EXISTS rather than a
// migrations-applied ledger table.
func Migrate(ctx context.Context, db Execer) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", mapError(err))
		}
	}
	return nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";\n") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				lines = append(lines, line)
			}
		}
		stmt = strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}

// Store implements store.TupleStore, store.HierarchyStore, and
// store.AuditStore against Postgres tables created by Migrate.
type Store struct {
	db Execer
}

// NewStore wraps db (a *sql.DB, *sql.Tx, or *sql.Conn) as a Store.
func NewStore(db Execer) *Store { return &Store{db: db} }

// advisoryExecer adapts an Execer to locks.AdvisoryExecer, which drops the
// sql.Result that database/sql's ExecContext returns since
// pg_advisory_xact_lock's callers only care about the error.
type advisoryExecer struct{ db Execer }

func (a advisoryExecer) ExecContext(ctx context.Context, query string, args ...any) error {
	_, err := a.db.ExecContext(ctx, query, args...)
	return err
}

// NewLocker builds a locks.Locker over db using Postgres advisory locks, for
// passing to relgraph.WithLocker alongside a Store built from the same
// transaction.
func NewLocker(db Execer) *locks.PostgresLocker {
	return locks.NewPostgresLocker(advisoryExecer{db: db})
}

var (
	_ store.TupleStore    = (*Store)(nil)
	_ store.HierarchyStore = (*Store)(nil)
	_ store.AuditStore    = (*Store)(nil)
)

// sqlState extracts a PostgreSQL SQLSTATE from err, working across pgx
// (pgconn.PgError.SQLState()) and lib/pq (pq.Error.Code, which implements
// an equivalent Code() string via the error interface some wrappers add)
// without importing either driver package directly. Ported from melange's
// checker.go:sqlState.
func sqlState(err error) string {
	type sqlStateErr interface{ SQLState() string }
	var withState sqlStateErr
	if errors.As(err, &withState) {
		return withState.SQLState()
	}
	type codeErr interface{ Code() string }
	var withCode codeErr
	if errors.As(err, &withCode) {
		return withCode.Code()
	}
	return ""
}

// Postgres SQLSTATE codes this package branches on.
const (
	sqlStateUniqueViolation = "23505"
)

func mapError(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if sqlState(err) == sqlStateUniqueViolation {
		return fmt.Errorf("unique constraint violated: %w", err)
	}
	return err
}

func tupleFromRow(scan func(dest ...any) error) (model.Tuple, error) {
	var t model.Tuple
	var expiresAt sql.NullTime
	if err := scan(&t.ID, &t.Namespace, &t.ResourceType, &t.ResourceID, &t.Relation,
		&t.SubjectType, &t.SubjectID, &t.SubjectRelation, &expiresAt, &t.CreatedAt); err != nil {
		return model.Tuple{}, err
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		t.ExpiresAt = &v
	}
	return t, nil
}

const tupleColumns = "id, namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation, expires_at, created_at"

// WriteTuple upserts on the uniqueness key, replacing expires_at on
// conflict, in a single round trip so the "set expiration atomically with a
// write" semantics of spec.md §4.3 hold without an explicit transaction.
func (s *Store) WriteTuple(ctx context.Context, namespace string, key store.TupleKey, expiresAt *time.Time, now time.Time) (string, bool, error) {
	id := uuid.NewString()
	var expiresArg any
	if expiresAt != nil {
		expiresArg = *expiresAt
	}
	const q = `
INSERT INTO relgraph_tuples (id, namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation)
DO UPDATE SET expires_at = EXCLUDED.expires_at
RETURNING id, (xmax = 0) AS inserted`

	var returnedID string
	var inserted bool
	err := s.db.QueryRowContext(ctx, q, id, namespace, string(key.ResourceType), key.ResourceID, string(key.Relation),
		string(key.SubjectType), key.SubjectID, string(key.SubjectRelation), expiresArg, now).Scan(&returnedID, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("postgres: write_tuple: %w", mapError(err))
	}
	return returnedID, inserted, nil
}

// BulkWriteTuples inserts many tuples sharing resource/relation/subject
// type with ON CONFLICT DO NOTHING, per the single-validation-pass contract
// of spec.md §4.3. Reserved-relation rejection happens in the engine before
// this is called.
func (s *Store) BulkWriteTuples(ctx context.Context, namespace string, resourceType model.ObjectType, resourceID string, relation model.Relation, subjectType model.ObjectType, subjectIDs []string, now time.Time) ([]string, error) {
	var created []string
	for _, sid := range subjectIDs {
		const q = `
INSERT INTO relgraph_tuples (id, namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8)
ON CONFLICT (namespace, resource_type, resource_id, relation, subject_type, subject_id, subject_relation) DO NOTHING`
		res, err := s.db.ExecContext(ctx, q, uuid.NewString(), namespace, string(resourceType), resourceID, string(relation), string(subjectType), sid, now)
		if err != nil {
			return created, fmt.Errorf("postgres: bulk_write_tuples: %w", mapError(err))
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			created = append(created, sid)
		}
	}
	return created, nil
}

// DeleteTuple removes the exact keyed tuple, returning its prior fields.
func (s *Store) DeleteTuple(ctx context.Context, namespace string, key store.TupleKey) (*model.Tuple, bool, error) {
	const q = `
DELETE FROM relgraph_tuples
WHERE namespace = $1 AND resource_type = $2 AND resource_id = $3 AND relation = $4
  AND subject_type = $5 AND subject_id = $6 AND subject_relation = $7
RETURNING ` + tupleColumns

	row := s.db.QueryRowContext(ctx, q, namespace, string(key.ResourceType), key.ResourceID, string(key.Relation),
		string(key.SubjectType), key.SubjectID, string(key.SubjectRelation))
	t, err := tupleFromRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("postgres: delete_tuple: %w", mapError(err))
	}
	return &t, true, nil
}

// Get returns the tuple regardless of expiration.
func (s *Store) Get(ctx context.Context, namespace string, key store.TupleKey) (*model.Tuple, error) {
	const q = `
SELECT ` + tupleColumns + ` FROM relgraph_tuples
WHERE namespace = $1 AND resource_type = $2 AND resource_id = $3 AND relation = $4
  AND subject_type = $5 AND subject_id = $6 AND subject_relation = $7`

	row := s.db.QueryRowContext(ctx, q, namespace, string(key.ResourceType), key.ResourceID, string(key.Relation),
		string(key.SubjectType), key.SubjectID, string(key.SubjectRelation))
	t, err := tupleFromRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get: %w", mapError(err))
	}
	return &t, nil
}

// List returns tuples matching filter, excluding expired rows unless
// filter.IncludeExpired is set.
func (s *Store) List(ctx context.Context, namespace string, filter store.TupleFilter, now time.Time) ([]model.Tuple, error) {
	q := "SELECT " + tupleColumns + " FROM relgraph_tuples WHERE namespace = $1"
	args := []any{namespace}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ResourceType != "" {
		q += " AND resource_type = " + arg(string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		q += " AND resource_id = " + arg(filter.ResourceID)
	}
	if filter.Relation != "" {
		q += " AND relation = " + arg(string(filter.Relation))
	}
	if filter.SubjectType != "" {
		q += " AND subject_type = " + arg(string(filter.SubjectType))
	}
	if filter.SubjectID != "" {
		q += " AND subject_id = " + arg(filter.SubjectID)
	}
	if filter.SubjectRelation != nil {
		q += " AND subject_relation = " + arg(string(*filter.SubjectRelation))
	}
	if !filter.IncludeExpired {
		q += " AND (expires_at IS NULL OR expires_at > " + arg(now) + ")"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", mapError(err))
	}
	defer rows.Close()

	var out []model.Tuple
	for rows.Next() {
		t, err := tupleFromRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("postgres: list: %w", mapError(err))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetExpiration updates expires_at on the keyed tuple.
func (s *Store) SetExpiration(ctx context.Context, namespace string, key store.TupleKey, expiresAt *time.Time) (bool, error) {
	var expiresArg any
	if expiresAt != nil {
		expiresArg = *expiresAt
	}
	const q = `
UPDATE relgraph_tuples SET expires_at = $8
WHERE namespace = $1 AND resource_type = $2 AND resource_id = $3 AND relation = $4
  AND subject_type = $5 AND subject_id = $6 AND subject_relation = $7`
	res, err := s.db.ExecContext(ctx, q, namespace, string(key.ResourceType), key.ResourceID, string(key.Relation),
		string(key.SubjectType), key.SubjectID, string(key.SubjectRelation), expiresArg)
	if err != nil {
		return false, fmt.Errorf("postgres: set_expiration: %w", mapError(err))
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// ListExpiring returns non-expired tuples whose expiration falls within
// [now, now+within], soonest first.
func (s *Store) ListExpiring(ctx context.Context, namespace string, now time.Time, within time.Duration) ([]model.Tuple, error) {
	const q = `
SELECT ` + tupleColumns + ` FROM relgraph_tuples
WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at > $2 AND expires_at <= $3
ORDER BY expires_at ASC`
	rows, err := s.db.QueryContext(ctx, q, namespace, now, now.Add(within))
	if err != nil {
		return nil, fmt.Errorf("postgres: list_expiring: %w", mapError(err))
	}
	defer rows.Close()

	var out []model.Tuple
	for rows.Next() {
		t, err := tupleFromRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("postgres: list_expiring: %w", mapError(err))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteExpired physically removes tuples with expires_at < now.
func (s *Store) DeleteExpired(ctx context.Context, namespace string, now time.Time) (int, error) {
	const q = `DELETE FROM relgraph_tuples WHERE namespace = $1 AND expires_at IS NOT NULL AND expires_at < $2`
	res, err := s.db.ExecContext(ctx, q, namespace, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete_expired: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats reports cardinalities for the maintenance API.
func (s *Store) Stats(ctx context.Context, namespace string, now time.Time) (int, int, int, error) {
	const q = `
SELECT
  count(*) FILTER (WHERE expires_at IS NULL OR expires_at > $2),
  count(DISTINCT subject_id) FILTER (WHERE subject_type = 'user' AND (expires_at IS NULL OR expires_at > $2)),
  count(DISTINCT (resource_type, resource_id)) FILTER (WHERE expires_at IS NULL OR expires_at > $2)
FROM relgraph_tuples WHERE namespace = $1`
	var tupleCount, distinctSubjects, distinctResources int
	err := s.db.QueryRowContext(ctx, q, namespace, now).Scan(&tupleCount, &distinctSubjects, &distinctResources)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("postgres: stats: %w", mapError(err))
	}
	return tupleCount, distinctSubjects, distinctResources, nil
}

// --- Hierarchy rules ----------------------------------------------------

// AddHierarchy upserts a permission-implication rule, returning the same id
// on repeated identical calls (idempotent per spec.md §8).
func (s *Store) AddHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (string, error) {
	const q = `
INSERT INTO relgraph_hierarchy_rules (id, namespace, resource_type, permission, implies)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (namespace, resource_type, permission, implies) DO UPDATE SET permission = EXCLUDED.permission
RETURNING id`
	var id string
	err := s.db.QueryRowContext(ctx, q, uuid.NewString(), namespace, string(resourceType), string(permission), string(implies)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: add_hierarchy: %w", mapError(err))
	}
	return id, nil
}

// RemoveHierarchy deletes a single implication rule.
func (s *Store) RemoveHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (bool, error) {
	const q = `DELETE FROM relgraph_hierarchy_rules WHERE namespace = $1 AND resource_type = $2 AND permission = $3 AND implies = $4`
	res, err := s.db.ExecContext(ctx, q, namespace, string(resourceType), string(permission), string(implies))
	if err != nil {
		return false, fmt.Errorf("postgres: remove_hierarchy: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearHierarchy deletes every implication rule for a resource type.
func (s *Store) ClearHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType) (int, error) {
	const q = `DELETE FROM relgraph_hierarchy_rules WHERE namespace = $1 AND resource_type = $2`
	res, err := s.db.ExecContext(ctx, q, namespace, string(resourceType))
	if err != nil {
		return 0, fmt.Errorf("postgres: clear_hierarchy: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListRules returns hierarchy rules for a resource type, or every rule in
// the namespace if resourceType is empty.
func (s *Store) ListRules(ctx context.Context, namespace string, resourceType model.ObjectType) ([]model.HierarchyRule, error) {
	q := `SELECT id, namespace, resource_type, permission, implies FROM relgraph_hierarchy_rules WHERE namespace = $1`
	args := []any{namespace}
	if resourceType != "" {
		q += " AND resource_type = $2"
		args = append(args, string(resourceType))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: hierarchy_list: %w", mapError(err))
	}
	defer rows.Close()

	var out []model.HierarchyRule
	for rows.Next() {
		var r model.HierarchyRule
		if err := rows.Scan(&r.ID, &r.Namespace, &r.ResourceType, &r.Permission, &r.Implies); err != nil {
			return nil, fmt.Errorf("postgres: hierarchy_list: %w", mapError(err))
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of hierarchy rules in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	const q = `SELECT count(*) FROM relgraph_hierarchy_rules WHERE namespace = $1`
	var n int
	err := s.db.QueryRowContext(ctx, q, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: hierarchy_count: %w", mapError(err))
	}
	return n, nil
}

// --- Audit events & partitions -------------------------------------------

// Append inserts one audit event. EventID and EventTime are stamped if
// unset.
func (s *Store) Append(ctx context.Context, event model.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}
	var expiresArg any
	if event.ExpiresAt != nil {
		expiresArg = *event.ExpiresAt
	}
	const q = `
INSERT INTO relgraph_audit_events (
  event_id, event_time, event_type, namespace, resource_type, resource_id, relation,
  subject_type, subject_id, subject_relation, tuple_id, expires_at,
  actor_id, request_id, reason, ip_address, user_agent
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := s.db.ExecContext(ctx, q, event.EventID, event.EventTime, string(event.EventType), event.Namespace,
		string(event.ResourceType), event.ResourceID, string(event.Relation), string(event.SubjectType), event.SubjectID,
		string(event.SubjectRelation), event.TupleID, expiresArg, event.ActorID, event.RequestID, event.Reason,
		event.IPAddress, event.UserAgent)
	if err != nil {
		return fmt.Errorf("postgres: audit_append: %w", mapError(err))
	}
	return nil
}

func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("audit_events_y%04dm%02d", year, int(month))
}

func monthStart(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// CreatePartition creates the partition for one calendar month if it
// doesn't already exist, returning its name, or "" if it already existed.
func (s *Store) CreatePartition(ctx context.Context, year int, month time.Month) (string, error) {
	name := partitionName(year, month)
	start := monthStart(year, month)
	end := monthStart(year, month+1)

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pg_class WHERE relname = $1)`, name).Scan(&exists); err != nil {
		return "", fmt.Errorf("postgres: create_partition: %w", mapError(err))
	}
	if exists {
		return "", nil
	}

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF relgraph_audit_events FOR VALUES FROM ('%s') TO ('%s')`,
		name, start.Format(time.RFC3339), end.Format(time.RFC3339))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return "", fmt.Errorf("postgres: create_partition: %w", mapError(err))
	}
	return name, nil
}

// EnsurePartitions creates partitions for [this_month, this_month+monthsAhead]
// if missing; idempotent.
func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int, now time.Time) ([]string, error) {
	var created []string
	year, month := now.Year(), now.Month()
	for i := 0; i <= monthsAhead; i++ {
		m := month + time.Month(i)
		y := year
		for m > 12 {
			m -= 12
			y++
		}
		name, err := s.CreatePartition(ctx, y, m)
		if err != nil {
			return created, err
		}
		if name != "" {
			created = append(created, name)
		}
	}
	return created, nil
}

// DropPartitions drops partitions whose end-date is at or before
// this_month - olderThanMonths.
func (s *Store) DropPartitions(ctx context.Context, olderThanMonths int, now time.Time) ([]string, error) {
	cutoff := monthStart(now.Year(), now.Month()).AddDate(0, -olderThanMonths, 0)

	rows, err := s.db.QueryContext(ctx, `
SELECT c.relname
FROM pg_class c
JOIN pg_inherits i ON i.inhrelid = c.oid
JOIN pg_class p ON p.oid = i.inhparent
WHERE p.relname = 'relgraph_audit_events' AND c.relname LIKE 'audit_events_y%'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: drop_partitions: %w", mapError(err))
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: drop_partitions: %w", mapError(err))
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var dropped []string
	for _, name := range names {
		year, month, ok := parsePartitionName(name)
		if !ok {
			continue
		}
		end := monthStart(year, month+1)
		if !end.After(cutoff) {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
				return dropped, fmt.Errorf("postgres: drop_partitions: %w", mapError(err))
			}
			dropped = append(dropped, name)
		}
	}
	return dropped, nil
}

func parsePartitionName(name string) (int, time.Month, bool) {
	var year, month int
	if _, err := fmt.Sscanf(name, "audit_events_y%04dm%02d", &year, &month); err != nil {
		return 0, 0, false
	}
	return year, time.Month(month), true
}
