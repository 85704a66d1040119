package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"actionwatch/internal/action"
	logx "actionwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	cfg Config
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, cfg: cfg, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// Cascade deletes from definitions to instances need this on.
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Definitions ----

const definitionCols = `id, name, description, active, visible, start_at, timezone,
	schedule_interval_ms, completion_latency_ms, group_id, created_at, updated_at`

func (s *sqliteStore) CreateDefinition(ctx context.Context, def action.Definition) error {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO definitions(`+definitionCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		def.ID, def.Name, def.Description, boolInt(def.Active), boolInt(def.Visible),
		fmtTime(def.StartAt), def.Timezone,
		def.ScheduleInterval.Milliseconds(), def.CompletionLatency.Milliseconds(),
		def.GroupID, fmtTime(def.CreatedAt), fmtTime(def.UpdatedAt),
	)
	return mapErr(err)
}

func (s *sqliteStore) GetDefinition(ctx context.Context, id string) (action.Definition, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionCols+` FROM definitions WHERE id = ?`, id)
	return scanDefinition(row)
}

func (s *sqliteStore) UpdateDefinition(ctx context.Context, def action.Definition) error {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	// start_at, timezone and schedule_interval_ms are deliberately absent:
	// the anchor is immutable after creation.
	res, err := s.db.ExecContext(ctx,
		`UPDATE definitions
		 SET name=?, description=?, active=?, visible=?, completion_latency_ms=?, group_id=?, updated_at=?
		 WHERE id=?`,
		def.Name, def.Description, boolInt(def.Active), boolInt(def.Visible),
		def.CompletionLatency.Milliseconds(), def.GroupID, fmtTime(def.UpdatedAt), def.ID,
	)
	if err != nil {
		return mapErr(err)
	}
	return affectedOrNotFound(res)
}

func (s *sqliteStore) DeleteDefinition(ctx context.Context, id string) error {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return mapErr(err)
	}
	return affectedOrNotFound(res)
}

func (s *sqliteStore) ListDefinitions(ctx context.Context, q DefinitionQuery) ([]action.Definition, int, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	if q.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*q.Active))
	}
	if q.Visible != nil {
		where = append(where, "visible = ?")
		args = append(args, boolInt(*q.Visible))
	}
	if q.GroupID != "" {
		where = append(where, "group_id = ?")
		args = append(args, q.GroupID)
	}
	if !q.CreatedAfter.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, fmtTime(q.CreatedAfter))
	}
	if !q.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, fmtTime(q.CreatedBefore))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM definitions`+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	order, err := definitionOrderClause(q.SortBy, q.Order)
	if err != nil {
		return nil, 0, err
	}
	limit, offset := pageBounds(q.Page, q.PerPage)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+definitionCols+` FROM definitions`+cond+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	var defs []action.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, 0, err
		}
		defs = append(defs, def)
	}
	return defs, total, mapErr(rows.Err())
}

// definitionOrderClause maps the typed sort spec to a whitelisted ORDER BY.
// Column names never come from caller input.
func definitionOrderClause(by DefinitionSort, order SortOrder) (string, error) {
	col := ""
	switch by {
	case "", DefinitionSortCreatedAt:
		col = "created_at"
	case DefinitionSortName:
		col = "name"
	case DefinitionSortStartAt:
		col = "start_at"
	default:
		return "", &action.ValidationError{Field: "sort", Reason: "unsupported sort field " + string(by)}
	}
	dir, err := orderDir(order)
	if err != nil {
		return "", err
	}
	return " ORDER BY " + col + dir, nil
}

func orderDir(order SortOrder) (string, error) {
	switch order {
	case "", OrderAsc:
		return " ASC", nil
	case OrderDesc:
		return " DESC", nil
	default:
		return "", &action.ValidationError{Field: "order", Reason: "must be asc or desc"}
	}
}

// ---- Instances ----

const instanceCols = `id, schedule_id, window_index, completed_at, message, created_at, updated_at`

func (s *sqliteStore) GetOrCreateInstance(ctx context.Context, scheduleID string, w action.Window) (action.Instance, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	// Insert-if-absent against the unique (schedule_id, window_index)
	// index, then read whichever row won. A plain check-then-insert would
	// race; this pair cannot.
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances(id, schedule_id, window_index, message, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(schedule_id, window_index) DO NOTHING`,
		uuid.NewString(), scheduleID, w.Index, "", fmtTime(now), fmtTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return action.Instance{}, action.ErrNotFound
		}
		return action.Instance{}, mapErr(err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE schedule_id = ? AND window_index = ?`,
		scheduleID, w.Index)
	return scanInstance(row)
}

func (s *sqliteStore) GetInstance(ctx context.Context, id string) (action.Instance, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

func (s *sqliteStore) SetInstanceCompletion(ctx context.Context, id string, completedAt time.Time, message string) (action.Instance, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET completed_at=?, message=?, updated_at=? WHERE id=?`,
		fmtTime(completedAt), message, fmtTime(time.Now()), id,
	)
	if err != nil {
		return action.Instance{}, mapErr(err)
	}
	if err := affectedOrNotFound(res); err != nil {
		return action.Instance{}, err
	}
	return s.GetInstance(ctx, id)
}

func (s *sqliteStore) ListInstances(ctx context.Context, scheduleID string, q InstanceQuery) ([]action.Instance, int, error) {
	ctx, cancel := opCtx(ctx, s.cfg)
	defer cancel()

	cond := ` WHERE schedule_id = ?`
	args := []any{scheduleID}
	if q.Completed != nil {
		if *q.Completed {
			cond += ` AND completed_at IS NOT NULL`
		} else {
			cond += ` AND completed_at IS NULL`
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances`+cond, args...).Scan(&total); err != nil {
		return nil, 0, mapErr(err)
	}

	order, err := instanceOrderClause(q.SortBy, q.Order)
	if err != nil {
		return nil, 0, err
	}
	limit, offset := pageBounds(q.Page, q.PerPage)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceCols+` FROM instances`+cond+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, mapErr(err)
	}
	defer rows.Close()

	var insts []action.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, err
		}
		insts = append(insts, inst)
	}
	return insts, total, mapErr(rows.Err())
}

func instanceOrderClause(by InstanceSort, order SortOrder) (string, error) {
	col := ""
	switch by {
	case "", InstanceSortWindowIndex:
		col = "window_index"
	case InstanceSortCreatedAt:
		col = "created_at"
	default:
		return "", &action.ValidationError{Field: "sort", Reason: "unsupported sort field " + string(by)}
	}
	dir, err := orderDir(order)
	if err != nil {
		return "", err
	}
	return " ORDER BY " + col + dir, nil
}

// ---- Scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (action.Definition, error) {
	var (
		def                           action.Definition
		active, visible               int64
		intervalMS, latencyMS         int64
		startAt, createdAt, updatedAt string
	)
	err := row.Scan(&def.ID, &def.Name, &def.Description, &active, &visible,
		&startAt, &def.Timezone, &intervalMS, &latencyMS, &def.GroupID,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Definition{}, action.ErrNotFound
	}
	if err != nil {
		return action.Definition{}, mapErr(err)
	}
	def.Active = active != 0
	def.Visible = visible != 0
	def.ScheduleInterval = time.Duration(intervalMS) * time.Millisecond
	def.CompletionLatency = time.Duration(latencyMS) * time.Millisecond
	if def.StartAt, err = parseTime(startAt); err != nil {
		return action.Definition{}, err
	}
	if def.CreatedAt, err = parseTime(createdAt); err != nil {
		return action.Definition{}, err
	}
	if def.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return action.Definition{}, err
	}
	return def, nil
}

func scanInstance(row rowScanner) (action.Instance, error) {
	var (
		inst                 action.Instance
		completedAt          sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&inst.ID, &inst.ScheduleID, &inst.WindowIndex,
		&completedAt, &inst.Message, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Instance{}, action.ErrNotFound
	}
	if err != nil {
		return action.Instance{}, mapErr(err)
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return action.Instance{}, err
		}
		inst.CompletedAt = &t
	}
	if inst.CreatedAt, err = parseTime(createdAt); err != nil {
		return action.Instance{}, err
	}
	if inst.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return action.Instance{}, err
	}
	return inst, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return action.ErrNotFound
	}
	return nil
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// timeLayout is RFC3339 with a fixed-width fraction so stored strings
// compare lexicographically in time order (RFC3339Nano trims trailing
// zeros, which breaks ordering within a second).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: bad stored time %q: %w", s, err)
	}
	return t, nil
}
