package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/storage/dialect"
)

// Store is a SQL implementation of ports.StorageProvider that supports
// multiple database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.StorageProvider = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to a private in-memory SQLite database sees a
	// different database.
	if d.Name() == "sqlite" && (cfg.DSN == ":memory:" || strings.Contains(cfg.DSN, "mode=memory")) {
		db.SetMaxOpenConns(1)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewPostgres creates a new PostgreSQL store using the pgx driver
func NewPostgres(dsn string) (*Store, error) {
	return New(Config{Driver: "postgres", DSN: dsn})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	boolean := s.dialect.BooleanType()
	js := s.dialect.JSONType()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			identifier TEXT,
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority TEXT,
			assignee_id TEXT,
			creator_id TEXT,
			approval_required ` + boolean + ` NOT NULL,
			approved_at ` + ts + `,
			approved_by TEXT,
			due_date ` + ts + `,
			completed_at ` + ts + `,
			metadata ` + js + `,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id TEXT NOT NULL,
			depends_on_id TEXT NOT NULL,
			blocking ` + boolean + ` NOT NULL,
			created_at ` + ts + ` NOT NULL,
			PRIMARY KEY (task_id, depends_on_id)
		)`,
		`CREATE TABLE IF NOT EXISTS hooks (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			name TEXT,
			url TEXT NOT NULL,
			secret TEXT,
			events ` + js + `,
			enabled ` + boolean + ` NOT NULL,
			hook_type TEXT NOT NULL,
			can_block ` + boolean + ` NOT NULL,
			timeout_ms INTEGER NOT NULL,
			failure_count INTEGER NOT NULL,
			last_triggered_at ` + ts + `,
			last_error TEXT,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			org_id TEXT NOT NULL,
			type TEXT NOT NULL,
			actor_id TEXT,
			entity_type TEXT,
			entity_id TEXT,
			data ` + js + `,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_org ON tasks(org_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(org_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_id)`,
		`CREATE INDEX IF NOT EXISTS idx_hooks_org_type ON hooks(org_id, hook_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_org_created ON events(org_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// ---- tasks ----

type taskRow struct {
	ID               string         `db:"id"`
	OrgID            string         `db:"org_id"`
	Identifier       sql.NullString `db:"identifier"`
	Title            string         `db:"title"`
	Description      sql.NullString `db:"description"`
	Status           string         `db:"status"`
	Priority         sql.NullString `db:"priority"`
	AssigneeID       sql.NullString `db:"assignee_id"`
	CreatorID        sql.NullString `db:"creator_id"`
	ApprovalRequired bool           `db:"approval_required"`
	ApprovedAt       sql.NullTime   `db:"approved_at"`
	ApprovedBy       sql.NullString `db:"approved_by"`
	DueDate          sql.NullTime   `db:"due_date"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	Metadata         sql.NullString `db:"metadata"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const taskColumns = `id, org_id, identifier, title, description, status, priority, assignee_id, creator_id,
	approval_required, approved_at, approved_by, due_date, completed_at, metadata, created_at, updated_at`

func (r *taskRow) toDomain() (*domain.Task, error) {
	t := &domain.Task{
		ID:               r.ID,
		OrgID:            r.OrgID,
		Identifier:       r.Identifier.String,
		Title:            r.Title,
		Description:      r.Description.String,
		Status:           domain.TaskStatus(r.Status),
		Priority:         domain.TaskPriority(r.Priority.String),
		AssigneeID:       r.AssigneeID.String,
		CreatorID:        r.CreatorID.String,
		ApprovalRequired: r.ApprovalRequired,
		ApprovedAt:       fromNullTime(r.ApprovedAt),
		ApprovedBy:       r.ApprovedBy.String,
		DueDate:          fromNullTime(r.DueDate),
		CompletedAt:      fromNullTime(r.CompletedAt),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.Metadata.Valid && r.Metadata.String != "" && r.Metadata.String != "null" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task metadata: %w", err)
		}
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, orgID, id string) (*domain.Task, error) {
	query := s.dialect.Rebind(`SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND org_id = ?`)

	var row taskRow
	if err := s.db.GetContext(ctx, &row, query, id, orgID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("task", id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toDomain()
}

func (s *Store) SaveTask(ctx context.Context, task *domain.Task) error {
	now := time.Now().UTC()
	createdAt := task.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := task.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	metadata, err := marshalJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal task metadata: %w", err)
	}

	update := []string{
		"identifier", "title", "description", "status", "priority", "assignee_id", "creator_id",
		"approval_required", "approved_at", "approved_by", "due_date", "completed_at", "metadata", "updated_at",
	}
	query := s.dialect.Rebind(`INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` +
		s.dialect.UpsertClause("id", update) + ` WHERE tasks.org_id = excluded.org_id`)

	res, err := s.db.ExecContext(ctx, query,
		task.ID, task.OrgID, task.Identifier, task.Title, task.Description, string(task.Status),
		string(task.Priority), task.AssigneeID, task.CreatorID, task.ApprovalRequired,
		toNullTime(task.ApprovedAt), task.ApprovedBy, toNullTime(task.DueDate), toNullTime(task.CompletedAt),
		metadata, createdAt.UTC(), updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Conflict("task " + task.ID + " belongs to another organization")
	}
	return nil
}

// ---- dependencies ----

func (s *Store) ListBlocking(ctx context.Context, taskID string) ([]domain.BlockingDependency, error) {
	query := s.dialect.Rebind(`SELECT d.task_id, d.depends_on_id, COALESCE(t.status, '') AS depends_on_status
		FROM task_dependencies d
		LEFT JOIN tasks t ON t.id = d.depends_on_id
		WHERE d.task_id = ? AND d.blocking = ?
		ORDER BY d.created_at ASC, d.depends_on_id ASC`)

	var rows []struct {
		TaskID          string `db:"task_id"`
		DependsOnID     string `db:"depends_on_id"`
		DependsOnStatus string `db:"depends_on_status"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, taskID, true); err != nil {
		return nil, fmt.Errorf("failed to list blocking dependencies: %w", err)
	}

	deps := make([]domain.BlockingDependency, len(rows))
	for i, r := range rows {
		deps[i] = domain.BlockingDependency{
			TaskID:          r.TaskID,
			DependsOnID:     r.DependsOnID,
			DependsOnStatus: domain.TaskStatus(r.DependsOnStatus),
		}
	}
	return deps, nil
}

func (s *Store) AddDependency(ctx context.Context, dep *domain.TaskDependency) error {
	if dep.TaskID == dep.DependsOnID {
		return domain.InvalidRequest("a task cannot depend on itself")
	}
	createdAt := dep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO task_dependencies (task_id, depends_on_id, blocking, created_at)
		VALUES (?, ?, ?, ?) ` + s.dialect.UpsertClause("task_id, depends_on_id", []string{"blocking"}))

	if _, err := s.db.ExecContext(ctx, query, dep.TaskID, dep.DependsOnID, dep.Blocking, createdAt.UTC()); err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

// ---- hooks ----

type hookRow struct {
	ID              string         `db:"id"`
	OrgID           string         `db:"org_id"`
	Name            sql.NullString `db:"name"`
	URL             string         `db:"url"`
	Secret          sql.NullString `db:"secret"`
	Events          sql.NullString `db:"events"`
	Enabled         bool           `db:"enabled"`
	HookType        string         `db:"hook_type"`
	CanBlock        bool           `db:"can_block"`
	TimeoutMs       int            `db:"timeout_ms"`
	FailureCount    int            `db:"failure_count"`
	LastTriggeredAt sql.NullTime   `db:"last_triggered_at"`
	LastError       sql.NullString `db:"last_error"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const hookColumns = `id, org_id, name, url, secret, events, enabled, hook_type, can_block, timeout_ms,
	failure_count, last_triggered_at, last_error, created_at, updated_at`

func (r *hookRow) toDomain() (*domain.Hook, error) {
	h := &domain.Hook{
		ID:              r.ID,
		OrgID:           r.OrgID,
		Name:            r.Name.String,
		URL:             r.URL,
		Secret:          r.Secret.String,
		Enabled:         r.Enabled,
		HookType:        domain.HookType(r.HookType),
		CanBlock:        r.CanBlock,
		TimeoutMs:       r.TimeoutMs,
		FailureCount:    r.FailureCount,
		LastTriggeredAt: fromNullTime(r.LastTriggeredAt),
		LastError:       r.LastError.String,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.Events.Valid && r.Events.String != "" && r.Events.String != "null" {
		if err := json.Unmarshal([]byte(r.Events.String), &h.Events); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hook events: %w", err)
		}
	}
	return h, nil
}

func (s *Store) ListEnabled(ctx context.Context, orgID string, hookType domain.HookType) ([]*domain.Hook, error) {
	query := s.dialect.Rebind(`SELECT ` + hookColumns + ` FROM hooks
		WHERE org_id = ? AND hook_type = ? AND enabled = ?
		ORDER BY created_at ASC, id ASC`)

	var rows []hookRow
	if err := s.db.SelectContext(ctx, &rows, query, orgID, string(hookType), true); err != nil {
		return nil, fmt.Errorf("failed to list hooks: %w", err)
	}

	hooks := make([]*domain.Hook, 0, len(rows))
	for i := range rows {
		h, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}

func (s *Store) RecordOutcome(ctx context.Context, hookID string, update domain.HookUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.FailureCount != nil {
		sets = append(sets, "failure_count = ?")
		args = append(args, *update.FailureCount)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastTriggeredAt != nil {
		sets = append(sets, "last_triggered_at = ?")
		args = append(args, update.LastTriggeredAt.UTC())
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *update.LastError)
	}
	args = append(args, hookID)

	query := s.dialect.Rebind(`UPDATE hooks SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to record hook outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.NotFound("hook", hookID)
	}
	return nil
}

// RecordFailure increments failure_count in a single statement so
// overlapping gates never lose an increment.
func (s *Store) RecordFailure(ctx context.Context, hookID, lastError string, threshold int) (int, bool, error) {
	query := s.dialect.Rebind(`UPDATE hooks SET
			failure_count = failure_count + 1,
			enabled = CASE WHEN failure_count + 1 >= ? THEN ? ELSE enabled END,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
		RETURNING failure_count, enabled`)

	var out struct {
		FailureCount int  `db:"failure_count"`
		Enabled      bool `db:"enabled"`
	}
	err := s.db.GetContext(ctx, &out, query, threshold, false, lastError, time.Now().UTC(), hookID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, domain.NotFound("hook", hookID)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to record hook failure: %w", err)
	}
	return out.FailureCount, out.Enabled, nil
}

func (s *Store) SaveHook(ctx context.Context, hook *domain.Hook) error {
	now := time.Now().UTC()
	createdAt := hook.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	events, err := marshalJSON(hook.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal hook events: %w", err)
	}

	update := []string{
		"org_id", "name", "url", "secret", "events", "enabled", "hook_type", "can_block", "timeout_ms",
		"failure_count", "last_triggered_at", "last_error", "updated_at",
	}
	query := s.dialect.Rebind(`INSERT INTO hooks (` + hookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ` + s.dialect.UpsertClause("id", update))

	_, err = s.db.ExecContext(ctx, query,
		hook.ID, hook.OrgID, hook.Name, hook.URL, hook.Secret, events, hook.Enabled, string(hook.HookType),
		hook.CanBlock, hook.TimeoutMs, hook.FailureCount, toNullTime(hook.LastTriggeredAt), hook.LastError,
		createdAt.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to save hook: %w", err)
	}
	return nil
}

func (s *Store) GetHook(ctx context.Context, id string) (*domain.Hook, error) {
	query := s.dialect.Rebind(`SELECT ` + hookColumns + ` FROM hooks WHERE id = ?`)

	var row hookRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("hook", id)
		}
		return nil, fmt.Errorf("failed to get hook: %w", err)
	}
	return row.toDomain()
}

// ---- events ----

type eventRow struct {
	ID         string         `db:"id"`
	OrgID      string         `db:"org_id"`
	Type       string         `db:"type"`
	ActorID    sql.NullString `db:"actor_id"`
	EntityType sql.NullString `db:"entity_type"`
	EntityID   sql.NullString `db:"entity_id"`
	Data       sql.NullString `db:"data"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.Event) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	data, err := marshalJSON(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := s.dialect.Rebind(`INSERT INTO events (id, org_id, type, actor_id, entity_type, entity_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.OrgID, event.Type, event.ActorID, event.EntityType, event.EntityID, data, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, opts ports.EventListOptions) ([]*domain.Event, error) {
	var where []string
	var args []any

	if opts.OrgID != "" {
		where = append(where, "org_id = ?")
		args = append(args, opts.OrgID)
	}
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, opts.Type)
	}
	if opts.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, opts.EntityID)
	}
	if !opts.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	query := `SELECT id, org_id, type, actor_id, entity_type, entity_id, data, created_at FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.Event, 0, len(rows))
	for _, r := range rows {
		e := &domain.Event{
			ID:         r.ID,
			OrgID:      r.OrgID,
			Type:       r.Type,
			ActorID:    r.ActorID.String,
			EntityType: r.EntityType.String,
			EntityID:   r.EntityID.String,
			CreatedAt:  r.CreatedAt.UTC(),
		}
		if r.Data.Valid && r.Data.String != "" && r.Data.String != "null" {
			if err := json.Unmarshal([]byte(r.Data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, nil
}

func marshalJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
