package resource

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/events"
	"resource-orm/internal/hooks"
	"resource-orm/internal/schema"
	"resource-orm/internal/sqlutil"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

const sqliteSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	password TEXT,
	deleted_at TEXT
);
CREATE TABLE tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL UNIQUE,
	done INTEGER NOT NULL DEFAULT 0,
	owner_id INTEGER,
	meta TEXT,
	created_at TEXT,
	deleted_at TEXT
);
CREATE TABLE labels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	color TEXT
);
`

func testDefinitions(t *testing.T) *schema.Registry {
	t.Helper()
	user, err := schema.New(schema.Definition{
		Name:           "user",
		Table:          "users",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "name", "email", "password"},
		WritableFields: map[string]string{
			"name":     "required|string|max:50",
			"email":    "email|nullable",
			"password": "string|nullable",
		},
		RequiredFields:    []string{"name"},
		OmittedFields:     []string{"password"},
		Mutators:          map[string][]string{"password": {"password_hash"}},
		UniqueConstraints: []schema.Unique{{"email"}},
		Behaviors:         []schema.Behavior{schema.SoftDelete{Field: "deleted_at"}},
	})
	require.NoError(t, err)

	task, err := schema.New(schema.Definition{
		Name:           "task",
		Table:          "tasks",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "title", "done", "owner_id", "meta", "created_at"},
		WritableFields: map[string]string{
			"title":      "string|max:100",
			"done":       "boolean",
			"owner_id":   "integer|nullable",
			"meta":       "array|nullable",
			"created_at": "datetime|nullable",
		},
		RequiredFields:    []string{"title"},
		RelatedFields:     map[string]string{"owner_id": "user"},
		UniqueConstraints: []schema.Unique{{"title"}},
		SearchFields:      []string{"title"},
		DefaultValues:     map[string]interface{}{"done": false},
		Accessors: map[string][]string{
			"meta": {"json_decode"},
			"done": {"boolean"},
		},
		NullableJSONField: "meta",
		Behaviors: []schema.Behavior{
			schema.SoftDelete{Field: "deleted_at"},
			schema.Prune{Field: "created_at"},
		},
	})
	require.NoError(t, err)

	label, err := schema.New(schema.Definition{
		Name:              "label",
		Table:             "labels",
		PrimaryKey:        "id",
		ReadableFields:    []string{"id", "name", "color"},
		WritableFields:    map[string]string{"name": "string", "color": "string|nullable"},
		UniqueConstraints: []schema.Unique{{"name", "color"}},
	})
	require.NoError(t, err)

	reg, err := schema.NewRegistry(user, task, label)
	require.NoError(t, err)
	return reg
}

type env struct {
	db      *sql.DB
	manager *Manager
	hooks   *hooks.Registry
	bus     *events.LocalBus
	events  <-chan events.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "orm.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)

	h := hooks.NewRegistry()
	bus := events.NewLocalBus(32)
	ch, cancel := bus.Subscribe("")
	t.Cleanup(cancel)

	m, err := NewManager(testDefinitions(t), dbexec.NewStandardExecutor(db),
		WithDialect(sqlutil.SQLite),
		WithHooks(h),
		WithEventBus(bus),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return &env{db: db, manager: m, hooks: h, bus: bus, events: ch}
}

func (e *env) service(t *testing.T, name string) *Service {
	t.Helper()
	s, err := e.manager.Resource(name)
	require.NoError(t, err)
	return s
}

func (e *env) createUser(t *testing.T, name, email string) int64 {
	t.Helper()
	row, err := e.service(t, "user").Create(context.Background(), map[string]interface{}{"name": name, "email": email})
	require.NoError(t, err)
	return row["id"].(int64)
}

func (e *env) createTask(t *testing.T, fields map[string]interface{}) map[string]interface{} {
	t.Helper()
	row, err := e.service(t, "task").Create(context.Background(), fields)
	require.NoError(t, err)
	return row
}

// drain returns every event published so far.
func (e *env) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventNames(list []events.Event) []string {
	names := make([]string, len(list))
	for i, ev := range list {
		names[i] = ev.Name
	}
	return names
}
