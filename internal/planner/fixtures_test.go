package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"resource-orm/internal/schema"
)

type fixture struct {
	task    *schema.Definition
	user    *schema.Definition
	company *schema.Definition
	reg     *schema.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	company, err := schema.New(schema.Definition{
		Name:           "company",
		Table:          "companies",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "name"},
		WritableFields: map[string]string{"name": "string"},
		Behaviors:      []schema.Behavior{schema.SoftDelete{Field: "deleted_at"}},
	})
	require.NoError(t, err)

	user, err := schema.New(schema.Definition{
		Name:           "user",
		Table:          "users",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "name", "company_id"},
		WritableFields: map[string]string{"name": "string", "company_id": "integer"},
		RelatedFields:  map[string]string{"company_id": "company"},
	})
	require.NoError(t, err)

	task, err := schema.New(schema.Definition{
		Name:           "task",
		Table:          "tasks",
		PrimaryKey:     "id",
		ReadableFields: []string{"id", "title", "done", "owner_id", "reviewer_id", "meta", "created_at"},
		WritableFields: map[string]string{
			"title":       "string",
			"done":        "boolean",
			"owner_id":    "integer",
			"reviewer_id": "integer",
			"meta":        "json",
		},
		RelatedFields:     map[string]string{"owner_id": "user", "reviewer_id": "user"},
		UniqueConstraints: []schema.Unique{{"title"}},
		SearchFields:      []string{"title"},
		MaxLimit:          50,
		Behaviors: []schema.Behavior{
			schema.SoftDelete{Field: "deleted_at"},
			schema.Prune{Field: "created_at"},
		},
	})
	require.NoError(t, err)

	reg, err := schema.NewRegistry(task, user, company)
	require.NoError(t, err)

	return fixture{task: task, user: user, company: company, reg: reg}
}

func intPtr(v int) *int {
	return &v
}
