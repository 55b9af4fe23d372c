package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tappedai/event-crawler/internal/store"
)

type TestEntity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Tag   string `json:"tag"`
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func testEntity(s *store.Store) *store.Entity[TestEntity] {
	return store.NewEntity[TestEntity](s, "test:").
		WithUniqueIndexTransform("email",
			func(e *TestEntity) []string { return []string{strings.ToLower(e.Email)} },
			strings.ToLower,
		).
		WithIndex("tag", func(e *TestEntity) []string { return []string{e.Tag} })
}

func TestEntity_Create_Success(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)

	testData := &TestEntity{ID: "1", Name: "Ember", Email: "booking@ember.com", Tag: "raleigh"}
	require.NoError(t, entity.Create(context.Background(), "1", testData))

	retrieved, err := entity.Get(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, testData, retrieved)
}

func TestEntity_Create_AlreadyExists(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)

	require.NoError(t, entity.Create(context.Background(), "1", &TestEntity{ID: "1", Email: "a@x.com"}))

	err := entity.Create(context.Background(), "1", &TestEntity{ID: "1", Email: "b@x.com"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestEntity_Get_NotFound(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)

	_, err := entity.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_Update(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	require.NoError(t, entity.Create(ctx, "1", &TestEntity{ID: "1", Email: "old@x.com", Tag: "a"}))
	require.NoError(t, entity.Update(ctx, "1", &TestEntity{ID: "1", Email: "new@x.com", Tag: "b"}))

	// Old index entries are gone, new ones resolve.
	_, err := entity.GetByIndex(ctx, "email", "old@x.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := entity.GetByIndex(ctx, "email", "NEW@x.com")
	require.NoError(t, err)
	require.Equal(t, "1", got.ID)

	var tagged []string
	for e, err := range entity.ListByIndex(ctx, "tag", "a") {
		require.NoError(t, err)
		tagged = append(tagged, e.ID)
	}
	require.Empty(t, tagged)

	err = entity.Update(ctx, "missing", &TestEntity{ID: "missing"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_Put_Upserts(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	require.NoError(t, entity.Put(ctx, "1", &TestEntity{ID: "1", Name: "first", Email: "a@x.com"}))
	require.NoError(t, entity.Put(ctx, "1", &TestEntity{ID: "1", Name: "second", Email: "a@x.com"}))

	got, err := entity.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "second", got.Name)
}

func TestEntity_Delete(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	require.NoError(t, entity.Create(ctx, "1", &TestEntity{ID: "1", Email: "a@x.com"}))
	require.NoError(t, entity.Delete(ctx, "1"))

	_, err := entity.Get(ctx, "1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// The unique value is free again.
	require.NoError(t, entity.Create(ctx, "2", &TestEntity{ID: "2", Email: "a@x.com"}))

	require.NoError(t, entity.Delete(ctx, "never-existed"))
}

func TestEntity_ContextCancellation(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, entity.Create(ctx, "1", &TestEntity{ID: "1"}), context.Canceled)
	_, err := entity.Get(ctx, "1")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, entity.Delete(ctx, "1"), context.Canceled)
}

func TestEntity_IndexConflict(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	require.NoError(t, entity.Create(ctx, "1", &TestEntity{ID: "1", Email: "dup@x.com"}))

	err := entity.Create(ctx, "2", &TestEntity{ID: "2", Email: "DUP@x.com"})
	require.True(t, errors.Is(err, store.ErrAlreadyExists))

	// Nothing of the rejected write is visible.
	_, err = entity.Get(ctx, "2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEntity_ListByIndex(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	require.NoError(t, entity.Create(ctx, "1", &TestEntity{ID: "1", Email: "1@x.com", Tag: "raleigh"}))
	require.NoError(t, entity.Create(ctx, "2", &TestEntity{ID: "2", Email: "2@x.com", Tag: "raleigh"}))
	require.NoError(t, entity.Create(ctx, "3", &TestEntity{ID: "3", Email: "3@x.com", Tag: "raleighs"}))

	var ids []string
	for e, err := range entity.ListByIndex(ctx, "tag", "raleigh") {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	require.ElementsMatch(t, []string{"1", "2"}, ids)

	for _, err := range entity.ListByIndex(ctx, "email", "1@x.com") {
		require.Error(t, err, "unique indexes cannot be listed")
	}
}

func TestEntity_List(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, entity.Create(ctx, id, &TestEntity{ID: id, Email: id + "@x.com", Tag: "t"}))
	}

	var ids []string
	for e, err := range entity.List(ctx) {
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestEntity_List_EarlyTermination(t *testing.T) {
	s := setupTestStore(t)
	entity := testEntity(s)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, entity.Create(ctx, id, &TestEntity{ID: id, Email: id + "@x.com"}))
	}

	count := 0
	for range entity.List(ctx) {
		count++
		if count == 2 {
			break
		}
	}
	require.Equal(t, 2, count)
}
