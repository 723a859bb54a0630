package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ristosmart-license/pkg/db/option"
	"ristosmart-license/pkg/db/pagination"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID        string `gorm:"column:id;primaryKey"`
	Name      string `gorm:"column:name"`
	Size      int    `gorm:"column:size"`
	CreatedAt time.Time
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	repo := ProvideStore[widget](newDB(t))

	require.NoError(t, repo.Create(ctx, &widget{ID: "1", Name: "a", Size: 1}))
	require.NoError(t, repo.BatchCreate(ctx, []*widget{{ID: "2", Name: "b", Size: 2}, {ID: "3", Name: "c", Size: 3}}))

	got, err := repo.FindOne(ctx, &widget{Name: "b"})
	require.NoError(t, err)
	require.Equal(t, "2", got.ID)

	missing, err := repo.FindOne(ctx, &widget{Name: "zzz"})
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.Update(ctx, "2", map[string]any{"size": 0}))
	got, err = repo.FindOne(ctx, &widget{ID: "2"})
	require.NoError(t, err)
	require.Equal(t, 0, got.Size)

	require.ErrorIs(t, repo.Update(ctx, "404", map[string]any{"size": 1}), gorm.ErrRecordNotFound)

	n, err := repo.Count(ctx, &widget{})
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	deleted, err := repo.Delete(ctx, "3")
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestStoreFindWithOptions(t *testing.T) {
	ctx := context.Background()
	repo := ProvideStore[widget](newDB(t))
	for i := 1; i <= 5; i++ {
		require.NoError(t, repo.Create(ctx, &widget{ID: fmt.Sprint(i), Name: "w", Size: i}))
	}

	big, err := repo.Find(ctx, &widget{}, option.ApplyOperator(option.Condition{Field: "size", Operator: option.GT, Value: 3}))
	require.NoError(t, err)
	require.Len(t, big, 2)

	page, err := repo.Find(ctx, &widget{}, option.ApplyPagination(pagination.Pagination{Limit: 2}))
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "5", page[0].ID)

	next, err := repo.Find(ctx, &widget{}, option.ApplyPagination(pagination.Pagination{Limit: 2, Cursor: pagination.IDCursor("4")}))
	require.NoError(t, err)
	require.Equal(t, "3", next[0].ID)

	sorted, err := repo.Find(ctx, &widget{}, option.WithSortBy(option.QuerySortBy{
		SortBy: "size", OrderBy: "desc", Allow: map[string]bool{"size": true},
	}), option.WithLockingUpdate())
	require.NoError(t, err)
	require.Equal(t, 5, sorted[0].Size)
}
