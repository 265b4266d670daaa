package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

// setupMockDB opens a postgres-dialect gorm connection backed by sqlmock.
func setupMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewStore(gormDB), mock
}

func TestStore_Mock_UpsertPlatformDatabaseErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
	}{
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
			},
		},
		{
			name: "insert fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "platforms"`)).
					WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockDB(t)
			tt.setupMock(mock)

			_, err := store.UpsertPlatform(context.Background(), domain.PlatformInput{Name: "Bolt"})
			require.Error(t, err)
			assert.True(t, common.HasCode(err, common.ErrCodeDatabase))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Mock_UpsertApplicationLookupError(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).
		WillReturnError(errors.New("timeout"))
	mock.ExpectRollback()

	_, inserted, err := store.UpsertApplication(context.Background(), 1,
		domain.NormalizedRecord{ExternalID: "x", Name: "X"}, domain.ModeIngest)

	assert.False(t, inserted)
	assert.True(t, common.HasCode(err, common.ErrCodeDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Mock_UpsertApplicationSkipsExisting(t *testing.T) {
	store, mock := setupMockDB(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "platform_id", "identity_key", "name", "created_at"}).
			AddRow(42, 3, "ext:x", "X", now))
	mock.ExpectCommit()

	id, inserted, err := store.UpsertApplication(context.Background(), 3,
		domain.NormalizedRecord{ExternalID: "x", Name: "X"}, domain.ModeIngest)

	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, uint(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Mock_Search(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		query       string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
		expectCount int
	}{
		{
			name:  "matches",
			query: "todo",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "platform_id", "name", "url", "created_at"}).
					AddRow(1, 1, "Todo", "https://a.example", now).
					AddRow(2, 1, "Todo 2", "https://b.example", now)
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).WillReturnRows(rows)
			},
			expectCount: 2,
		},
		{
			name:  "no results",
			query: "nothing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			expectCount: 0,
		},
		{
			name:  "database error",
			query: "todo",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "applications"`)).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockDB(t)
			tt.setupMock(mock)

			apps, err := store.Search(context.Background(), tt.query, 10)
			if tt.expectError {
				assert.True(t, common.HasCode(err, common.ErrCodeDatabase))
			} else {
				require.NoError(t, err)
				assert.Len(t, apps, tt.expectCount)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_Mock_CountAndStats(t *testing.T) {
	store, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "applications"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM platforms AS p LEFT JOIN applications AS a`)).
		WillReturnError(errors.New("relation does not exist"))

	n, err := store.CountApplications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	_, err = store.PlatformStats(context.Background())
	assert.True(t, common.HasCode(err, common.ErrCodeDatabase))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectMergeUpToMove(mock sqlmock.Sqlmock, keepID, mergeID uint) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "platforms"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "canonical_name"}).AddRow(mergeID, "Mirror", "mirror"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "platforms"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "canonical_name"}).AddRow(keepID, "GitHub", "github"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT m.id AS merge_app_id, k.id AS keep_app_id FROM applications AS m`)).
		WillReturnRows(sqlmock.NewRows([]string{"merge_app_id", "keep_app_id"}).AddRow(20, 10))

	// Collapsing reads the keeper first, then updates without a subquery on
	// the table being updated.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "ai_tool_id" FROM "application_ai_tools" WHERE application_id = $1`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"ai_tool_id"}).AddRow(3))
	mock.ExpectExec(`^` + regexp.QuoteMeta(`UPDATE "application_ai_tools" SET "application_id"=$1 WHERE application_id = $2 AND ai_tool_id NOT IN ($3)`) + `$`).
		WithArgs(10, 20, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "application_ai_tools" WHERE application_id = $1`)).
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "github_repositories" WHERE application_id = $1`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "github_repositories" SET "application_id"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "github_repositories" WHERE application_id = $1`)).
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "applications" WHERE "applications"."id" = $1`)).
		WithArgs(20).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "applications" SET "platform_id"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
}

func TestStore_Mock_MergePlatforms(t *testing.T) {
	t.Run("commits after the platform is removed", func(t *testing.T) {
		store, mock := setupMockDB(t)
		expectMergeUpToMove(mock, 1, 2)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "platforms" WHERE "platforms"."id" = $1`)).
			WithArgs(2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := store.MergePlatforms(context.Background(), 1, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Collapsed)
		assert.Equal(t, int64(2), result.Moved)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when the platform delete fails", func(t *testing.T) {
		store, mock := setupMockDB(t)
		expectMergeUpToMove(mock, 1, 2)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "platforms" WHERE "platforms"."id" = $1`)).
			WithArgs(2).
			WillReturnError(errors.New("foreign key violation"))
		mock.ExpectRollback()

		_, err := store.MergePlatforms(context.Background(), 1, 2)
		require.Error(t, err)
		assert.True(t, common.HasCode(err, common.ErrCodeDatabase))
		assert.ErrorContains(t, err, "foreign key violation")
		assert.NoError(t, mock.ExpectationsWereMet(), "move and collapse are rolled back, never committed")
	})
}
