package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"migrations/0002_b.sql": {Data: []byte("CREATE TABLE b (id TEXT)")},
		"migrations/0001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT)")},
		"migrations/README.md":  {Data: []byte("ignored")},
		"migrations/sub/x.sql":  {Data: []byte("ignored")},
	}
}

func TestMigrationVersions_SortedSQLOnly(t *testing.T) {
	versions, err := migrationVersions(testFS())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, versions)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	versions, err := migrationVersions(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "0001_users_auth.sql", versions[0])
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0002_b.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_b.sql").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := runMigrations(context.Background(), database, testFS())
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_b.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RollsBackOnFailure(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("0001_a.sql").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := runMigrations(context.Background(), database, testFS())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute migration 0001_a.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
