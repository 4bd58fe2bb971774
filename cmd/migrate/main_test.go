package main

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractUp(t *testing.T) {
	src := "-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;\n"
	assert.Equal(t, "CREATE TABLE a (id int);\n", extractUp(src))
	assert.Equal(t, "SELECT 1;", extractUp("SELECT 1;"))
}

func TestMigrate_SkipsAppliedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_a.sql"), []byte("-- +goose Up\nCREATE TABLE a (id int);\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_b.sql"), []byte("-- +goose Up\nCREATE TABLE b (id int);\n-- +goose Down\nDROP TABLE b;\n"), 0o644))

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlx.NewDb(sqlDB, "sqlmock")

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_a.sql"))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE b (id int)`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_b.sql", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := migrate(context.Background(), db, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
