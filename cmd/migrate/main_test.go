package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func TestMigrationFiles_Sorted(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_b.sql": "SELECT 2;",
		"001_a.sql": "SELECT 1;",
		"README.md": "ignored",
		"010_c.sql": "SELECT 3;",
	})
	files, err := migrationFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "001_a.sql", files[0].Version)
	assert.Equal(t, "002_b.sql", files[1].Version)
	assert.Equal(t, "010_c.sql", files[2].Version)
}

func TestApplyMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "CREATE TABLE a (id int);",
		"002_b.sql": "CREATE TABLE b (id int);",
	})
	files, err := migrationFiles(dir)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("001_a.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("002_b.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, skipped, err := applyMigrations(context.Background(), db, files)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrations_StopsOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "CREATE TABLE a (id int);",
		"002_b.sql": "CREATE TABLE b (id int);",
	})
	files, err := migrationFiles(dir)
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version FROM schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE a`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, _, err := applyMigrations(context.Background(), db, files)
	assert.ErrorContains(t, err, "apply 001_a.sql")
	assert.Equal(t, 0, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type listTemplates []domain.Template

func (l listTemplates) ListTemplates(context.Context) ([]domain.Template, error) { return l, nil }

func TestValidateTemplates(t *testing.T) {
	signer, err := token.NewSigner("x")
	require.NoError(t, err)
	r := templating.NewRenderer(signer, templating.Config{})

	errs := validateTemplates(context.Background(), listTemplates{
		{ID: "good", HTML: `<div {% container_attributes %}>{% tracked_link href: campaign.url %}x{% endtracked_link %}</div>{% beacon %}`},
		{ID: "bad", HTML: `<div>{{ creative.title }}</div>`},
	}, r)

	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "template bad")
	assert.ErrorIs(t, errs[0], templating.ErrMissingHelper)
}
