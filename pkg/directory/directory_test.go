package directory

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetrack/duetrack/pkg/billing"
)

func TestGetUser(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, organization_id, name, email, active`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "email", "active"}).
			AddRow(7, 1, "Mina Okafor", "mina@example.com", true))

	dir := NewPostgresDirectory(db)
	u, err := dir.GetUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	assert.Equal(t, int64(1), u.OrganizationID)
	assert.Equal(t, "Mina Okafor", u.Name)
	assert.True(t, u.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, organization_id, name, email, active`).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "email", "active"}))

	dir := NewPostgresDirectory(db)
	_, err = dir.GetUser(context.Background(), 404)
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}

func TestStaticDirectoryReturnsCopies(t *testing.T) {
	dir := NewStaticDirectory(&billing.User{ID: 1, Name: "A", Active: true})

	u, err := dir.GetUser(context.Background(), 1)
	require.NoError(t, err)
	u.Name = "mutated"

	again, err := dir.GetUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", again.Name)

	_, err = dir.GetUser(context.Background(), 2)
	assert.ErrorIs(t, err, billing.ErrUserNotFound)
}
