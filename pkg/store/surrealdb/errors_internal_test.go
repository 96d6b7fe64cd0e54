package surrealdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
)

func TestClassify(t *testing.T) {
	table := NewTable(nil, models.Users)

	tests := []struct {
		msg  string
		want error
	}{
		{"Database index `idx_users_username` already contains 'ann', with record `users:u1`", store.ErrConstraint},
		{"Failed to commit transaction due to a read or write conflict. This transaction can be retried: transaction conflict", store.ErrThrottled},
		{"The query was not executed because it exceeded the timeout: query timeout", store.ErrTimeout},
		{"connection reset by peer", store.ErrTransient},
	}
	for _, tt := range tests {
		err := table.wrap(store.OpCreate, errors.New(tt.msg))
		assert.ErrorIs(t, err, tt.want, tt.msg)
	}
}

func TestRecordExists(t *testing.T) {
	assert.True(t, recordExists(errors.New("Database record `users:u1` already exists")))
	assert.False(t, recordExists(errors.New("Database index `idx_users_username` already contains 'ann'")))
}

func TestEmptyResult(t *testing.T) {
	assert.True(t, emptyResult(errors.New("Expected a single or multiple results but got 0")))
	assert.False(t, emptyResult(errors.New("There was a problem with the database")))
}

func TestIsNil(t *testing.T) {
	var missing *models.User
	assert.True(t, isNil(missing))
	assert.True(t, isNil(&models.User{}))
	assert.False(t, isNil(&models.User{ID: "u1"}))
}

func TestIndexes(t *testing.T) {
	assert.Equal(t,
		[]string{"DEFINE INDEX IF NOT EXISTS idx_products_sku ON TABLE products FIELDS sku UNIQUE"},
		NewTable(nil, models.Products).indexes())
	assert.Empty(t, NewTable(nil, models.Orders).indexes())
}
