package store

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealshop/pkg/models"
)

// FindUserByUsername returns the user with the given username.
func FindUserByUsername(ctx context.Context, s Store, username string) (*models.User, error) {
	return findOne(ctx, s.Users(), "username", username)
}

// FindProductBySKU returns the product with the given SKU.
func FindProductBySKU(ctx context.Context, s Store, sku string) (*models.Product, error) {
	return findOne(ctx, s.Products(), "sku", sku)
}

// FindCategoryBySlug returns the category with the given slug.
func FindCategoryBySlug(ctx context.Context, s Store, slug string) (*models.Category, error) {
	return findOne(ctx, s.Categories(), "slug", slug)
}

func FindProductsByCategory(ctx context.Context, s Store, id models.CategoryID) ([]*models.Product, error) {
	return s.Products().FindBy(ctx, "category_id", id)
}

func FindChildCategories(ctx context.Context, s Store, parent models.CategoryID) ([]*models.Category, error) {
	return s.Categories().FindBy(ctx, "parent_id", parent)
}

func FindCartItemsByUser(ctx context.Context, s Store, id models.UserID) ([]*models.CartItem, error) {
	return s.CartItems().FindBy(ctx, "user_id", id)
}

func FindOrdersByUser(ctx context.Context, s Store, id models.UserID) ([]*models.Order, error) {
	return s.Orders().FindBy(ctx, "user_id", id)
}

func findOne[T models.Record](ctx context.Context, repo Repository[T], field string, value any) (T, error) {
	var zero T
	found, err := repo.FindBy(ctx, field, value)
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, fmt.Errorf("%s %v: %w", field, value, ErrNotFound)
	}
	return found[0], nil
}
