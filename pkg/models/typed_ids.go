package models

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Table names shared by both backends.
const (
	TableUsers      = "users"
	TableCategories = "categories"
	TableProducts   = "products"
	TableCartItems  = "cart_items"
	TableOrders     = "orders"
)

// recordIDTag is the CBOR tag SurrealDB uses for record ids.
const recordIDTag = 8

// NewKey returns a fresh identity for callers that do not supply one.
func NewKey() string {
	return uuid.NewString()
}

// UserID is a typed ID for users
type UserID string

func (id UserID) String() string { return string(id) }
func (id UserID) IsZero() bool   { return id == "" }

func (id UserID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: TableUsers, ID: string(id)}
}

func (id UserID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableUsers, string(id))
}

func (id *UserID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableUsers, (*string)(id))
}

// CategoryID is a typed ID for categories
type CategoryID string

func (id CategoryID) String() string { return string(id) }
func (id CategoryID) IsZero() bool   { return id == "" }

func (id CategoryID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: TableCategories, ID: string(id)}
}

func (id CategoryID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableCategories, string(id))
}

func (id *CategoryID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableCategories, (*string)(id))
}

// ProductID is a typed ID for products
type ProductID string

func (id ProductID) String() string { return string(id) }
func (id ProductID) IsZero() bool   { return id == "" }

func (id ProductID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: TableProducts, ID: string(id)}
}

func (id ProductID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableProducts, string(id))
}

func (id *ProductID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableProducts, (*string)(id))
}

// CartItemID is a typed ID for cart items
type CartItemID string

func (id CartItemID) String() string { return string(id) }
func (id CartItemID) IsZero() bool   { return id == "" }

func (id CartItemID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: TableCartItems, ID: string(id)}
}

func (id CartItemID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableCartItems, string(id))
}

func (id *CartItemID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableCartItems, (*string)(id))
}

// OrderID is a typed ID for orders
type OrderID string

func (id OrderID) String() string { return string(id) }
func (id OrderID) IsZero() bool   { return id == "" }

func (id OrderID) RecordID() surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: TableOrders, ID: string(id)}
}

func (id OrderID) MarshalCBOR() ([]byte, error) {
	return marshalCBORID(TableOrders, string(id))
}

func (id *OrderID) UnmarshalCBOR(data []byte) error {
	return unmarshalCBORID(data, TableOrders, (*string)(id))
}

// RecordIDFor returns the SurrealDB record id of an identity in table.
func RecordIDFor(table, id string) surrealdb_models.RecordID {
	return surrealdb_models.RecordID{Table: table, ID: id}
}

func marshalCBORID(table, id string) ([]byte, error) {
	if id == "" {
		return cbor.Marshal(nil)
	}
	return cbor.Marshal(cbor.Tag{
		Number:  recordIDTag,
		Content: []any{table, id},
	})
}

// unmarshalCBORID accepts a record id for expectedTable, a bare string, or null.
func unmarshalCBORID(data []byte, expectedTable string, target *string) error {
	if len(data) == 0 {
		return fmt.Errorf("empty CBOR data")
	}

	var raw any
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR id: %w", err)
	}

	switch v := raw.(type) {
	case nil:
		*target = ""
		return nil
	case string:
		*target = v
		return nil
	case cbor.Tag:
		if v.Number != recordIDTag {
			return fmt.Errorf("expected RecordID tag (%d), got %d", recordIDTag, v.Number)
		}
		arr, ok := v.Content.([]any)
		if !ok || len(arr) != 2 {
			return fmt.Errorf("invalid RecordID format: expected [table, id] array")
		}
		table, ok := arr[0].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: table name must be string")
		}
		if table != expectedTable {
			return fmt.Errorf("expected table %s, got %s", expectedTable, table)
		}
		id, ok := arr[1].(string)
		if !ok {
			return fmt.Errorf("invalid RecordID format: ID must be string")
		}
		*target = id
		return nil
	default:
		return fmt.Errorf("cannot unmarshal %T into %s id", raw, expectedTable)
	}
}
