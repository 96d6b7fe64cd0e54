// Package surrealdb implements [store.Store] on SurrealDB using SurrealQL.
//
// Records are stored under record ids built from their table and identity, so the same
// identity addresses the same record in PostgreSQL and SurrealDB. Link columns hold record
// ids too: the typed ids of the models package marshal to RecordIDs through the
// surrealcbor codec.
//
// # Security and Query Safety
//
// Every value reaches SurrealDB as a query parameter. The only interpolated names are
// table names and the indexed column names of a [models.Kind], both of which are fixed
// by this program.
//
// # Usage Example
//
//	s, err := surrealdb.New(ctx, surrealdb.Config{
//		URL:       "ws://localhost:8000/rpc",
//		Namespace: "shop",
//		Database:  "shop",
//		Username:  "root",
//		Password:  "root",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealdb_models "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// BackendName identifies this backend in errors and outcomes.
const BackendName = "surrealdb"

// Config holds the connection settings.
type Config struct {
	URL       string `yaml:"url" env:"URL"`
	Namespace string `yaml:"namespace" env:"NS"`
	Database  string `yaml:"database" env:"DB"`
	Username  string `yaml:"username" env:"USER"`
	Password  string `yaml:"password" env:"PASS"`
}

// Store implements store.Store on SurrealDB.
type Store struct {
	db *surrealdb.DB

	users      *Table[*models.User]
	categories *Table[*models.Category]
	products   *Table[*models.Product]
	cartItems  *Table[*models.CartItem]
	orders     *Table[*models.Order]
}

var _ store.Store = (*Store)(nil)

// New connects over WebSocket, signs in when credentials are set and selects the
// namespace and database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	conf := connection.NewConfig(u)
	// time.Time and record ids need the SurrealDB-aware codec
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{
			"user": cfg.Username,
			"pass": cfg.Password,
		}); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to use namespace/database: %w", err)
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an open connection that already selected its namespace and database.
func NewFromDB(db *surrealdb.DB) *Store {
	return &Store{
		db:         db,
		users:      NewTable(db, models.Users),
		categories: NewTable(db, models.Categories),
		products:   NewTable(db, models.Products),
		cartItems:  NewTable(db, models.CartItems),
		orders:     NewTable(db, models.Orders),
	}
}

func (s *Store) Users() store.Repository[*models.User]          { return s.users }
func (s *Store) Categories() store.Repository[*models.Category] { return s.categories }
func (s *Store) Products() store.Repository[*models.Product]    { return s.products }
func (s *Store) CartItems() store.Repository[*models.CartItem]  { return s.cartItems }
func (s *Store) Orders() store.Repository[*models.Order]        { return s.orders }

// Migrate defines the unique indexes. Tables are created on first write.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.indexes() {
		if _, err := surrealdb.Query[any](ctx, s.db, stmt, nil); err != nil {
			return fmt.Errorf("failed to migrate surrealdb schema: %w", err)
		}
	}
	return nil
}

func (s *Store) indexes() []string {
	var stmts []string
	stmts = append(stmts, s.users.indexes()...)
	stmts = append(stmts, s.categories.indexes()...)
	stmts = append(stmts, s.products.indexes()...)
	stmts = append(stmts, s.cartItems.indexes()...)
	stmts = append(stmts, s.orders.indexes()...)
	return stmts
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := surrealdb.Query[bool](ctx, s.db, "RETURN true", nil)
	return err
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close(context.Background())
}

// Table is one SurrealDB table.
type Table[T models.Record] struct {
	db   *surrealdb.DB
	kind models.Kind[T]
}

// NewTable returns the repository of kind on db.
func NewTable[T models.Record](db *surrealdb.DB, kind models.Kind[T]) *Table[T] {
	return &Table[T]{db: db, kind: kind}
}

func (t *Table[T]) rid(id string) surrealdb_models.RecordID {
	return models.RecordIDFor(t.kind.Table, id)
}

func (t *Table[T]) indexes() []string {
	stmts := make([]string, 0, len(t.kind.Unique))
	for _, col := range t.kind.Unique {
		stmts = append(stmts, fmt.Sprintf(
			"DEFINE INDEX IF NOT EXISTS idx_%s_%s ON TABLE %s FIELDS %s UNIQUE",
			t.kind.Table, col, t.kind.Table, col))
	}
	return stmts
}

// Create stores rec under its record id. An existing record is returned unchanged.
func (t *Table[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if rec.Key() == "" {
		return zero, t.wrap(store.OpCreate, fmt.Errorf("%w: %s without identity", store.ErrValidation, t.kind.Name))
	}
	created, err := surrealdb.Create[T](ctx, t.db, t.rid(rec.Key()), rec)
	if err != nil && !recordExists(err) {
		return zero, t.wrap(store.OpCreate, err)
	}
	if err == nil && created != nil && !isNil(*created) {
		return *created, nil
	}
	out, err := t.get(ctx, rec.Key())
	if err != nil {
		return zero, t.wrap(store.OpCreate, err)
	}
	return out, nil
}

func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	out, err := t.get(ctx, id)
	if err != nil {
		var zero T
		return zero, t.wrap(store.OpGet, err)
	}
	return out, nil
}

func (t *Table[T]) get(ctx context.Context, id string) (T, error) {
	var zero T
	rec, err := surrealdb.Select[T](ctx, t.db, t.rid(id))
	if err != nil && !emptyResult(err) {
		return zero, err
	}
	if err != nil || rec == nil || isNil(*rec) {
		return zero, fmt.Errorf("%s %q: %w", t.kind.Name, id, store.ErrNotFound)
	}
	return *rec, nil
}

// Update merges the patched fields into an existing record. UPDATE never creates a
// missing record.
func (t *Table[T]) Update(ctx context.Context, id string, patch models.Patch) (T, error) {
	var zero T
	rows, err := t.query(ctx, "UPDATE $rid MERGE $patch RETURN AFTER", map[string]any{
		"rid":   t.rid(id),
		"patch": map[string]any(patch),
	})
	if err != nil {
		return zero, t.wrap(store.OpUpdate, err)
	}
	if len(rows) == 0 {
		return zero, t.wrap(store.OpUpdate, fmt.Errorf("%s %q: %w", t.kind.Name, id, store.ErrNotFound))
	}
	return rows[0], nil
}

func (t *Table[T]) Delete(ctx context.Context, id string) (bool, error) {
	rows, err := t.query(ctx, "DELETE $rid RETURN BEFORE", map[string]any{"rid": t.rid(id)})
	if err != nil {
		return false, t.wrap(store.OpDelete, err)
	}
	return len(rows) > 0, nil
}

func (t *Table[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	v, err := t.kind.QueryValue(field, value)
	if err != nil {
		return nil, t.wrap(store.OpFind, err)
	}
	// field is one of the kind's indexed columns
	q := fmt.Sprintf("SELECT * FROM type::table($tb) WHERE %s = $value ORDER BY id", field)
	rows, err := t.query(ctx, q, map[string]any{"tb": t.kind.Table, "value": v})
	if err != nil {
		return nil, t.wrap(store.OpFind, err)
	}
	return rows, nil
}

func (t *Table[T]) Scan(ctx context.Context, afterID string, limit int) ([]T, error) {
	q := "SELECT * FROM type::table($tb) WHERE record::id(id) > $after ORDER BY id"
	vars := map[string]any{"tb": t.kind.Table, "after": afterID}
	if limit > 0 {
		q += " LIMIT $limit"
		vars["limit"] = limit
	}
	rows, err := t.query(ctx, q, vars)
	if err != nil {
		return nil, t.wrap(store.OpScan, err)
	}
	return rows, nil
}

// query runs a single statement and returns its rows.
func (t *Table[T]) query(ctx context.Context, sql string, vars map[string]any) ([]T, error) {
	result, err := surrealdb.Query[[]T](ctx, t.db, sql, vars)
	if err != nil {
		return nil, err
	}
	if result == nil || len(*result) == 0 {
		return nil, nil
	}
	return (*result)[0].Result, nil
}

func (t *Table[T]) wrap(op store.Op, err error) error {
	return store.Wrap(BackendName, t.kind.Table, op, classify(err))
}

// classify maps SurrealDB error messages to the store sentinels.
func classify(err error) error {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already contains"):
		return fmt.Errorf("%w: %w", store.ErrConstraint, err)
	case strings.Contains(msg, "transaction conflict"),
		strings.Contains(msg, "Resource busy"):
		return fmt.Errorf("%w: %w", store.ErrThrottled, err)
	case strings.Contains(msg, "query timeout"),
		strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %w", store.ErrTimeout, err)
	}
	return err
}

// recordExists reports the error of a CREATE on an existing record id.
func recordExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Database record") && strings.Contains(msg, "already exists")
}

// emptyResult reports the errors the SDK returns when Select finds no record.
func emptyResult(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Expected a single or multiple results but got 0") ||
		strings.Contains(msg, "cannot unmarshal array into Go value")
}

// isNil reports a missing or empty decoded record.
func isNil[T models.Record](rec T) bool {
	v := reflect.ValueOf(rec)
	return !v.IsValid() || v.IsNil() || rec.Key() == ""
}
