package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"
)

// ErrInvalid is returned for payloads rejected before they reach any backend.
var ErrInvalid = errors.New("invalid payload")

// Record is implemented by every entity stored through the repositories.
//
// Implementations use pointer receivers; repositories are instantiated with the
// pointer type (for example store.Repository[*models.User]).
type Record interface {
	// Table is the table name in both backends.
	Table() string
	// Key is the backend-agnostic identity.
	Key() string
	SetKey(id string)
	// Touch stamps missing created/updated timestamps and normalises all of them.
	Touch(now time.Time)
	// Validate checks the full record before a create.
	Validate() error
	// Fields returns every column except the identity, keyed by column name, with the
	// typed values the backends store.
	Fields() map[string]any
	// ApplyPatch sets the patched fields, converting loosely typed input.
	ApplyPatch(p Patch) error
}

// Patch maps column names to new values for a partial update.
type Patch map[string]any

// Keys returns the patched column names in sorted order.
func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Kind describes one entity family: how to allocate it and which columns may be
// patched or searched.
type Kind[T Record] struct {
	Name    string
	Table   string
	New     func() T
	Mutable []string
	Indexed []string
	Unique  []string
	Links   map[string]string
}

// PrepareCreate assigns an identity when none was supplied, stamps timestamps and
// validates the record.
func (k Kind[T]) PrepareCreate(rec T, now time.Time) error {
	if reflect.ValueOf(rec).IsNil() {
		return fmt.Errorf("%w: nil %s", ErrInvalid, k.Name)
	}
	if rec.Key() == "" {
		rec.SetKey(NewKey())
	}
	rec.Touch(now)
	if err := rec.Validate(); err != nil {
		return err
	}
	return nil
}

// PreparePatch validates p and converts it to typed column values. The result always
// carries updated_at so every backend stores the same modification time.
func (k Kind[T]) PreparePatch(p Patch, now time.Time) (Patch, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: empty patch for %s", ErrInvalid, k.Name)
	}
	for field := range p {
		if !slices.Contains(k.Mutable, field) {
			return nil, fmt.Errorf("%w: field %q of %s cannot be updated", ErrInvalid, field, k.Name)
		}
	}

	scratch := k.New()
	if err := scratch.ApplyPatch(p); err != nil {
		return nil, err
	}
	fields := scratch.Fields()

	out := make(Patch, len(p)+1)
	for field := range p {
		out[field] = fields[field]
	}
	out["updated_at"] = Timestamp(now)
	return out, nil
}

// Clone returns a deep copy of rec.
func (k Kind[T]) Clone(rec T) (T, error) {
	out := k.New()
	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("clone %s: %w", k.Name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return out, fmt.Errorf("clone %s: %w", k.Name, err)
	}
	return out, nil
}

// CheckIndexed reports whether field can be used with FindBy.
func (k Kind[T]) CheckIndexed(field string) error {
	if slices.Contains(k.Indexed, field) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot be searched by %q", ErrInvalid, k.Name, field)
}

// QueryValue checks field with CheckIndexed and converts a string value of a link
// column to the typed identity of the linked table, so SurrealDB compares record ids
// with record ids.
func (k Kind[T]) QueryValue(field string, value any) (any, error) {
	if err := k.CheckIndexed(field); err != nil {
		return nil, err
	}
	if table, ok := k.Links[field]; ok {
		id, err := toString(field, value)
		if err != nil {
			return nil, err
		}
		return LinkID(table, id), nil
	}
	// named string columns such as order status compare by their own type
	if ft := reflect.TypeOf(k.New().Fields()[field]); ft != nil && ft.Kind() == reflect.String {
		s, err := toString(field, value)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(s).Convert(ft).Interface(), nil
	}
	return value, nil
}

// LinkID returns id as the typed identity of table.
func LinkID(table, id string) any {
	switch table {
	case TableUsers:
		return UserID(id)
	case TableCategories:
		return CategoryID(id)
	case TableProducts:
		return ProductID(id)
	case TableCartItems:
		return CartItemID(id)
	case TableOrders:
		return OrderID(id)
	}
	return id
}

// Timestamp normalises t to the precision and zone both backends keep.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FieldDiff is one column whose value differs between two copies of a record.
type FieldDiff struct {
	Field  string `json:"field"`
	Source any    `json:"source"`
	Target any    `json:"target"`
}

// Diff compares the column values of two copies of the same record and returns the
// differing columns in name order.
func Diff(source, target Record) []FieldDiff {
	sf, tf := source.Fields(), target.Fields()

	names := make([]string, 0, len(sf))
	for name := range sf {
		names = append(names, name)
	}
	for name := range tf {
		if _, ok := sf[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var diffs []FieldDiff
	for _, name := range names {
		if !EqualValues(sf[name], tf[name]) {
			diffs = append(diffs, FieldDiff{Field: name, Source: sf[name], Target: tf[name]})
		}
	}
	return diffs
}

// EqualValues compares two column values. Times compare by instant, empty slices and
// nil compare equal, pointers compare by pointee (also against a non-pointer value).
func EqualValues(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && Timestamp(at).Equal(Timestamp(bt))
	}

	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if isEmpty(av) && isEmpty(bv) {
		return true
	}
	if av.Kind() == reflect.Pointer && !av.IsNil() {
		if bv.Kind() == reflect.Pointer {
			if bv.IsNil() {
				return false
			}
			return EqualValues(av.Elem().Interface(), bv.Elem().Interface())
		}
		return EqualValues(av.Elem().Interface(), b)
	}
	if bv.Kind() == reflect.Pointer && !bv.IsNil() {
		return EqualValues(a, bv.Elem().Interface())
	}
	return reflect.DeepEqual(a, b)
}

func isEmpty(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	}
	return false
}
