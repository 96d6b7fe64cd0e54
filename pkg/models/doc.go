// Package models defines the surrealshop domain entities and the pieces every storage
// backend shares: typed identities, field patches and field-level comparison.
//
// # Entities
//
//   - [User]: shop customer account, unique by username
//   - [Category]: product category, unique by slug, optionally nested under a parent
//   - [Product]: catalog item, unique by SKU, belongs to a category
//   - [CartItem]: a product and quantity in a user's cart
//   - [Order]: a placed order with its [OrderLine] items
//
// Every entity implements [Record]. The identity returned by Record.Key is the same
// string in PostgreSQL (the primary key column) and in SurrealDB (the id part of the
// table:id record id), so one identity always resolves to the same logical entity in
// both stores.
//
// # Typed IDs
//
// Identities are string-backed types ([UserID], [ProductID], ...). In SQL and JSON they
// are plain text. In CBOR they marshal to SurrealDB record ids (tag 8, [table, id]), which
// lets foreign keys such as CartItem.UserID be stored and queried as record links without
// a separate SurrealDB-specific model.
//
// # Patches
//
// A [Patch] carries only the changed fields. [Kind.PreparePatch] converts loosely typed
// input (decoded JSON) into the typed values the backends write, rejects immutable or
// unknown fields, and stamps updated_at once so both stores receive the same value.
//
// # Timestamps
//
// All timestamps are UTC truncated to microseconds, the precision PostgreSQL keeps.
// Without this, the same write would read back differently from the two stores and show
// up as drift.
package models
