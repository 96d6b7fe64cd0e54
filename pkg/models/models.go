package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// User represents a shop customer account
type User struct {
	ID        UserID    `gorm:"type:text;primaryKey" json:"id"`
	Username  string    `gorm:"index:idx_users_username,unique,where:username <> ''" json:"username,omitempty"`
	Email     string    `json:"email,omitempty"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*User) TableName() string     { return TableUsers }
func (*User) Table() string         { return TableUsers }
func (u *User) Key() string         { return string(u.ID) }
func (u *User) SetKey(id string)    { u.ID = UserID(id) }
func (u *User) Touch(now time.Time) { touch(&u.CreatedAt, &u.UpdatedAt, now) }

func (u *User) Validate() error {
	return required("user", "name", u.Name)
}

func (u *User) Fields() map[string]any {
	return map[string]any{
		"username":   u.Username,
		"email":      u.Email,
		"name":       u.Name,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
}

func (u *User) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case "username":
			u.Username, err = toString(field, v)
		case "email":
			u.Email, err = toString(field, v)
		case "name":
			if u.Name, err = toString(field, v); err == nil {
				err = required("user", field, u.Name)
			}
		case "updated_at":
			u.UpdatedAt, err = toTime(field, v)
		default:
			err = unknownField("user", field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Category groups products; categories may nest under a parent
type Category struct {
	ID        CategoryID  `gorm:"type:text;primaryKey" json:"id"`
	Name      string      `gorm:"not null" json:"name"`
	Slug      string      `gorm:"uniqueIndex;not null" json:"slug"`
	ParentID  *CategoryID `gorm:"type:text;index" json:"parent_id,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (*Category) TableName() string     { return TableCategories }
func (*Category) Table() string         { return TableCategories }
func (c *Category) Key() string         { return string(c.ID) }
func (c *Category) SetKey(id string)    { c.ID = CategoryID(id) }
func (c *Category) Touch(now time.Time) { touch(&c.CreatedAt, &c.UpdatedAt, now) }

func (c *Category) Validate() error {
	if err := required("category", "name", c.Name); err != nil {
		return err
	}
	return required("category", "slug", c.Slug)
}

func (c *Category) Fields() map[string]any {
	return map[string]any{
		"name":       c.Name,
		"slug":       c.Slug,
		"parent_id":  c.ParentID,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

func (c *Category) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case "name":
			if c.Name, err = toString(field, v); err == nil {
				err = required("category", field, c.Name)
			}
		case "slug":
			if c.Slug, err = toString(field, v); err == nil {
				err = required("category", field, c.Slug)
			}
		case "parent_id":
			var s *string
			if s, err = toOptionalString(field, v); err == nil {
				c.ParentID = nil
				if s != nil {
					parent := CategoryID(*s)
					c.ParentID = &parent
				}
			}
		case "updated_at":
			c.UpdatedAt, err = toTime(field, v)
		default:
			err = unknownField("category", field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Product is a catalog item
type Product struct {
	ID          ProductID  `gorm:"type:text;primaryKey" json:"id"`
	SKU         string     `gorm:"column:sku;uniqueIndex;not null" json:"sku"`
	Name        string     `gorm:"not null" json:"name"`
	Description string     `json:"description,omitempty"`
	PriceCents  int64      `gorm:"not null" json:"price_cents"`
	Currency    string     `gorm:"not null" json:"currency"`
	CategoryID  CategoryID `gorm:"type:text;index" json:"category_id,omitempty"`
	Stock       int64      `json:"stock"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (*Product) TableName() string     { return TableProducts }
func (*Product) Table() string         { return TableProducts }
func (p *Product) Key() string         { return string(p.ID) }
func (p *Product) SetKey(id string)    { p.ID = ProductID(id) }
func (p *Product) Touch(now time.Time) { touch(&p.CreatedAt, &p.UpdatedAt, now) }

func (p *Product) Validate() error {
	if err := required("product", "sku", p.SKU); err != nil {
		return err
	}
	if err := required("product", "name", p.Name); err != nil {
		return err
	}
	if err := required("product", "currency", p.Currency); err != nil {
		return err
	}
	if p.PriceCents < 0 {
		return fmt.Errorf("%w: product.price_cents must not be negative", ErrInvalid)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: product.stock must not be negative", ErrInvalid)
	}
	return nil
}

func (p *Product) Fields() map[string]any {
	return map[string]any{
		"sku":         p.SKU,
		"name":        p.Name,
		"description": p.Description,
		"price_cents": p.PriceCents,
		"currency":    p.Currency,
		"category_id": p.CategoryID,
		"stock":       p.Stock,
		"created_at":  p.CreatedAt,
		"updated_at":  p.UpdatedAt,
	}
}

func (p *Product) ApplyPatch(patch Patch) error {
	for field, v := range patch {
		var err error
		switch field {
		case "name":
			if p.Name, err = toString(field, v); err == nil {
				err = required("product", field, p.Name)
			}
		case "description":
			p.Description, err = toString(field, v)
		case "price_cents":
			if p.PriceCents, err = toInt64(field, v); err == nil && p.PriceCents < 0 {
				err = fmt.Errorf("%w: product.price_cents must not be negative", ErrInvalid)
			}
		case "currency":
			if p.Currency, err = toString(field, v); err == nil {
				err = required("product", field, p.Currency)
			}
		case "category_id":
			var s string
			s, err = toString(field, v)
			p.CategoryID = CategoryID(s)
		case "stock":
			if p.Stock, err = toInt64(field, v); err == nil && p.Stock < 0 {
				err = fmt.Errorf("%w: product.stock must not be negative", ErrInvalid)
			}
		case "updated_at":
			p.UpdatedAt, err = toTime(field, v)
		default:
			err = unknownField("product", field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// CartItem is one product line in a user's cart
type CartItem struct {
	ID        CartItemID `gorm:"type:text;primaryKey" json:"id"`
	UserID    UserID     `gorm:"type:text;not null;index" json:"user_id"`
	ProductID ProductID  `gorm:"type:text;not null" json:"product_id"`
	Quantity  int64      `gorm:"not null" json:"quantity"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (*CartItem) TableName() string     { return TableCartItems }
func (*CartItem) Table() string         { return TableCartItems }
func (c *CartItem) Key() string         { return string(c.ID) }
func (c *CartItem) SetKey(id string)    { c.ID = CartItemID(id) }
func (c *CartItem) Touch(now time.Time) { touch(&c.CreatedAt, &c.UpdatedAt, now) }

func (c *CartItem) Validate() error {
	if err := required("cart item", "user_id", string(c.UserID)); err != nil {
		return err
	}
	if err := required("cart item", "product_id", string(c.ProductID)); err != nil {
		return err
	}
	if c.Quantity <= 0 {
		return fmt.Errorf("%w: cart item quantity must be positive", ErrInvalid)
	}
	return nil
}

func (c *CartItem) Fields() map[string]any {
	return map[string]any{
		"user_id":    c.UserID,
		"product_id": c.ProductID,
		"quantity":   c.Quantity,
		"created_at": c.CreatedAt,
		"updated_at": c.UpdatedAt,
	}
}

func (c *CartItem) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case "quantity":
			if c.Quantity, err = toInt64(field, v); err == nil && c.Quantity <= 0 {
				err = fmt.Errorf("%w: cart item quantity must be positive", ErrInvalid)
			}
		case "updated_at":
			c.UpdatedAt, err = toTime(field, v)
		default:
			err = unknownField("cart item", field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// OrderStatus is the fulfilment state of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderShipped, OrderCancelled:
		return true
	}
	return false
}

// OrderLine is a product, quantity and the unit price charged at order time
type OrderLine struct {
	ProductID      ProductID `json:"product_id"`
	Quantity       int64     `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
}

// OrderLines is stored as JSONB in PostgreSQL and as an array of objects in SurrealDB.
type OrderLines []OrderLine

// Value implements the driver.Valuer interface for database storage
func (l OrderLines) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface for database retrieval
func (l *OrderLines) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("cannot scan %T into OrderLines", value)
}

// Total returns the sum of quantity times unit price over all lines.
func (l OrderLines) Total() int64 {
	var total int64
	for _, line := range l {
		total += line.Quantity * line.UnitPriceCents
	}
	return total
}

// Order is a placed order. Lines and totals are fixed at placement; only the
// status changes afterwards.
type Order struct {
	ID         OrderID     `gorm:"type:text;primaryKey" json:"id"`
	UserID     UserID      `gorm:"type:text;not null;index" json:"user_id"`
	Status     OrderStatus `gorm:"not null" json:"status"`
	Lines      OrderLines  `gorm:"type:jsonb" json:"lines"`
	TotalCents int64       `gorm:"not null" json:"total_cents"`
	Currency   string      `gorm:"not null" json:"currency"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (*Order) TableName() string     { return TableOrders }
func (*Order) Table() string         { return TableOrders }
func (o *Order) Key() string         { return string(o.ID) }
func (o *Order) SetKey(id string)    { o.ID = OrderID(id) }
func (o *Order) Touch(now time.Time) { touch(&o.CreatedAt, &o.UpdatedAt, now) }

func (o *Order) Validate() error {
	if err := required("order", "user_id", string(o.UserID)); err != nil {
		return err
	}
	if err := required("order", "currency", o.Currency); err != nil {
		return err
	}
	if !o.Status.valid() {
		return fmt.Errorf("%w: unknown order status %q", ErrInvalid, o.Status)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("%w: order has no lines", ErrInvalid)
	}
	for _, line := range o.Lines {
		if line.ProductID.IsZero() || line.Quantity <= 0 || line.UnitPriceCents < 0 {
			return fmt.Errorf("%w: invalid order line for product %q", ErrInvalid, line.ProductID)
		}
	}
	if o.TotalCents != o.Lines.Total() {
		return fmt.Errorf("%w: order total %d does not match lines %d", ErrInvalid, o.TotalCents, o.Lines.Total())
	}
	return nil
}

func (o *Order) Fields() map[string]any {
	return map[string]any{
		"user_id":     o.UserID,
		"status":      o.Status,
		"lines":       o.Lines,
		"total_cents": o.TotalCents,
		"currency":    o.Currency,
		"created_at":  o.CreatedAt,
		"updated_at":  o.UpdatedAt,
	}
}

func (o *Order) ApplyPatch(p Patch) error {
	for field, v := range p {
		var err error
		switch field {
		case "status":
			var s string
			if s, err = toString(field, v); err == nil {
				o.Status = OrderStatus(s)
				if !o.Status.valid() {
					err = fmt.Errorf("%w: unknown order status %q", ErrInvalid, s)
				}
			}
		case "lines":
			var lines OrderLines
			if err = decodeInto(field, v, &lines); err == nil {
				o.Lines = lines
			}
		case "updated_at":
			o.UpdatedAt, err = toTime(field, v)
		default:
			err = unknownField("order", field)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func touch(createdAt, updatedAt *time.Time, now time.Time) {
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = *createdAt
	}
	*createdAt = Timestamp(*createdAt)
	*updatedAt = Timestamp(*updatedAt)
}
