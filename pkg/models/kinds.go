package models

// Entity families. Mutable lists the columns a patch may change, Indexed the columns
// FindBy accepts, Unique the columns with a unique index in both backends and Links the
// columns holding the identity of a record in another table.
var (
	Users = Kind[*User]{
		Name:    "user",
		Table:   TableUsers,
		New:     func() *User { return &User{} },
		Mutable: []string{"username", "email", "name"},
		Indexed: []string{"username", "email"},
		Unique:  []string{"username"},
	}

	Categories = Kind[*Category]{
		Name:    "category",
		Table:   TableCategories,
		New:     func() *Category { return &Category{} },
		Mutable: []string{"name", "slug", "parent_id"},
		Indexed: []string{"slug", "parent_id"},
		Unique:  []string{"slug"},
		Links:   map[string]string{"parent_id": TableCategories},
	}

	Products = Kind[*Product]{
		Name:    "product",
		Table:   TableProducts,
		New:     func() *Product { return &Product{} },
		Mutable: []string{"name", "description", "price_cents", "currency", "category_id", "stock"},
		Indexed: []string{"sku", "category_id"},
		Unique:  []string{"sku"},
		Links:   map[string]string{"category_id": TableCategories},
	}

	CartItems = Kind[*CartItem]{
		Name:    "cart item",
		Table:   TableCartItems,
		New:     func() *CartItem { return &CartItem{} },
		Mutable: []string{"quantity"},
		Indexed: []string{"user_id", "product_id"},
		Links:   map[string]string{"user_id": TableUsers, "product_id": TableProducts},
	}

	Orders = Kind[*Order]{
		Name:    "order",
		Table:   TableOrders,
		New:     func() *Order { return &Order{} },
		Mutable: []string{"status"},
		Indexed: []string{"user_id", "status"},
		Links:   map[string]string{"user_id": TableUsers},
	}
)

// Tables lists every table in dependency order: referenced tables first.
var Tables = []string{TableUsers, TableCategories, TableProducts, TableCartItems, TableOrders}
