package domain

import (
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Lifecycle replaces per-entity soft-delete booleans with an explicit state.
type Lifecycle string

const (
	// LifecycleActive marks an entity that participates in pricing, availability, and listings.
	LifecycleActive Lifecycle = "active"
	// LifecycleDeleted marks a soft-deleted entity retained for historical snapshots.
	LifecycleDeleted Lifecycle = "deleted"
)

// IsActive reports whether the lifecycle is active. The zero value is treated as active so that
// documents written before the field existed keep working.
func (l Lifecycle) IsActive() bool {
	return l == "" || l == LifecycleActive
}

// IsDeleted reports whether the entity has been soft-deleted.
func (l Lifecycle) IsDeleted() bool {
	return l == LifecycleDeleted
}

// EntityKind discriminates the target of an EntityRef.
type EntityKind string

const (
	EntityKindProduct  EntityKind = "product"
	EntityKindStore    EntityKind = "store"
	EntityKindCategory EntityKind = "category"
)

// EntityRef is a typed pointer at a product, store, or category.
type EntityRef struct {
	Kind EntityKind
	ID   string
}

// ProductRef builds a reference to a product.
func ProductRef(id string) EntityRef {
	return EntityRef{Kind: EntityKindProduct, ID: strings.TrimSpace(id)}
}

// StoreRef builds a reference to a store.
func StoreRef(id string) EntityRef {
	return EntityRef{Kind: EntityKindStore, ID: strings.TrimSpace(id)}
}

// CategoryRef builds a reference to a category.
func CategoryRef(id string) EntityRef {
	return EntityRef{Kind: EntityKindCategory, ID: strings.TrimSpace(id)}
}

// IsZero reports whether the reference points at nothing.
func (r EntityRef) IsZero() bool {
	return strings.TrimSpace(r.ID) == ""
}

// Matches reports whether the reference targets the given kind and id.
func (r EntityRef) Matches(kind EntityKind, id string) bool {
	return r.Kind == kind && r.ID != "" && r.ID == strings.TrimSpace(id)
}

// String renders the reference as a document path, e.g. /stores/abc.
func (r EntityRef) String() string {
	if r.IsZero() {
		return ""
	}
	return "/" + string(r.Kind) + "s/" + r.ID
}

// Address captures a postal address. Shipping addresses are copied onto orders.
type Address struct {
	ID         string
	Street     string
	City       string
	PostalCode string
	Country    string
	IsDefault  bool
}

// IsZero reports whether no address fields are populated.
func (a Address) IsZero() bool {
	return strings.TrimSpace(a.Street) == "" &&
		strings.TrimSpace(a.City) == "" &&
		strings.TrimSpace(a.PostalCode) == "" &&
		strings.TrimSpace(a.Country) == ""
}

// User holds the account fields the order engine reads plus its denormalised order counters.
type User struct {
	ID              string
	Email           string
	DisplayName     string
	Addresses       []Address
	OrdersCount     int64
	ActiveOrders    int64
	CancelledOrders int64
	UpdatedAt       time.Time
}

// DefaultAddress returns the default saved address or the first one when none is flagged.
func (u User) DefaultAddress() (Address, bool) {
	if len(u.Addresses) == 0 {
		return Address{}, false
	}
	for _, addr := range u.Addresses {
		if addr.IsDefault {
			return addr, true
		}
	}
	return u.Addresses[0], true
}

// Store is a vendor storefront. Only its counters and owner are relevant here.
type Store struct {
	ID           string
	OwnerID      string
	Name         string
	OrdersCount  int64
	ProductCount int64
	Lifecycle    Lifecycle
	UpdatedAt    time.Time
}
