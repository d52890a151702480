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

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been received but not started.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusInProgress indicates the order is being prepared.
	OrderStatusInProgress OrderStatus = "in-progress"
	// OrderStatusCompleted indicates the order was handed over to the customer.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatusLabels = map[OrderStatus]string{
	OrderStatusPending:    "Non traitée",
	OrderStatusInProgress: "En cours",
	OrderStatusCompleted:  "Terminée",
	OrderStatusCancelled:  "Annulée",
}

// Label returns the French display label shown on customer-facing surfaces.
func (s OrderStatus) Label() string {
	if label, ok := orderStatusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusLabels[s]
	return ok
}

// Terminal reports whether the status accepts no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Order captures a bakery order as returned to handlers/services.
type Order struct {
	ID            string
	Number        string
	CustomerInfo  CustomerInfo
	Product       ProductSnapshot
	Customization Customization
	Delivery      Delivery
	Pricing       Pricing
	Acompte       *Deposit
	Status        OrderStatus
	IsModified    bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Balance returns the amount the customer still owes: the order total minus
// the recorded deposit. It goes negative when the deposit exceeds the total.
func (o Order) Balance() Money {
	var deposit Money
	if o.Acompte != nil {
		deposit = o.Acompte.Amount
	}
	return o.Pricing.TotalPrice - deposit
}

// CustomerInfo stores the contact details captured on the order form.
type CustomerInfo struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins the customer's first and last names for display.
func (c CustomerInfo) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
}

// ProductSnapshot freezes the ordered product at order time so later catalog
// edits never change what the customer agreed to.
type ProductSnapshot struct {
	ProductID string
	Name      string
	Size      string
	UnitPrice Money
	Category  string
	ImageURL  string
}

// Customization carries free-form requests attached to the order.
type Customization struct {
	SpecialRequests string
}

// Delivery describes how and when the order reaches the customer.
type Delivery struct {
	Type     DeliveryType
	Date     time.Time
	TimeSlot string
	Address  string
}

// Deposit records the single advance payment slot on an order.
type Deposit struct {
	Amount Money
	Date   time.Time
}

// Product is a catalog entry offered on the storefront.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Category    string
	Prices      map[string]Money
	Available   bool
	ImageURL    string
	ImagePath   string
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Testimonial is a customer comment displayed on the storefront.
type Testimonial struct {
	ID           string
	CustomerName string
	Comment      string
	Rating       int
	Date         time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purchase is a supplier purchase recorded in the back-office spending ledger.
type Purchase struct {
	ID           string
	ProductName  string
	Supplier     string
	PurchaseDate time.Time
	Quantity     int
	UnitPrice    Money
	TotalPrice   Money
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PurchaseStats aggregates ledger spending for the admin dashboard.
type PurchaseStats struct {
	Total        Money
	CurrentMonth Money
	Count        int
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
