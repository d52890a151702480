package services

import (
	"context"
	"time"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	SortOrder          = domain.SortOrder
	Money              = domain.Money
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	CustomerInfo       = domain.CustomerInfo
	ProductSnapshot    = domain.ProductSnapshot
	Customization      = domain.Customization
	Delivery           = domain.Delivery
	DeliveryType       = domain.DeliveryType
	Deposit            = domain.Deposit
	Pricing            = domain.Pricing
	Product            = domain.Product
	Testimonial        = domain.Testimonial
	Purchase           = domain.Purchase
	PurchaseStats      = domain.PurchaseStats
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService encapsulates order intake, lifecycle transitions, the deposit
// ledger, and customer self-service flows.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	UpdateCustomerDetails(ctx context.Context, cmd UpdateCustomerDetailsCommand) (Order, error)
	RecordDeposit(ctx context.Context, cmd RecordDepositCommand) (Order, error)
	MarkFullyPaid(ctx context.Context, cmd MarkFullyPaidCommand) (Order, error)
	BuildInvoice(ctx context.Context, orderID string) (Invoice, error)
}

// CatalogService manages the product catalog for public reads and admin writes.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, productID string, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	SetAvailability(ctx context.Context, productID string, available bool, actorID string) (Product, error)
	CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error)
	ConfirmImageUpload(ctx context.Context, cmd ConfirmProductImageCommand) (Product, error)
}

// TestimonialService coordinates storefront testimonial submission and curation.
type TestimonialService interface {
	ListTestimonials(ctx context.Context, filter TestimonialListFilter) (domain.CursorPage[Testimonial], error)
	Submit(ctx context.Context, cmd SubmitTestimonialCommand) (Testimonial, error)
	Update(ctx context.Context, cmd UpdateTestimonialCommand) (Testimonial, error)
	Delete(ctx context.Context, testimonialID string, actorID string) error
}

// PurchaseService maintains the supplier spending ledger.
type PurchaseService interface {
	ListPurchases(ctx context.Context, filter PurchaseListFilter) (domain.CursorPage[Purchase], error)
	Record(ctx context.Context, cmd RecordPurchaseCommand) (Purchase, error)
	Update(ctx context.Context, purchaseID string, cmd RecordPurchaseCommand) (Purchase, error)
	Delete(ctx context.Context, purchaseID string, actorID string) error
	Stats(ctx context.Context) (PurchaseStats, error)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type OrderListFilter = repositories.OrderListFilter
type ProductListFilter = repositories.ProductListFilter
type TestimonialListFilter = repositories.TestimonialListFilter
type PurchaseListFilter = repositories.PurchaseListFilter

// CreateOrderCommand captures the public order form. The base price is always
// resolved from the catalog, never taken from the caller.
type CreateOrderCommand struct {
	CustomerInfo    CustomerInfo
	ProductID       string
	Size            string
	SpecialRequests string
	DeliveryType    string
	DeliveryDate    time.Time
	TimeSlot        string
	Address         string
}

type OrderStatusTransitionCommand struct {
	OrderID         string
	TargetStatus    string
	ExpectedVersion *int64
	ActorID         string
	Reason          string
}

type CancelOrderCommand struct {
	OrderID         string
	ExpectedVersion *int64
	ActorID         string
	Reason          string
}

// UpdateCustomerDetailsCommand carries the fields a customer may change from
// the tracking page. Nil pointers leave the stored value untouched.
type UpdateCustomerDetailsCommand struct {
	OrderID         string
	FirstName       *string
	LastName        *string
	Email           *string
	Phone           *string
	DeliveryDate    *time.Time
	SpecialRequests *string
}

type RecordDepositCommand struct {
	OrderID string
	Amount  Money
	At      *time.Time
	ActorID string
}

type MarkFullyPaidCommand struct {
	OrderID string
	At      *time.Time
	ActorID string
}

// Invoice is the read-only projection rendered by the billing page.
type Invoice struct {
	OrderID      string
	Number       string
	CustomerInfo CustomerInfo
	Product      ProductSnapshot
	Delivery     Delivery
	Pricing      Pricing
	Deposit      *Deposit
	Balance      Money
	Status       OrderStatus
	StatusLabel  string
	IssuedAt     time.Time
}

type UpsertProductCommand struct {
	Name        string
	Description string
	Category    string
	Prices      map[string]Money
	Available   *bool
	ActorID     string
}

type ProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
	SizeBytes   int64
	ActorID     string
}

// ProductImageUpload returns the signed PUT URL the admin client uploads to.
type ProductImageUpload struct {
	UploadURL  string
	ObjectPath string
	ExpiresAt  time.Time
}

type ConfirmProductImageCommand struct {
	ProductID  string
	ObjectPath string
	ActorID    string
}

type SubmitTestimonialCommand struct {
	CustomerName string
	Comment      string
	Rating       int
	Date         *time.Time
}

type UpdateTestimonialCommand struct {
	TestimonialID string
	CustomerName  *string
	Comment       *string
	Rating        *int
	ActorID       string
}

type RecordPurchaseCommand struct {
	ProductName  string
	Supplier     string
	PurchaseDate time.Time
	Quantity     int
	UnitPrice    Money
	ActorID      string
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
