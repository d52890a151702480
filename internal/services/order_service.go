package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventCustomerUpdated = "order.customer.updated"
	orderEventDepositRecorded = "order.deposit.recorded"

	orderIDPrefix    = "ord_"
	orderCounterName = "orders"

	defaultOrderLeadTime = 48 * time.Hour
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition or an edit on a closed order.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderDepositInvalid indicates a deposit amount that cannot be recorded.
	ErrOrderDepositInvalid = errors.New("order: invalid deposit amount")
	// ErrProductUnavailable indicates the requested catalog entry cannot be ordered.
	ErrProductUnavailable = errors.New("order: product unavailable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Pricing     *OrderPricingEngine
	UnitOfWork  repositories.UnitOfWork
	LeadTime    time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	counters repositories.CounterRepository
	pricing  *OrderPricingEngine
	runTx    func(ctx context.Context, fn func(context.Context) error) error
	leadTime time.Duration
	now      func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	}

	svc := &orderService{
		orders:   deps.Orders,
		products: deps.Products,
		counters: deps.Counters,
		pricing:  deps.Pricing,
		leadTime: deps.LeadTime,
		events:   deps.Events,
		newID:    deps.IDGenerator,
		logger:   deps.Logger,
	}

	if svc.pricing == nil {
		svc.pricing = NewOrderPricingEngine()
	}
	if svc.leadTime <= 0 {
		svc.leadTime = defaultOrderLeadTime
	}
	if svc.newID == nil {
		svc.newID = func() string { return ulid.Make().String() }
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}

	wallClock := deps.Clock
	if wallClock == nil {
		wallClock = time.Now
	}
	svc.now = func() time.Time { return wallClock().UTC() }

	if unit := deps.UnitOfWork; unit != nil {
		svc.runTx = unit.RunInTx
	} else {
		svc.runTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}

	return svc, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCustomerInfo(cmd.CustomerInfo); err != nil {
		return Order{}, err
	}

	deliveryType := domain.DeliveryType(strings.TrimSpace(cmd.DeliveryType))
	if !deliveryType.Valid() {
		return Order{}, fmt.Errorf("%w: unknown delivery type %q", ErrOrderInvalidInput, cmd.DeliveryType)
	}

	now := s.now()
	if err := validateDeliveryDate(cmd.DeliveryDate, now, s.leadTime); err != nil {
		return Order{}, err
	}

	address := strings.TrimSpace(cmd.Address)
	switch {
	case deliveryType.RequiresAddress() && address == "":
		return Order{}, fmt.Errorf("%w: delivery address is required for %s", ErrOrderInvalidInput, deliveryType)
	case !deliveryType.RequiresAddress():
		address = ""
	}

	product, size, basePrice, err := s.resolveOrderedProduct(ctx, cmd.ProductID, cmd.Size)
	if err != nil {
		return Order{}, err
	}

	pricing, err := s.pricing.Quote(basePrice, deliveryType)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:     orderIDPrefix + s.newID(),
		Number: number,
		CustomerInfo: CustomerInfo{
			FirstName: strings.TrimSpace(cmd.CustomerInfo.FirstName),
			LastName:  strings.TrimSpace(cmd.CustomerInfo.LastName),
			Email:     strings.TrimSpace(cmd.CustomerInfo.Email),
			Phone:     strings.TrimSpace(cmd.CustomerInfo.Phone),
		},
		Product: ProductSnapshot{
			ProductID: product.ID,
			Name:      product.Name,
			Size:      size,
			UnitPrice: basePrice,
			Category:  product.Category,
			ImageURL:  product.ImageURL,
		},
		Customization: Customization{
			SpecialRequests: sanitizeFreeText(cmd.SpecialRequests),
		},
		Delivery: Delivery{
			Type:     deliveryType,
			Date:     cmd.DeliveryDate.UTC(),
			TimeSlot: strings.TrimSpace(cmd.TimeSlot),
			Address:  address,
		},
		Pricing:   pricing,
		Status:    domain.OrderStatusPending,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.insert(ctx, order); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
		Metadata: map[string]any{
			"deliveryType": string(deliveryType),
			"totalPrice":   order.Pricing.TotalPrice.String(),
		},
	})

	return order, nil
}

// resolveOrderedProduct loads the catalog entry and picks the price for the
// requested size, rejecting unavailable products.
func (s *orderService) resolveOrderedProduct(ctx context.Context, rawProductID, rawSize string) (Product, string, Money, error) {
	productID := strings.TrimSpace(rawProductID)
	if productID == "" {
		return Product{}, "", 0, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	size := strings.TrimSpace(rawSize)
	if size == "" {
		return Product{}, "", 0, fmt.Errorf("%w: product size is required", ErrOrderInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, "", 0, s.mapRepositoryError(err)
	}
	if !product.Available {
		return Product{}, "", 0, fmt.Errorf("%w: product %s is not available", ErrProductUnavailable, productID)
	}
	basePrice, ok := product.Prices[size]
	if !ok {
		return Product{}, "", 0, fmt.Errorf("%w: product %s has no size %q", ErrOrderInvalidInput, productID, size)
	}
	return product, size, basePrice, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.loadOrder(ctx, orderID)
}

// loadOrder validates the id and fetches the order, translating repository
// failures into service errors.
func (s *orderService) loadOrder(ctx context.Context, rawID string) (Order, error) {
	orderID := strings.TrimSpace(rawID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	target := domain.OrderStatus(strings.TrimSpace(cmd.TargetStatus))
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := checkExpectedVersion(order, cmd.ExpectedVersion); err != nil {
		return Order{}, err
	}

	now := s.now()
	prevStatus := order.Status

	if err := s.applyStatusTransition(&order, target, now); err != nil {
		return Order{}, err
	}
	if err := s.save(ctx, order); err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	return s.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:         cmd.OrderID,
		TargetStatus:    string(domain.OrderStatusCancelled),
		ExpectedVersion: cmd.ExpectedVersion,
		ActorID:         cmd.ActorID,
		Reason:          cmd.Reason,
	})
}

func (s *orderService) UpdateCustomerDetails(ctx context.Context, cmd UpdateCustomerDetailsCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order %s is %s and can no longer be modified", ErrOrderInvalidState, order.ID, order.Status.Label())
	}

	now := s.now()

	contactChanged := applyContactPatch(&order.CustomerInfo, cmd)
	if contactChanged {
		if err := validateCustomerInfo(order.CustomerInfo); err != nil {
			return Order{}, err
		}
	}
	changed := contactChanged

	if cmd.DeliveryDate != nil {
		if err := validateDeliveryDate(*cmd.DeliveryDate, now, s.leadTime); err != nil {
			return Order{}, err
		}
		order.Delivery.Date = cmd.DeliveryDate.UTC()
		changed = true
	}
	if cmd.SpecialRequests != nil {
		order.Customization.SpecialRequests = sanitizeFreeText(*cmd.SpecialRequests)
		changed = true
	}

	if !changed {
		return order, nil
	}

	order.IsModified = true
	order.UpdatedAt = now
	order.Version++

	if err := s.save(ctx, order); err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCustomerUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
	})

	return order, nil
}

// applyContactPatch copies the non-nil contact fields onto info and reports
// whether anything was touched.
func applyContactPatch(info *CustomerInfo, cmd UpdateCustomerDetailsCommand) bool {
	touched := false
	assign := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
			touched = true
		}
	}
	assign(&info.FirstName, cmd.FirstName)
	assign(&info.LastName, cmd.LastName)
	assign(&info.Email, cmd.Email)
	assign(&info.Phone, cmd.Phone)
	return touched
}

func (s *orderService) RecordDeposit(ctx context.Context, cmd RecordDepositCommand) (Order, error) {
	if cmd.Amount < 0 {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderDepositInvalid, cmd.Amount)
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: deposits cannot be recorded on a cancelled order", ErrOrderInvalidState)
	}

	now := s.now()

	// Single slot: a new deposit always replaces the previous one.
	order.Acompte = &Deposit{Amount: cmd.Amount, Date: depositDate(cmd.At, now)}
	order.UpdatedAt = now
	order.Version++

	if err := s.saveAndPublishDeposit(ctx, order, cmd.ActorID, now); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) MarkFullyPaid(ctx context.Context, cmd MarkFullyPaidCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: deposits cannot be recorded on a cancelled order", ErrOrderInvalidState)
	}

	now := s.now()

	// An order already carrying a deposit keeps its original deposit date;
	// only the amount snaps to the full total.
	settleDeposit(&order, depositDate(cmd.At, now))
	order.UpdatedAt = now
	order.Version++

	if err := s.saveAndPublishDeposit(ctx, order, cmd.ActorID, now); err != nil {
		return Order{}, err
	}
	return order, nil
}

// depositDate picks the caller-supplied timestamp when present, in UTC.
func depositDate(at *time.Time, fallback time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return at.UTC()
	}
	return fallback
}

func (s *orderService) BuildInvoice(ctx context.Context, orderID string) (Invoice, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Invoice{}, err
	}

	var deposit *Deposit
	if order.Acompte != nil {
		copied := *order.Acompte
		deposit = &copied
	}

	return Invoice{
		OrderID:      order.ID,
		Number:       order.Number,
		CustomerInfo: order.CustomerInfo,
		Product:      order.Product,
		Delivery:     order.Delivery,
		Pricing:      order.Pricing,
		Deposit:      deposit,
		Balance:      order.Balance(),
		Status:       order.Status,
		StatusLabel:  order.Status.Label(),
		IssuedAt:     s.now(),
	}, nil
}

// insert and save wrap the write in the unit of work so a future multi-write
// operation lands atomically.
func (s *orderService) insert(ctx context.Context, order Order) error {
	return s.runTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.orders.Insert(txCtx, order))
	})
}

func (s *orderService) save(ctx context.Context, order Order) error {
	return s.runTx(ctx, func(txCtx context.Context) error {
		return s.mapRepositoryError(s.orders.Update(txCtx, order))
	})
}

func (s *orderService) saveAndPublishDeposit(ctx context.Context, order Order, actorID string, now time.Time) error {
	if err := s.save(ctx, order); err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventDepositRecorded,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(actorID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"amount":  order.Acompte.Amount.String(),
			"balance": order.Balance().String(),
		},
	})
	return nil
}

// applyStatusTransition mutates the order into the target status. Same-status
// transitions are no-ops that still refresh UpdatedAt and bump the version.
func (s *orderService) applyStatusTransition(order *Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status

	if current != target {
		if !canTransition(current, target) {
			return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, current, target)
		}
		order.Status = target
		if target.Terminal() {
			settleDeposit(order, now)
		}
	}

	order.UpdatedAt = now
	order.Version++
	return nil
}

// settleDeposit snaps the deposit to the full order total. An existing
// deposit keeps its original date; otherwise the fallback is stamped. This
// runs on terminal transitions too, cancellations included, matching the
// historical back-office behaviour; drop the cancelled case there if that
// ever changes.
func settleDeposit(order *Order, fallback time.Time) {
	date := fallback
	if order.Acompte != nil && !order.Acompte.Date.IsZero() {
		date = order.Acompte.Date
	}
	order.Acompte = &Deposit{
		Amount: order.Pricing.TotalPrice,
		Date:   date,
	}
}

func checkExpectedVersion(order Order, expected *int64) error {
	if expected != nil && order.Version != *expected {
		return fmt.Errorf("%w: expected version %d but was %d", ErrOrderConflict, *expected, order.Version)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if err == nil || !errors.As(err, &repoErr) {
		return err
	}

	switch {
	case repoErr.IsNotFound():
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	case repoErr.IsConflict():
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	case repoErr.IsUnavailable():
		return fmt.Errorf("order: repository unavailable: %w", err)
	default:
		return err
	}
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderCounterName, 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("AS-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	event.Metadata = maps.Clone(event.Metadata)
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// canTransition implements the back-office rule: admins may move an open
// order to any status, including back to pending, but a completed or
// cancelled order is closed for good.
func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	return !current.Terminal()
}
