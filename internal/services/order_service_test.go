package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/repositories"
)

type stubOrderRepo struct {
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) error
	findFn   func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubProductRepo struct {
	insertFn func(context.Context, domain.Product) error
	updateFn func(context.Context, domain.Product) error
	deleteFn func(context.Context, string) error
	findFn   func(context.Context, string) (domain.Product, error)
	listFn   func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Delete(ctx context.Context, productID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, productID)
	}
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

func (s *stubCounterRepo) Configure(context.Context, string, repositories.CounterConfig) error {
	return nil
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func testProduct() domain.Product {
	return domain.Product{
		ID:        "prd_TARTE",
		Name:      "Tarte aux fraises",
		Category:  "tartes",
		Available: true,
		Prices: map[string]domain.Money{
			"6 parts": 2400,
			"8 parts": 3200,
		},
		ImageURL: "https://cdn.example.com/tarte.jpg",
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Products == nil {
		deps.Products = &stubProductRepo{findFn: func(_ context.Context, _ string) (domain.Product, error) {
			return testProduct(), nil
		}}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) { return 1, nil }}
	}
	if deps.UnitOfWork == nil {
		deps.UnitOfWork = &stubUnitOfWork{}
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService() error = %v", err)
	}
	return svc
}

func TestOrderServiceCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	deliveryDate := now.Add(96 * time.Hour)
	inserted := make([]domain.Order, 0, 1)
	events := &captureOrderEvents{}

	orderRepo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = append(inserted, order)
			return nil
		},
	}
	counters := &stubCounterRepo{
		nextFn: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "orders" {
				t.Fatalf("counter id = %s, want orders", counterID)
			}
			if step != 1 {
				t.Fatalf("step = %d, want 1", step)
			}
			return 42, nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:      orderRepo,
		Counters:    counters,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})

	order, err := svc.Create(ctx, CreateOrderCommand{
		CustomerInfo: CustomerInfo{
			FirstName: "Claire",
			LastName:  "Dubois",
			Email:     "claire@example.com",
			Phone:     "06 12 34 56 78",
		},
		ProductID:       "prd_TARTE",
		Size:            "8 parts",
		SpecialRequests: "Sans fruits à coque",
		DeliveryType:    "livraison-centre",
		DeliveryDate:    deliveryDate,
		TimeSlot:        "14:00-16:00",
		Address:         "12 rue des Lilas",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("order id = %s", order.ID)
	}
	if order.Number != "AS-2026-000042" {
		t.Fatalf("unexpected order number %s", order.Number)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status got %s", order.Status)
	}
	if order.Product.UnitPrice != 3200 {
		t.Fatalf("expected base price from catalog got %d", order.Product.UnitPrice)
	}
	if order.Pricing.BasePrice != 3200 || order.Pricing.DeliveryPrice != 800 || order.Pricing.TotalPrice != 4000 {
		t.Fatalf("unexpected pricing %+v", order.Pricing)
	}
	if order.Acompte != nil {
		t.Fatalf("new order should have no deposit")
	}
	if order.Version != 1 {
		t.Fatalf("expected version 1 got %d", order.Version)
	}
	if len(inserted) != 1 {
		t.Fatalf("inserted orders = %d, want 1", len(inserted))
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated {
		t.Fatalf("expected order.created event got %+v", events.events)
	}
}

func TestOrderServiceCreateValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	validDate := now.Add(96 * time.Hour)

	base := CreateOrderCommand{
		CustomerInfo: CustomerInfo{FirstName: "Claire", LastName: "Dubois", Email: "claire@example.com", Phone: "0612345678"},
		ProductID:    "prd_TARTE",
		Size:         "6 parts",
		DeliveryType: "pickup",
		DeliveryDate: validDate,
	}

	cases := []struct {
		name    string
		mutate  func(*CreateOrderCommand)
		wantErr error
	}{
		{
			name:    "empty first name",
			mutate:  func(cmd *CreateOrderCommand) { cmd.CustomerInfo.FirstName = " " },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "empty last name",
			mutate:  func(cmd *CreateOrderCommand) { cmd.CustomerInfo.LastName = " " },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "bad email",
			mutate:  func(cmd *CreateOrderCommand) { cmd.CustomerInfo.Email = "not-an-email" },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "bad phone",
			mutate:  func(cmd *CreateOrderCommand) { cmd.CustomerInfo.Phone = "12345" },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "unknown delivery type",
			mutate:  func(cmd *CreateOrderCommand) { cmd.DeliveryType = "drone" },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "delivery inside lead time",
			mutate:  func(cmd *CreateOrderCommand) { cmd.DeliveryDate = now.Add(12 * time.Hour) },
			wantErr: ErrOrderInvalidInput,
		},
		{
			name: "missing address for delivery",
			mutate: func(cmd *CreateOrderCommand) {
				cmd.DeliveryType = "livraison-peripherie"
				cmd.Address = ""
			},
			wantErr: ErrOrderInvalidInput,
		},
		{
			name:    "unknown size",
			mutate:  func(cmd *CreateOrderCommand) { cmd.Size = "12 parts" },
			wantErr: ErrOrderInvalidInput,
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "X" },
	})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := base
			tc.mutate(&cmd)
			if _, err := svc.Create(ctx, cmd); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v got %v", tc.wantErr, err)
			}
		})
	}
}

func TestOrderServiceCreateUnavailableProduct(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	product := testProduct()
	product.Available = false

	svc := newTestOrderService(t, OrderServiceDeps{
		Products: &stubProductRepo{findFn: func(context.Context, string) (domain.Product, error) {
			return product, nil
		}},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "X" },
	})

	_, err := svc.Create(ctx, CreateOrderCommand{
		CustomerInfo: CustomerInfo{FirstName: "Claire", LastName: "Dubois", Email: "claire@example.com", Phone: "0612345678"},
		ProductID:    "prd_TARTE",
		Size:         "6 parts",
		DeliveryType: "pickup",
		DeliveryDate: now.Add(96 * time.Hour),
	})
	if !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable got %v", err)
	}
}

func TestOrderServiceTransitionSettlesDeposit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	depositDate := time.Date(2026, 4, 1, 11, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	stored := domain.Order{
		ID:      "ord_1",
		Number:  "AS-2026-000001",
		Status:  domain.OrderStatusInProgress,
		Pricing: domain.Pricing{BasePrice: 3200, DeliveryPrice: 800, TotalPrice: 4000},
		Acompte: &domain.Deposit{Amount: 1500, Date: depositDate},
		Version: 3,
	}

	var updated domain.Order
	orderRepo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			if id != "ord_1" {
				t.Fatalf("order id = %s", id)
			}
			return stored, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			updated = order
			return nil
		},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orderRepo,
		Clock:  func() time.Time { return now },
		Events: events,
	})

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: "completed",
		ActorID:      "adm_1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed got %s", order.Status)
	}
	if order.Acompte == nil || order.Acompte.Amount != 4000 {
		t.Fatalf("expected deposit settled to total, got %+v", order.Acompte)
	}
	if !order.Acompte.Date.Equal(depositDate) {
		t.Fatalf("settlement must keep the original deposit date, got %s", order.Acompte.Date)
	}
	if order.Balance() != 0 {
		t.Fatalf("expected zero balance got %d", order.Balance())
	}
	if order.Version != 4 {
		t.Fatalf("expected version bump to 4 got %d", order.Version)
	}
	if updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("updated order not persisted: %+v", updated)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventStatusChanged {
		t.Fatalf("events = %+v, want one status change", events.events)
	}
	if events.events[0].PreviousStatus != "in-progress" {
		t.Fatalf("unexpected previous status %s", events.events[0].PreviousStatus)
	}
}

func TestOrderServiceTransitionSameStatusIsNoOp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:        "ord_1",
		Status:    domain.OrderStatusPending,
		Version:   2,
		UpdatedAt: now.Add(-24 * time.Hour),
	}

	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { updated = order; return nil },
		},
		Clock: func() time.Time { return now },
	})

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: "pending",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status must not change, got %s", order.Status)
	}
	if order.Acompte != nil {
		t.Fatalf("same-status transition must not touch the deposit")
	}
	if !order.UpdatedAt.Equal(now) {
		t.Fatalf("expected refreshed updatedAt got %s", order.UpdatedAt)
	}
	if updated.Version != 3 {
		t.Fatalf("expected persisted version 3 got %d", updated.Version)
	}
}

func TestOrderServiceTransitionReopensInProgressOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusInProgress,
		Pricing: domain.Pricing{BasePrice: 2400, TotalPrice: 2400},
		Version: 2,
	}

	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { updated = order; return nil },
		},
		Clock: func() time.Time { return now },
	})

	order, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: "pending",
		ActorID:      "adm_1",
	})
	if err != nil {
		t.Fatalf("reopening an in-progress order must succeed: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending got %s", order.Status)
	}
	if order.Acompte != nil {
		t.Fatalf("non-terminal transition must not touch the deposit")
	}
	if updated.Version != 3 {
		t.Fatalf("expected persisted version 3 got %d", updated.Version)
	}
}

func TestOrderServiceTransitionRejectsTerminalSource(t *testing.T) {
	ctx := context.Background()

	for _, status := range []domain.OrderStatus{domain.OrderStatusCompleted, domain.OrderStatusCancelled} {
		svc := newTestOrderService(t, OrderServiceDeps{
			Orders: &stubOrderRepo{
				findFn: func(context.Context, string) (domain.Order, error) {
					return domain.Order{ID: "ord_1", Status: status}, nil
				},
			},
		})

		_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID:      "ord_1",
			TargetStatus: "in-progress",
		})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("%s: expected ErrOrderInvalidState got %v", status, err)
		}
	}
}

func TestOrderServiceCancelSettlesDeposit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusPending,
		Pricing: domain.Pricing{BasePrice: 2400, DeliveryPrice: 0, TotalPrice: 2400},
		Version: 1,
	}

	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { updated = order; return nil },
		},
		Clock: func() time.Time { return now },
	})

	order, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "ord_1", Reason: "client absent"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled got %s", order.Status)
	}
	if order.Acompte == nil || order.Acompte.Amount != 2400 {
		t.Fatalf("cancellation must settle the deposit, got %+v", order.Acompte)
	}
	if !order.Acompte.Date.Equal(now) {
		t.Fatalf("missing deposit must be dated at the transition, got %s", order.Acompte.Date)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("cancelled order not persisted")
	}
}

func TestOrderServiceTransitionVersionMismatch(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending, Version: 5}, nil
			},
		},
	})

	expected := int64(3)
	_, err := svc.TransitionStatus(ctx, OrderStatusTransitionCommand{
		OrderID:         "ord_1",
		TargetStatus:    "in-progress",
		ExpectedVersion: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict got %v", err)
	}
}

func TestOrderServiceUpdateCustomerDetails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:     "ord_1",
		Status: domain.OrderStatusPending,
		CustomerInfo: domain.CustomerInfo{
			FirstName: "Claire",
			LastName:  "Dubois",
			Email:     "claire@example.com",
			Phone:     "0612345678",
		},
		Delivery: domain.Delivery{Type: domain.DeliveryTypePickup, Date: now.Add(120 * time.Hour)},
		Version:  2,
	}

	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { updated = order; return nil },
		},
		Clock: func() time.Time { return now },
	})

	phone := "07 98 76 54 32"
	newDate := now.Add(200 * time.Hour)
	order, err := svc.UpdateCustomerDetails(ctx, UpdateCustomerDetailsCommand{
		OrderID:      "ord_1",
		Phone:        &phone,
		DeliveryDate: &newDate,
	})
	if err != nil {
		t.Fatalf("update details: %v", err)
	}
	if order.CustomerInfo.Phone != "07 98 76 54 32" {
		t.Fatalf("unexpected phone %s", order.CustomerInfo.Phone)
	}
	if order.CustomerInfo.FirstName != "Claire" || order.CustomerInfo.LastName != "Dubois" {
		t.Fatalf("untouched fields must survive, got %s", order.CustomerInfo.FullName())
	}
	if !order.Delivery.Date.Equal(newDate.UTC()) {
		t.Fatalf("unexpected delivery date %s", order.Delivery.Date)
	}
	if !order.IsModified {
		t.Fatalf("expected isModified flag")
	}
	if updated.Version != 3 {
		t.Fatalf("expected persisted version 3 got %d", updated.Version)
	}
}

func TestOrderServiceUpdateCustomerDetailsRejectsClosedOrder(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{ID: "ord_1", Status: domain.OrderStatusCompleted}, nil
			},
		},
	})

	name := "Someone"
	_, err := svc.UpdateCustomerDetails(ctx, UpdateCustomerDetailsCommand{OrderID: "ord_1", FirstName: &name})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestOrderServiceRecordDeposit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	firstDate := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	events := &captureOrderEvents{}

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusPending,
		Pricing: domain.Pricing{BasePrice: 3200, DeliveryPrice: 800, TotalPrice: 4000},
		Acompte: &domain.Deposit{Amount: 500, Date: firstDate},
		Version: 2,
	}

	var updated domain.Order
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { updated = order; return nil },
		},
		Clock:  func() time.Time { return now },
		Events: events,
	})

	order, err := svc.RecordDeposit(ctx, RecordDepositCommand{OrderID: "ord_1", Amount: 1500})
	if err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if order.Acompte == nil || order.Acompte.Amount != 1500 {
		t.Fatalf("new deposit must replace the previous one, got %+v", order.Acompte)
	}
	if !order.Acompte.Date.Equal(now) {
		t.Fatalf("unexpected deposit date %s", order.Acompte.Date)
	}
	if order.Balance() != 2500 {
		t.Fatalf("expected balance 2500 got %d", order.Balance())
	}
	if updated.Version != 3 {
		t.Fatalf("expected persisted version 3 got %d", updated.Version)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventDepositRecorded {
		t.Fatalf("expected deposit event got %+v", events.events)
	}
}

func TestOrderServiceRecordDepositTwiceKeepsSingleSlot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusPending,
		Pricing: domain.Pricing{BasePrice: 3200, DeliveryPrice: 800, TotalPrice: 4000},
		Version: 1,
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(_ context.Context, order domain.Order) error { stored = order; return nil },
		},
		Clock: func() time.Time { return now },
	})

	if _, err := svc.RecordDeposit(ctx, RecordDepositCommand{OrderID: "ord_1", Amount: 1000}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	order, err := svc.RecordDeposit(ctx, RecordDepositCommand{OrderID: "ord_1", Amount: 2500})
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	if order.Acompte == nil || order.Acompte.Amount != 2500 {
		t.Fatalf("second deposit must overwrite the single slot, got %+v", order.Acompte)
	}
	if order.Balance() != 1500 {
		t.Fatalf("expected balance 1500 got %d", order.Balance())
	}
}

func TestOrderServiceRecordDepositRejectsNegative(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				t.Fatalf("repository must not be touched for invalid amounts")
				return domain.Order{}, nil
			},
		},
	})

	_, err := svc.RecordDeposit(ctx, RecordDepositCommand{OrderID: "ord_1", Amount: -100})
	if !errors.Is(err, ErrOrderDepositInvalid) {
		t.Fatalf("expected ErrOrderDepositInvalid got %v", err)
	}
}

func TestOrderServiceRecordDepositRejectsCancelledOrder(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{ID: "ord_1", Status: domain.OrderStatusCancelled}, nil
			},
		},
	})

	_, err := svc.RecordDeposit(ctx, RecordDepositCommand{OrderID: "ord_1", Amount: 1000})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState got %v", err)
	}
}

func TestOrderServiceMarkFullyPaid(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusInProgress,
		Pricing: domain.Pricing{BasePrice: 2400, DeliveryPrice: 1200, TotalPrice: 3600},
		Version: 1,
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(context.Context, domain.Order) error { return nil },
		},
		Clock: func() time.Time { return now },
	})

	order, err := svc.MarkFullyPaid(ctx, MarkFullyPaidCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("mark fully paid: %v", err)
	}
	if order.Acompte == nil || order.Acompte.Amount != 3600 {
		t.Fatalf("expected deposit equal to total, got %+v", order.Acompte)
	}
	if order.Balance() != 0 {
		t.Fatalf("expected zero balance got %d", order.Balance())
	}
}

func TestOrderServiceMarkFullyPaidKeepsDepositDate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	depositDate := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Status:  domain.OrderStatusPending,
		Pricing: domain.Pricing{BasePrice: 3200, DeliveryPrice: 800, TotalPrice: 4000},
		Acompte: &domain.Deposit{Amount: 2000, Date: depositDate},
		Version: 2,
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn:   func(context.Context, string) (domain.Order, error) { return stored, nil },
			updateFn: func(context.Context, domain.Order) error { return nil },
		},
		Clock: func() time.Time { return now },
	})

	order, err := svc.MarkFullyPaid(ctx, MarkFullyPaidCommand{OrderID: "ord_1"})
	if err != nil {
		t.Fatalf("mark fully paid: %v", err)
	}
	if order.Acompte == nil || order.Acompte.Amount != 4000 {
		t.Fatalf("expected deposit snapped to total, got %+v", order.Acompte)
	}
	if !order.Acompte.Date.Equal(depositDate) {
		t.Fatalf("existing deposit date must survive, got %s", order.Acompte.Date)
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	ctx := context.Background()

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{}, stubRepoError{notFound: true}
			},
		},
	})

	if _, err := svc.GetOrder(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}

func TestOrderServiceInsertConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(context.Context, domain.Order) error {
				return stubRepoError{conflict: true}
			},
		},
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "X" },
	})

	_, err := svc.Create(ctx, CreateOrderCommand{
		CustomerInfo: CustomerInfo{FirstName: "Claire", LastName: "Dubois", Email: "claire@example.com", Phone: "0612345678"},
		ProductID:    "prd_TARTE",
		Size:         "6 parts",
		DeliveryType: "pickup",
		DeliveryDate: now.Add(96 * time.Hour),
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict got %v", err)
	}
}

func TestOrderServiceBuildInvoice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC)
	depositDate := time.Date(2026, 4, 11, 10, 0, 0, 0, time.UTC)

	stored := domain.Order{
		ID:      "ord_1",
		Number:  "AS-2026-000007",
		Status:  domain.OrderStatusInProgress,
		Pricing: domain.Pricing{BasePrice: 3200, DeliveryPrice: 800, TotalPrice: 4000},
		Acompte: &domain.Deposit{Amount: 1000, Date: depositDate},
	}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: &stubOrderRepo{
			findFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		},
		Clock: func() time.Time { return now },
	})

	invoice, err := svc.BuildInvoice(ctx, "ord_1")
	if err != nil {
		t.Fatalf("build invoice: %v", err)
	}
	if invoice.Number != "AS-2026-000007" {
		t.Fatalf("unexpected invoice number %s", invoice.Number)
	}
	if invoice.Balance != 3000 {
		t.Fatalf("expected balance 3000 got %d", invoice.Balance)
	}
	if invoice.StatusLabel != "En cours" {
		t.Fatalf("status label = %s", invoice.StatusLabel)
	}
	if invoice.Deposit == nil || invoice.Deposit.Amount != 1000 {
		t.Fatalf("unexpected deposit %+v", invoice.Deposit)
	}
	if !invoice.IssuedAt.Equal(now) {
		t.Fatalf("unexpected issue date %s", invoice.IssuedAt)
	}
}
