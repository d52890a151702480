package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atelier-sucre/api/internal/domain"
	"github.com/atelier-sucre/api/internal/services"
)

type stubPurchaseService struct {
	listFn   func(ctx context.Context, filter services.PurchaseListFilter) (domain.CursorPage[services.Purchase], error)
	recordFn func(ctx context.Context, cmd services.RecordPurchaseCommand) (services.Purchase, error)
	updateFn func(ctx context.Context, purchaseID string, cmd services.RecordPurchaseCommand) (services.Purchase, error)
	deleteFn func(ctx context.Context, purchaseID string, actorID string) error
	statsFn  func(ctx context.Context) (services.PurchaseStats, error)
}

func (s *stubPurchaseService) ListPurchases(ctx context.Context, filter services.PurchaseListFilter) (domain.CursorPage[services.Purchase], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Purchase]{}, nil
}

func (s *stubPurchaseService) Record(ctx context.Context, cmd services.RecordPurchaseCommand) (services.Purchase, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.Purchase{}, nil
}

func (s *stubPurchaseService) Update(ctx context.Context, purchaseID string, cmd services.RecordPurchaseCommand) (services.Purchase, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, purchaseID, cmd)
	}
	return services.Purchase{}, nil
}

func (s *stubPurchaseService) Delete(ctx context.Context, purchaseID string, actorID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, purchaseID, actorID)
	}
	return nil
}

func (s *stubPurchaseService) Stats(ctx context.Context) (services.PurchaseStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return services.PurchaseStats{}, nil
}

var _ services.PurchaseService = (*stubPurchaseService)(nil)

func newAdminPurchaseRouter(h *AdminPurchaseHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/admin/purchases", h.Routes)
	return r
}

func TestAdminRecordPurchase(t *testing.T) {
	var captured services.RecordPurchaseCommand
	svc := &stubPurchaseService{
		recordFn: func(_ context.Context, cmd services.RecordPurchaseCommand) (services.Purchase, error) {
			captured = cmd
			return services.Purchase{
				ID:           "pur_01",
				ProductName:  cmd.ProductName,
				Supplier:     cmd.Supplier,
				PurchaseDate: cmd.PurchaseDate,
				Quantity:     cmd.Quantity,
				UnitPrice:    cmd.UnitPrice,
				TotalPrice:   cmd.UnitPrice * services.Money(int64(cmd.Quantity)),
				CreatedAt:    time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newAdminPurchaseRouter(NewAdminPurchaseHandlers(nil, svc))

	body := `{"product_name":"Farine T55","supplier":"Minoterie Dupuis","purchase_date":"2026-05-01","quantity":5,"unit_price":"3.70"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/purchases/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if captured.UnitPrice != 370 || captured.Quantity != 5 {
		t.Errorf("unexpected command %+v", captured)
	}
	if !captured.PurchaseDate.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected purchase date %s", captured.PurchaseDate)
	}

	var response struct {
		Purchase struct {
			TotalPrice string `json:"total_price"`
		} `json:"purchase"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Purchase.TotalPrice != "18.50" {
		t.Errorf("unexpected total %s", response.Purchase.TotalPrice)
	}
}

func TestAdminRecordPurchaseRejectsBadUnitPrice(t *testing.T) {
	router := newAdminPurchaseRouter(NewAdminPurchaseHandlers(nil, &stubPurchaseService{}))

	req := httptest.NewRequest(http.MethodPost, "/admin/purchases/", strings.NewReader(`{"product_name":"Farine","supplier":"X","purchase_date":"2026-05-01","quantity":1,"unit_price":"cher"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAdminPurchaseStats(t *testing.T) {
	svc := &stubPurchaseService{
		statsFn: func(context.Context) (services.PurchaseStats, error) {
			return services.PurchaseStats{Total: 39500, CurrentMonth: 14200, Count: 12}, nil
		},
	}
	router := newAdminPurchaseRouter(NewAdminPurchaseHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodGet, "/admin/purchases/stats", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var response purchaseStatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Total != "395.00" || response.CurrentMonth != "142.00" || response.Count != 12 {
		t.Errorf("unexpected stats %+v", response)
	}
}

func TestAdminUpdatePurchaseNotFound(t *testing.T) {
	svc := &stubPurchaseService{
		updateFn: func(context.Context, string, services.RecordPurchaseCommand) (services.Purchase, error) {
			return services.Purchase{}, services.ErrPurchaseNotFound
		},
	}
	router := newAdminPurchaseRouter(NewAdminPurchaseHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPut, "/admin/purchases/pur_MISSING", strings.NewReader(`{"product_name":"Farine","supplier":"X","purchase_date":"2026-05-01","quantity":1,"unit_price":"1.00"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestAdminDeletePurchase(t *testing.T) {
	var deleted string
	svc := &stubPurchaseService{
		deleteFn: func(_ context.Context, purchaseID string, _ string) error {
			deleted = purchaseID
			return nil
		},
	}
	router := newAdminPurchaseRouter(NewAdminPurchaseHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodDelete, "/admin/purchases/pur_01", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if deleted != "pur_01" {
		t.Errorf("unexpected deleted id %s", deleted)
	}
}
