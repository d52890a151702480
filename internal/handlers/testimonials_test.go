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

type stubTestimonialService struct {
	listFn   func(ctx context.Context, filter services.TestimonialListFilter) (domain.CursorPage[services.Testimonial], error)
	submitFn func(ctx context.Context, cmd services.SubmitTestimonialCommand) (services.Testimonial, error)
	updateFn func(ctx context.Context, cmd services.UpdateTestimonialCommand) (services.Testimonial, error)
	deleteFn func(ctx context.Context, testimonialID string, actorID string) error
}

func (s *stubTestimonialService) ListTestimonials(ctx context.Context, filter services.TestimonialListFilter) (domain.CursorPage[services.Testimonial], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Testimonial]{}, nil
}

func (s *stubTestimonialService) Submit(ctx context.Context, cmd services.SubmitTestimonialCommand) (services.Testimonial, error) {
	if s.submitFn != nil {
		return s.submitFn(ctx, cmd)
	}
	return services.Testimonial{}, nil
}

func (s *stubTestimonialService) Update(ctx context.Context, cmd services.UpdateTestimonialCommand) (services.Testimonial, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Testimonial{}, nil
}

func (s *stubTestimonialService) Delete(ctx context.Context, testimonialID string, actorID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, testimonialID, actorID)
	}
	return nil
}

var _ services.TestimonialService = (*stubTestimonialService)(nil)

func newTestimonialRouter(h *TestimonialHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/testimonials", h.Routes)
	return r
}

func newAdminTestimonialRouter(h *AdminTestimonialHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/admin/testimonials", h.Routes)
	return r
}

func TestSubmitTestimonial(t *testing.T) {
	submitted := services.Testimonial{
		ID:           "tst_01",
		CustomerName: "Paul Martin",
		Comment:      "Le fraisier était délicieux !",
		Rating:       5,
		Date:         time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:    time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
	var captured services.SubmitTestimonialCommand
	svc := &stubTestimonialService{
		submitFn: func(_ context.Context, cmd services.SubmitTestimonialCommand) (services.Testimonial, error) {
			captured = cmd
			return submitted, nil
		},
	}
	router := newTestimonialRouter(NewTestimonialHandlers(svc, nil))

	body := `{"customer_name":"Paul Martin","comment":"Le fraisier était délicieux !","rating":5}`
	req := httptest.NewRequest(http.MethodPost, "/testimonials/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	if captured.CustomerName != "Paul Martin" || captured.Rating != 5 {
		t.Errorf("unexpected command %+v", captured)
	}

	var response struct {
		Testimonial struct {
			ID     string `json:"id"`
			Rating int    `json:"rating"`
		} `json:"testimonial"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if response.Testimonial.ID != "tst_01" || response.Testimonial.Rating != 5 {
		t.Errorf("unexpected payload %+v", response.Testimonial)
	}
}

func TestSubmitTestimonialRateLimited(t *testing.T) {
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, time.Minute, func() time.Time { return now })
	svc := &stubTestimonialService{
		submitFn: func(context.Context, services.SubmitTestimonialCommand) (services.Testimonial, error) {
			return services.Testimonial{ID: "tst_01"}, nil
		},
	}
	router := newTestimonialRouter(NewTestimonialHandlers(svc, limiter))

	body := `{"customer_name":"Paul Martin","comment":"Parfait","rating":5}`

	first := httptest.NewRequest(http.MethodPost, "/testimonials/", strings.NewReader(body))
	first.RemoteAddr = "198.51.100.7:1000"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected first submit to pass, got %d", rr.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/testimonials/", strings.NewReader(body))
	second.RemoteAddr = "198.51.100.7:1001"
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
}

func TestSubmitTestimonialValidationError(t *testing.T) {
	svc := &stubTestimonialService{
		submitFn: func(context.Context, services.SubmitTestimonialCommand) (services.Testimonial, error) {
			return services.Testimonial{}, services.ErrTestimonialInvalidInput
		},
	}
	router := newTestimonialRouter(NewTestimonialHandlers(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/testimonials/", strings.NewReader(`{"customer_name":"","comment":"","rating":9}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestListTestimonialsForwardsPaging(t *testing.T) {
	var captured services.TestimonialListFilter
	svc := &stubTestimonialService{
		listFn: func(_ context.Context, filter services.TestimonialListFilter) (domain.CursorPage[services.Testimonial], error) {
			captured = filter
			return domain.CursorPage[services.Testimonial]{NextPageToken: "after"}, nil
		},
	}
	router := newTestimonialRouter(NewTestimonialHandlers(svc, nil))

	req := httptest.NewRequest(http.MethodGet, "/testimonials/?page_size=5&page_token=tok&min_rating=4", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if captured.Pagination.PageSize != 5 || captured.Pagination.PageToken != "tok" {
		t.Errorf("unexpected pagination %+v", captured.Pagination)
	}
	if captured.MinRating != 4 {
		t.Errorf("unexpected min rating %d", captured.MinRating)
	}
}

func TestAdminUpdateTestimonial(t *testing.T) {
	var captured services.UpdateTestimonialCommand
	svc := &stubTestimonialService{
		updateFn: func(_ context.Context, cmd services.UpdateTestimonialCommand) (services.Testimonial, error) {
			captured = cmd
			return services.Testimonial{ID: cmd.TestimonialID, Rating: 4}, nil
		},
	}
	router := newAdminTestimonialRouter(NewAdminTestimonialHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodPut, "/admin/testimonials/tst_01", strings.NewReader(`{"rating":4}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if captured.TestimonialID != "tst_01" {
		t.Errorf("unexpected testimonial id %s", captured.TestimonialID)
	}
	if captured.Rating == nil || *captured.Rating != 4 {
		t.Errorf("expected rating patch, got %+v", captured.Rating)
	}
	if captured.CustomerName != nil || captured.Comment != nil {
		t.Error("expected untouched fields to stay nil")
	}
}

func TestAdminDeleteTestimonialNotFound(t *testing.T) {
	svc := &stubTestimonialService{
		deleteFn: func(context.Context, string, string) error {
			return services.ErrTestimonialNotFound
		},
	}
	router := newAdminTestimonialRouter(NewAdminTestimonialHandlers(nil, svc))

	req := httptest.NewRequest(http.MethodDelete, "/admin/testimonials/tst_MISSING", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}
