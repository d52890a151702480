package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/atelier-sucre/api/internal/domain"
	pfirestore "github.com/atelier-sucre/api/internal/platform/firestore"
	"github.com/atelier-sucre/api/internal/repositories"
)

const testimonialsCollection = "testimonials"

// TestimonialRepository persists customer testimonials.
type TestimonialRepository struct {
	base *pfirestore.BaseRepository[testimonialDocument]
}

var _ repositories.TestimonialRepository = (*TestimonialRepository)(nil)

// NewTestimonialRepository constructs a Firestore-backed testimonial repository.
func NewTestimonialRepository(provider *pfirestore.Provider) (*TestimonialRepository, error) {
	if provider == nil {
		return nil, errors.New("testimonial repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[testimonialDocument](provider, testimonialsCollection)
	return &TestimonialRepository{base: base}, nil
}

// Insert stores a new testimonial document.
func (r *TestimonialRepository) Insert(ctx context.Context, testimonial domain.Testimonial) error {
	if r == nil || r.base == nil {
		return errors.New("testimonial repository not initialised")
	}
	testimonialID := strings.TrimSpace(testimonial.ID)
	if testimonialID == "" {
		return errors.New("testimonial repository: testimonial id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, testimonialID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeTestimonialDocument(testimonial)); err != nil {
		return pfirestore.WrapError("testimonials.insert", err)
	}
	return nil
}

// Update replaces the persisted testimonial.
func (r *TestimonialRepository) Update(ctx context.Context, testimonial domain.Testimonial) error {
	if r == nil || r.base == nil {
		return errors.New("testimonial repository not initialised")
	}
	testimonialID := strings.TrimSpace(testimonial.ID)
	if testimonialID == "" {
		return errors.New("testimonial repository: testimonial id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, testimonialID)
	if err != nil {
		return err
	}
	if _, err := docRef.Update(ctx, encodeTestimonialUpdates(testimonial), firestore.Exists); err != nil {
		return pfirestore.WrapError("testimonials.update", err)
	}
	return nil
}

// Delete removes the testimonial document.
func (r *TestimonialRepository) Delete(ctx context.Context, testimonialID string) error {
	if r == nil || r.base == nil {
		return errors.New("testimonial repository not initialised")
	}
	testimonialID = strings.TrimSpace(testimonialID)
	if testimonialID == "" {
		return errors.New("testimonial repository: testimonial id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, testimonialID)
	if err != nil {
		return err
	}
	if _, err := docRef.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError("testimonials.delete", err)
	}
	return nil
}

// FindByID fetches a single testimonial.
func (r *TestimonialRepository) FindByID(ctx context.Context, testimonialID string) (domain.Testimonial, error) {
	if r == nil || r.base == nil {
		return domain.Testimonial{}, errors.New("testimonial repository not initialised")
	}
	testimonialID = strings.TrimSpace(testimonialID)
	if testimonialID == "" {
		return domain.Testimonial{}, errors.New("testimonial repository: testimonial id is required")
	}
	doc, err := r.base.Get(ctx, testimonialID)
	if err != nil {
		return domain.Testimonial{}, err
	}
	return decodeTestimonialDocument(testimonialID, doc.Data, doc.CreateTime, doc.UpdateTime), nil
}

// List returns testimonials newest first.
func (r *TestimonialRepository) List(ctx context.Context, filter repositories.TestimonialListFilter) (domain.CursorPage[domain.Testimonial], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Testimonial]{}, errors.New("testimonial repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Testimonial]{}, fmt.Errorf("testimonial repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.MinRating > 0 {
			q = q.Where("rating", ">=", filter.MinRating)
		}
		q = q.OrderBy("date", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Testimonial]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.Date
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Testimonial, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeTestimonialDocument(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime))
	}

	return domain.CursorPage[domain.Testimonial]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

type testimonialDocument struct {
	CustomerName string    `firestore:"customerName"`
	Comment      string    `firestore:"comment"`
	Rating       int       `firestore:"rating"`
	Date         time.Time `firestore:"date"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func encodeTestimonialDocument(testimonial domain.Testimonial) testimonialDocument {
	return testimonialDocument{
		CustomerName: strings.TrimSpace(testimonial.CustomerName),
		Comment:      strings.TrimSpace(testimonial.Comment),
		Rating:       testimonial.Rating,
		Date:         testimonial.Date.UTC(),
		CreatedAt:    testimonial.CreatedAt.UTC(),
		UpdatedAt:    testimonial.UpdatedAt.UTC(),
	}
}

func encodeTestimonialUpdates(testimonial domain.Testimonial) []firestore.Update {
	return []firestore.Update{
		{Path: "customerName", Value: strings.TrimSpace(testimonial.CustomerName)},
		{Path: "comment", Value: strings.TrimSpace(testimonial.Comment)},
		{Path: "rating", Value: testimonial.Rating},
		{Path: "date", Value: testimonial.Date.UTC()},
		{Path: "updatedAt", Value: testimonial.UpdatedAt.UTC()},
	}
}

func decodeTestimonialDocument(id string, doc testimonialDocument, createdAt, updatedAt time.Time) domain.Testimonial {
	return domain.Testimonial{
		ID:           strings.TrimSpace(id),
		CustomerName: doc.CustomerName,
		Comment:      doc.Comment,
		Rating:       doc.Rating,
		Date:         doc.Date.UTC(),
		CreatedAt:    chooseTime(doc.CreatedAt, createdAt),
		UpdatedAt:    chooseTime(doc.UpdatedAt, updatedAt),
	}
}
