package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/atelier-sucre/api/internal/domain"
	pstorage "github.com/atelier-sucre/api/internal/platform/storage"
	"github.com/atelier-sucre/api/internal/platform/textutil"
	"github.com/atelier-sucre/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	maxProductImageSize     = int64(10 * 1024 * 1024) // 10 MiB
	productImageUploadTTL   = 15 * time.Minute
	catalogEventImageIssued = "catalog.image.upload.issued"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a concurrent modification or duplicate slug.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogStorageUnavailable indicates the image storage backend rejected the request.
	ErrCatalogStorageUnavailable = errors.New("catalog: storage unavailable")
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var productImageContentTypes = []string{"image/png", "image/jpeg", "image/webp"}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Storage     *pstorage.Client
	ImageBucket string
	ImageHost   string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products    repositories.ProductRepository
	storage     *pstorage.Client
	imageBucket string
	imageHost   string
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	host := strings.TrimRight(strings.TrimSpace(deps.ImageHost), "/")
	if host == "" {
		host = "https://storage.googleapis.com"
	}

	return &catalogService{
		products:    deps.Products,
		storage:     deps.Storage,
		imageBucket: strings.TrimSpace(deps.ImageBucket),
		imageHost:   host,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	repoFilter := repositories.ProductListFilter{
		Category:      strings.TrimSpace(filter.Category),
		AvailableOnly: filter.AvailableOnly,
		Pagination: domain.Pagination{
			PageSize:  filter.Pagination.PageSize,
			PageToken: strings.TrimSpace(filter.Pagination.PageToken),
		},
	}

	page, err := s.products.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	normalized, err := normalizeProductCommand(cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	available := true
	if cmd.Available != nil {
		available = *cmd.Available
	}

	product := Product{
		ID:          productIDPrefix + s.newID(),
		Name:        normalized.Name,
		Slug:        slugify(normalized.Name),
		Description: normalized.Description,
		Category:    normalized.Category,
		Prices:      normalized.Prices,
		Available:   available,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, productID string, cmd UpsertProductCommand) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	normalized, err := normalizeProductCommand(cmd)
	if err != nil {
		return Product{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product.Name = normalized.Name
	product.Slug = slugify(normalized.Name)
	product.Description = normalized.Description
	product.Category = normalized.Category
	product.Prices = normalized.Prices
	if cmd.Available != nil {
		product.Available = *cmd.Available
	}
	product.UpdatedAt = s.clock()
	product.Version++

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) SetAvailability(ctx context.Context, productID string, available bool, actorID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if product.Available == available {
		return product, nil
	}

	product.Available = available
	product.UpdatedAt = s.clock()
	product.Version++

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) CreateImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (ProductImageUpload, error) {
	if s.storage == nil || s.imageBucket == "" {
		return ProductImageUpload{}, fmt.Errorf("%w: image storage is not configured", ErrCatalogStorageUnavailable)
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return ProductImageUpload{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if !contentTypeAllowed(contentType) {
		return ProductImageUpload{}, fmt.Errorf("%w: content type %q is not allowed", ErrCatalogInvalidInput, cmd.ContentType)
	}
	if cmd.SizeBytes <= 0 || cmd.SizeBytes > maxProductImageSize {
		return ProductImageUpload{}, fmt.Errorf("%w: image size %d out of range", ErrCatalogInvalidInput, cmd.SizeBytes)
	}

	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		fileName = "image" + extensionForContentType(contentType)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return ProductImageUpload{}, s.mapRepositoryError(err)
	}

	objectPath, err := pstorage.ProductImagePath(productID, s.newID(), fileName)
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	result, err := s.storage.SignedUploadURL(ctx, s.imageBucket, objectPath, pstorage.UploadOptions{
		ContentType:         contentType,
		AllowedContentTypes: productImageContentTypes,
		MaxSize:             maxProductImageSize,
		ExpiresIn:           productImageUploadTTL,
	})
	if err != nil {
		return ProductImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogStorageUnavailable, err)
	}

	s.logger(ctx, catalogEventImageIssued, map[string]any{
		"productId": productID,
		"object":    objectPath,
		"actorId":   strings.TrimSpace(cmd.ActorID),
	})

	return ProductImageUpload{
		UploadURL:  result.URL,
		ObjectPath: objectPath,
		ExpiresAt:  result.ExpiresAt,
	}, nil
}

func (s *catalogService) ConfirmImageUpload(ctx context.Context, cmd ConfirmProductImageCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	objectPath := strings.TrimSpace(cmd.ObjectPath)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if objectPath == "" {
		return Product{}, fmt.Errorf("%w: object path is required", ErrCatalogInvalidInput)
	}
	expectedPrefix := "assets/products/" + productID + "/"
	if !strings.HasPrefix(objectPath, expectedPrefix) {
		return Product{}, fmt.Errorf("%w: object path does not belong to product %s", ErrCatalogInvalidInput, productID)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product.ImagePath = objectPath
	product.ImageURL = s.publicImageURL(objectPath)
	product.UpdatedAt = s.clock()
	product.Version++

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) publicImageURL(objectPath string) string {
	return s.imageHost + "/" + path.Join(s.imageBucket, objectPath)
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}

type normalizedProduct struct {
	Name        string
	Description string
	Category    string
	Prices      map[string]Money
}

func normalizeProductCommand(cmd UpsertProductCommand) (normalizedProduct, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return normalizedProduct{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	category := strings.TrimSpace(cmd.Category)
	if category == "" {
		return normalizedProduct{}, fmt.Errorf("%w: category is required", ErrCatalogInvalidInput)
	}
	if len(cmd.Prices) == 0 {
		return normalizedProduct{}, fmt.Errorf("%w: at least one size price is required", ErrCatalogInvalidInput)
	}

	prices := make(map[string]Money, len(cmd.Prices))
	for size, price := range cmd.Prices {
		size = strings.TrimSpace(size)
		if size == "" {
			return normalizedProduct{}, fmt.Errorf("%w: size label cannot be empty", ErrCatalogInvalidInput)
		}
		if price < 0 {
			return normalizedProduct{}, fmt.Errorf("%w: price for size %q cannot be negative", ErrCatalogInvalidInput, size)
		}
		prices[size] = price
	}

	return normalizedProduct{
		Name:        name,
		Description: sanitizeFreeText(cmd.Description),
		Category:    category,
		Prices:      prices,
	}, nil
}

func slugify(name string) string {
	folded := slugSanitizer.ReplaceAllString(textutil.Fold(name), "-")
	return strings.Trim(folded, "-")
}

func contentTypeAllowed(contentType string) bool {
	for _, allowed := range productImageContentTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func extensionForContentType(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
