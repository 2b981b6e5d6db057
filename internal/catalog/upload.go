package catalog

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hashstyles/hashstyles/internal/blob"
	"github.com/hashstyles/hashstyles/internal/domain"
)

const uploadPrefix = "public/products"

// NewProduct is the admin form for a product with one cover image.
type NewProduct struct {
	Title       string
	Description string
	Price       decimal.Decimal
	Category    string
	Sizes       []string

	Filename    string
	ContentType string
	Image       io.Reader
}

// Uploader stores the cover image in the blob store, then creates the
// product pointing at it.
type Uploader struct {
	catalog *SQLiteCatalog
	blobs   blob.Store
	now     func() time.Time
}

func NewUploader(catalog *SQLiteCatalog, blobs blob.Store) *Uploader {
	return &Uploader{catalog: catalog, blobs: blobs, now: time.Now}
}

func objectName(now time.Time, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("%s/%d_%s", uploadPrefix, now.UnixMilli(), base)
}

func (u *Uploader) Create(ctx context.Context, np NewProduct) (*domain.Product, error) {
	if strings.TrimSpace(np.Title) == "" {
		return nil, fmt.Errorf("%w: product title is required", domain.ErrValidation)
	}
	if np.Image == nil {
		return nil, fmt.Errorf("%w: product image is required", domain.ErrValidation)
	}

	url, err := u.blobs.Upload(ctx, objectName(u.now(), np.Filename), np.ContentType, np.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to upload product image: %w", err)
	}

	p := &domain.Product{
		Title:       strings.TrimSpace(np.Title),
		Description: np.Description,
		Price:       np.Price,
		Images:      []string{url},
		Category:    np.Category,
		Sizes:       np.Sizes,
	}
	if err := u.catalog.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
