package market

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// HomeListingLimit is the number of approved products shown on the home page
const HomeListingLimit = 12

// Products is the listing store
type Products interface {
	ProductStatusStore
	ProductOwnerLookup

	Create(ctx context.Context, product *Product) (*Product, error)
	CreateTx(ctx context.Context, tx bun.IDB, product *Product) (*Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetWithSeller(ctx context.Context, id uuid.UUID) (*Product, error)

	ListLatestApproved(ctx context.Context, limit int) ([]*Product, error)
	SearchApproved(ctx context.Context, query string) ([]*Product, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]*Product, error)
	ListByStatus(ctx context.Context, status ProductStatus) ([]*Product, error)
	CountByStatus(ctx context.Context) (map[ProductStatus]int, error)

	// SaveEdit stores the editable fields and status of product when its
	// version still matches, bumping the version.
	SaveEdit(ctx context.Context, product *Product) (*Product, error)
	IncrementViews(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
}

type products struct {
	repo repository.Repository[*Product]
	db   *bun.DB
	now  func() time.Time
}

var _ Products = (*products)(nil)

// ProductsOption customizes the products repository
type ProductsOption func(*products)

// WithProductsClock injects a custom clock (useful for tests).
func WithProductsClock(clock func() time.Time) ProductsOption {
	return func(p *products) {
		if clock != nil {
			p.now = clock
		}
	}
}

// NewProductsRepository returns a bun backed Products store
func NewProductsRepository(db *bun.DB, opts ...ProductsOption) Products {
	repo := repository.NewRepository[*Product](db, repository.ModelHandlers[*Product]{
		NewRecord: func() *Product { return &Product{} },
		GetID: func(p *Product) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Product, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	r := &products{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *products) Create(ctx context.Context, product *Product) (*Product, error) {
	return r.CreateTx(ctx, r.db, product)
}

func (r *products) CreateTx(ctx context.Context, tx bun.IDB, product *Product) (*Product, error) {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.Version == 0 {
		product.Version = 1
	}
	if product.Images == nil {
		product.Images = []MediaAsset{}
	}
	if product.Tags == nil {
		product.Tags = []string{}
	}
	now := r.now().UTC()
	product.CreatedAt = &now
	product.UpdatedAt = &now
	return r.repo.CreateTx(ctx, tx, product)
}

func (r *products) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	return r.get(ctx, id, false)
}

func (r *products) GetWithSeller(ctx context.Context, id uuid.UUID) (*Product, error) {
	return r.get(ctx, id, true)
}

func (r *products) get(ctx context.Context, id uuid.UUID, withSeller bool) (*Product, error) {
	record := &Product{}
	q := r.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id)
	if withSeller {
		q = q.Relation("Seller", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.ExcludeColumn("password_hash")
		})
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, NewNotFound(map[string]any{"product_id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (r *products) ProductOwner(ctx context.Context, productID uuid.UUID) (uuid.UUID, error) {
	var sellerID uuid.UUID
	err := r.db.NewSelect().
		Model((*Product)(nil)).
		Column("seller_id").
		Where("?TableAlias.id = ?", productID).
		Limit(1).
		Scan(ctx, &sellerID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return uuid.Nil, NewNotFound(map[string]any{"product_id": productID.String()})
		}
		return uuid.Nil, err
	}
	return sellerID, nil
}

func (r *products) ListLatestApproved(ctx context.Context, limit int) ([]*Product, error) {
	if limit <= 0 {
		limit = HomeListingLimit
	}
	var records []*Product
	err := r.db.NewSelect().
		Model(&records).
		Relation("Seller", sellerSummary).
		Where("?TableAlias.status = ?", ProductStatusApproved).
		Order("prd.created_at DESC").
		Limit(limit).
		Scan(ctx)
	return records, err
}

func (r *products) SearchApproved(ctx context.Context, query string) ([]*Product, error) {
	var records []*Product
	q := r.db.NewSelect().
		Model(&records).
		Relation("Seller", sellerSummary).
		Where("?TableAlias.status = ?", ProductStatusApproved)

	if term := strings.ToLower(strings.TrimSpace(query)); term != "" {
		pattern := "%" + escapeLike(term) + "%"
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(?TableAlias.name) LIKE ? ESCAPE '\\'", pattern).
				WhereOr("LOWER(?TableAlias.category) LIKE ? ESCAPE '\\'", pattern).
				WhereOr("LOWER(?TableAlias.description) LIKE ? ESCAPE '\\'", pattern)
		})
	}

	err := q.Order("prd.created_at DESC").Scan(ctx)
	return records, err
}

func (r *products) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]*Product, error) {
	var records []*Product
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.seller_id = ?", sellerID).
		Order("created_at DESC").
		Scan(ctx)
	return records, err
}

// ListByStatus returns products in status, oldest first
func (r *products) ListByStatus(ctx context.Context, status ProductStatus) ([]*Product, error) {
	var records []*Product
	err := r.db.NewSelect().
		Model(&records).
		Relation("Seller", sellerSummary).
		Where("?TableAlias.status = ?", status).
		Order("prd.created_at ASC").
		Scan(ctx)
	return records, err
}

func (r *products) CountByStatus(ctx context.Context) (map[ProductStatus]int, error) {
	var rows []struct {
		Status ProductStatus `bun:"status"`
		Count  int           `bun:"count"`
	}
	err := r.db.NewSelect().
		Model((*Product)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[ProductStatus]int, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *products) UpdateStatus(ctx context.Context, productID uuid.UUID, version int64, status ProductStatus, verifiedBy string) (*Product, error) {
	now := r.now().UTC()
	record := &Product{
		ID:         productID,
		Status:     status,
		VerifiedBy: verifiedBy,
		Version:    version + 1,
		UpdatedAt:  &now,
	}
	if err := r.conditionalUpdate(ctx, record, version, "status", "verified_by", "version", "updated_at"); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, productID)
}

func (r *products) SaveEdit(ctx context.Context, product *Product) (*Product, error) {
	expected := product.Version
	now := r.now().UTC()

	record := *product
	record.Seller = nil
	record.Version = expected + 1
	record.UpdatedAt = &now
	if record.Images == nil {
		record.Images = []MediaAsset{}
	}
	if record.Tags == nil {
		record.Tags = []string{}
	}

	err := r.conditionalUpdate(ctx, &record, expected,
		"name", "description", "price", "original_price", "image_url", "image_handle",
		"images", "category", "tags", "stock", "status", "verified_by", "version", "updated_at",
	)
	if err != nil {
		return nil, err
	}

	product.Version = record.Version
	product.UpdatedAt = record.UpdatedAt
	return product, nil
}

func (r *products) conditionalUpdate(ctx context.Context, record *Product, version int64, columns ...string) error {
	res, err := r.db.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Where("?TableAlias.version = ?", version).
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if _, err := r.ProductOwner(ctx, record.ID); err != nil {
		return err
	}

	return withMetadata(ErrProductVersionConflict, map[string]any{
		"product_id": record.ID.String(),
		"version":    version,
	})
}

func (r *products) IncrementViews(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Product)(nil)).
		Set("views = views + 1").
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (r *products) Remove(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*Product)(nil)).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFound(map[string]any{"product_id": id.String()})
	}
	return nil
}

// sellerSummary selects the public seller columns
func sellerSummary(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Column("id", "username", "email", "whatsapp_number", "avatar_url")
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
