package market

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

// DefaultProductStock is used when a listing is created without stock
const DefaultProductStock = 1

// ProductForm carries the editable fields of a listing
type ProductForm struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Price         int64    `json:"price"`
	OriginalPrice *int64   `json:"original_price"`
	Category      string   `json:"category"`
	Tags          []string `json:"tags"`
	Stock         *int     `json:"stock"`
	VerifiedBy    string   `json:"verified_by"`
}

// Validate runs the listing form rules
func (f ProductForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&f.Description, validation.Required),
		validation.Field(&f.Price, validation.Required, validation.Min(int64(1))),
		validation.Field(&f.OriginalPrice, validation.Min(int64(0))),
		validation.Field(&f.Category, validation.Length(0, 100)),
		validation.Field(&f.Stock, validation.Min(0)),
	)
}

func (f ProductForm) normalized() ProductForm {
	f.Name = strings.TrimSpace(f.Name)
	f.Category = strings.TrimSpace(f.Category)
	f.VerifiedBy = strings.TrimSpace(f.VerifiedBy)
	return f
}

// ParseTags splits a comma separated tag list, nil when raw is blank
func ParseTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

type CreateProductMessage struct {
	Actor      *User
	Form       ProductForm
	MainImage  *Upload
	Gallery    []Upload
	OnResponse func(*Product) `json:"-"`
}

func (e CreateProductMessage) Type() string { return "product.create" }

// CreateProductHandler stores a new listing with its images
type CreateProductHandler struct {
	commandBase
	repo    RepositoryManager
	media   MediaHost
	machine ModerationMachine
}

func NewCreateProductHandler(repo RepositoryManager, media MediaHost, machine ModerationMachine, opts ...CommandOption) *CreateProductHandler {
	return &CreateProductHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		media:       media,
		machine:     machine,
	}
}

func (h *CreateProductHandler) Execute(ctx context.Context, event CreateProductMessage) error {
	if err := guard(ctx, "product creation"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *CreateProductHandler) execute(ctx context.Context, event CreateProductMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}
	if !HasAnyRole(event.Actor.Role, SellerRoles...) {
		return NewForbidden(map[string]any{
			"user_id":        event.Actor.ID.String(),
			"required_roles": SellerRoles,
		})
	}

	form := event.Form.normalized()
	if event.MainImage == nil || len(event.MainImage.Data) == 0 {
		return NewValidationError("Main product image is required.", map[string]any{
			"fields": map[string]string{"product_image": "cannot be blank"},
		})
	}
	if err := form.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	main, err := uploadAll(ctx, h.media, h.logger, MediaFolderProductMain, []Upload{*event.MainImage})
	if err != nil {
		return err
	}
	gallery, err := uploadAll(ctx, h.media, h.logger, MediaFolderProductAdditional, event.Gallery)
	if err != nil {
		discardAssets(ctx, h.media, h.logger, main...)
		return err
	}

	status, verifier := h.machine.InitialStatus(event.Actor, form.VerifiedBy)

	stock := DefaultProductStock
	if form.Stock != nil {
		stock = *form.Stock
	}

	product := &Product{
		SellerID:      event.Actor.ID,
		Name:          form.Name,
		Description:   form.Description,
		Price:         form.Price,
		OriginalPrice: form.OriginalPrice,
		ImageURL:      main[0].URL,
		ImageHandle:   main[0].Handle,
		Images:        gallery,
		Category:      form.Category,
		Tags:          form.Tags,
		Stock:         stock,
		Status:        status,
		VerifiedBy:    verifier,
	}

	product, err = h.repo.Products().Create(ctx, product)
	if err != nil {
		discardAssets(ctx, h.media, h.logger, append(main, gallery...)...)
		return WrapInternal(err, "could not create product")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventProductCreated,
		Actor:     ActorFromUser(event.Actor),
		UserID:    product.SellerID.String(),
		ProductID: product.ID.String(),
		ToStatus:  product.Status,
		Metadata: map[string]any{
			"name":   product.Name,
			"images": len(product.Images) + 1,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(product)
	}

	return nil
}

type UpdateProductMessage struct {
	Actor      *User
	ProductID  uuid.UUID
	Form       ProductForm
	KeepImages []string
	MainImage  *Upload
	Gallery    []Upload
	OnResponse func(*Product, EditResult) `json:"-"`
}

func (e UpdateProductMessage) Type() string { return "product.update" }

// UpdateProductHandler applies an edit through the moderation machine
type UpdateProductHandler struct {
	commandBase
	repo    RepositoryManager
	media   MediaHost
	machine ModerationMachine
}

func NewUpdateProductHandler(repo RepositoryManager, media MediaHost, machine ModerationMachine, opts ...CommandOption) *UpdateProductHandler {
	return &UpdateProductHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		media:       media,
		machine:     machine,
	}
}

func (h *UpdateProductHandler) Execute(ctx context.Context, event UpdateProductMessage) error {
	if err := guard(ctx, "product update"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *UpdateProductHandler) execute(ctx context.Context, event UpdateProductMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	form := event.Form.normalized()
	if err := form.Validate(); err != nil {
		return validationFailed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	product, err := h.repo.Products().GetByID(ctx, event.ProductID)
	if err != nil {
		return asRichError(err, "failed to load product")
	}

	actor := ActorFromUser(event.Actor)
	if !actor.IsAdmin() && !product.IsOwnedBy(event.Actor) {
		return NewForbidden(map[string]any{
			"product_id": product.ID.String(),
			"user_id":    event.Actor.ID.String(),
		})
	}

	kept, dropped := splitGallery(product.Images, event.KeepImages)

	var uploaded []MediaAsset
	var main []MediaAsset
	if event.MainImage != nil && len(event.MainImage.Data) > 0 {
		main, err = uploadAll(ctx, h.media, h.logger, MediaFolderProductMain, []Upload{*event.MainImage})
		if err != nil {
			return err
		}
		uploaded = append(uploaded, main...)
	}
	gallery, err := uploadAll(ctx, h.media, h.logger, MediaFolderProductAdditional, event.Gallery)
	if err != nil {
		discardAssets(ctx, h.media, h.logger, uploaded...)
		return err
	}
	uploaded = append(uploaded, gallery...)

	images := append(kept, gallery...)
	edit := ProductEdit{
		Name:        &form.Name,
		Description: &form.Description,
		Price:       &form.Price,
		Category:    &form.Category,
		Images:      &images,
		Stock:       form.Stock,
	}
	if form.OriginalPrice != nil {
		edit.OriginalPrice = form.OriginalPrice
	} else {
		edit.ClearOriginalPrice = true
	}
	if form.Tags != nil {
		edit.Tags = &form.Tags
	}
	if form.VerifiedBy != "" {
		edit.VerifiedBy = &form.VerifiedBy
	}

	oldHandle := ""
	if len(main) > 0 {
		oldHandle = product.ImageHandle
		edit.ImageURL = &main[0].URL
		edit.ImageHandle = &main[0].Handle
	}

	result, err := h.machine.ApplyEdit(actor, product, edit)
	if err != nil {
		discardAssets(ctx, h.media, h.logger, uploaded...)
		return err
	}

	product, err = h.repo.Products().SaveEdit(ctx, product)
	if err != nil {
		discardAssets(ctx, h.media, h.logger, uploaded...)
		return asRichError(err, "could not update product")
	}

	discardHandle(ctx, h.media, h.logger, oldHandle)
	discardAssets(ctx, h.media, h.logger, dropped...)

	h.machine.EditPersisted(ctx, actor, product, result)

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventProductUpdated,
		Actor:     actor,
		UserID:    product.SellerID.String(),
		ProductID: product.ID.String(),
		Metadata: map[string]any{
			"changed":      result.Changed,
			"status_reset": result.StatusReset,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(product, result)
	}

	return nil
}

// splitGallery keeps the assets whose URL is listed in keep, in gallery order
func splitGallery(gallery []MediaAsset, keep []string) (kept, dropped []MediaAsset) {
	wanted := make(map[string]struct{}, len(keep))
	for _, url := range keep {
		wanted[strings.TrimSpace(url)] = struct{}{}
	}
	kept = make([]MediaAsset, 0, len(gallery))
	for _, asset := range gallery {
		if _, ok := wanted[asset.URL]; ok {
			kept = append(kept, asset)
			continue
		}
		dropped = append(dropped, asset)
	}
	return kept, dropped
}

type DeleteProductMessage struct {
	Actor      *User
	ProductID  uuid.UUID
	OnResponse func(*Product) `json:"-"`
}

func (e DeleteProductMessage) Type() string { return "product.delete" }

// DeleteProductHandler removes a listing and its media
type DeleteProductHandler struct {
	commandBase
	repo  RepositoryManager
	media MediaHost
}

func NewDeleteProductHandler(repo RepositoryManager, media MediaHost, opts ...CommandOption) *DeleteProductHandler {
	return &DeleteProductHandler{
		commandBase: newCommandBase(opts...),
		repo:        repo,
		media:       media,
	}
}

func (h *DeleteProductHandler) Execute(ctx context.Context, event DeleteProductMessage) error {
	if err := guard(ctx, "product deletion"); err != nil {
		return err
	}
	return h.execute(ctx, event)
}

func (h *DeleteProductHandler) execute(ctx context.Context, event DeleteProductMessage) error {
	if err := requireActor(event.Actor); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	product, err := h.repo.Products().GetByID(ctx, event.ProductID)
	if err != nil {
		return asRichError(err, "failed to load product")
	}

	if !event.Actor.IsAdmin() && !product.IsOwnedBy(event.Actor) {
		return NewForbidden(map[string]any{
			"product_id": product.ID.String(),
			"user_id":    event.Actor.ID.String(),
		})
	}

	if err := h.repo.Products().Remove(ctx, product.ID); err != nil {
		return asRichError(err, "could not delete product")
	}

	discardHandle(ctx, h.media, h.logger, product.ImageHandle)
	discardAssets(ctx, h.media, h.logger, product.Images...)

	h.record(ctx, ActivityEvent{
		EventType:  ActivityEventProductDeleted,
		Actor:      ActorFromUser(event.Actor),
		UserID:     product.SellerID.String(),
		ProductID:  product.ID.String(),
		FromStatus: product.Status,
		Metadata: map[string]any{
			"name": product.Name,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(product)
	}

	return nil
}
