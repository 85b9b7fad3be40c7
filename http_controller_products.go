package market

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Product form fields
const (
	fieldMainImage  = "product_image"
	fieldGallery    = "additional_images"
	fieldKeepImages = "keep_images"
)

type ProductControllerViews struct {
	Home  string
	Index string
	Show  string
	New   string
	Edit  string
}

// ProductController serves the public catalogue and the listing forms
type ProductController struct {
	Logger   Logger
	Repo     RepositoryManager
	Renderer *Views
	Errors   *ErrorHandler
	Views    *ProductControllerViews
	MaxBytes int64

	create *CreateProductHandler
	update *UpdateProductHandler
	remove *DeleteProductHandler
}

func NewProductController(repo RepositoryManager, media MediaHost, machine ModerationMachine, renderer *Views, errs *ErrorHandler, opts ...CommandOption) *ProductController {
	return &ProductController{
		Logger:   defLogger{},
		Repo:     repo,
		Renderer: renderer,
		Errors:   errs,
		MaxBytes: MaxUploadBytes,
		Views: &ProductControllerViews{
			Home:  "index",
			Index: "products/index",
			Show:  "products/show",
			New:   "products/new",
			Edit:  "products/edit",
		},
		create: NewCreateProductHandler(repo, media, machine, opts...),
		update: NewUpdateProductHandler(repo, media, machine, opts...),
		remove: NewDeleteProductHandler(repo, media, opts...),
	}
}

func (c *ProductController) Home(ctx router.Context) error {
	records, err := c.Repo.Products().ListLatestApproved(ctx.Context(), HomeListingLimit)
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to list latest products"))
	}
	return c.Renderer.Render(ctx, c.Views.Home, router.ViewContext{
		"title":    "Home",
		"products": records,
	})
}

func (c *ProductController) Index(ctx router.Context) error {
	records, err := c.Repo.Products().SearchApproved(ctx.Context(), "")
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to list products"))
	}
	return c.Renderer.Render(ctx, c.Views.Index, router.ViewContext{
		"title":    "All Products",
		"products": records,
	})
}

func (c *ProductController) Search(ctx router.Context) error {
	query := strings.TrimSpace(ctx.Query("q", ""))
	if query == "" {
		return c.Renderer.Redirect(ctx, InfoFlash("Please enter a search term."), "/products")
	}

	records, err := c.Repo.Products().SearchApproved(ctx.Context(), query)
	if err != nil {
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to search products"))
	}

	data := router.ViewContext{
		"title":        fmt.Sprintf("Search Results for %q", query),
		"products":     records,
		"search_query": query,
	}
	if len(records) == 0 {
		return c.Renderer.RenderWithFlash(ctx, http.StatusOK, InfoFlash(fmt.Sprintf("No products found matching %q.", query)), c.Views.Index, data)
	}
	return c.Renderer.Render(ctx, c.Views.Index, data)
}

// Show renders a listing. Listings that are not approved are reported as not
// found unless the viewer owns them or is an admin.
func (c *ProductController) Show(ctx router.Context) error {
	id, err := uuid.Parse(idParam(ctx, "id"))
	if err != nil {
		return c.Errors.Handle(ctx, NewNotFound(map[string]any{"product_id": idParam(ctx, "id")}))
	}

	product, err := c.Repo.Products().GetWithSeller(ctx.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			return c.Errors.Handle(ctx, NewNotFound(map[string]any{"product_id": id.String()}))
		}
		return c.Errors.Handle(ctx, WrapInternal(err, "failed to load product"))
	}

	viewer, _ := GetTemplateUser(ctx)
	if !product.VisibleTo(viewer) {
		return c.Errors.Handle(ctx, NewNotFound(map[string]any{"product_id": id.String()}))
	}

	if err := c.Repo.Products().IncrementViews(ctx.Context(), id); err != nil {
		c.Logger.Warn("failed to count view for product %s: %v", id, err)
	} else {
		product.Views++
	}

	return c.Renderer.Render(ctx, c.Views.Show, router.ViewContext{
		"title":   product.Name,
		"product": product,
	})
}

func (c *ProductController) New(ctx router.Context) error {
	return c.Renderer.Render(ctx, c.Views.New, router.ViewContext{
		"title":  "Add New Product",
		"record": ProductForm{},
	})
}

func (c *ProductController) Create(ctx router.Context) error {
	actor, _ := GetTemplateUser(ctx)

	form, err := ParseForm(ctx, c.MaxBytes)
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), "/products/new")
	}

	payload, err := productFormFrom(form, actor.IsAdmin())
	if err != nil {
		return c.renderForm(ctx, c.Views.New, "Add New Product", payload, nil, err)
	}

	var created *Product
	err = c.create.Execute(ctx.Context(), CreateProductMessage{
		Actor:      actor,
		Form:       payload,
		MainImage:  form.File(fieldMainImage),
		Gallery:    form.Files[fieldGallery],
		OnResponse: func(p *Product) { created = p },
	})
	if err != nil {
		if KindOf(err) == KindValidation {
			return c.renderForm(ctx, c.Views.New, "Add New Product", payload, nil, err)
		}
		return c.Errors.Handle(ctx, err)
	}

	notice := "Product submitted! It will be reviewed by an admin."
	if created.Status == ProductStatusApproved {
		notice = fmt.Sprintf("Product %q created and approved.", created.Name)
	}
	return c.Renderer.Redirect(ctx, SuccessFlash(notice), "/user/my-products")
}

func (c *ProductController) Edit(ctx router.Context) error {
	product, err := c.load(ctx)
	if err != nil {
		return c.Errors.Handle(ctx, err)
	}
	return c.Renderer.Render(ctx, c.Views.Edit, router.ViewContext{
		"title":   "Edit " + product.Name,
		"product": product,
		"record":  formFromProduct(product),
	})
}

func (c *ProductController) Update(ctx router.Context) error {
	actor, _ := GetTemplateUser(ctx)

	product, err := c.load(ctx)
	if err != nil {
		return c.Errors.Handle(ctx, err)
	}
	editPath := fmt.Sprintf("/products/%s/edit", product.ID)

	form, err := ParseForm(ctx, c.MaxBytes)
	if err != nil {
		return c.Renderer.Redirect(ctx, ErrorFlash(PublicMessage(err)), editPath)
	}

	payload, err := productFormFrom(form, actor.IsAdmin())
	if err != nil {
		return c.renderForm(ctx, c.Views.Edit, "Edit "+product.Name, payload, product, err)
	}

	var result EditResult
	err = c.update.Execute(ctx.Context(), UpdateProductMessage{
		Actor:      actor,
		ProductID:  product.ID,
		Form:       payload,
		KeepImages: form.Values[fieldKeepImages],
		MainImage:  form.File(fieldMainImage),
		Gallery:    form.Files[fieldGallery],
		OnResponse: func(_ *Product, r EditResult) { result = r },
	})
	if err != nil {
		switch KindOf(err) {
		case KindValidation:
			return c.renderForm(ctx, c.Views.Edit, "Edit "+product.Name, payload, product, err)
		default:
			return c.Errors.Handle(ctx, err)
		}
	}

	notice := "Product updated successfully!"
	if result.StatusReset {
		notice = "Product updated successfully. It may require re-approval."
	}
	return c.Renderer.Redirect(ctx, SuccessFlash(notice), "/products/"+product.ID.String())
}

// Delete removes a listing. Script requests get a JSON reply.
func (c *ProductController) Delete(ctx router.Context) error {
	actor, _ := GetTemplateUser(ctx)

	id, err := uuid.Parse(idParam(ctx, "id"))
	if err != nil {
		return c.Errors.Handle(ctx, NewNotFound(map[string]any{"product_id": idParam(ctx, "id")}))
	}

	var removed *Product
	err = c.remove.Execute(ctx.Context(), DeleteProductMessage{
		Actor:      actor,
		ProductID:  id,
		OnResponse: func(p *Product) { removed = p },
	})
	if err != nil {
		return c.Errors.Handle(ctx, err)
	}

	const notice = "Product deleted successfully."
	if IsAJAX(ctx) {
		return ctx.JSON(http.StatusOK, map[string]any{
			"success": true,
			"message": notice,
		})
	}

	target := "/user/my-products"
	if actor.IsAdmin() && !removed.IsOwnedBy(actor) {
		target = "/admin/products-approval"
	}
	return c.Renderer.Redirect(ctx, SuccessFlash(notice), target)
}

func (c *ProductController) load(ctx router.Context) (*Product, error) {
	raw := idParam(ctx, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, NewNotFound(map[string]any{"product_id": raw})
	}
	product, err := c.Repo.Products().GetByID(ctx.Context(), id)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFound(map[string]any{"product_id": raw})
		}
		return nil, WrapInternal(err, "failed to load product")
	}
	return product, nil
}

func (c *ProductController) renderForm(ctx router.Context, view, title string, payload ProductForm, product *Product, err error) error {
	return c.Renderer.RenderWithFlash(ctx, http.StatusBadRequest, ErrorFlash(PublicMessage(err)), view, router.ViewContext{
		"title":   title,
		"product": product,
		"record":  payload,
		"errors":  ValidationFields(err),
	})
}

// productFormFrom reads the listing fields from a parsed form. The verifier
// is only honored for admins.
func productFormFrom(form *Form, admin bool) (ProductForm, error) {
	payload := ProductForm{
		Name:        form.Value("name"),
		Description: form.Value("description"),
		Category:    form.Value("category"),
		Tags:        ParseTags(form.Values.Get("tags")),
	}
	if admin {
		payload.VerifiedBy = form.Value("verified_by")
	}

	fields := map[string]string{}

	price, err := ParseAmount(form.Value("price"))
	if err != nil {
		fields["price"] = "must be a whole number"
	}
	payload.Price = price

	if raw := form.Value("original_price"); raw != "" {
		original, err := ParseAmount(raw)
		if err != nil {
			fields["original_price"] = "must be a whole number"
		} else {
			payload.OriginalPrice = &original
		}
	}

	if raw := form.Value("stock"); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			fields["stock"] = "must be a whole number"
		} else {
			payload.Stock = &stock
		}
	}

	if len(fields) > 0 {
		return payload, NewValidationError("Please enter valid numbers for price and stock.", map[string]any{
			"fields": fields,
		})
	}
	return payload, nil
}

// ParseAmount reads a whole currency amount. Digits may be grouped in
// thousands with one of '.', ',' or ' ', as in "1.500.000". Fractional
// amounts are rejected.
func ParseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}

	sep := strings.IndexAny(raw, "., ")
	if sep < 0 {
		return strconv.ParseInt(raw, 10, 64)
	}

	groups := strings.Split(raw, string(raw[sep]))
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	for _, group := range groups[1:] {
		if len(group) != 3 {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
	}

	joined := strings.Join(groups, "")
	for _, r := range joined {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid amount %q", raw)
		}
	}
	return strconv.ParseInt(joined, 10, 64)
}

func formFromProduct(p *Product) ProductForm {
	stock := p.Stock
	return ProductForm{
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Category:      p.Category,
		Tags:          p.Tags,
		Stock:         &stock,
		VerifiedBy:    p.VerifiedBy,
	}
}
