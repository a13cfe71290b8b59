package handler

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/internal/service"
)

// DefaultSearchK is the result count used when a search request omits k.
const DefaultSearchK = 5

// PropertyHandler exposes property CRUD and similarity search over HTTP.
type PropertyHandler struct {
	svc *service.PropertyService
}

// NewPropertyHandler creates a new property handler.
func NewPropertyHandler(svc *service.PropertyService) *PropertyHandler {
	return &PropertyHandler{svc: svc}
}

// Register sets up property routes.
func (h *PropertyHandler) Register(r fiber.Router) {
	props := r.Group("/properties")
	props.Post("/", h.Create)
	props.Get("/", h.List)
	props.Post("/search", h.Search)
	props.Get("/:id", h.Get)
	props.Put("/:id", h.Update)
	props.Delete("/:id", h.Delete)
	props.Get("/:id/similar", h.Similar)

	r.Post("/admin/reindex", h.Reindex)
}

// propertyRequest is the create/update body. Price is a pointer so a missing
// price is told apart from a free listing.
type propertyRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description"`
	Price        *float64 `json:"price"`
	Location     string   `json:"location"`
	Bedrooms     *int     `json:"bedrooms"`
	Bathrooms    *int     `json:"bathrooms"`
	Area         *float64 `json:"area"`
	PropertyType *string  `json:"property_type"`
}

func (r propertyRequest) attributes() (domain.PropertyAttributes, error) {
	if r.Price == nil {
		return domain.PropertyAttributes{}, port.Validation("price is required")
	}
	return domain.PropertyAttributes{
		Title:        r.Title,
		Description:  r.Description,
		Price:        *r.Price,
		Location:     r.Location,
		Bedrooms:     r.Bedrooms,
		Bathrooms:    r.Bathrooms,
		Area:         r.Area,
		PropertyType: r.PropertyType,
	}, nil
}

type searchRequest struct {
	Query   string                `json:"query"`
	K       *int                  `json:"k"`
	Filters domain.PropertyFilter `json:"filters"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Create stores a new property and its embedding.
func (h *PropertyHandler) Create(c fiber.Ctx) error {
	attrs, err := bindProperty(c)
	if err != nil {
		return writeError(c, err)
	}
	p, err := h.svc.Create(c.Context(), attrs)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// List returns properties matching the query-string filters.
func (h *PropertyHandler) List(c fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return writeError(c, err)
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return writeError(c, err)
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return writeError(c, err)
	}
	props, err := h.svc.List(c.Context(), filter, domain.Page{Limit: limit, Offset: offset})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(props)
}

// Get returns a single property.
func (h *PropertyHandler) Get(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	p, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// Update replaces a property's attributes and recomputes its embedding.
func (h *PropertyHandler) Update(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	attrs, err := bindProperty(c)
	if err != nil {
		return writeError(c, err)
	}
	p, err := h.svc.Update(c.Context(), id, attrs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(p)
}

// Delete removes a property.
func (h *PropertyHandler) Delete(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.svc.Delete(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Search ranks properties by similarity to free text.
func (h *PropertyHandler) Search(c fiber.Ctx) error {
	var req searchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return writeError(c, &port.Error{Kind: port.KindValidation, Reason: "invalid JSON body", Err: err})
	}
	k := DefaultSearchK
	if req.K != nil {
		k = *req.K
	}
	results, err := h.svc.SearchByText(c.Context(), domain.TextSearch{Query: req.Query, K: k, Filters: req.Filters})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(results)
}

// Similar returns the properties closest to the given one.
func (h *PropertyHandler) Similar(c fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return writeError(c, err)
	}
	k, err := queryInt(c, "k", DefaultSearchK)
	if err != nil {
		return writeError(c, err)
	}
	results, err := h.svc.SearchSimilar(c.Context(), id, k)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(results)
}

// Reindex embeds rows that have no vector for the active model.
func (h *PropertyHandler) Reindex(c fiber.Ctx) error {
	batch, err := queryInt(c, "batch_size", service.DefaultReindexBatchSize)
	if err != nil {
		return writeError(c, err)
	}
	n, err := h.svc.Reindex(c.Context(), batch)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"embedded": n})
}

func bindProperty(c fiber.Ctx) (domain.PropertyAttributes, error) {
	var req propertyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return domain.PropertyAttributes{}, &port.Error{Kind: port.KindValidation, Reason: "invalid JSON body", Err: err}
	}
	return req.attributes()
}

func pathID(c fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, port.Validation("id must be an integer")
	}
	return id, nil
}

func queryInt(c fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, port.Validation("%s must be an integer", key)
	}
	return n, nil
}

func queryFloat(c fiber.Ctx, key string) (*float64, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, port.Validation("%s must be a number", key)
	}
	return &f, nil
}

func parseFilter(c fiber.Ctx) (domain.PropertyFilter, error) {
	f := domain.PropertyFilter{
		Location:     c.Query("location"),
		PropertyType: c.Query("property_type"),
	}
	var err error
	if f.MinPrice, err = queryFloat(c, "min_price"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = queryFloat(c, "max_price"); err != nil {
		return f, err
	}
	if c.Query("bedrooms") != "" {
		n, err := queryInt(c, "bedrooms", 0)
		if err != nil {
			return f, err
		}
		f.Bedrooms = &n
	}
	return f, nil
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind port.ErrorKind) int {
	switch kind {
	case port.KindNotFound:
		return fiber.StatusNotFound
	case port.KindPreconditionFailed:
		return fiber.StatusPreconditionFailed
	case port.KindValidation:
		return fiber.StatusUnprocessableEntity
	case port.KindBackendUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c fiber.Ctx, err error) error {
	kind := port.KindOf(err)
	status := statusFor(kind)
	detail := port.ReasonOf(err)

	switch {
	case kind == port.KindBackendUnavailable:
		slog.Warn("backend unavailable", "method", c.Method(), "path", c.Path(), "error", err)
	case status >= fiber.StatusInternalServerError:
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		detail = "internal server error"
	}
	return c.Status(status).JSON(errorResponse{Error: string(kind), Detail: detail})
}
