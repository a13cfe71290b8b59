package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
	"github.com/arturoeanton/sakenny/internal/telemetry"
)

// DefaultReindexBatchSize is used when Reindex is called with a non-positive batch size.
const DefaultReindexBatchSize = 100

// PropertyService keeps listings and their embeddings in step and serves
// similarity searches over them.
type PropertyService struct {
	store    port.PropertyStore
	embedder port.Embedder
	tracker  telemetry.Tracker
	validate *validator.Validate
}

// NewPropertyService creates a property service. A nil tracker disables tracking.
func NewPropertyService(store port.PropertyStore, embedder port.Embedder, tracker telemetry.Tracker) *PropertyService {
	if tracker == nil {
		tracker = telemetry.Nop{}
	}
	return &PropertyService{
		store:    store,
		embedder: embedder,
		tracker:  tracker,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("register notblank validator: %v", err))
	}
	return v
}

// Create validates attrs, embeds the composed text and stores both in one write.
func (s *PropertyService) Create(ctx context.Context, attrs domain.PropertyAttributes) (*domain.Property, error) {
	if err := s.check(attrs); err != nil {
		return nil, err
	}
	vector, err := s.embedAttributes(ctx, attrs)
	if err != nil {
		return nil, err
	}

	created, err := s.store.Create(ctx, &domain.Property{
		PropertyAttributes: attrs,
		Embedding:          vector,
		EmbeddingModel:     s.embedder.ModelName(),
	})
	if err != nil {
		return nil, fmt.Errorf("create property: %w", err)
	}
	slog.Info("property created", "id", created.ID, "model", created.EmbeddingModel)
	return created, nil
}

// Update replaces the attributes of an existing property and recomputes its
// embedding. On any failure the stored row is left untouched.
func (s *PropertyService) Update(ctx context.Context, id int64, attrs domain.PropertyAttributes) (*domain.Property, error) {
	if err := s.check(attrs); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	vector, err := s.embedAttributes(ctx, attrs)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, &domain.Property{
		ID:                 id,
		PropertyAttributes: attrs,
		Embedding:          vector,
		EmbeddingModel:     s.embedder.ModelName(),
	})
	if err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	slog.Info("property updated", "id", id)
	return updated, nil
}

// Delete removes a property together with its vector.
func (s *PropertyService) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	slog.Info("property deleted", "id", id)
	return nil
}

// Get returns a property by ID.
func (s *PropertyService) Get(ctx context.Context, id int64) (*domain.Property, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// List returns properties matching filter, ordered by ID.
func (s *PropertyService) List(ctx context.Context, filter domain.PropertyFilter, page domain.Page) ([]domain.Property, error) {
	if err := s.checkFilter(filter); err != nil {
		return nil, err
	}
	if page.Limit < 0 || page.Offset < 0 {
		return nil, port.Validation("limit and offset must be non-negative")
	}
	props, err := s.store.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	return props, nil
}

// SearchByText ranks properties by similarity to free text, after applying filters.
func (s *PropertyService) SearchByText(ctx context.Context, req domain.TextSearch) ([]domain.SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, port.Validation("query must not be empty")
	}
	if err := s.checkFilter(req.Filters); err != nil {
		return nil, err
	}
	if req.K <= 0 {
		return []domain.SearchResult{}, nil
	}

	start := time.Now()
	vector, err := s.embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	neighbors, err := s.store.Nearest(ctx, domain.NearestQuery{
		Vector: vector,
		K:      req.K,
		Filter: req.Filters,
		Model:  s.embedder.ModelName(),
	})
	if err != nil {
		return nil, fmt.Errorf("search by text: %w", err)
	}

	results := toResults(neighbors)
	s.trackSearch(telemetry.SearchText, req.Query, req.K, results, start)
	return results, nil
}

// SearchSimilar returns the k properties closest to the given one, excluding itself.
func (s *PropertyService) SearchSimilar(ctx context.Context, id int64, k int) ([]domain.SearchResult, error) {
	start := time.Now()
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	model := s.embedder.ModelName()
	if !p.Searchable(model) {
		return nil, port.PreconditionFailed("property %d has no embedding for model %s", id, model)
	}
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	neighbors, err := s.store.Nearest(ctx, domain.NearestQuery{
		Vector:    p.Embedding,
		K:         k,
		ExcludeID: id,
		Model:     model,
	})
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}

	results := toResults(neighbors)
	s.trackSearch(telemetry.SearchSimilar, fmt.Sprintf("property:%d", id), k, results, start)
	return results, nil
}

// Reindex embeds every property whose vector is missing or was produced by a
// different model. Rows that fail to embed are logged and skipped. It returns
// the number of rows embedded.
func (s *PropertyService) Reindex(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultReindexBatchSize
	}
	model := s.embedder.ModelName()
	slog.Info("reindex started", "model", model, "batch_size", batchSize)

	var (
		embedded, failed, current int
		cursor                    int64
	)
	for {
		batch, err := s.store.ListUnembedded(ctx, model, cursor, batchSize)
		if err != nil {
			return embedded, fmt.Errorf("reindex: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return embedded, err
			}
			cursor = p.ID
			vector, err := s.embedAttributes(ctx, p.PropertyAttributes)
			written := false
			if err == nil {
				written, err = s.store.SetEmbedding(ctx, p.ID, vector, model)
			}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return embedded, err
				}
				failed++
				slog.Warn("reindex skipped property", "id", p.ID, "error", err)
				continue
			}
			if !written {
				current++
				continue
			}
			embedded++
		}
		slog.Debug("reindex batch done", "cursor", cursor, "embedded", embedded, "failed", failed)
	}

	slog.Info("reindex finished", "model", model, "embedded", embedded, "failed", failed, "already_current", current)
	return embedded, nil
}

func (s *PropertyService) embedAttributes(ctx context.Context, attrs domain.PropertyAttributes) ([]float32, error) {
	text := ComposeText(attrs)
	if strings.TrimSpace(text) == "" {
		return nil, port.Validation("property has no text to embed")
	}
	vector, err := s.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed property: %w", err)
	}
	return vector, nil
}

func (s *PropertyService) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) != s.embedder.Dimension() {
		return nil, port.Configuration("embedder returned %d dimensions, expected %d", len(vector), s.embedder.Dimension())
	}
	s.tracker.EmbeddingGenerated(telemetry.EmbeddingEvent{
		Model:      s.embedder.ModelName(),
		Dimension:  len(vector),
		TextLength: len(text),
		Duration:   time.Since(start),
	})
	return vector, nil
}

func (s *PropertyService) trackSearch(kind, query string, k int, results []domain.SearchResult, start time.Time) {
	e := telemetry.SearchEvent{
		Kind:     kind,
		Query:    query,
		K:        k,
		Results:  len(results),
		Duration: time.Since(start),
	}
	if len(results) > 0 {
		e.TopScore = results[0].SimilarityScore
	}
	s.tracker.SearchPerformed(e)
}

// check validates attributes before any embedding or store work.
func (s *PropertyService) check(attrs domain.PropertyAttributes) error {
	return s.validationError(s.validate.Struct(attrs))
}

func (s *PropertyService) checkFilter(f domain.PropertyFilter) error {
	if err := s.validationError(s.validate.Struct(f)); err != nil {
		return err
	}
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return port.Validation("min_price must not exceed max_price")
	}
	return nil
}

// validationError turns validator output into a port validation error naming
// the offending JSON fields.
func (s *PropertyService) validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &port.Error{Kind: port.KindValidation, Reason: "invalid input", Err: err}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return port.Validation("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fe.Field() + " is required"
	case "gte":
		return fe.Field() + " must be >= " + fe.Param()
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}

func toResults(neighbors []domain.Neighbor) []domain.SearchResult {
	results := make([]domain.SearchResult, len(neighbors))
	for i, n := range neighbors {
		results[i] = domain.SearchResult{
			Property:        n.Property,
			SimilarityScore: domain.SimilarityScore(n.Distance),
		}
	}
	return results
}
