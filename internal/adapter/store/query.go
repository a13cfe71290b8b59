package store

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/sakenny/internal/domain"
)

const propertiesTable = "properties"

var propertyColumns = []string{
	"id",
	"title",
	"description",
	"price",
	"location",
	"bedrooms",
	"bathrooms",
	"area",
	"property_type",
	"created_at",
	"embedding",
	"embedding_model",
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func returningColumns() string {
	return "RETURNING " + strings.Join(propertyColumns, ", ")
}

// attributeValues maps writable columns to their values. Vector and model are
// written together so a row never carries a vector without its model.
func attributeValues(p *domain.Property) map[string]any {
	return map[string]any{
		"title":           p.Title,
		"description":     p.Description,
		"price":           p.Price,
		"location":        p.Location,
		"bedrooms":        p.Bedrooms,
		"bathrooms":       p.Bathrooms,
		"area":            p.Area,
		"property_type":   p.PropertyType,
		"embedding":       vectorValue(p.Embedding),
		"embedding_model": modelValue(p.Embedding, p.EmbeddingModel),
	}
}

func buildInsert(p *domain.Property) (string, []any, error) {
	return psql.Insert(propertiesTable).
		SetMap(attributeValues(p)).
		Suffix(returningColumns()).
		ToSql()
}

func buildUpdate(p *domain.Property) (string, []any, error) {
	return psql.Update(propertiesTable).
		SetMap(attributeValues(p)).
		Where(sq.Eq{"id": p.ID}).
		Suffix(returningColumns()).
		ToSql()
}

func buildSetEmbedding(id int64, vector []float32, model string) (string, []any, error) {
	return psql.Update(propertiesTable).
		Set("embedding", vectorValue(vector)).
		Set("embedding_model", modelValue(vector, model)).
		Where(sq.Eq{"id": id}).
		Where(sq.Or{
			sq.Expr("embedding IS NULL"),
			sq.Expr("embedding_model IS DISTINCT FROM ?", model),
		}).
		ToSql()
}

func buildDelete(id int64) (string, []any, error) {
	return psql.Delete(propertiesTable).Where(sq.Eq{"id": id}).ToSql()
}

func buildGet(id int64) (string, []any, error) {
	return psql.Select(propertyColumns...).
		From(propertiesTable).
		Where(sq.Eq{"id": id}).
		ToSql()
}

func buildList(filter domain.PropertyFilter, page domain.Page) (string, []any, error) {
	b := applyFilter(psql.Select(propertyColumns...).From(propertiesTable), filter).
		OrderBy("id ASC")
	if page.Limit > 0 {
		b = b.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		b = b.Offset(uint64(page.Offset))
	}
	return b.ToSql()
}

// buildNearest renders a k-NN query ordered by the pgvector cosine distance
// operator. The query vector is bound as a typed parameter.
func buildNearest(q domain.NearestQuery) (string, []any, error) {
	distance := sq.Expr("embedding <=> ?", pgvector.NewVector(q.Vector))
	b := psql.Select(propertyColumns...).
		Column(sq.Alias(distance, "distance")).
		From(propertiesTable).
		Where("embedding IS NOT NULL").
		Where(sq.Eq{"embedding_model": q.Model})
	if q.ExcludeID != 0 {
		b = b.Where(sq.NotEq{"id": q.ExcludeID})
	}
	return applyFilter(b, q.Filter).
		OrderBy("distance ASC", "id ASC").
		Limit(uint64(q.K)).
		ToSql()
}

func buildListUnembedded(model string, afterID int64, limit int) (string, []any, error) {
	b := psql.Select(propertyColumns...).
		From(propertiesTable).
		Where(sq.Gt{"id": afterID}).
		Where(sq.Or{
			sq.Expr("embedding IS NULL"),
			sq.Expr("embedding_model IS DISTINCT FROM ?", model),
		}).
		OrderBy("id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return b.ToSql()
}

// applyFilter adds the structured filter as conjunctive WHERE conditions.
func applyFilter(b sq.SelectBuilder, f domain.PropertyFilter) sq.SelectBuilder {
	if f.Location != "" {
		b = b.Where(sq.ILike{"location": "%" + escapeLike(f.Location) + "%"})
	}
	if f.MinPrice != nil {
		b = b.Where(sq.GtOrEq{"price": *f.MinPrice})
	}
	if f.MaxPrice != nil {
		b = b.Where(sq.LtOrEq{"price": *f.MaxPrice})
	}
	if f.Bedrooms != nil {
		b = b.Where(sq.Eq{"bedrooms": *f.Bedrooms})
	}
	if f.PropertyType != "" {
		b = b.Where(sq.Expr("LOWER(property_type) = LOWER(?)", f.PropertyType))
	}
	return b
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func vectorValue(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

func modelValue(v []float32, model string) any {
	if v == nil {
		return nil
	}
	return model
}
