package access

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecipeFilter narrows ListRecipes. Zero values match everything.
type RecipeFilter struct {
	Type        RecipeType
	PremiumOnly *bool
	Tag         string
	Limit       int
	Offset      int
}

// RecipeStore persists recipe records.
type RecipeStore interface {
	GetRecipe(ctx context.Context, id uuid.UUID) (*Recipe, error)
	ListRecipes(ctx context.Context, filter RecipeFilter) ([]*Recipe, error)
	SaveRecipe(ctx context.Context, recipe *Recipe) (*Recipe, error)
	SaveRecipeTx(ctx context.Context, tx bun.IDB, recipe *Recipe) (*Recipe, error)
	DeleteRecipe(ctx context.Context, id uuid.UUID) error
}

type recipes struct {
	repository.Repository[*Recipe]
	db  bun.IDB
	now func() time.Time
}

var _ RecipeStore = (*recipes)(nil)

// NewRecipeRepository returns a RecipeStore over db.
func NewRecipeRepository(db *bun.DB) RecipeStore {
	repo := repository.NewRepository[*Recipe](db, repository.ModelHandlers[*Recipe]{
		NewRecord: func() *Recipe { return &Recipe{} },
		GetID: func(r *Recipe) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *Recipe, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &recipes{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

// GetRecipe returns ErrRecipeNotFound when id has no record.
func (r *recipes) GetRecipe(ctx context.Context, id uuid.UUID) (*Recipe, error) {
	if id == uuid.Nil {
		return nil, sentinelWithCause(ErrRecipeNotFound, nil, map[string]any{"id": id.String()})
	}

	record, err := r.Repository.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, sentinelWithCause(ErrRecipeNotFound, nil, map[string]any{"id": id.String()})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to load recipe").
			WithMetadata(map[string]any{"id": id.String()})
	}
	return record, nil
}

// ListRecipes returns recipes ordered by type then name.
func (r *recipes) ListRecipes(ctx context.Context, filter RecipeFilter) ([]*Recipe, error) {
	var records []*Recipe
	q := r.db.NewSelect().
		Model(&records).
		OrderExpr("?TableAlias.type ASC, ?TableAlias.name ASC")

	if t := strings.TrimSpace(filter.Type); t != "" {
		q = q.Where("?TableAlias.type = ?", strings.ToLower(t))
	}
	if filter.PremiumOnly != nil {
		q = q.Where("?TableAlias.is_premium = ?", *filter.PremiumOnly)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to list recipes")
	}

	// tags are stored as a JSON column, match them after the scan
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		out := records[:0]
		for _, rec := range records {
			if rec.HasTag(tag) {
				out = append(out, rec)
			}
		}
		records = out
	}

	return records, nil
}

func (r *recipes) SaveRecipe(ctx context.Context, recipe *Recipe) (*Recipe, error) {
	return r.SaveRecipeTx(ctx, r.db, recipe)
}

// SaveRecipeTx creates the recipe when it has no id or no record yet,
// otherwise updates it in place.
func (r *recipes) SaveRecipeTx(ctx context.Context, tx bun.IDB, recipe *Recipe) (*Recipe, error) {
	record := recipe.Clone()
	if record != nil {
		record.Type = strings.ToLower(strings.TrimSpace(record.Type))
		record.Name = strings.TrimSpace(record.Name)
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	record.UpdatedAt = &now

	exists := false
	if record.ID != uuid.Nil {
		count, err := tx.NewSelect().
			Model((*Recipe)(nil)).
			Where("?TableAlias.id = ?", record.ID).
			Count(ctx)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to save recipe")
		}
		exists = count > 0
	}

	if !exists {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.CreatedAt == nil {
			record.CreatedAt = &now
		}
		saved, err := r.Repository.CreateTx(ctx, tx, record)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to create recipe").
				WithMetadata(map[string]any{"name": record.Name})
		}
		return saved, nil
	}

	saved, err := r.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(record.ID.String()))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to update recipe").
			WithMetadata(map[string]any{"id": record.ID.String()})
	}
	return saved, nil
}

func (r *recipes) DeleteRecipe(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*Recipe)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to delete recipe").
			WithMetadata(map[string]any{"id": id.String()})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinelWithCause(ErrRecipeNotFound, nil, map[string]any{"id": id.String()})
	}
	return nil
}
