package access

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRecipeCacheSize is used when the catalog is built with size <= 0.
const DefaultRecipeCacheSize = 256

// DayPlan is one day of the meal plan.
type DayPlan struct {
	Day       int        `json:"day"`
	Breakfast RecipeView `json:"breakfast"`
	Lunch     RecipeView `json:"lunch"`
	Dinner    RecipeView `json:"dinner"`
}

// SnackLibrary is the snack listing. When Locked is set Snacks is empty and
// Paywall is populated.
type SnackLibrary struct {
	Locked  bool         `json:"locked"`
	Snacks  []RecipeView `json:"snacks,omitempty"`
	Paywall *Paywall     `json:"paywall,omitempty"`
}

// CatalogOption customizes the RecipeCatalog
type CatalogOption func(*RecipeCatalog)

// WithCatalogLogger overrides the catalog logger.
func WithCatalogLogger(logger Logger) CatalogOption {
	return func(c *RecipeCatalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// RecipeCatalog serves gated recipe views, reading through an LRU cache.
type RecipeCatalog struct {
	store  RecipeStore
	gate   *ContentGate
	cache  *lru.Cache[uuid.UUID, *Recipe]
	logger Logger
}

// NewRecipeCatalog creates a catalog over store.
func NewRecipeCatalog(store RecipeStore, gate *ContentGate, size int, opts ...CatalogOption) (*RecipeCatalog, error) {
	if size <= 0 {
		size = DefaultRecipeCacheSize
	}

	cache, err := lru.New[uuid.UUID, *Recipe](size)
	if err != nil {
		return nil, sentinelWithCause(ErrInvalidConfig, err, map[string]any{"recipe_cache_size": size})
	}

	if gate == nil {
		gate = NewContentGate(nil)
	}

	c := &RecipeCatalog{
		store: store,
		gate:  gate,
		cache: cache,
	}
	_, c.logger = ResolveLogger("access.catalog", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Recipe returns the raw record. Callers get a copy.
func (c *RecipeCatalog) Recipe(ctx context.Context, id uuid.UUID) (*Recipe, error) {
	if cached, ok := c.cache.Get(id); ok {
		return cached.Clone(), nil
	}

	record, err := c.store.GetRecipe(ctx, id)
	if err != nil {
		return nil, err
	}

	c.cache.Add(id, record.Clone())
	return record, nil
}

// Get returns the view of recipe id for role.
func (c *RecipeCatalog) Get(ctx context.Context, id uuid.UUID, role Role) (RecipeView, error) {
	record, err := c.Recipe(ctx, id)
	if err != nil {
		return RecipeView{}, err
	}
	return c.gate.Recipe(record, role), nil
}

// List returns gated views for filter. Results warm the cache.
func (c *RecipeCatalog) List(ctx context.Context, filter RecipeFilter, role Role) ([]RecipeView, error) {
	records, err := c.store.ListRecipes(ctx, filter)
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		if r != nil {
			c.cache.Add(r.ID, r.Clone())
		}
	}
	return c.gate.Recipes(records, role), nil
}

// MealPlan pairs the n-th breakfast, lunch and dinner into day n. Days stop
// at the shortest of the three lists.
func (c *RecipeCatalog) MealPlan(ctx context.Context, role Role) ([]DayPlan, error) {
	slots := make(map[RecipeType][]*Recipe, 3)
	for _, t := range []RecipeType{RecipeBreakfast, RecipeLunch, RecipeDinner} {
		records, err := c.store.ListRecipes(ctx, RecipeFilter{Type: t})
		if err != nil {
			return nil, err
		}
		slots[t] = records
	}

	days := min(len(slots[RecipeBreakfast]), len(slots[RecipeLunch]), len(slots[RecipeDinner]))
	plan := make([]DayPlan, 0, days)
	for i := 0; i < days; i++ {
		plan = append(plan, DayPlan{
			Day:       i + 1,
			Breakfast: c.gate.Recipe(slots[RecipeBreakfast][i], role),
			Lunch:     c.gate.Recipe(slots[RecipeLunch][i], role),
			Dinner:    c.gate.Recipe(slots[RecipeDinner][i], role),
		})
	}
	return plan, nil
}

// Snacks returns the snack library, closed to non premium roles.
func (c *RecipeCatalog) Snacks(ctx context.Context, role Role) (SnackLibrary, error) {
	if c.gate.LibraryLocked(role) {
		return SnackLibrary{Locked: true, Paywall: c.gate.LibraryPaywall()}, nil
	}

	views, err := c.List(ctx, RecipeFilter{Type: RecipeSnack}, role)
	if err != nil {
		return SnackLibrary{}, err
	}
	return SnackLibrary{Snacks: views}, nil
}

// Save persists recipe and drops the cached copy.
func (c *RecipeCatalog) Save(ctx context.Context, recipe *Recipe) (*Recipe, error) {
	saved, err := c.store.SaveRecipe(ctx, recipe)
	if err != nil {
		return nil, err
	}
	c.cache.Remove(saved.ID)
	c.logger.Info("recipe saved", "id", saved.ID.String(), "premium", saved.IsPremium)
	return saved, nil
}

// Delete removes recipe id and drops the cached copy.
func (c *RecipeCatalog) Delete(ctx context.Context, id uuid.UUID) error {
	c.cache.Remove(id)
	if err := c.store.DeleteRecipe(ctx, id); err != nil {
		return err
	}
	c.logger.Info("recipe deleted", "id", id.String())
	return nil
}

// Purge empties the cache.
func (c *RecipeCatalog) Purge() {
	c.cache.Purge()
}

// Cached reports how many recipes are held in memory.
func (c *RecipeCatalog) Cached() int {
	return c.cache.Len()
}
