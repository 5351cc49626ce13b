package access_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedRecipes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	opts := access.DatabaseOptions{Driver: "sqlite", DSN: ":memory:"}

	seed := func() {
		client, err := access.NewPersistenceClient(db, opts)
		require.NoError(t, err)
		require.NoError(t, access.SeedRecipes(ctx, client))
	}

	seedRecipe(t, access.NewRecipeRepository(db), "Stray Toast", access.RecipeBreakfast, false)

	seed()

	var recipes []access.Recipe
	require.NoError(t, db.NewSelect().Model(&recipes).Order("name ASC").Scan(ctx))
	require.NotEmpty(t, recipes)

	kinds := map[string]int{}
	premium := 0
	for _, r := range recipes {
		assert.NotEqual(t, "Stray Toast", r.Name, "seeding replaces existing rows")
		assert.NoError(t, r.Validate(), r.Name)
		kinds[r.Type]++
		if r.IsPremium {
			premium++
		}
	}
	for _, kind := range access.GetAllRecipeTypes() {
		assert.NotZero(t, kinds[kind], "no %s fixtures", kind)
	}
	assert.NotZero(t, premium)
	assert.Less(t, premium, len(recipes))

	var oats access.Recipe
	require.NoError(t, db.NewSelect().Model(&oats).Where("name = ?", "Overnight Oats").Scan(ctx))
	assert.Equal(t, []string{"vegetarian", "quick"}, oats.Tags)
	assert.Equal(t, "cup", oats.Ingredients["rolled oats"].Unit)

	t.Run("reseeding is idempotent", func(t *testing.T) {
		seed()
		count, err := db.NewSelect().Model((*access.Recipe)(nil)).Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, len(recipes), count)
	})
}

func TestNewPersistenceClientRequiresDB(t *testing.T) {
	_, err := access.NewPersistenceClient(nil, access.DatabaseOptions{})
	require.Error(t, err)
}

func TestDatabaseOptionsPersistenceConfig(t *testing.T) {
	opts := access.DatabaseOptions{Driver: "sqlite", DSN: "postgres://localhost/nouriva", Debug: true}
	assert.Equal(t, "postgres", opts.GetDriver())
	assert.Equal(t, "postgres://localhost/nouriva", opts.GetServer())
	assert.True(t, opts.GetDebug())
	assert.Positive(t, opts.GetPingTimeout())
}
