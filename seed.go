package access

import (
	"context"
	"embed"
	"io/fs"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

//go:embed data/fixtures/*.yml
var fixturesFS embed.FS

var registerModels sync.Once

// FixtureFiles returns the embedded recipe fixtures.
func FixtureFiles() fs.FS {
	return fixturesFS
}

// NewPersistenceClient wraps db in a persistence client with the recipe and
// profile models registered.
func NewPersistenceClient(db *bun.DB, opts DatabaseOptions) (*persistence.Client, error) {
	if db == nil {
		return nil, goerrors.New("database is required", goerrors.CategoryInternal).
			WithTextCode("DATABASE_REQUIRED")
	}

	registerModels.Do(func() {
		persistence.RegisterModel((*Profile)(nil))
		persistence.RegisterModel((*Recipe)(nil))
	})

	client, err := persistence.New(opts, db.DB, db.Dialect())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to create persistence client").
			WithMetadata(map[string]any{"driver": opts.GetDriver()})
	}
	return client, nil
}

// SeedRecipes replaces the recipes table with the embedded fixtures.
func SeedRecipes(ctx context.Context, client *persistence.Client) error {
	client.RegisterFixtures(fixturesFS).AddOptions(persistence.WithTrucateTables())

	if err := client.Seed(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to load recipe fixtures")
	}
	return nil
}
