package access

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes the profile and recipe repositories and runs
// work that spans both in one transaction.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Profiles() ProfileRepository
	Recipes() RecipeStore
}

type mngr struct {
	db       *bun.DB
	profiles ProfileRepository
	recipes  RecipeStore
}

// NewRepositoryManager builds the repositories over db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:       db,
		profiles: NewProfileRepository(db),
		recipes:  NewRecipeRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.recipes == nil {
		return errors.New("repository recipes should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Profiles() ProfileRepository {
	return m.profiles
}

func (m mngr) Recipes() RecipeStore {
	return m.recipes
}
