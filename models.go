package access

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the extended per-user record keyed by Identity.ID
type Profile struct {
	bun.BaseModel      `bun:"table:profiles,alias:prf"`
	ID                 string             `bun:"id,pk" json:"id"`
	Role               ProfileRole        `bun:"role,notnull,default:'standard'" json:"role"`
	SubscriptionStatus SubscriptionStatus `bun:"subscription_status,notnull,default:'free'" json:"subscription_status"`
	FullName           string             `bun:"full_name" json:"full_name,omitempty"`
	Email              string             `bun:"email" json:"email,omitempty"`
	CreatedAt          *time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time         `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Clone returns a copy of the profile, nil safe.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// EnsureDefaults fills empty role and subscription columns.
func (p *Profile) EnsureDefaults() {
	if p == nil {
		return
	}
	if strings.TrimSpace(p.Role) == "" {
		p.Role = ProfileRoleStandard
	}
	if strings.TrimSpace(p.SubscriptionStatus) == "" {
		p.SubscriptionStatus = SubscriptionFree
	}
}

// RecipeType is the meal slot a recipe belongs to
type RecipeType = string

const (
	RecipeBreakfast RecipeType = "breakfast"
	RecipeLunch     RecipeType = "lunch"
	RecipeDinner    RecipeType = "dinner"
	RecipeSnack     RecipeType = "snack"
)

// GetAllRecipeTypes returns the known recipe types
func GetAllRecipeTypes() []RecipeType {
	return []RecipeType{RecipeBreakfast, RecipeLunch, RecipeDinner, RecipeSnack}
}

// Ingredient is a single quantity entry in a recipe
type Ingredient struct {
	Quantity string `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
}

// Recipe is a recipe record. Only the fields the content gate needs to hide
// or show are modeled.
type Recipe struct {
	bun.BaseModel `bun:"table:recipes,alias:rcp"`
	ID            uuid.UUID             `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string                `bun:"name,notnull" json:"name"`
	Description   string                `bun:"description" json:"description,omitempty"`
	Type          RecipeType            `bun:"type,notnull" json:"type"`
	Image         string                `bun:"image" json:"image,omitempty"`
	Ingredients   map[string]Ingredient `bun:"ingredients" json:"ingredients,omitempty"`
	Steps         []string              `bun:"steps" json:"steps,omitempty"`
	Macros        map[string]string     `bun:"macros" json:"macros,omitempty"`
	Tags          []string              `bun:"tags" json:"tags,omitempty"`
	IsPremium     bool                  `bun:"is_premium,notnull,default:false" json:"is_premium"`
	CreatedAt     *time.Time            `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time            `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Premium implements PremiumContent
func (r *Recipe) Premium() bool {
	return r != nil && r.IsPremium
}

// Title implements PremiumContent
func (r *Recipe) Title() string {
	if r == nil {
		return ""
	}
	return r.Name
}

// Clone returns a deep copy of the recipe, nil safe.
func (r *Recipe) Clone() *Recipe {
	if r == nil {
		return nil
	}
	c := *r
	c.Ingredients = copyIngredients(r.Ingredients)
	c.Steps = append([]string(nil), r.Steps...)
	c.Macros = copyStrings(r.Macros)
	c.Tags = append([]string(nil), r.Tags...)
	return &c
}

// HasTag reports whether the recipe carries tag, ignoring case.
func (r *Recipe) HasTag(tag string) bool {
	if r == nil {
		return false
	}
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Validate will validate the recipe
func (r *Recipe) Validate() error {
	if r == nil {
		return sentinelWithCause(ErrInvalidRecipe, nil, map[string]any{"reason": "recipe is nil"})
	}

	types := make([]any, 0, 4)
	for _, t := range GetAllRecipeTypes() {
		types = append(types, t)
	}

	err := validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Type, validation.Required, validation.In(types...)),
		validation.Field(&r.Image, is.URL),
	)
	if err == nil {
		for name := range r.Ingredients {
			if strings.TrimSpace(name) == "" {
				err = errors.New("ingredients: names must not be blank")
				break
			}
		}
	}

	if err != nil {
		return sentinelWithCause(ErrInvalidRecipe, err, map[string]any{"name": r.Name})
	}
	return nil
}

// Validate will validate the profile
func (p *Profile) Validate() error {
	if p == nil {
		return goerrors.New("profile is nil", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	err := validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required),
		validation.Field(&p.Role, validation.Required, validation.In(ProfileRoleStandard, ProfileRoleAdmin)),
		validation.Field(&p.SubscriptionStatus, validation.Required,
			validation.In(SubscriptionFree, SubscriptionPremium, SubscriptionActive)),
		validation.Field(&p.Email, is.Email),
	)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid profile").
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("INVALID_PROFILE")
	}
	return nil
}
