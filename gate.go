package access

import (
	"context"
	"fmt"
)

// PremiumContent is anything the content gate can lock.
type PremiumContent interface {
	Premium() bool
	Title() string
}

// IsLocked reports whether item must be replaced by a paywall for role.
func IsLocked(item PremiumContent, role Role) bool {
	if item == nil {
		return false
	}
	return item.Premium() && !role.HasPremiumAccess()
}

// CallToAction is a labelled link shown on a paywall
type CallToAction struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// Paywall is the placeholder rendered in place of locked content.
type Paywall struct {
	Heading   string        `json:"heading"`
	Message   string        `json:"message"`
	Primary   CallToAction  `json:"primary"`
	Secondary *CallToAction `json:"secondary,omitempty"`
}

// RecipeView is the payload sent to clients. Locked views never carry
// ingredients, steps, macros, description or image.
type RecipeView struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Type        RecipeType            `json:"type"`
	IsPremium   bool                  `json:"is_premium"`
	Locked      bool                  `json:"locked"`
	Description string                `json:"description,omitempty"`
	Image       string                `json:"image,omitempty"`
	Ingredients map[string]Ingredient `json:"ingredients,omitempty"`
	Steps       []string              `json:"steps,omitempty"`
	Macros      map[string]string     `json:"macros,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Paywall     *Paywall              `json:"paywall,omitempty"`
}

// GateOption customizes the ContentGate
type GateOption func(*ContentGate)

// WithGateActivitySink records every locked view.
func WithGateActivitySink(sink ActivitySink) GateOption {
	return func(g *ContentGate) {
		g.activitySink = normalizeActivitySink(sink)
	}
}

// WithGateLogger overrides the gate logger.
func WithGateLogger(logger Logger) GateOption {
	return func(g *ContentGate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// ContentGate builds client payloads from recipes, applying IsLocked.
type ContentGate struct {
	subscribeRoute string
	signInRoute    string
	activitySink   ActivitySink
	logger         Logger
}

// NewContentGate creates a gate; cfg provides the paywall links.
func NewContentGate(cfg Config, opts ...GateOption) *ContentGate {
	g := &ContentGate{
		subscribeRoute: DefaultSubscribeRoute,
		signInRoute:    DefaultSignInRoute,
		activitySink:   noopActivitySink{},
	}
	_, g.logger = ResolveLogger("access.gate", nil, nil)

	if cfg != nil {
		g.subscribeRoute = cfg.GetSubscribeRoute()
		g.signInRoute = cfg.GetSignInRoute()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Recipe returns the view of recipe visible to role.
func (g *ContentGate) Recipe(recipe *Recipe, role Role) RecipeView {
	if recipe == nil {
		return RecipeView{}
	}

	view := RecipeView{
		ID:        recipe.ID.String(),
		Name:      recipe.Name,
		Type:      recipe.Type,
		IsPremium: recipe.IsPremium,
	}

	if IsLocked(recipe, role) {
		view.Locked = true
		view.Paywall = g.RecipePaywall(recipe.Name)
		return view
	}

	view.Description = recipe.Description
	view.Image = recipe.Image
	view.Ingredients = copyIngredients(recipe.Ingredients)
	view.Steps = append([]string(nil), recipe.Steps...)
	view.Macros = copyStrings(recipe.Macros)
	view.Tags = append([]string(nil), recipe.Tags...)
	return view
}

// Recipes maps Recipe over a list.
func (g *ContentGate) Recipes(recipes []*Recipe, role Role) []RecipeView {
	out := make([]RecipeView, 0, len(recipes))
	for _, r := range recipes {
		if r == nil {
			continue
		}
		out = append(out, g.Recipe(r, role))
	}
	return out
}

// RecordLocked emits a content locked event for audit. Nothing is recorded
// while the state is still loading.
func (g *ContentGate) RecordLocked(ctx context.Context, state AccessState, view RecipeView) {
	if !view.Locked || !state.Settled() {
		return
	}
	recordActivity(ctx, g.activitySink, g.logger, nil, ActivityEvent{
		EventType: ActivityEventContentLocked,
		UserID:    state.UserID(),
		Email:     state.Email(),
		ToRole:    state.Role,
		Metadata:  map[string]any{"recipe_id": view.ID},
	})
}

// RecordLibraryLocked emits a content locked event for a closed library,
// once the state has settled.
func (g *ContentGate) RecordLibraryLocked(ctx context.Context, state AccessState, library RecipeType) {
	if !state.Settled() {
		return
	}
	recordActivity(ctx, g.activitySink, g.logger, nil, ActivityEvent{
		EventType: ActivityEventContentLocked,
		UserID:    state.UserID(),
		Email:     state.Email(),
		ToRole:    state.Role,
		Metadata:  map[string]any{"library": library},
	})
}

// RecipePaywall is the placeholder for a single locked recipe.
func (g *ContentGate) RecipePaywall(title string) *Paywall {
	return &Paywall{
		Heading: fmt.Sprintf("Unlock %q", title),
		Message: "This premium recipe is exclusively for Nouriva Club members. " +
			"Subscribe to get full access to our daily meal plans and snack library.",
		Primary: CallToAction{Label: "Subscribe Now", Href: g.subscribeRoute},
		Secondary: &CallToAction{
			Label: "Already a member? Refresh your session",
			Href:  g.signInRoute,
		},
	}
}

// LibraryLocked reports whether the snack library is closed to role.
func (g *ContentGate) LibraryLocked(role Role) bool {
	return !role.HasPremiumAccess()
}

// LibraryPaywall is the placeholder for the club exclusive snack library.
func (g *ContentGate) LibraryPaywall() *Paywall {
	return &Paywall{
		Heading: "Club Exclusive Snacks",
		Message: "Our curated list of healthy snacks is exclusively available to Nouriva Club members.",
		Primary: CallToAction{Label: "Unlock Snacks", Href: g.subscribeRoute},
	}
}

func copyIngredients(in map[string]Ingredient) map[string]Ingredient {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]Ingredient, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
