package access

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// AppRoutes are the paths served by the AppController.
type AppRoutes struct {
	Home           string
	Snacks         string
	Meal           string
	Snack          string
	Subscribe      string
	AdminDashboard string
	AdminRecipes   string
	DevLogin       string
}

// DefaultAppRoutes returns the application route table.
func DefaultAppRoutes() AppRoutes {
	return AppRoutes{
		Home:           DefaultHomeRoute,
		Snacks:         "/app/snack",
		Meal:           "/app/meal",
		Snack:          "/app/snack",
		Subscribe:      DefaultSubscribeRoute,
		AdminDashboard: DefaultAdminRoute,
		AdminRecipes:   "/admin/recipes",
		DevLogin:       "/auth/dev-login",
	}
}

// Plan is a subscription tier shown on the subscribe page.
type Plan struct {
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Features []string `json:"features"`
	Current  bool     `json:"current"`
}

// DashboardStats is the admin dashboard payload.
type DashboardStats struct {
	TotalRecipes      int            `json:"total_recipes"`
	PremiumRecipes    int            `json:"premium_recipes"`
	RecipesByType     map[string]int `json:"recipes_by_type"`
	ActiveSubscribers int            `json:"active_subscribers"`
	Admins            int            `json:"admins"`
}

// AppController serves the application and admin routes. Every route is
// wrapped by the RouteGuard; handlers read the admitted state from locals.
type AppController struct {
	Routes       AppRoutes
	Logger       Logger
	ErrorHandler ErrorHandler

	machine  *StateMachine
	guard    *RouteGuard
	gate     *ContentGate
	catalog  *RecipeCatalog
	profiles ProfileRepository
}

// AppControllerOption configures the AppController
type AppControllerOption func(*AppController) *AppController

// WithAppRoutes overrides the route table.
func WithAppRoutes(routes AppRoutes) AppControllerOption {
	return func(c *AppController) *AppController {
		c.Routes = routes
		return c
	}
}

// WithAppLogger overrides the controller logger.
func WithAppLogger(logger Logger) AppControllerOption {
	return func(c *AppController) *AppController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithAppErrorHandler overrides how handler errors are rendered.
func WithAppErrorHandler(handler ErrorHandler) AppControllerOption {
	return func(c *AppController) *AppController {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

// WithAppProfiles enables the subscriber counts on the admin dashboard.
func WithAppProfiles(profiles ProfileRepository) AppControllerOption {
	return func(c *AppController) *AppController {
		c.profiles = profiles
		return c
	}
}

// NewAppController wires the controller. machine, guard and catalog are
// required.
func NewAppController(machine *StateMachine, guard *RouteGuard, gate *ContentGate, catalog *RecipeCatalog, opts ...AppControllerOption) *AppController {
	c := &AppController{
		Routes:  DefaultAppRoutes(),
		machine: machine,
		guard:   guard,
		gate:    gate,
		catalog: catalog,
	}
	_, c.Logger = ResolveLogger("access.http", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	if c.machine == nil {
		panic("Missing StateMachine in app controller...")
	}
	if c.guard == nil {
		panic("Missing RouteGuard in app controller...")
	}
	if c.catalog == nil {
		panic("Missing RecipeCatalog in app controller...")
	}
	if c.gate == nil {
		c.gate = NewContentGate(nil)
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = NewErrorHandler(c.Logger)
	}

	return c
}

// RegisterAppRoutes builds an AppController and mounts its routes on app.
func RegisterAppRoutes(app RouteRegistrar, machine *StateMachine, guard *RouteGuard, gate *ContentGate, catalog *RecipeCatalog, opts ...AppControllerOption) *AppController {
	controller := NewAppController(machine, guard, gate, catalog, opts...)
	controller.RegisterRoutes(app)
	return controller
}

// RegisterRoutes mounts the app and admin routes.
func (c *AppController) RegisterRoutes(app RouteRegistrar) {
	content := c.guard.Protect(CapabilityContent)
	admin := c.guard.Protect(CapabilityAdmin)

	app.Get(c.Routes.Home, c.HomeShow, content).SetName("app.home")
	app.Get(c.Routes.Snacks, c.SnacksShow, content).SetName("app.snacks")
	app.Get(c.Routes.Meal+"/:id", c.MealShow, content).SetName("app.meal")
	app.Get(c.Routes.Snack+"/:id", c.SnackShow, content).SetName("app.snack")
	app.Get(c.Routes.Subscribe, c.SubscribeShow, content).SetName("app.subscribe")

	app.Get("/home", c.legacyRedirect(c.Routes.Home))
	app.Get("/snack", c.legacyRedirect(c.Routes.Snacks))

	app.Get(c.Routes.AdminDashboard, c.DashboardShow, admin).SetName("admin.dashboard")
	app.Get(c.Routes.AdminRecipes, c.RecipeIndex, admin).SetName("admin.recipes.index")
	app.Post(c.Routes.AdminRecipes, c.RecipeCreate, admin).SetName("admin.recipes.create")
	app.Get(c.Routes.AdminRecipes+"/:id", c.RecipeShow, admin).SetName("admin.recipes.show")
	app.Post(c.Routes.AdminRecipes+"/:id", c.RecipeUpdate, admin).SetName("admin.recipes.update")
	app.Delete(c.Routes.AdminRecipes+"/:id", c.RecipeDelete, admin).SetName("admin.recipes.delete")

	c.registerDevRoutes(app)
}

// HomeShow returns the meal plan.
func (c *AppController) HomeShow(ctx router.Context) error {
	state, ready, err := c.contentState(ctx)
	if !ready {
		return err
	}

	plan, err := c.catalog.MealPlan(ctx.Context(), state.Role)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"state": state,
		"days":  plan,
	})
}

// SnacksShow returns the snack library or its paywall.
func (c *AppController) SnacksShow(ctx router.Context) error {
	state, ready, err := c.contentState(ctx)
	if !ready {
		return err
	}

	library, err := c.catalog.Snacks(ctx.Context(), state.Role)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if library.Locked {
		c.gate.RecordLibraryLocked(ctx.Context(), state, RecipeSnack)
	}

	return ctx.JSON(http.StatusOK, library)
}

// MealShow returns a single recipe view.
func (c *AppController) MealShow(ctx router.Context) error {
	return c.recipeShow(ctx, "")
}

// SnackShow returns a single snack view.
func (c *AppController) SnackShow(ctx router.Context) error {
	return c.recipeShow(ctx, RecipeSnack)
}

func (c *AppController) recipeShow(ctx router.Context, kind RecipeType) error {
	state, ready, err := c.contentState(ctx)
	if !ready {
		return err
	}

	id, err := parseRecipeID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	view, err := c.catalog.Get(ctx.Context(), id, state.Role)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	if kind != "" && view.Type != kind {
		return c.ErrorHandler(ctx, sentinelWithCause(ErrRecipeNotFound, nil, map[string]any{
			"id":   id.String(),
			"type": kind,
		}))
	}

	c.gate.RecordLocked(ctx.Context(), state, view)
	return ctx.JSON(http.StatusOK, view)
}

// SubscribeShow returns the available plans.
func (c *AppController) SubscribeShow(ctx router.Context) error {
	state, ready, err := c.contentState(ctx)
	if !ready {
		return err
	}
	premium := state.IsPremium()

	return ctx.JSON(http.StatusOK, map[string]any{
		"plans": []Plan{
			{
				Name:     "Free",
				Price:    "$0",
				Features: []string{"Browse free recipes", "Weekly meal plan preview"},
				Current:  state.Authenticated() && !premium,
			},
			{
				Name:     "Nouriva Club",
				Price:    "$9.99/mo",
				Features: []string{"All premium recipes", "Daily meal plans", "Club exclusive snack library"},
				Current:  premium,
			},
		},
		"state": state,
	})
}

// DashboardShow returns recipe and subscriber counts.
func (c *AppController) DashboardShow(ctx router.Context) error {
	state := c.state(ctx)

	views, err := c.catalog.List(ctx.Context(), RecipeFilter{}, state.Role)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	stats := DashboardStats{
		TotalRecipes:  len(views),
		RecipesByType: map[string]int{},
	}
	for _, v := range views {
		stats.RecipesByType[v.Type]++
		if v.IsPremium {
			stats.PremiumRecipes++
		}
	}

	if c.profiles != nil {
		records, err := c.profiles.ListProfiles(ctx.Context(), "")
		if err != nil {
			return c.ErrorHandler(ctx, err)
		}
		for _, p := range records {
			if IsPremiumSubscription(p.SubscriptionStatus) {
				stats.ActiveSubscribers++
			}
			if p.Role == ProfileRoleAdmin {
				stats.Admins++
			}
		}
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"state": state,
		"stats": stats,
	})
}

// RecipeIndex lists recipes, optionally filtered by type and tag.
func (c *AppController) RecipeIndex(ctx router.Context) error {
	state := c.state(ctx)

	filter := RecipeFilter{
		Type: strings.ToLower(strings.TrimSpace(ctx.Query("type", ""))),
		Tag:  strings.TrimSpace(ctx.Query("tag", "")),
	}

	views, err := c.catalog.List(ctx.Context(), filter, state.Role)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"recipes": views,
		"count":   len(views),
	})
}

// RecipeShow returns the full record for the editor.
func (c *AppController) RecipeShow(ctx router.Context) error {
	id, err := parseRecipeID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	record, err := c.catalog.Recipe(ctx.Context(), id)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, record)
}

// RecipeCreate stores a new recipe.
func (c *AppController) RecipeCreate(ctx router.Context) error {
	payload := new(Recipe)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipe payload").
			WithCode(goerrors.CodeBadRequest))
	}
	payload.ID = uuid.Nil

	saved, err := c.catalog.Save(ctx.Context(), payload)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, saved)
}

// RecipeUpdate replaces recipe :id.
func (c *AppController) RecipeUpdate(ctx router.Context) error {
	id, err := parseRecipeID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if _, err := c.catalog.Recipe(ctx.Context(), id); err != nil {
		return c.ErrorHandler(ctx, err)
	}

	payload := new(Recipe)
	if err := ctx.Bind(payload); err != nil {
		return c.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipe payload").
			WithCode(goerrors.CodeBadRequest))
	}
	payload.ID = id

	saved, err := c.catalog.Save(ctx.Context(), payload)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.JSON(http.StatusOK, saved)
}

// RecipeDelete removes recipe :id.
func (c *AppController) RecipeDelete(ctx router.Context) error {
	id, err := parseRecipeID(ctx.Param("id"))
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	if err := c.catalog.Delete(ctx.Context(), id); err != nil {
		return c.ErrorHandler(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (c *AppController) legacyRedirect(to string) router.HandlerFunc {
	return func(ctx router.Context) error {
		return ctx.Redirect(to, http.StatusMovedPermanently)
	}
}

// state prefers the snapshot the guard admitted the request with.
func (c *AppController) state(ctx router.Context) AccessState {
	if state, ok := GetRouterState(ctx); ok {
		return state
	}
	return c.machine.GetState()
}

// contentState returns the state role dependent pages render with. While it
// is still loading the request gets the guard interstitial and ready is false.
func (c *AppController) contentState(ctx router.Context) (state AccessState, ready bool, err error) {
	state = c.state(ctx)
	decision := c.guard.Evaluate(CapabilityContent, state)
	if decision.Outcome == OutcomeWait {
		return state, false, c.guard.Interstitial(ctx, decision)
	}
	return state, true, nil
}

func parseRecipeID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, goerrors.New("invalid recipe id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("INVALID_RECIPE_ID").
			WithMetadata(map[string]any{"id": raw})
	}
	return id, nil
}
