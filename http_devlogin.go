//go:build accessdev

package access

import (
	"net/http"

	"github.com/goliatone/go-router"
)

// DevLoginRequest is the dev login payload
type DevLoginRequest struct {
	Email string `form:"email" json:"email"`
}

func (c *AppController) registerDevRoutes(app RouteRegistrar) {
	app.Post(c.Routes.DevLogin, c.DevLoginPost).SetName("auth.dev-login")
}

// DevLoginPost force-signs in an admin. Only compiled with the accessdev tag.
func (c *AppController) DevLoginPost(ctx router.Context) error {
	payload := new(DevLoginRequest)
	if err := ctx.Bind(payload); err != nil {
		payload.Email = ""
	}

	state := c.machine.DevLogin(payload.Email)
	return ctx.JSON(http.StatusOK, map[string]any{
		"state":       state,
		"redirect_to": c.guard.LandingRoute(state),
	})
}
