//go:build !accessdev

package access

func (c *AppController) registerDevRoutes(RouteRegistrar) {}
