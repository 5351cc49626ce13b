package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-access"
	"github.com/goliatone/go-access/activitymap"
	"github.com/goliatone/go-access/social"
	"github.com/goliatone/go-access/social/providers/google"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Nouriva HTTP server",
	Long:  `Runs migrations, starts the access state machine and serves the app, admin and auth routes.`,
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cobraCmd.Context())
		defer cancel()

		opts, err := loadOptions()
		if err != nil {
			return err
		}

		fmt.Println("============")
		fmt.Println(print.MaybeHighlightJSON(opts))
		fmt.Println("============")

		provider := loggers()
		log := provider.GetLogger("serve")

		db, err := access.OpenDB(ctx, opts.Database, provider.GetLogger("db"))
		if err != nil {
			return err
		}
		defer db.Close()

		if _, err := access.Migrate(ctx, db); err != nil {
			return err
		}

		repos := access.NewRepositoryManager(db)
		repos.MustValidate()
		profiles := repos.Profiles()

		sessions, err := newSessionProvider(ctx, opts, provider)
		if err != nil {
			return err
		}

		activity := activitymap.LogSink(provider.GetLogger("activity"))

		machine := access.NewStateMachine(sessions, profiles, opts,
			access.WithStateMachineLoggerProvider(provider),
			access.WithStateMachineActivitySink(activity),
		)
		defer machine.Close()

		guard := access.NewRouteGuard(machine, opts,
			access.WithGuardWait(opts.Server.GuardWait),
			access.WithGuardLogger(provider.GetLogger("guard")),
			access.WithGuardActivitySink(activity),
		)
		gate := access.NewContentGate(opts,
			access.WithGateActivitySink(activity),
			access.WithGateLogger(provider.GetLogger("gate")),
		)
		catalog, err := access.NewRecipeCatalog(repos.Recipes(), gate, opts.RecipeCacheSize,
			access.WithCatalogLogger(provider.GetLogger("catalog")),
		)
		if err != nil {
			return err
		}

		srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
			return router.DefaultFiberOptions(fiber.New(fiber.Config{
				UnescapePath:      true,
				EnablePrintRoutes: verbose,
				StrictRouting:     false,
			}))
		})

		access.RegisterAppRoutes(srv.Router(), machine, guard, gate, catalog,
			access.WithAppProfiles(profiles),
			access.WithAppLogger(provider.GetLogger("app")),
		)

		social.NewHTTPController(sessions, machine, guard, social.HTTPConfig{
			LoginRoute: opts.SignInRoute,
			Logger:     provider.GetLogger("auth"),
		}).RegisterRoutes(srv.Router())

		go sessions.Watch(ctx, opts.Session.RefreshInterval)

		if err := machine.Start(ctx); err != nil {
			return err
		}

		return serveUntilSignal(srv, opts.Server.Address, waitExitSignal(), shutdownTimeout, log)
	},
}

const shutdownTimeout = 10 * time.Second

type listener interface {
	Serve(address string) error
	Shutdown(ctx context.Context) error
}

// serveUntilSignal serves on address until the listener fails or a signal
// arrives, in which case the listener is shut down before returning.
func serveUntilSignal(srv listener, address string, signals <-chan os.Signal, timeout time.Duration, log access.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "address", address)
		errCh <- srv.Serve(address)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-signals:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "graceful shutdown failed")
	}

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CategoryInternal, "server did not stop")
	}

	log.Info("server stopped")
	return nil
}

func newSessionProvider(ctx context.Context, opts *access.Options, provider access.LoggerProvider) (*social.SessionProvider, error) {
	var store social.SessionStore = social.NewMemoryStore()
	if opts.Session.Store == "redis" {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		client, err := social.ConnectRedis(connectCtx, opts.Session.RedisAddr, opts.Session.RedisPassword, opts.Session.RedisDB)
		if err != nil {
			return nil, err
		}
		store = social.NewRedisStore(client, "nouriva:")
	}

	stateKey := opts.Session.StateKey
	if stateKey == "" {
		stateKey = opts.Session.SigningKey
	}

	logger := provider.GetLogger("social")
	sender, err := social.NewOTPSender(opts.Session.OTPSender, logger, verbose)
	if err != nil {
		return nil, err
	}

	sessionOpts := []social.Option{
		social.WithSessionStore(store),
		social.WithStateManager(social.NewStateManagerFromSecret(stateKey, social.DefaultStateTTL)),
		social.WithSessionTTL(opts.Session.TTL),
		social.WithOTPPolicy(opts.Session.OTPTTL, opts.Session.OTPMaxAttempts),
		social.WithOTPSender(sender),
		social.WithLogger(logger),
	}

	if opts.Google.ClientID != "" {
		sessionOpts = append(sessionOpts, social.WithProvider(google.New(google.Config{
			ClientID:     opts.Google.ClientID,
			ClientSecret: opts.Google.ClientSecret,
			CallbackURL:  opts.Google.CallbackURL,
		})))
	} else {
		logger.Warn("google client id not set, OAuth sign in disabled")
	}

	return social.NewSessionProvider([]byte(opts.Session.SigningKey), sessionOpts...)
}

func waitExitSignal() <-chan os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return ch
}
