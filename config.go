package access

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSignInRoute    = "/login"
	DefaultHomeRoute      = "/app/home"
	DefaultAdminRoute     = "/admin/dashboard"
	DefaultSubscribeRoute = "/app/subscribe"
	DefaultOAuthProvider  = "google"
	DefaultOAuthRedirect  = "/auth/callback/google"

	// EnvPrefix is prepended to every environment override.
	EnvPrefix = "NOURIVA_"
)

// ServerOptions configures the HTTP listener
type ServerOptions struct {
	Address   string        `yaml:"address" json:"address"`
	GuardWait time.Duration `yaml:"guard_wait" json:"guard_wait"`
}

// DatabaseOptions configures the profile and recipe stores
type DatabaseOptions struct {
	// Driver is either sqlite or postgres
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

// GetDebug implements persistence.Config
func (d DatabaseOptions) GetDebug() bool { return d.Debug }

// GetDriver implements persistence.Config
func (d DatabaseOptions) GetDriver() string {
	if strings.HasPrefix(d.DSN, "postgres://") || strings.HasPrefix(d.DSN, "postgresql://") {
		return "postgres"
	}
	return d.Driver
}

// GetServer implements persistence.Config
func (d DatabaseOptions) GetServer() string { return d.DSN }

// GetPingTimeout implements persistence.Config
func (d DatabaseOptions) GetPingTimeout() time.Duration { return 5 * time.Second }

// GetOtelIdentifier implements persistence.Config
func (d DatabaseOptions) GetOtelIdentifier() string { return "nouriva" }

// SessionOptions configures the local session provider
type SessionOptions struct {
	SigningKey      string        `yaml:"signing_key" json:"-"`
	StateKey        string        `yaml:"state_key" json:"-"`
	TTL             time.Duration `yaml:"ttl" json:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	OTPTTL          time.Duration `yaml:"otp_ttl" json:"otp_ttl"`
	OTPMaxAttempts  int           `yaml:"otp_max_attempts" json:"otp_max_attempts"`
	// OTPSender is disabled or log. log needs --verbose
	OTPSender string `yaml:"otp_sender" json:"otp_sender"`
	// Store is memory or redis
	Store         string `yaml:"store" json:"store"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
}

// GoogleOptions holds the OAuth client registration
type GoogleOptions struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	CallbackURL  string `yaml:"callback_url" json:"callback_url"`
}

// Options is the file and environment backed Config implementation.
type Options struct {
	ProfileTimeout   time.Duration   `yaml:"profile_timeout" json:"profile_timeout"`
	PrivilegedEmails []string        `yaml:"privileged_emails" json:"privileged_emails"`
	OAuthProvider    string          `yaml:"oauth_provider" json:"oauth_provider"`
	OAuthRedirectURL string          `yaml:"oauth_redirect_url" json:"oauth_redirect_url"`
	SignInRoute      string          `yaml:"sign_in_route" json:"sign_in_route"`
	DefaultRoute     string          `yaml:"default_route" json:"default_route"`
	AdminRoute       string          `yaml:"admin_route" json:"admin_route"`
	SubscribeRoute   string          `yaml:"subscribe_route" json:"subscribe_route"`
	RecipeCacheSize  int             `yaml:"recipe_cache_size" json:"recipe_cache_size"`
	Server           ServerOptions   `yaml:"server" json:"server"`
	Database         DatabaseOptions `yaml:"database" json:"database"`
	Session          SessionOptions  `yaml:"session" json:"session"`
	Google           GoogleOptions   `yaml:"google" json:"google"`
}

var _ Config = (*Options)(nil)

// DefaultOptions returns options with every default filled in.
func DefaultOptions() *Options {
	return &Options{
		ProfileTimeout:   DefaultProfileTimeout,
		OAuthProvider:    DefaultOAuthProvider,
		OAuthRedirectURL: DefaultOAuthRedirect,
		SignInRoute:      DefaultSignInRoute,
		DefaultRoute:     DefaultHomeRoute,
		AdminRoute:       DefaultAdminRoute,
		SubscribeRoute:   DefaultSubscribeRoute,
		RecipeCacheSize:  256,
		Server: ServerOptions{
			Address: ":8978",
		},
		Database: DatabaseOptions{
			Driver: "sqlite",
			DSN:    "file:nouriva.db?cache=shared",
		},
		Session: SessionOptions{
			TTL:             24 * time.Hour,
			RefreshInterval: time.Minute,
			OTPTTL:          10 * time.Minute,
			OTPMaxAttempts:  5,
			Store:           "memory",
		},
	}
}

// LoadOptions reads path (optional) over the defaults, then applies a .env
// file and NOURIVA_ environment overrides, then validates the result.
func LoadOptions(path string, envFiles ...string) (*Options, error) {
	opts := DefaultOptions()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, opts); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	opts.ApplyEnv(os.LookupEnv)

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return opts, nil
}

func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to load env file").
				WithMetadata(map[string]any{"path": file})
		}
	}
	return nil
}

// ApplyEnv overrides options from environment variables found by lookup.
func (o *Options) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}

	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v, ok := lookup(EnvPrefix + "PRIVILEGED_EMAILS"); ok {
		o.PrivilegedEmails = splitList(v)
	}
	dur("PROFILE_TIMEOUT", &o.ProfileTimeout)
	str("OAUTH_PROVIDER", &o.OAuthProvider)
	str("OAUTH_REDIRECT_URL", &o.OAuthRedirectURL)
	num("RECIPE_CACHE_SIZE", &o.RecipeCacheSize)

	str("SERVER_ADDRESS", &o.Server.Address)
	dur("SERVER_GUARD_WAIT", &o.Server.GuardWait)

	str("DATABASE_DRIVER", &o.Database.Driver)
	str("DATABASE_DSN", &o.Database.DSN)

	str("SESSION_SIGNING_KEY", &o.Session.SigningKey)
	str("SESSION_STATE_KEY", &o.Session.StateKey)
	dur("SESSION_TTL", &o.Session.TTL)
	str("SESSION_STORE", &o.Session.Store)
	str("SESSION_OTP_SENDER", &o.Session.OTPSender)
	str("REDIS_ADDR", &o.Session.RedisAddr)
	str("REDIS_PASSWORD", &o.Session.RedisPassword)
	num("REDIS_DB", &o.Session.RedisDB)

	str("GOOGLE_CLIENT_ID", &o.Google.ClientID)
	str("GOOGLE_CLIENT_SECRET", &o.Google.ClientSecret)
	str("GOOGLE_CALLBACK_URL", &o.Google.CallbackURL)
}

// Validate checks the options.
func (o *Options) Validate() error {
	err := validation.ValidateStruct(o,
		validation.Field(&o.ProfileTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&o.SignInRoute, validation.Required),
		validation.Field(&o.DefaultRoute, validation.Required),
		validation.Field(&o.OAuthProvider, validation.Required),
		validation.Field(&o.RecipeCacheSize, validation.Min(0)),
	)
	if err == nil {
		err = validation.ValidateStruct(&o.Database,
			validation.Field(&o.Database.Driver, validation.Required, validation.In("sqlite", "postgres")),
			validation.Field(&o.Database.DSN, validation.Required),
		)
	}
	if err == nil {
		err = validation.ValidateStruct(&o.Session,
			validation.Field(&o.Session.Store, validation.Required, validation.In("memory", "redis")),
			validation.Field(&o.Session.TTL, validation.Required),
			validation.Field(&o.Session.OTPMaxAttempts, validation.Required, validation.Min(1)),
			validation.Field(&o.Session.OTPSender, validation.In("disabled", "log")),
		)
	}
	if err == nil && o.Session.Store == "redis" {
		err = validation.Validate(o.Session.RedisAddr, validation.Required.Error("redis_addr is required for the redis store"))
	}
	if err == nil {
		for _, email := range o.PrivilegedEmails {
			if verr := validation.Validate(email, validation.Required, is.Email); verr != nil {
				err = goerrors.Wrap(verr, goerrors.CategoryValidation, "invalid privileged email").
					WithMetadata(map[string]any{"email": email})
				break
			}
		}
	}

	if err != nil {
		return sentinelWithCause(ErrInvalidConfig, err, nil)
	}
	return nil
}

func (o *Options) GetProfileTimeout() time.Duration {
	if o == nil || o.ProfileTimeout <= 0 {
		return DefaultProfileTimeout
	}
	return o.ProfileTimeout
}

func (o *Options) GetPrivilegedEmails() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.PrivilegedEmails...)
}

func (o *Options) GetOAuthProvider() string {
	return orDefault(o, func(o *Options) string { return o.OAuthProvider }, DefaultOAuthProvider)
}

func (o *Options) GetOAuthRedirectURL() string {
	return orDefault(o, func(o *Options) string { return o.OAuthRedirectURL }, DefaultOAuthRedirect)
}

func (o *Options) GetSignInRoute() string {
	return orDefault(o, func(o *Options) string { return o.SignInRoute }, DefaultSignInRoute)
}

func (o *Options) GetDefaultRoute() string {
	return orDefault(o, func(o *Options) string { return o.DefaultRoute }, DefaultHomeRoute)
}

func (o *Options) GetAdminRoute() string {
	return orDefault(o, func(o *Options) string { return o.AdminRoute }, DefaultAdminRoute)
}

func (o *Options) GetSubscribeRoute() string {
	return orDefault(o, func(o *Options) string { return o.SubscribeRoute }, DefaultSubscribeRoute)
}

func orDefault(o *Options, get func(*Options) string, def string) string {
	if o == nil {
		return def
	}
	if v := strings.TrimSpace(get(o)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == ' ' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
