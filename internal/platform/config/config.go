package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultAPIPort              = "8080"
	defaultWebPort              = "3000"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultFreeShippingOver     = 200.0
	defaultFlatShippingFee      = 15.0
	defaultTaxRate              = 0.15
	defaultSessionTTL           = 24 * time.Hour
	defaultSessionIssuer        = "storefront-api"
	defaultLoginPath            = "/login"
	defaultCartBackend          = CartBackendCookie
	defaultCartTTL              = 30 * 24 * time.Hour
	defaultMongoDatabase        = "storefront"
	defaultClientTimeout        = 8 * time.Second
	defaultBreakerThreshold     = 5
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultOrdersTopic          = "orders"
	defaultSignedURLTTL         = 15 * time.Minute
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Component selects which binary's requirements Load validates.
type Component string

const (
	ComponentAPI Component = "api"
	ComponentWeb Component = "web"
)

// Cart persistence backends understood by the web tier.
const (
	CartBackendCookie    = "cookie"
	CartBackendRedis     = "redis"
	CartBackendMongo     = "mongo"
	CartBackendFirestore = "firestore"
	CartBackendMemory    = "memory"
)

// Config is the runtime configuration of both binaries, grouped by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Pricing     PricingConfig
	Auth        AuthConfig
	PubSub      PubSubConfig
	Idempotency IdempotencyConfig
	Web         WebConfig
	Redis       RedisConfig
	Mongo       MongoConfig
	Client      ClientConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the product image bucket and signing parameters.
type StorageConfig struct {
	ImagesBucket  string
	SignerEmail   string
	SignerKeyFile string
	SignedURLTTL  time.Duration
}

// PSPConfig holds payment provider credentials.
type PSPConfig struct {
	StripeAPIKey string
	Currency     string
}

// PricingConfig overrides the checkout pricing constants.
type PricingConfig struct {
	FreeShippingThreshold float64
	FlatShippingFee       float64
	TaxRate               float64
}

// AuthConfig controls session token issuance.
type AuthConfig struct {
	SessionSecret  string
	SessionTTL     time.Duration
	Issuer         string
	EnableFirebase bool
}

// PubSubConfig names the topic order events are published to.
type PubSubConfig struct {
	ProjectID   string
	OrdersTopic string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// WebConfig configures the storefront web tier.
type WebConfig struct {
	Port         string
	APIBaseURL   string
	PublicURL    string
	CookieSecret string
	// CookieBlockKey enables cookie encryption when set; 16, 24 or 32 bytes.
	CookieBlockKey string
	CookieSecure   bool
	LoginPath      string
	CartBackend    string
	CartTTL        time.Duration
	Locale         string
	Currency       string
}

// RedisConfig locates the Redis cart backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MongoConfig locates the MongoDB cart backend.
type MongoConfig struct {
	URI      string
	Database string
}

// ClientConfig tunes the web tier's API client.
type ClientConfig struct {
	Timeout            time.Duration
	BreakerThreshold   int
	BreakerOpenTimeout time.Duration
}

// SecretResolver resolves secret references such as secret://projects/p/secrets/name.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid fields.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface. Secret names are redacted.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the secret field names.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// RedactedNames returns hashed secret names suitable for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
	component       Component
}

// WithEnvFile overrides the dotenv file. An empty path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (for example "Auth.SessionSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// ForComponent selects the validation rules. The default is ComponentAPI.
func ForComponent(c Component) Option {
	return func(o *loaderOptions) { o.component = c }
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map) so that
// dependencies such as the secret fetcher can be built before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		component:    ComponentAPI,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// Load assembles configuration from defaults, the dotenv file, the environment and secret lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotenv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         str(lookup, "API_SERVER_PORT", defaultAPIPort),
			ReadTimeout:  duration(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: duration(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  duration(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       str(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: str(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    str(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: str(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ImagesBucket:  str(lookup, "API_STORAGE_IMAGES_BUCKET", ""),
			SignerEmail:   str(lookup, "API_STORAGE_SIGNER_EMAIL", ""),
			SignerKeyFile: str(lookup, "API_STORAGE_SIGNER_KEY_FILE", ""),
			SignedURLTTL:  duration(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey: str(lookup, "API_PSP_STRIPE_API_KEY", ""),
			Currency:     strings.ToLower(str(lookup, "API_PSP_CURRENCY", "usd")),
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: float(lookup, "API_PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShippingOver),
			FlatShippingFee:       float(lookup, "API_PRICING_FLAT_SHIPPING_FEE", defaultFlatShippingFee),
			TaxRate:               float(lookup, "API_PRICING_TAX_RATE", defaultTaxRate),
		},
		Auth: AuthConfig{
			SessionSecret:  str(lookup, "API_AUTH_SESSION_SECRET", ""),
			SessionTTL:     duration(lookup, "API_AUTH_SESSION_TTL", defaultSessionTTL),
			Issuer:         str(lookup, "API_AUTH_ISSUER", defaultSessionIssuer),
			EnableFirebase: boolean(lookup, "API_AUTH_ENABLE_FIREBASE", false),
		},
		PubSub: PubSubConfig{
			ProjectID:   str(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrdersTopic: str(lookup, "API_PUBSUB_ORDERS_TOPIC", defaultOrdersTopic),
		},
		Idempotency: IdempotencyConfig{
			Header:           str(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              duration(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  duration(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: integer(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Web: WebConfig{
			Port:           str(lookup, "WEB_SERVER_PORT", defaultWebPort),
			APIBaseURL:     str(lookup, "WEB_API_BASE_URL", ""),
			PublicURL:      strings.TrimRight(str(lookup, "WEB_PUBLIC_URL", ""), "/"),
			CookieSecret:   str(lookup, "WEB_COOKIE_SECRET", ""),
			CookieBlockKey: str(lookup, "WEB_COOKIE_BLOCK_KEY", ""),
			CookieSecure:   boolean(lookup, "WEB_COOKIE_SECURE", false),
			LoginPath:      str(lookup, "WEB_LOGIN_PATH", defaultLoginPath),
			CartBackend:    strings.ToLower(str(lookup, "WEB_CART_BACKEND", defaultCartBackend)),
			CartTTL:        duration(lookup, "WEB_CART_TTL", defaultCartTTL),
			Locale:         str(lookup, "WEB_LOCALE", "en-US"),
			Currency:       strings.ToUpper(str(lookup, "WEB_CURRENCY", "USD")),
		},
		Redis: RedisConfig{
			Addr:     str(lookup, "WEB_REDIS_ADDR", ""),
			Password: str(lookup, "WEB_REDIS_PASSWORD", ""),
			DB:       integer(lookup, "WEB_REDIS_DB", 0),
		},
		Mongo: MongoConfig{
			URI:      str(lookup, "WEB_MONGO_URI", ""),
			Database: str(lookup, "WEB_MONGO_DATABASE", defaultMongoDatabase),
		},
		Client: ClientConfig{
			Timeout:            duration(lookup, "WEB_CLIENT_TIMEOUT", defaultClientTimeout),
			BreakerThreshold:   integer(lookup, "WEB_CLIENT_BREAKER_THRESHOLD", defaultBreakerThreshold),
			BreakerOpenTimeout: duration(lookup, "WEB_CLIENT_BREAKER_OPEN_TIMEOUT", defaultBreakerOpenTimeout),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Auth.SessionSecret", &cfg.Auth.SessionSecret},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Web.CookieSecret", &cfg.Web.CookieSecret},
		{"Web.CookieBlockKey", &cfg.Web.CookieBlockKey},
		{"Redis.Password", &cfg.Redis.Password},
		{"Mongo.URI", &cfg.Mongo.URI},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg, options.component); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validate(cfg Config, component Component) error {
	var invalid []string
	add := func(cond bool, field string) {
		if cond {
			invalid = append(invalid, field)
		}
	}

	add(cfg.Pricing.FreeShippingThreshold < 0, "Pricing.FreeShippingThreshold")
	add(cfg.Pricing.FlatShippingFee < 0, "Pricing.FlatShippingFee")
	add(cfg.Pricing.TaxRate < 0 || cfg.Pricing.TaxRate >= 1, "Pricing.TaxRate")

	switch component {
	case ComponentWeb:
		add(cfg.Web.Port == "", "Web.Port")
		add(cfg.Web.APIBaseURL == "", "Web.APIBaseURL")
		add(len(cfg.Web.CookieSecret) < 32, "Web.CookieSecret")
		switch len(cfg.Web.CookieBlockKey) {
		case 0, 16, 24, 32:
		default:
			invalid = append(invalid, "Web.CookieBlockKey")
		}
		switch cfg.Web.CartBackend {
		case CartBackendCookie, CartBackendMemory:
		case CartBackendRedis:
			add(cfg.Redis.Addr == "", "Redis.Addr")
		case CartBackendMongo:
			add(cfg.Mongo.URI == "", "Mongo.URI")
		case CartBackendFirestore:
			add(cfg.Firestore.ProjectID == "", "Firestore.ProjectID")
		default:
			invalid = append(invalid, "Web.CartBackend")
		}
		add(cfg.Client.Timeout <= 0, "Client.Timeout")
		add(cfg.Client.BreakerThreshold <= 0, "Client.BreakerThreshold")
	default:
		add(cfg.Server.Port == "", "Server.Port")
		add(cfg.Firebase.ProjectID == "", "Firebase.ProjectID")
		add(cfg.Firestore.ProjectID == "", "Firestore.ProjectID")
		add(len(cfg.Auth.SessionSecret) < 32, "Auth.SessionSecret")
		add(cfg.Auth.SessionTTL <= 0, "Auth.SessionTTL")
		add(strings.TrimSpace(cfg.Idempotency.Header) == "", "Idempotency.Header")
		add(cfg.Idempotency.TTL <= 0, "Idempotency.TTL")
		add(cfg.Idempotency.CleanupInterval <= 0, "Idempotency.CleanupInterval")
		add(cfg.Idempotency.CleanupBatchSize <= 0, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || !(strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")) {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &MissingSecretsError{names: names}
}

func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

func str(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func duration(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func integer(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func float(lookup lookupFunc, key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolean(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
