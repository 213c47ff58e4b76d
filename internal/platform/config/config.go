package config

import (
	"bufio"
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

	"golang.org/x/text/currency"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultEnvironment        = "local"
	defaultBackend            = BackendMemory
	defaultCurrency           = "USD"
	defaultCatalogTTL         = 5 * time.Minute
	defaultSessionTTL         = 2 * time.Hour
	defaultHandoffTTL         = 30 * time.Minute
	defaultFlowVariant        = "standard"
	defaultReferencePrefix    = "SQ"
	defaultEmailTopic         = "quote-emails"
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencyCleanup = time.Hour
)

// Persistence backends.
const (
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// Config is the full runtime configuration of the quote service.
type Config struct {
	Server      ServerConfig
	Persistence PersistenceConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Secrets     SecretsConfig
	Quotes      QuotesConfig
	Email       EmailConfig
	Idempotency IdempotencyConfig
	Environment string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PersistenceConfig selects where catalog, quotes and sessions live.
type PersistenceConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topic used for quote email jobs. An empty topic
// disables publishing.
type PubSubConfig struct {
	ProjectID       string
	QuoteEmailTopic string
}

// StorageConfig names the bucket receiving submitted quote snapshots.
type StorageConfig struct {
	ArchiveBucket string
}

// SecretsConfig controls Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// QuotesConfig tunes the quote engine and its collaborators.
type QuotesConfig struct {
	DefaultCurrency     string
	CatalogCacheTTL     time.Duration
	SessionTTL          time.Duration
	HandoffTTL          time.Duration
	LocalPromoHeuristic bool
	FlowVariant         string
	ReferencePrefix     string
}

// EmailConfig describes outgoing quote emails.
type EmailConfig struct {
	FromAddress string
	SigningKey  string
}

// IdempotencyConfig controls replay protection on quote submission.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret calls f.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid configuration fields.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved empty. Names
// are redacted in the message.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

// Names returns the missing secret field names.
func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
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
}

// WithEnvFile overrides the .env path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that win over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Email.SigningKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (dotenv < OS env < map)
// so callers can bootstrap dependencies such as the secret fetcher before Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
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

// Load builds Config from defaults, .env, the environment, an explicit
// map and resolved secrets, then validates it.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
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
		value, ok := dotEnv[key]
		return value, ok
	}
	str := func(key, fallback string) string {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
		return fallback
	}
	dur := func(key string, fallback time.Duration) time.Duration {
		if d, err := time.ParseDuration(str(key, "")); err == nil {
			return d
		}
		return fallback
	}
	flag := func(key string, fallback bool) bool {
		if b, err := strconv.ParseBool(str(key, "")); err == nil {
			return b
		}
		return fallback
	}

	cfg := Config{
		Environment: strings.ToLower(str("SQ_ENVIRONMENT", defaultEnvironment)),
		Server: ServerConfig{
			Port:            str("SQ_SERVER_PORT", str("PORT", defaultPort)),
			ReadTimeout:     dur("SQ_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    dur("SQ_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     dur("SQ_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: dur("SQ_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Persistence: PersistenceConfig{
			Backend: strings.ToLower(str("SQ_PERSISTENCE_BACKEND", defaultBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    str("SQ_FIRESTORE_PROJECT_ID", str("GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: str("SQ_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:       str("SQ_PUBSUB_PROJECT_ID", ""),
			QuoteEmailTopic: str("SQ_PUBSUB_QUOTE_EMAIL_TOPIC", ""),
		},
		Storage: StorageConfig{
			ArchiveBucket: str("SQ_STORAGE_ARCHIVE_BUCKET", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    str("SQ_SECRETS_PROJECT_ID", ""),
			FallbackFile: str("SQ_SECRETS_FALLBACK_FILE", ""),
		},
		Quotes: QuotesConfig{
			DefaultCurrency:     strings.ToUpper(str("SQ_QUOTES_DEFAULT_CURRENCY", defaultCurrency)),
			CatalogCacheTTL:     dur("SQ_QUOTES_CATALOG_CACHE_TTL", defaultCatalogTTL),
			SessionTTL:          dur("SQ_QUOTES_SESSION_TTL", defaultSessionTTL),
			HandoffTTL:          dur("SQ_QUOTES_HANDOFF_TTL", defaultHandoffTTL),
			LocalPromoHeuristic: flag("SQ_QUOTES_LOCAL_PROMO_HEURISTIC", true),
			FlowVariant:         strings.ToLower(str("SQ_QUOTES_FLOW_VARIANT", defaultFlowVariant)),
			ReferencePrefix:     strings.ToUpper(str("SQ_QUOTES_REFERENCE_PREFIX", defaultReferencePrefix)),
		},
		Email: EmailConfig{
			FromAddress: str("SQ_EMAIL_FROM", ""),
			SigningKey:  str("SQ_EMAIL_SIGNING_KEY", ""),
		},
		Idempotency: IdempotencyConfig{
			Header:          str("SQ_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             dur("SQ_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: dur("SQ_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyCleanup),
		},
	}

	// Pub/Sub and Secret Manager default to the Firestore project.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.PubSub.QuoteEmailTopic == "" && cfg.Persistence.Backend == BackendFirestore {
		cfg.PubSub.QuoteEmailTopic = defaultEmailTopic
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Email.SigningKey", &cfg.Email.SigningKey},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, name := range options.requiredSecrets {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingSecretsError{names: missing}
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func validate(cfg Config) error {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	switch cfg.Persistence.Backend {
	case BackendMemory:
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	default:
		invalid = append(invalid, "Persistence.Backend")
	}
	if _, err := currency.ParseISO(cfg.Quotes.DefaultCurrency); err != nil {
		invalid = append(invalid, "Quotes.DefaultCurrency")
	}
	if cfg.Quotes.CatalogCacheTTL < 0 {
		invalid = append(invalid, "Quotes.CatalogCacheTTL")
	}
	if cfg.Quotes.SessionTTL <= 0 {
		invalid = append(invalid, "Quotes.SessionTTL")
	}
	if cfg.Quotes.HandoffTTL <= 0 {
		invalid = append(invalid, "Quotes.HandoffTTL")
	}
	if cfg.Quotes.FlowVariant != "standard" && cfg.Quotes.FlowVariant != "charted" {
		invalid = append(invalid, "Quotes.FlowVariant")
	}
	if cfg.Quotes.ReferencePrefix == "" {
		invalid = append(invalid, "Quotes.ReferencePrefix")
	}
	if cfg.Idempotency.Header == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
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

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
