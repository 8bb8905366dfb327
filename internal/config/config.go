// Package config is the relay's typed environment configuration (§6):
// a single struct populated by caarlos0/env/v11, validated fatally at
// startup rather than lazily at first use. Grounded on the ambient-stack
// convention the wisbric/nightowl manifest pulls caarlos0/env/v11 in for;
// the teacher itself has no env-driven config layer (its packages are
// constructed with literal Go values), so this package's shape follows the
// library's own idiom rather than a teacher file.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sovrn-protocol/relay/internal/numeric"
)

// Env is the deployment environment (§6 "ENV").
type Env string

const (
	EnvDevelopment Env = "development"
	EnvStaging     Env = "staging"
	EnvProduction  Env = "production"
)

// placeholderMints are ECOTOKEN_MINT values that are fine for local
// development but must never reach production (§6 "placeholder values
// fatal in prod").
var placeholderMints = map[string]bool{
	"":               true,
	"TODO":           true,
	"REPLACE_ME":     true,
	"EcoMintAddress": true,
}

var base58Signer = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,88}$`)

// Config is the full set of recognized environment options (§6).
type Config struct {
	Env  Env    `env:"ENV" envDefault:"development"`
	Port int    `env:"PORT" envDefault:"8080"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	RPCURL        string `env:"RPC_URL"`
	HeliusAPIKey  string `env:"HELIUS_API_KEY"`
	TritonAPIKey  string `env:"TRITON_API_KEY"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	FeePayerPrivateKey string   `env:"FEE_PAYER_PRIVATE_KEY"`
	FeePayerKeys       []string `env:"FEE_PAYER_KEYS" envSeparator:","`

	EcotokenMint string `env:"ECOTOKEN_MINT"`

	BurnRatio          float64 `env:"BURN_RATIO" envDefault:"-1"`     // -1 sentinel: derive from phi
	TreasuryRatio      float64 `env:"TREASURY_RATIO" envDefault:"-1"` // -1 sentinel: derive from phi
	BaseFeeLamports    int64   `env:"BASE_FEE_LAMPORTS" envDefault:"5000"`
	FeeMarkup          float64 `env:"FEE_MARKUP" envDefault:"1.0"`
	NetworkFeeLamports int64   `env:"NETWORK_FEE_LAMPORTS" envDefault:"5000"`

	QuoteTTLSeconds int `env:"QUOTE_TTL_SECONDS" envDefault:"60"`

	AnomalyWindowSeconds int `env:"ANOMALY_WINDOW_SECONDS" envDefault:"300"`

	WalletQuoteLimit  int `env:"WALLET_QUOTE_LIMIT" envDefault:"30"`
	WalletSubmitLimit int `env:"WALLET_SUBMIT_LIMIT" envDefault:"10"`

	AdminAPIKey string `env:"ADMIN_API_KEY"`

	JitoURL           string `env:"JITO_URL"`
	JitoAuthKeypair   string `env:"JITO_AUTH_KEYPAIR"`
	JupiterAPIKey     string `env:"JUPITER_API_KEY"`

	SponsoredQuotesEnabled bool `env:"SPONSORED_QUOTES_ENABLED" envDefault:"false"`

	IgnitionEnabled     bool   `env:"IGNITION_ENABLED" envDefault:"false"`
	IgnitionDestination string `env:"IGNITION_DESTINATION"`
	IgnitionAmount      int64  `env:"IGNITION_AMOUNT"`
}

// QuoteTTL is the typed duration view of QuoteTTLSeconds.
func (c Config) QuoteTTL() time.Duration {
	return time.Duration(c.QuoteTTLSeconds) * time.Second
}

// AnomalyWindow is the typed duration view of AnomalyWindowSeconds
// (§4.2 "anomaly detection (300 s window)").
func (c Config) AnomalyWindow() time.Duration {
	return time.Duration(c.AnomalyWindowSeconds) * time.Second
}

// BurnRatioDecimal resolves BurnRatio to phi's default (1 - 1/phi^3) when
// unset (§6 "defaults derive from phi").
func (c Config) BurnRatioDecimal() float64 {
	if c.BurnRatio < 0 {
		f, _ := numeric.DefaultBurnRatio().Float64()
		return f
	}
	return c.BurnRatio
}

// TreasuryRatioDecimal resolves TreasuryRatio to phi's default (1/phi^3)
// when unset.
func (c Config) TreasuryRatioDecimal() float64 {
	if c.TreasuryRatio < 0 {
		f, _ := numeric.DefaultTreasuryRatio().Float64()
		return f
	}
	return c.TreasuryRatio
}

// Load parses the environment into a Config and validates it. A validation
// failure is always fatal to startup — never lazy, per §6.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the fatal-at-boot rules from §6: staging/production
// require reachable hot/cold store connection strings and signer material,
// an empty ALLOWED_ORIGINS in prod is fatal, and a placeholder
// ECOTOKEN_MINT in prod is fatal. Reachability itself (actually dialing
// Redis/Postgres) is the bootstrap's job in cmd/relay; Validate only checks
// that the strings needed to attempt it are present.
func (c *Config) Validate() error {
	var problems []string

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		problems = append(problems, fmt.Sprintf("ENV %q is not one of development|staging|production", c.Env))
	}

	if c.Env != EnvDevelopment {
		if c.RedisURL == "" {
			problems = append(problems, "REDIS_URL is required outside development")
		}
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required outside development")
		}
		if c.FeePayerPrivateKey == "" && len(c.FeePayerKeys) == 0 {
			problems = append(problems, "FEE_PAYER_PRIVATE_KEY or FEE_PAYER_KEYS is required outside development")
		}
	}

	if c.Env == EnvProduction {
		if len(c.AllowedOrigins) == 0 {
			problems = append(problems, "ALLOWED_ORIGINS must not be empty in production")
		}
		if placeholderMints[c.EcotokenMint] {
			problems = append(problems, fmt.Sprintf("ECOTOKEN_MINT %q is a placeholder value, not valid in production", c.EcotokenMint))
		}
		if c.AdminAPIKey == "" {
			problems = append(problems, "ADMIN_API_KEY should be set in production (admin surface otherwise returns ADMIN_NOT_CONFIGURED)")
		}
	}

	for _, key := range signerKeys(c) {
		if !base58Signer.MatchString(key) {
			problems = append(problems, fmt.Sprintf("signer key %q does not look like base-58 signing material", redactKey(key)))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func signerKeys(c *Config) []string {
	var keys []string
	if c.FeePayerPrivateKey != "" {
		keys = append(keys, c.FeePayerPrivateKey)
	}
	keys = append(keys, c.FeePayerKeys...)
	return keys
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
