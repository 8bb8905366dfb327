package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDevelopmentAllowsMinimalConfig(t *testing.T) {
	cfg := &Config{Env: EnvDevelopment}
	require.NoError(t, cfg.Validate())
}

func TestValidateProductionRequiresAllowedOrigins(t *testing.T) {
	cfg := &Config{
		Env:                EnvProduction,
		RedisURL:           "redis://localhost:6379",
		DatabaseURL:        "postgres://localhost/relay",
		FeePayerPrivateKey: "5Kb8kLf9zgWQnogidDA76MzPL6TsZZY36hWXMssSzNydYXYB9KF",
		EcotokenMint:       "EcoTokenMintAddress111111111111111111111111",
		AdminAPIKey:        "secret",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ALLOWED_ORIGINS")
}

func TestValidateProductionRejectsPlaceholderMint(t *testing.T) {
	cfg := &Config{
		Env:                EnvProduction,
		RedisURL:           "redis://localhost:6379",
		DatabaseURL:        "postgres://localhost/relay",
		FeePayerPrivateKey: "5Kb8kLf9zgWQnogidDA76MzPL6TsZZY36hWXMssSzNydYXYB9KF",
		AllowedOrigins:     []string{"https://example.com"},
		AdminAPIKey:        "secret",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ECOTOKEN_MINT")
}

func TestValidateStagingRequiresSignerMaterial(t *testing.T) {
	cfg := &Config{
		Env:         EnvStaging,
		RedisURL:    "redis://localhost:6379",
		DatabaseURL: "postgres://localhost/relay",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "FEE_PAYER_PRIVATE_KEY")
}

func TestValidateRejectsNonBase58SignerKey(t *testing.T) {
	cfg := &Config{
		Env:                EnvStaging,
		RedisURL:           "redis://localhost:6379",
		DatabaseURL:        "postgres://localhost/relay",
		FeePayerPrivateKey: "not-a-valid-key!!",
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "base-58")
}

func TestRatiosDeriveFromPhiWhenUnset(t *testing.T) {
	cfg := &Config{BurnRatio: -1, TreasuryRatio: -1}
	require.InDelta(t, 0.764, cfg.BurnRatioDecimal(), 0.01)
	require.InDelta(t, 0.236, cfg.TreasuryRatioDecimal(), 0.01)
}

func TestRatiosRespectExplicitOverride(t *testing.T) {
	cfg := &Config{BurnRatio: 0.5, TreasuryRatio: 0.5}
	require.Equal(t, 0.5, cfg.BurnRatioDecimal())
	require.Equal(t, 0.5, cfg.TreasuryRatioDecimal())
}
