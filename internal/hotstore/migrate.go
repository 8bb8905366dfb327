package hotstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// MigrateLegacyKeys is the one-shot admin utility that moves keys written
// under an old, unprefixed namespace to the current namespace prefix (§6
// "legacy keys are migrated by a one-shot admin utility"). It is
// idempotent: a key already renamed, or absent, is simply skipped.
func MigrateLegacyKeys(ctx context.Context, client *redis.Client, newPrefix string, legacyKeys []string) (migrated int, err error) {
	for _, legacy := range legacyKeys {
		target := newPrefix + ":" + legacy
		renamed, renameErr := client.RenameNX(ctx, legacy, target).Result()
		if renameErr == redis.Nil || (renameErr != nil && strings.Contains(renameErr.Error(), "no such key")) {
			continue // legacy key absent, nothing to migrate
		}
		if renameErr != nil {
			return migrated, fmt.Errorf("hotstore: migrating legacy key %q: %w", legacy, renameErr)
		}
		if renamed {
			migrated++
		}
	}
	return migrated, nil
}
