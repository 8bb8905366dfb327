package hotstore

import "github.com/google/uuid"

// newToken mints an opaque lock-ownership token (§3 DistributedLock).
func newToken() string {
	return uuid.New().String()
}
