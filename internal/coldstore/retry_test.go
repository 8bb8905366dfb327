package coldstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryEventuallySucceeds(t *testing.T) {
	retry := DefaultRetry(2 * time.Second)
	attempts := 0
	err := retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDefaultRetryGivesUpAfterMaxElapsed(t *testing.T) {
	retry := DefaultRetry(50 * time.Millisecond)
	err := retry(context.Background(), func() error {
		return errors.New("always fails")
	})
	require.Error(t, err)
}

func TestClassifyIgnoresNilAndConstraintViolations(t *testing.T) {
	require.False(t, classify(nil))
	require.False(t, classify(&pgconn.PgError{Code: "23505"}))
	require.True(t, classify(errors.New("connection refused")))
}
