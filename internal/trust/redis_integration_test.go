//go:build integration

package trust_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cartouche/internal/testhelpers"
	"github.com/cartouche/internal/trust"
)

func TestRedis(t *testing.T) {
	url := testhelpers.StartRedis(t)

	n := 0
	exerciseStore(t, func(t *testing.T, now func() time.Time) trust.Store {
		n++
		store, err := trust.OpenRedis(url,
			trust.WithClock(now),
			trust.WithPrefix(fmt.Sprintf("test:%d:", n)),
		)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		entries, err := store.List(context.Background())
		require.NoError(t, err)
		require.Empty(t, entries)
		return store
	})
}
