package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "ledger:lock:account:7", NewAccountLock(nil, 7, "r").Key())
	assert.Equal(t, "p2p:lock:uid:200001", NewUIDLock(nil, 200001, "r").Key())
	assert.Equal(t, "p2p:lock:trade:9", NewTradeLock(nil, 9, "r").Key())
}

func TestNilClientAlwaysAcquires(t *testing.T) {
	ctx := context.Background()
	l := NewAccountLock(nil, 1, "r")

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Lock(ctx, time.Millisecond, 1))
	require.NoError(t, l.Unlock(ctx))
}
