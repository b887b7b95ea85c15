package es

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

// TestKey returns a fresh random 256-bit key.
func TestKey(t testing.TB) Key {
	t.Helper()
	key := make(Key, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

type TestingEnv struct {
	*Env
	t testing.TB
}

// StartTestEnv creates an in-memory Env with a random AES-GCM key unless
// opts override the store or cipher. The env is closed with the test.
func StartTestEnv(t testing.TB, opts ...EnvOption) *TestingEnv {
	t.Helper()
	e, err := NewEnv(
		WithInMemory(),
		WithKey(CipherAESGCM, TestKey(t)),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return &TestingEnv{Env: e, t: t}
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

// ChainValid fails the test unless every stream verifies.
func (a *TestingEnvAssert) ChainValid() {
	a.env.t.Helper()
	_, err := a.env.Store().VerifyAll(a.env.t.Context())
	require.NoError(a.env.t, err)
}

// NotificationIDs fails the test unless the log holds exactly 1..n.
func (a *TestingEnvAssert) NotificationIDs(n uint64) {
	a.env.t.Helper()
	got := make([]uint64, 0)
	for notif, err := range a.env.Notifications().All(a.env.t.Context(), 1) {
		require.NoError(a.env.t, err)
		got = append(got, notif.ID)
	}
	want := make([]uint64, 0, n)
	for i := uint64(1); i <= n; i++ {
		want = append(want, i)
	}
	require.Equal(a.env.t, want, got)
}
