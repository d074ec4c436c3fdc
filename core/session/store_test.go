package session_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/session"
	"github.com/g4mless/mykelas-web/storage/inmem"
	"github.com/g4mless/mykelas-web/tests"
)

func setup(t *testing.T) (*session.Store, *testutil.FakeProvider, *inmem.Store) {
	provider := testutil.NewFakeProvider()
	storage := inmem.NewStore()
	store := session.NewStore(provider, storage, testutil.NopLogger{})
	t.Cleanup(store.Close)
	return store, provider, storage
}

func TestStore_Init(t *testing.T) {
	ctx := context.Background()

	t.Run("no persisted session", func(t *testing.T) {
		store, _, _ := setup(t)
		assert.Equal(t, session.Unknown, store.Current().State)

		require.NoError(t, store.Init(ctx))
		assert.Equal(t, session.Anonymous, store.Current().State)
		assert.Nil(t, store.Current().Session)
	})

	t.Run("restored session", func(t *testing.T) {
		store, provider, _ := setup(t)
		provider.Restore(testutil.NewSession("u1", "a@b.co", "tok"))

		require.NoError(t, store.Init(ctx))
		snap := store.Current()
		assert.Equal(t, session.Authenticated, snap.State)
		assert.Equal(t, "u1", snap.UserID())
		assert.Equal(t, "tok", snap.AccessToken())
	})

	t.Run("notification during init wins", func(t *testing.T) {
		store, provider, _ := setup(t)
		provider.Restore(testutil.NewSession("u1", "a@b.co", "stale"))
		provider.GetSessionHook = func() {
			provider.GetSessionHook = nil
			provider.Emit(session.EventTokenRefreshed, testutil.NewSession("u1", "a@b.co", "fresh"))
		}

		require.NoError(t, store.Init(ctx))
		assert.Equal(t, "fresh", store.Current().AccessToken())
	})

	t.Run("only init leaves unknown", func(t *testing.T) {
		store, provider, _ := setup(t)
		provider.Emit(session.EventSignedIn, testutil.NewSession("u1", "a@b.co", "tok"))
		assert.Equal(t, session.Unknown, store.Current().State)

		require.NoError(t, store.Init(ctx))
		assert.Equal(t, session.Authenticated, store.Current().State)

		// a second Init is a no-op
		provider.Restore(nil)
		require.NoError(t, store.Init(ctx))
		assert.Equal(t, session.Authenticated, store.Current().State)
	})
}

func TestStore_Notifications(t *testing.T) {
	ctx := context.Background()
	store, provider, _ := setup(t)
	require.NoError(t, store.Init(ctx))

	var seen []session.Snapshot
	unsubscribe := store.Subscribe(func(s session.Snapshot) { seen = append(seen, s) })

	provider.Emit(session.EventSignedIn, testutil.NewSession("u1", "a@b.co", "t1"))
	provider.Emit(session.EventTokenRefreshed, testutil.NewSession("u1", "a@b.co", "t2"))
	provider.Emit(session.EventSignedOut, nil)

	require.Len(t, seen, 3)
	assert.Less(t, seen[0].Seq, seen[1].Seq)
	assert.Less(t, seen[1].Seq, seen[2].Seq)
	assert.Equal(t, seen[2].Seq, store.Current().Seq)
	assert.Equal(t, session.Authenticated, seen[0].State)
	assert.Equal(t, "t2", seen[1].AccessToken())
	assert.Equal(t, session.Anonymous, seen[2].State)
	assert.Equal(t, "", seen[2].UserID())

	unsubscribe()
	provider.Emit(session.EventSignedIn, testutil.NewSession("u2", "c@d.co", "t3"))
	assert.Len(t, seen, 3)
	assert.Equal(t, "u2", store.Current().UserID())
}

func TestStore_SendOTP(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		email     string
		sendErr   error
		wantValid bool
		wantErr   error
		wantEmail string
	}{
		{name: "ok", email: " siswa@sekolah.sch.id ", wantEmail: "siswa@sekolah.sch.id"},
		{name: "empty", email: "", wantValid: true},
		{name: "malformed", email: "siswa@", wantValid: true},
		{name: "provider error", email: "siswa@sekolah.sch.id", sendErr: errors.New("rate limited"), wantErr: errors.New("rate limited")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, provider, _ := setup(t)
			provider.SendErr = tt.sendErr

			err := store.SendOTP(ctx, tt.email)
			switch {
			case tt.wantValid:
				assert.True(t, core.IsValidation(err), "got %v", err)
				assert.Empty(t, provider.Sent())
			case tt.wantErr != nil:
				assert.EqualError(t, err, tt.wantErr.Error())
			default:
				require.NoError(t, err)
				assert.Equal(t, []string{tt.wantEmail}, provider.Sent())
			}

			got, err := store.OTPEmail(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEmail, got)
		})
	}
}

func TestStore_VerifyOTP(t *testing.T) {
	ctx := context.Background()
	const email = "siswa@sekolah.sch.id"

	t.Run("success clears pending email", func(t *testing.T) {
		store, _, _ := setup(t)
		require.NoError(t, store.Init(ctx))
		require.NoError(t, store.SendOTP(ctx, email))

		// pending email fills in the address
		require.NoError(t, store.VerifyOTP(ctx, "", "123456"))

		snap := store.Current()
		assert.Equal(t, session.Authenticated, snap.State)
		assert.Equal(t, "user:"+email, snap.UserID())

		got, err := store.OTPEmail(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("wrong code keeps pending email", func(t *testing.T) {
		store, _, _ := setup(t)
		require.NoError(t, store.Init(ctx))
		require.NoError(t, store.SendOTP(ctx, email))

		err := store.VerifyOTP(ctx, email, "654321")
		assert.True(t, errors.Is(err, testutil.ErrInvalidOTP))
		assert.Equal(t, session.Anonymous, store.Current().State)

		got, err := store.OTPEmail(ctx)
		require.NoError(t, err)
		assert.Equal(t, email, got)
	})

	t.Run("malformed code never reaches the provider", func(t *testing.T) {
		store, _, _ := setup(t)
		for _, code := range []string{"", "12345", "1234567", "12a456"} {
			err := store.VerifyOTP(ctx, email, code)
			assert.True(t, core.IsValidation(err), "code %q: got %v", code, err)
		}
	})

	t.Run("no address at all", func(t *testing.T) {
		store, _, _ := setup(t)
		err := store.VerifyOTP(ctx, "", "123456")
		assert.True(t, core.IsValidation(err))
	})
}

func TestStore_SignOut(t *testing.T) {
	ctx := context.Background()
	store, provider, storage := setup(t)
	provider.Restore(testutil.NewSession("u1", "a@b.co", "tok"))
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.SetOTPEmail(ctx, "a@b.co"))

	require.NoError(t, store.SignOut(ctx))
	assert.Equal(t, session.Anonymous, store.Current().State)

	_, err := storage.Get(ctx, core.KeyOTPEmail)
	assert.True(t, errors.Is(err, core.ErrKeyNotFound))
}

func TestStore_AdoptSession(t *testing.T) {
	ctx := context.Background()
	store, provider, _ := setup(t)
	require.NoError(t, store.Init(ctx))
	provider.RegisterToken("teacher-token", session.User{ID: "t1", Email: "guru@sekolah.sch.id"})

	assert.True(t, core.IsValidation(store.AdoptSession(ctx, "", "")))

	require.NoError(t, store.AdoptSession(ctx, "teacher-token", "teacher-refresh"))
	snap := store.Current()
	assert.Equal(t, "t1", snap.UserID())
	assert.Equal(t, "teacher-refresh", snap.Session.RefreshToken)
}
