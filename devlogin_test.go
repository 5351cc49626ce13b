//go:build accessdev

package access_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/goliatone/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDevLoginForcesAdmin(t *testing.T) {
	provider := newFakeAuthProvider(nil)
	sink := &recordingSink{}
	sm := newTestMachine(t, provider, &MockProfileStore{}, access.WithStateMachineActivitySink(sink))
	require.NoError(t, sm.Start(context.Background()))

	state := sm.DevLogin("dev@nouriva.test")

	assert.True(t, access.DevLoginAvailable)
	assert.Equal(t, access.RoleAdmin, state.Role)
	assert.Equal(t, "dev@nouriva.test", state.Email())
	assert.True(t, state.Settled())
	assert.Equal(t, state, sm.GetState())
	assert.Equal(t, 0, provider.signOutCalls)
	assert.Contains(t, sink.Types(), access.ActivityEventDevLogin)

	again := sm.DevLogin("dev@nouriva.test")
	assert.Equal(t, state.UserID(), again.UserID(), "dev identity id is stable per email")

	require.NoError(t, sm.SignOut(context.Background()))
	assert.Equal(t, access.RoleGuest, sm.GetState().Role)
}

func TestDevLoginPostLandsOnAdmin(t *testing.T) {
	f := newAppFixture(t)

	ctx := new(MockContext)
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		args.Get(0).(*access.DevLoginRequest).Email = "dev@nouriva.test"
	}).Return(nil)
	payload := captureJSON(ctx, http.StatusOK)

	require.NoError(t, f.controller.DevLoginPost(ctx))

	body := (*payload).(map[string]any)
	assert.Equal(t, access.DefaultAdminRoute, body["redirect_to"])
	assert.Equal(t, access.RoleAdmin, body["state"].(access.AccessState).Role)
}
