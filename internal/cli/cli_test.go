package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tiger4589/cqrs-lib"
	"github.com/tiger4589/cqrs-lib/internal/user"
	"github.com/tiger4589/cqrs-lib/internal/user/storage/memory"
	"go.uber.org/zap/zaptest"
)

func testOptions(t *testing.T) Options {
	t.Helper()

	log := zaptest.NewLogger(t)
	b := cqrs.NewBuilder()
	user.Register(b, user.Dependencies{Repository: memory.New(), Log: log})
	reg, err := b.Build()
	require.NoError(t, err)
	return Options{Dispatcher: cqrs.NewDispatcher(reg), Log: log, HTTPAddr: "127.0.0.1:0"}
}

func run(t *testing.T, opts Options, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := NewRootCommand(opts)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCommands(t *testing.T) {
	opts := testOptions(t)

	out, err := run(t, opts, "user", "add", "--name", "Ada", "--email", "ada@example.com")
	require.NoError(t, err)
	var added struct{ ID uuid.UUID }
	require.NoError(t, json.Unmarshal([]byte(out), &added))
	require.NotEqual(t, uuid.Nil, added.ID)

	out, err = run(t, opts, "user", "get", added.ID.String())
	require.NoError(t, err)
	var got user.GetUserQueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Ada", got.Name)

	out, err = run(t, opts, "user", "list")
	require.NoError(t, err)
	var all user.GetUsersQueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	assert.Len(t, all.Users, 1)

	_, err = run(t, opts, "user", "delete", added.ID.String())
	require.NoError(t, err)

	_, err = run(t, opts, "user", "get", added.ID.String())
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestUserCommandErrors(t *testing.T) {
	opts := testOptions(t)

	_, err := run(t, opts, "user", "get", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid user id")

	_, err = run(t, opts, "user", "add")
	assert.Error(t, err)

	_, err = run(t, opts, "user", "add", "--name", " ")
	assert.ErrorIs(t, err, user.ErrInvalidName)
}

func TestDispatchCommand(t *testing.T) {
	opts := testOptions(t)

	out, err := run(t, opts, "dispatch", "AddUserCommand", `{"name":"Grace"}`)
	require.NoError(t, err)
	var id uuid.UUID
	require.NoError(t, json.Unmarshal([]byte(out), &id))

	out, err = run(t, opts, "dispatch", "GetUserQuery", `{"id":"`+id.String()+`"}`)
	require.NoError(t, err)
	var got user.GetUserQueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Grace", got.Name)

	out, err = run(t, opts, "dispatch", "DeleteUserCommand", `{"id":"`+id.String()+`"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, out)

	_, err = run(t, opts, "dispatch", "NoSuchCommand")
	assert.ErrorIs(t, err, cqrs.ErrHandlerNotFound)

	_, err = run(t, opts, "dispatch", "AddUserCommand", `{`)
	assert.Error(t, err)
}

func TestHandlersCommand(t *testing.T) {
	out, err := run(t, testOptions(t), "handlers")
	require.NoError(t, err)
	assert.Equal(t, "AddUserCommand\nDeleteUserCommand\nGetUserQuery\nGetUsersQuery\n", out)
}

func TestServeStopsOnCancel(t *testing.T) {
	root := NewRootCommand(testOptions(t))
	root.SetArgs([]string{"serve"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
