package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/projecthub/services/auth/client/session"
)

func TestVersionCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "authcli version "+version+"\n", out.String())
}

func TestLogoutCommand_RequiresAToken(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"logout"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--access-token")
}

func TestLoginCommand_RequiresPassword(t *testing.T) {
	t.Setenv("AUTHCLI_PASSWORD", "")
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"login", "--email", "a@example.com"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password required")
}

func TestLineSource(t *testing.T) {
	src := &lineSource{}
	var got []session.Event

	unsubscribe := src.Subscribe(session.DefaultEvents(), func(e session.Event) { got = append(got, e) })
	src.emit()
	src.emit()
	unsubscribe()
	src.emit()

	require.Len(t, got, 2)
	assert.Equal(t, session.EventKeyDown, got[0].Name)
	assert.True(t, got[0].Trusted)
}

func TestLineSource_IgnoresSubscriptionsWithoutKeyDown(t *testing.T) {
	src := &lineSource{}
	calls := 0
	src.Subscribe([]session.EventName{session.EventClick}, func(session.Event) { calls++ })
	src.emit()
	assert.Zero(t, calls)
}
