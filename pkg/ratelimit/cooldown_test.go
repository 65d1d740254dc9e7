package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommandCooldownDebouncesWarningsOverWindow(t *testing.T) {
	clock := newMovableClock()
	c := NewCommandCooldown(300*time.Second, 600*time.Second, []string{"gryagprofile"}, clock.now)

	d := c.Check("gryagprofile", 1, false)
	require.True(t, d.Allowed)

	clock.advance(60 * time.Second)
	d = c.Check("gryagprofile", 1, false)
	require.False(t, d.Allowed)
	require.True(t, d.ShouldWarn)
	require.InDelta(t, 240*time.Second, d.RetryAfter, float64(time.Second))

	clock.advance(100 * time.Second) // t=160, still within cooldown and within warn window
	d = c.Check("gryagprofile", 1, false)
	require.False(t, d.Allowed)
	require.False(t, d.ShouldWarn, "second violation within the warn window must be silent")

	clock.advance(140 * time.Second) // t=300, cooldown expired
	d = c.Check("gryagprofile", 1, false)
	require.True(t, d.Allowed)
}

func TestCommandCooldownAdminBypasses(t *testing.T) {
	clock := newMovableClock()
	c := NewCommandCooldown(300*time.Second, 600*time.Second, []string{"gryagban"}, clock.now)

	require.True(t, c.Check("gryagban", 1, true).Allowed)
	clock.advance(time.Second)
	require.True(t, c.Check("gryagban", 1, true).Allowed)
}

func TestCommandCooldownNonWhitelistedPassesThrough(t *testing.T) {
	clock := newMovableClock()
	c := NewCommandCooldown(300*time.Second, 600*time.Second, []string{"gryagban"}, clock.now)

	require.True(t, c.Check("stats", 1, false).Allowed)
	require.True(t, c.Check("stats", 1, false).Allowed)
}

func TestCommandCooldownTracksUsersIndependently(t *testing.T) {
	clock := newMovableClock()
	c := NewCommandCooldown(300*time.Second, 600*time.Second, []string{"gryagprofile"}, clock.now)

	require.True(t, c.Check("gryagprofile", 1, false).Allowed)
	require.True(t, c.Check("gryagprofile", 2, false).Allowed)
}

func TestParseCommandExtractsMentionedBot(t *testing.T) {
	cmd, bot, ok := ParseCommand("/stats@other_bot arg1")
	require.True(t, ok)
	require.Equal(t, "stats", cmd)
	require.Equal(t, "other_bot", bot)

	cmd, bot, ok = ParseCommand("/gryagprofile")
	require.True(t, ok)
	require.Equal(t, "gryagprofile", cmd)
	require.Empty(t, bot)

	_, _, ok = ParseCommand("not a command")
	require.False(t, ok)
}

func TestForThisBotRejectsOtherBotMentions(t *testing.T) {
	require.True(t, ForThisBot("", "gryag_bot"))
	require.True(t, ForThisBot("gryag_bot", "gryag_bot"))
	require.False(t, ForThisBot("other_bot", "gryag_bot"))
}
