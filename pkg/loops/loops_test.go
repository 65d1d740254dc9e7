package loops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsInvalidSchedule(t *testing.T) {
	s := New(zerolog.Nop())
	err := s.Register(Job{Name: "bad", Schedule: "not a cron expression", Run: func(context.Context) error { return nil }})
	require.Error(t, err)
}

func TestRunAllOnceRunsEveryRegisteredJob(t *testing.T) {
	s := New(zerolog.Nop())
	var ran1, ran2 bool

	require.NoError(t, s.Register(Job{Name: "a", Schedule: "@daily", Run: func(context.Context) error {
		ran1 = true
		return nil
	}}))
	require.NoError(t, s.Register(Job{Name: "b", Schedule: "@hourly", Run: func(context.Context) error {
		ran2 = true
		return nil
	}}))

	require.NoError(t, s.RunAllOnce(context.Background()))
	require.True(t, ran1)
	require.True(t, ran2)
}

func TestRunAllOnceSurfacesFirstError(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Register(Job{Name: "failing", Schedule: "@daily", Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	err := s.RunAllOnce(context.Background())
	require.Error(t, err)
}

func TestStartAndStopRunsTickWithoutPanicking(t *testing.T) {
	s := New(zerolog.Nop())
	ticked := make(chan struct{}, 1)
	require.NoError(t, s.Register(Job{Name: "tick", Schedule: "@every 10ms", Run: func(context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	}}))

	s.Start()
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one tick")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestJobsReturnsRegisteredCopies(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.Register(Job{Name: "a", Schedule: "@daily", Run: func(context.Context) error { return nil }}))
	require.Len(t, s.Jobs(), 1)
	require.Equal(t, "a", s.Jobs()[0].Name)
}
