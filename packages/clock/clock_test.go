package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeRecordsSleeps(t *testing.T) {
	c := &Fake{}
	start := c.Now()

	require.NoError(t, Sleep(context.Background(), c, 5*time.Second))
	require.NoError(t, Sleep(context.Background(), c, 0))
	c.Sleep(time.Second)
	c.Advance(time.Minute)

	require.Equal(t, []time.Duration{5 * time.Second, time.Second}, c.Sleeps())
	require.Equal(t, 66*time.Second, Since(c, start))
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, &Fake{}, 0)
	require.ErrorIs(t, err, context.Canceled)
}
