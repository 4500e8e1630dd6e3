package failurepolicy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bastelbude1/parallelr/internal/task"
)

func TestPolicy_DisabledAlwaysContinues(t *testing.T) {
	p := New(false, 1, 0.0, 1)
	for i := 0; i < 10; i++ {
		require.Equal(t, Continue, p.Observe(task.StatusFailed))
	}
}

func TestPolicy_StopsOnConsecutiveFailures(t *testing.T) {
	p := New(true, 3, 1.0, 1000)
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
}

func TestPolicy_SuccessResetsConsecutive(t *testing.T) {
	p := New(true, 2, 1.0, 1000)
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Continue, p.Observe(task.StatusSuccess))
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
}

func TestPolicy_CancelledDoesNotResetOrCount(t *testing.T) {
	p := New(true, 2, 1.0, 1000)
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Continue, p.Observe(task.StatusCancelled))
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
}

func TestPolicy_LaunchErrorCountsAsFailure(t *testing.T) {
	p := New(true, 2, 1.0, 1000)
	require.Equal(t, Continue, p.Observe(task.StatusLaunchError))
	require.Equal(t, Stop, p.Observe(task.StatusLaunchError))
}

func TestPolicy_StopsOnFailureRate(t *testing.T) {
	p := New(true, 1000, 0.5, 2)
	require.Equal(t, Continue, p.Observe(task.StatusSuccess))
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	// total=2, failures=1, rate=0.5, not > 0.5 yet.
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
	// total=3, failures=2, rate=0.667 > 0.5.
}

func TestPolicy_RateCheckRequiresMinimumTasks(t *testing.T) {
	p := New(true, 1000, 0.1, 5)
	for i := 0; i < 4; i++ {
		require.Equal(t, Continue, p.Observe(task.StatusFailed))
	}
}

func TestPolicy_Monotonicity(t *testing.T) {
	p := New(true, 2, 1.0, 1000)
	require.Equal(t, Continue, p.Observe(task.StatusFailed))
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
	// Once stopped, every subsequent outcome is still Stop.
	require.Equal(t, Stop, p.Observe(task.StatusSuccess))
	require.Equal(t, Stop, p.Observe(task.StatusFailed))
	require.True(t, p.Stopped())
}
