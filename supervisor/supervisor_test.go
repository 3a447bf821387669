package supervisor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartRunsProcessThenReportsStopped(t *testing.T) {
	s := New(5, 100)
	s.Register(Config{Name: "sleeper", Command: "/bin/sh", Args: []string{"-c", "sleep 0.2; exit 0"}})

	require.NoError(t, s.Start("sleeper"))
	require.Eventually(t, func() bool {
		return s.GetStatus("sleeper").Status == StatusRunning
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		st := s.GetStatus("sleeper")
		return st.Status == StatusStopped && st.LastExitCode == 0
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, 0, s.GetStatus("sleeper").RestartCount)
}

func TestStatusChangeHandlerFiresOnTransitions(t *testing.T) {
	s := New(5, 100)
	s.Register(Config{Name: "quick", Command: "/bin/sh", Args: []string{"-c", "exit 0"}})

	var mu sync.Mutex
	var seen []Status
	s.SetStatusChangeHandler(func(name string, st ServiceStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.Status)
	})

	require.NoError(t, s.Start("quick"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, st := range seen {
			if st == StatusStopped {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seen, StatusStarting)
	require.Contains(t, seen, StatusRunning)
	require.Contains(t, seen, StatusStopped)
}

func TestStopSuppressesAutoRestart(t *testing.T) {
	s := New(5, 100)
	s.Register(Config{Name: "long", Command: "/bin/sh", Args: []string{"-c", "sleep 5"}})

	require.NoError(t, s.Start("long"))
	require.Eventually(t, func() bool {
		return s.GetStatus("long").Status == StatusRunning
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop("long"))
	require.Eventually(t, func() bool {
		return s.GetStatus("long").Status == StatusStopped
	}, time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 0, s.GetStatus("long").RestartCount)
}

// S6 — a service that always exits non-zero gets restarted with a 2s delay
// each time, until it exceeds MAX_RESTARTS, at which point the supervisor
// gives up and leaves it stopped with restartCount == maxRestarts.
func TestRestartWithBackoffStopsAtBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping long restart-backoff test in short mode")
	}
	s := New(2, 100)
	s.Register(Config{Name: "flaky", Command: "/bin/sh", Args: []string{"-c", "exit 1"}})

	require.NoError(t, s.Start("flaky"))

	require.Eventually(t, func() bool {
		st := s.GetStatus("flaky")
		return st.Status == StatusStopped && st.RestartCount == 2
	}, 8*time.Second, 50*time.Millisecond)

	// no further restarts should be scheduled past the budget.
	time.Sleep(2200 * time.Millisecond)
	st := s.GetStatus("flaky")
	require.Equal(t, StatusStopped, st.Status)
	require.Equal(t, 2, st.RestartCount)
	require.Equal(t, 1, st.LastExitCode)

	s.ResetRestartCounts()
	require.Equal(t, 0, s.GetStatus("flaky").RestartCount)
	require.NoError(t, s.Start("flaky"))
	require.Eventually(t, func() bool {
		return s.GetStatus("flaky").Status == StatusStopped
	}, time.Second, 20*time.Millisecond)
}

func TestGetAllStatusReturnsEveryRegisteredService(t *testing.T) {
	s := New(5, 100)
	s.Register(Config{Name: "a", Command: "/bin/sh", Args: []string{"-c", "exit 0"}})
	s.Register(Config{Name: "b", Command: "/bin/sh", Args: []string{"-c", "exit 0"}})

	all := s.GetAllStatus()
	require.Len(t, all, 2)
}

func TestLogRingCapsAtCapacityOldestFirst(t *testing.T) {
	s := New(5, 3)
	for i := 0; i < 5; i++ {
		s.AddLog("svc", "info", string(rune('a'+i)))
	}
	logs := s.GetLogs()
	require.Len(t, logs, 3)
	require.Equal(t, "c", logs[0].Message)
	require.Equal(t, "d", logs[1].Message)
	require.Equal(t, "e", logs[2].Message)
}

func TestStartUnregisteredServiceReturnsNotFound(t *testing.T) {
	s := New(5, 10)
	err := s.Start("ghost")
	require.Error(t, err)
}
