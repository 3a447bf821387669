package supervisor

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpod/core/cmn"
)

// InstallSignalHandlers wires SIGINT/SIGTERM to a graceful StopAll, with a
// KillAll fallback if services haven't exited within the grace period
// (spec §4.F: interrupt triggers shutdown, SIGKILL is the last resort).
func (s *Supervisor) InstallSignalHandlers(grace time.Duration) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		log := cmn.Component("supervisor")
		log.Info().Msg("shutdown signal received, stopping services")
		s.StopAll()

		done := make(chan struct{})
		go func() {
			for {
				if allStopped(s.GetAllStatus()) {
					close(done)
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
		}()

		select {
		case <-done:
		case <-time.After(grace):
			log.Warn().Msg("grace period elapsed, killing remaining services")
			s.KillAll()
		}
	}()
}

func allStopped(statuses []ServiceStatus) bool {
	for _, st := range statuses {
		if st.Status != StatusStopped {
			return false
		}
	}
	return true
}
