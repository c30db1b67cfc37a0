// Package restart arms the one-shot deferred device restart that follows a
// committed firmware update.
package restart

import (
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Scheduler owns the process-wide restart timer. It is deliberately detached
// from any request lifetime: the HTTP handler that arms it returns long
// before the action fires, and nothing cancels an armed timer.
type Scheduler struct {
	logger *slog.Logger
	action func()

	mu    sync.Mutex
	timer *time.Timer
}

func NewScheduler(logger *slog.Logger, action func()) *Scheduler {
	return &Scheduler{logger: logger, action: action}
}

// Arm schedules the restart action to run once after delay. Arming while a
// previous timer is pending is last-wins: the new handle replaces the old
// one, the old timer is not cancelled.
func (s *Scheduler) Arm(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.logger.Warn("restart already armed, arming again", "delay", delay.String())
	} else {
		s.logger.Info("restart armed", "delay", delay.String())
	}

	s.timer = time.AfterFunc(delay, func() {
		s.logger.Info("restarting device")
		s.action()
	})
}

// Armed reports whether a restart has been scheduled at least once.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timer != nil
}

// Command returns a restart action that runs the given shell command, for
// wiring the scheduler to the platform reboot primitive.
func Command(logger *slog.Logger, command string) func() {
	return func() {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			logger.Error("restart command is empty")

			return
		}

		if err := exec.Command(fields[0], fields[1:]...).Run(); err != nil {
			logger.Error("restart command failed", "command", command, "err", err)
		}
	}
}
