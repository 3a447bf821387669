// Package supervisor is the process supervisor (spec §4.F): launches,
// monitors, and restarts the sibling data-plane processes hosted by each
// node, multiplexing their stdio into a ring-buffered log stream. Grounded
// on the teacher's exec-based process model (cuemby-warren's
// pkg/health/exec.go ExecChecker: os/exec.CommandContext + captured
// stdout/stderr), generalized here from a one-shot health-check command
// into a long-lived, restart-on-crash child process.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusCrashed  Status = "crashed"
)

// Config is the register() argument of spec §4.F.
type Config struct {
	Name    string
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

// ServiceStatus is the service state of spec §3.
type ServiceStatus struct {
	Name         string
	Status       Status
	Pid          int
	StartTime    time.Time
	LastExitCode int
	RestartCount int
}

// StatusChangeHandler is invoked whenever a service's status field changes.
type StatusChangeHandler func(name string, status ServiceStatus)

type service struct {
	cfg Config

	mu           sync.Mutex
	status       Status
	pid          int
	startTime    time.Time
	lastExitCode int
	restartCount int
	manualStop   bool

	cmd        *exec.Cmd
	restartTmr *time.Timer
}

// Supervisor manages a small set of sibling processes launched from the
// same binary's host (spec §4.F).
type Supervisor struct {
	maxRestarts int

	mu       sync.Mutex
	services map[string]*service
	onChange StatusChangeHandler

	logs *logRing

	shuttingDown bool
}

func New(maxRestarts, maxLogBuffer int) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = cmn.DefaultMaxRestarts
	}
	if maxLogBuffer <= 0 {
		maxLogBuffer = cmn.DefaultMaxLogBuffer
	}
	return &Supervisor{
		maxRestarts: maxRestarts,
		services:    make(map[string]*service),
		logs:        newLogRing(maxLogBuffer),
	}
}

func (s *Supervisor) Register(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[cfg.Name] = &service{cfg: cfg, status: StatusStopped}
}

func (s *Supervisor) SetStatusChangeHandler(h StatusChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = h
}

func (s *Supervisor) getService(name string) (*service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[name]
	return svc, ok
}

func (s *Supervisor) notify(name string) {
	s.refreshStatusGauge()
	s.mu.Lock()
	h := s.onChange
	s.mu.Unlock()
	if h == nil {
		return
	}
	h(name, s.GetStatus(name))
}

func (s *Supervisor) refreshStatusGauge() {
	counts := map[Status]int{StatusStopped: 0, StatusStarting: 0, StatusRunning: 0, StatusCrashed: 0}
	for _, st := range s.GetAllStatus() {
		counts[st.Status]++
	}
	for status, n := range counts {
		metrics.SupervisedServicesTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

// Start launches the named service (spec §4.F: "obeys the configured
// command, args, cwd, and merged environment").
func (s *Supervisor) Start(name string) error {
	svc, ok := s.getService(name)
	if !ok {
		return cmn.NotFoundf("service %s not registered", name)
	}
	return s.start(svc)
}

func (s *Supervisor) start(svc *service) error {
	log := cmn.Component("supervisor")

	svc.mu.Lock()
	if svc.status == StatusStarting || svc.status == StatusRunning {
		svc.mu.Unlock()
		return nil
	}
	svc.manualStop = false
	svc.status = StatusStarting
	svc.mu.Unlock()
	s.notify(svc.cfg.Name)

	cmdCtx := context.Background()
	cmd := exec.CommandContext(cmdCtx, svc.cfg.Command, svc.cfg.Args...)
	cmd.Dir = svc.cfg.Cwd
	cmd.Env = mergedEnv(svc.cfg.Env)
	// process-tree killer: put the child in its own process group so
	// Stop() can signal every descendant (spec §4.F stop semantics).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "stdout pipe for "+svc.cfg.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return cmn.Wrap(cmn.KindInternal, "stderr pipe for "+svc.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		svc.mu.Lock()
		svc.status = StatusStopped
		svc.mu.Unlock()
		s.notify(svc.cfg.Name)
		return cmn.Wrap(cmn.KindInternal, "start "+svc.cfg.Name, err)
	}

	svc.mu.Lock()
	svc.cmd = cmd
	svc.pid = cmd.Process.Pid
	svc.startTime = time.Now()
	svc.status = StatusRunning
	svc.mu.Unlock()
	s.notify(svc.cfg.Name)
	log.Info().Str("service", svc.cfg.Name).Int("pid", svc.pid).Msg("service started")

	go s.pumpLines(svc.cfg.Name, "info", stdout)
	go s.pumpLines(svc.cfg.Name, "error", stderr)
	go s.awaitExit(svc)
	return nil
}

func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (s *Supervisor) pumpLines(name, level string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.AddLog(name, level, scanner.Text())
	}
}

// awaitExit implements spec §4.F's child exit(code, signal) handling:
// update state to stopped with lastExitCode; restart unless manually
// stopped, shutting down, or over MAX_RESTARTS.
func (s *Supervisor) awaitExit(svc *service) {
	log := cmn.Component("supervisor")
	err := svc.cmd.Wait()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	svc.mu.Lock()
	svc.status = StatusStopped
	svc.lastExitCode = exitCode
	manualStop := svc.manualStop
	svc.mu.Unlock()
	s.notify(svc.cfg.Name)

	s.mu.Lock()
	shuttingDown := s.shuttingDown
	s.mu.Unlock()

	if exitCode == 0 || manualStop || shuttingDown {
		return
	}

	svc.mu.Lock()
	restartCount := svc.restartCount + 1
	if restartCount > s.maxRestarts {
		svc.mu.Unlock()
		log.Warn().Str("service", svc.cfg.Name).Int("restartCount", svc.restartCount).
			Msg("restart budget exceeded, giving up")
		return
	}
	svc.restartCount = restartCount
	svc.mu.Unlock()

	log.Warn().Str("service", svc.cfg.Name).Int("exitCode", exitCode).Int("attempt", restartCount).
		Msg("service exited, scheduling restart")
	metrics.ServiceRestartsTotal.WithLabelValues(svc.cfg.Name).Inc()
	svc.mu.Lock()
	svc.restartTmr = time.AfterFunc(2*time.Second, func() { s.start(svc) })
	svc.mu.Unlock()
}

// Stop marks the service stopped (suppressing auto-restart) then signals
// its process group (spec §4.F stop semantics).
func (s *Supervisor) Stop(name string) error {
	svc, ok := s.getService(name)
	if !ok {
		return cmn.NotFoundf("service %s not registered", name)
	}
	return s.stop(svc)
}

func (s *Supervisor) stop(svc *service) error {
	svc.mu.Lock()
	svc.manualStop = true
	svc.status = StatusStopped
	cmd := svc.cmd
	pid := svc.pid
	if svc.restartTmr != nil {
		svc.restartTmr.Stop()
	}
	svc.mu.Unlock()
	s.notify(svc.cfg.Name)

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	// negative pid targets the whole process group (Setpgid above).
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	return nil
}

func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for n := range s.services {
		names = append(names, n)
	}
	s.mu.Unlock()
	for _, n := range names {
		if err := s.Start(n); err != nil {
			return err
		}
	}
	return nil
}

// StopAll is invoked on SIGINT/SIGTERM (spec §4.F).
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.shuttingDown = true
	names := make([]string, 0, len(s.services))
	for n := range s.services {
		names = append(names, n)
	}
	s.mu.Unlock()
	for _, n := range names {
		_ = s.Stop(n)
	}
}

// KillAll synchronously SIGKILLs every live child, the last resort on host
// process exit (spec §4.F).
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	services := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	s.mu.Unlock()
	for _, svc := range services {
		svc.mu.Lock()
		pid := svc.pid
		alive := svc.status == StatusRunning || svc.status == StatusStarting
		svc.mu.Unlock()
		if alive && pid != 0 {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		}
	}
}

func (s *Supervisor) GetStatus(name string) ServiceStatus {
	svc, ok := s.getService(name)
	if !ok {
		return ServiceStatus{Name: name, Status: StatusStopped}
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return ServiceStatus{
		Name: svc.cfg.Name, Status: svc.status, Pid: svc.pid,
		StartTime: svc.startTime, LastExitCode: svc.lastExitCode, RestartCount: svc.restartCount,
	}
}

func (s *Supervisor) GetAllStatus() []ServiceStatus {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for n := range s.services {
		names = append(names, n)
	}
	s.mu.Unlock()
	out := make([]ServiceStatus, 0, len(names))
	for _, n := range names {
		out = append(out, s.GetStatus(n))
	}
	return out
}

// ResetRestartCounts implements spec §4.F / S6: clears every service's
// restartCount so a call to start() can resume the restart cycle.
func (s *Supervisor) ResetRestartCounts() {
	s.mu.Lock()
	services := make([]*service, 0, len(s.services))
	for _, svc := range s.services {
		services = append(services, svc)
	}
	s.mu.Unlock()
	for _, svc := range services {
		svc.mu.Lock()
		svc.restartCount = 0
		svc.mu.Unlock()
	}
}

func (s *Supervisor) AddLog(source, level, msg string) {
	s.logs.add(logEntry{Timestamp: time.Now(), Level: level, Source: source, Message: msg})
}

func (s *Supervisor) GetLogs() []logEntry {
	return s.logs.snapshot()
}
