// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package supervisor spawns, monitors, and restarts the sa-solver
// subprocesses, fanning their solutions and status reports in and fanning
// job lines out to every live instance.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btclog"
	"golang.org/x/sys/unix"

	"github.com/toole-brendan/zecminer/internal/solverline"
)

// log is a logger that is initialized with no output filters.
var log btclog.Logger

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

const readyBanner = "SILENTARMY mining mode ready"

// EventKind identifies the shape of an Event fanned in from solver stdout.
type EventKind int

const (
	EvSol EventKind = iota
	EvStatus
	EvMsg
)

// Event is a devid-tagged occurrence read from one solver's stdout.
type Event struct {
	Kind  EventKind
	Devid string

	JobID          string
	NTime          string
	NonceRightPart string
	Sol            string

	SolsFound   int
	SharesFound int

	Line string
}

// proc is one live solver subprocess.
type proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// launchedProc is what a procLauncher hands back for one spawned solver:
// the command handle, its stdin, and a single reader that already carries
// the merged stdout+stderr stream.
type launchedProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// procLauncher starts one solver subprocess. It exists as a seam so tests
// can substitute a fake solver without touching a real binary, the way
// mining/mobilex/npu.NPUAdapter abstracts a hardware backend behind an
// interface.
type procLauncher interface {
	Launch(solverPath string, gpu int) (*launchedProc, error)
}

// osLauncher is the real procLauncher, backed by os/exec.
type osLauncher struct{}

func (osLauncher) Launch(solverPath string, gpu int) (*launchedProc, error) {
	cmd := exec.Command(solverPath, "--mining", "--use", fmt.Sprintf("%d", gpu))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	// Merge stderr into stdout by sharing one pipe's write end between both,
	// the way tor/tor.go wires its child's combined output, but here we keep
	// our own read end so each solver line can be parsed.
	pr, pw, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		stdin.Close()
		return nil, err
	}
	pw.Close() // our copy; the child's copy keeps the pipe open until it exits

	return &launchedProc{cmd: cmd, stdin: stdin, stdout: pr}, nil
}

// Supervisor owns the fleet of sa-solver subprocesses.
type Supervisor struct {
	solverPath string
	gpuIDs     []int
	instances  int
	launcher   procLauncher

	events chan Event

	mu   sync.Mutex
	live map[string]*proc
}

// New creates a Supervisor for the given solver binary, GPU id set, and
// instance count per GPU.
func New(solverPath string, gpuIDs []int, instances int) *Supervisor {
	return newWithLauncher(solverPath, gpuIDs, instances, osLauncher{})
}

func newWithLauncher(solverPath string, gpuIDs []int, instances int, launcher procLauncher) *Supervisor {
	return &Supervisor{
		solverPath: solverPath,
		gpuIDs:     gpuIDs,
		instances:  instances,
		launcher:   launcher,
		events:     make(chan Event, 256),
		live:       make(map[string]*proc),
	}
}

// Events returns the channel of devid-tagged solver events.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Devids returns every devid in the configured GPU × instance product, in a
// stable order.
func (s *Supervisor) Devids() []string {
	devids := make([]string, 0, len(s.gpuIDs)*s.instances)
	for _, gpu := range s.gpuIDs {
		for inst := 0; inst < s.instances; inst++ {
			devids = append(devids, devid(gpu, inst))
		}
	}
	return devids
}

func devid(gpu, inst int) string {
	return fmt.Sprintf("%d.%d", gpu, inst)
}

// EnsureLive spawns a solver for every configured devid that does not
// currently have a live process.
func (s *Supervisor) EnsureLive() {
	for _, gpu := range s.gpuIDs {
		for inst := 0; inst < s.instances; inst++ {
			id := devid(gpu, inst)

			s.mu.Lock()
			_, ok := s.live[id]
			s.mu.Unlock()
			if ok {
				continue
			}

			if err := s.spawn(id, gpu); err != nil {
				log.Errorf("%s: spawn failed: %v", id, err)
			}
		}
	}
}

// spawn launches sa-solver for one devid, performs the banner handshake, and
// starts its reader goroutine. A missing binary terminates the whole process
// with exit code 1 without raising through the async machinery.
func (s *Supervisor) spawn(id string, gpu int) error {
	lp, err := s.launcher.Launch(s.solverPath, gpu)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, exec.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "zecminer: solver binary %q not found\n", s.solverPath)
			os.Exit(1)
		}
		return fmt.Errorf("start: %w", err)
	}
	cmd, stdin, pr := lp.cmd, lp.stdin, lp.stdout

	reader := bufio.NewReader(pr)
	banner, err := reader.ReadString('\n')
	if err != nil || trimBanner(banner) != readyBanner {
		log.Errorf("%s: banner mismatch (%q), killing", id, trimBanner(banner))
		killGroup(cmd)
		cmd.Wait()
		stdin.Close()
		pr.Close()
		return fmt.Errorf("banner mismatch")
	}

	p := &proc{cmd: cmd, stdin: stdin}

	s.mu.Lock()
	s.live[id] = p
	s.mu.Unlock()

	go s.readLoop(id, reader, pr)

	log.Infof("%s: solver ready (pid %d)", id, cmd.Process.Pid)
	return nil
}

func trimBanner(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// readLoop reads stdout lines until EOF. It is the sole reader of this
// solver's stdout.
func (s *Supervisor) readLoop(id string, reader *bufio.Reader, pr io.Closer) {
	for {
		raw, err := reader.ReadString('\n')
		if len(raw) > 0 {
			s.dispatchLine(id, raw)
		}
		if err != nil {
			break
		}
	}

	s.mu.Lock()
	p, ok := s.live[id]
	if ok {
		delete(s.live, id)
	}
	s.mu.Unlock()

	if ok {
		err := p.cmd.Wait()
		log.Warnf("%s: solver exited (%v), removed from live set", id, err)
		pr.Close()
	}
}

func (s *Supervisor) dispatchLine(id string, raw string) {
	rec, err := solverline.Parse(raw)
	if err != nil {
		log.Warnf("%s: %v", id, err)
		return
	}

	switch rec.Kind {
	case solverline.KindSol:
		s.events <- Event{Kind: EvSol, Devid: id, JobID: rec.JobID, NTime: rec.NTime, NonceRightPart: rec.NonceRightPart, Sol: rec.Sol}
	case solverline.KindStatus:
		s.events <- Event{Kind: EvStatus, Devid: id, SolsFound: rec.SolsFound, SharesFound: rec.SharesFound}
	case solverline.KindMsg:
		log.Debugf("%s: %s", id, rec.Line)
		s.events <- Event{Kind: EvMsg, Devid: id, Line: rec.Line}
	}
}

// DispatchJob writes the formatted job line to every live solver's stdin.
// Writes are best-effort: a closed pipe is logged and the instance marked
// dead so the next EnsureLive call relaunches it.
func (s *Supervisor) DispatchJob(line string) {
	s.mu.Lock()
	targets := make(map[string]*proc, len(s.live))
	for id, p := range s.live {
		targets[id] = p
	}
	s.mu.Unlock()

	for id, p := range targets {
		if _, err := io.WriteString(p.stdin, line); err != nil {
			log.Warnf("%s: stdin write failed: %v, marking dead", id, err)
			s.mu.Lock()
			delete(s.live, id)
			s.mu.Unlock()
			killGroup(p.cmd)
			go p.cmd.Wait()
		}
	}
}

// LiveCount returns the number of solvers currently believed live.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// closeTimeout bounds how long Close waits for killed solvers to be
// reaped before returning anyway.
const closeTimeout = 5 * time.Second

// Close terminates every live solver's process group and waits briefly for
// each to exit. Grounded on tor/tor.go's Stop(): Process.Kill() + Wait(),
// extended to the whole group since a solver may fork its own children. The
// wait is bounded by closeTimeout so a wedged child cannot hang shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	procs := make([]*proc, 0, len(s.live))
	for _, p := range s.live {
		procs = append(procs, p)
	}
	s.live = make(map[string]*proc)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *proc) {
			defer wg.Done()
			killGroup(p.cmd)
			p.cmd.Wait()
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		log.Warnf("close: timed out after %s waiting for solvers to exit", closeTimeout)
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
