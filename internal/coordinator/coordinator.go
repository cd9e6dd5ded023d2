// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package coordinator owns the current work unit, gates solver dispatch on
// its preconditions, forwards solver solutions back to the pool, and prints
// periodic throughput statistics.
package coordinator

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/toole-brendan/zecminer/internal/solverline"
	"github.com/toole-brendan/zecminer/internal/stratumclient"
	"github.com/toole-brendan/zecminer/internal/stratumcodec"
	"github.com/toole-brendan/zecminer/internal/supervisor"
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

const statsInterval = 5 * time.Second

// workUnit is the header material needed to dispatch a job, assembled once
// per mining.notify and held until replaced by the next one.
type workUnit struct {
	jobID        string
	headerPrefix []byte
}

// Coordinator merges the Stratum session's events with the solver fleet's
// events, gates dispatch on the four preconditions, and reports throughput.
type Coordinator struct {
	client *stratumclient.Client
	sup    *supervisor.Supervisor
	user   string

	mu           sync.Mutex
	nonceLeft    []byte
	nonceLeftSet bool
	target       []byte
	targetSet    bool
	work         *workUnit
	authorized   bool

	acceptedShares int

	firstDispatch sync.Once

	statsMu  sync.Mutex
	counters map[string]Counters
	window   StatsWindow
	haveJob  bool
}

// New creates a Coordinator wiring a Stratum client to a solver supervisor
// for the given worker name.
func New(client *stratumclient.Client, sup *supervisor.Supervisor, user string) *Coordinator {
	return &Coordinator{
		client:   client,
		sup:      sup,
		user:     user,
		counters: make(map[string]Counters),
	}
}

// Run services client and solver events plus a periodic stats tick until done
// is closed, the client's event channel closes, or a fatal error arrives
// from the pool. A non-nil return means the caller should exit non-zero.
func (c *Coordinator) Run(done <-chan struct{}) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return nil

		case ev, ok := <-c.client.Events():
			if !ok {
				return nil
			}
			if err := c.handleClientEvent(ev); err != nil {
				return err
			}

		case ev, ok := <-c.sup.Events():
			if !ok {
				return nil
			}
			c.handleSolverEvent(ev)

		case t := <-ticker.C:
			c.tick(t)
		}
	}
}

func (c *Coordinator) handleClientEvent(ev stratumclient.Event) error {
	switch ev.Kind {
	case stratumclient.EvNonceLeft:
		c.SetNonceLeft(ev.NonceLeft)
	case stratumclient.EvAuthorized:
		c.MarkAuthorized()
	case stratumclient.EvTarget:
		c.SetTarget(ev.Target)
	case stratumclient.EvJob:
		c.SetNewJob(ev.Job)
	case stratumclient.EvShareAccepted:
		c.mu.Lock()
		c.acceptedShares++
		c.mu.Unlock()
		log.Infof("share accepted (%d total)", c.acceptedShares)
	case stratumclient.EvDisconnected:
		c.onDisconnected()
	case stratumclient.EvFatal:
		return ev.Err
	}
	return nil
}

func (c *Coordinator) handleSolverEvent(ev supervisor.Event) {
	switch ev.Kind {
	case supervisor.EvSol:
		c.client.Submit(c.user, ev.JobID, ev.NTime, ev.NonceRightPart, ev.Sol)
	case supervisor.EvStatus:
		c.statsMu.Lock()
		c.counters[ev.Devid] = Counters{Sols: ev.SolsFound, Shares: ev.SharesFound}
		c.statsMu.Unlock()
	case supervisor.EvMsg:
		// Already logged by the supervisor; nothing further to do here.
	}
}

// SetNonceLeft records the session's fixed nonce bytes and attempts
// dispatch. A new value arrives once per connected session, right after
// mining.subscribe succeeds.
func (c *Coordinator) SetNonceLeft(nonceLeft []byte) {
	c.mu.Lock()
	c.nonceLeft = nonceLeft
	c.nonceLeftSet = true
	c.mu.Unlock()
	c.attemptDispatch()
}

// SetTarget records a new difficulty target. Only the first target ever
// received triggers an immediate dispatch attempt; later targets are stored
// and take effect the next time some other intent triggers dispatch.
func (c *Coordinator) SetTarget(target []byte) {
	c.mu.Lock()
	first := !c.targetSet
	c.target = target
	c.targetSet = true
	c.mu.Unlock()

	if first {
		c.attemptDispatch()
	}
}

// SetNewJob assembles the header prefix for a freshly announced job and
// attempts dispatch.
func (c *Coordinator) SetNewJob(job stratumcodec.JobParams) {
	prefix, err := stratumcodec.AssembleHeaderPrefix(job)
	if err != nil {
		log.Errorf("job %s: %v", job.JobID, err)
		return
	}

	c.mu.Lock()
	c.work = &workUnit{jobID: job.JobID, headerPrefix: prefix}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.haveJob = true
	c.statsMu.Unlock()

	c.attemptDispatch()
}

// MarkAuthorized records that mining.authorize succeeded and attempts
// dispatch.
func (c *Coordinator) MarkAuthorized() {
	c.mu.Lock()
	c.authorized = true
	c.mu.Unlock()
	c.attemptDispatch()
}

// onDisconnected resets the session-scoped fields. The current work unit and
// target are connection-independent and survive a reconnect; a fresh
// nonce_left and authorization are required before dispatch resumes.
func (c *Coordinator) onDisconnected() {
	c.mu.Lock()
	c.authorized = false
	c.nonceLeftSet = false
	c.mu.Unlock()
}

// attemptDispatch writes a job line to every live solver if, and only if,
// all four preconditions hold: a fixed nonce_left, an authorized session, a
// target, and an assembled work unit.
func (c *Coordinator) attemptDispatch() {
	c.mu.Lock()
	ready := c.nonceLeftSet && c.authorized && c.targetSet && c.work != nil
	var targetHex, headerHex, nonceLeftHex, jobID string
	if ready {
		targetHex = hex.EncodeToString(c.target)
		headerHex = hex.EncodeToString(c.work.headerPrefix)
		nonceLeftHex = hex.EncodeToString(c.nonceLeft)
		jobID = c.work.jobID
	}
	c.mu.Unlock()

	if !ready {
		return
	}

	c.sup.EnsureLive()

	c.firstDispatch.Do(func() {
		log.Infof("dispatching to %d solver instance(s)", len(c.sup.Devids()))
	})

	line := solverline.FormatJob(targetHex, jobID, headerHex, nonceLeftHex)
	c.sup.DispatchJob(line)
}

// tick snapshots the current per-devid counters into the stats window and
// logs the aggregated throughput line, once a job has been seen and the
// snapshot is non-empty.
func (c *Coordinator) tick(now time.Time) {
	c.statsMu.Lock()
	haveJob := c.haveJob
	snapshot := make(map[string]Counters, len(c.counters))
	for k, v := range c.counters {
		snapshot[k] = v
	}
	c.statsMu.Unlock()

	if !haveJob || len(snapshot) == 0 {
		return
	}

	c.statsMu.Lock()
	c.window.Push(now, snapshot)
	global, ok := c.window.GlobalSolRate()
	perGPU := c.window.PerGPUSolRates()
	shares := c.window.SharesReported()
	c.statsMu.Unlock()

	if !ok {
		return
	}

	log.Infof("%s", FormatLine(global, perGPU, shares))
}
