// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toole-brendan/zecminer/internal/stratumclient"
	"github.com/toole-brendan/zecminer/internal/stratumcodec"
	"github.com/toole-brendan/zecminer/internal/supervisor"
)

func validJob(id string) stratumcodec.JobParams {
	return stratumcodec.JobParams{
		JobID:          id,
		NVersion:       "04000000",
		HashPrevBlock:  strings.Repeat("ab", 32),
		HashMerkleRoot: strings.Repeat("cd", 32),
		HashReserved:   strings.Repeat("00", 32),
		NTime:          "5a000000",
		NBits:          "1d00ffff",
		CleanJobs:      true,
	}
}

// newTestCoordinator builds a Coordinator with real (unconnected) Client and
// Supervisor values, since dispatch gating and stats aggregation never touch
// the network or a solver binary directly.
func newTestCoordinator() *Coordinator {
	client := stratumclient.New("127.0.0.1", 0, "worker1", "")
	sup := supervisor.New("sa-solver", nil, 1) // empty GPU set: EnsureLive is a no-op
	return New(client, sup, "worker1")
}

func TestDispatchRequiresAllFourPreconditions(t *testing.T) {
	c := newTestCoordinator()

	c.SetNonceLeft([]byte{0x0a})
	assert.Nil(t, c.work)

	c.SetTarget(make([]byte, 32))
	c.SetNewJob(validJob("job1"))
	// Not authorized yet: attemptDispatch must be a no-op (no panics, no
	// live solvers to write to since gpuIDs is empty, so we only assert no
	// precondition was dropped).
	c.mu.Lock()
	ready := c.nonceLeftSet && c.authorized && c.targetSet && c.work != nil
	c.mu.Unlock()
	assert.False(t, ready)

	c.MarkAuthorized()
	c.mu.Lock()
	ready = c.nonceLeftSet && c.authorized && c.targetSet && c.work != nil
	c.mu.Unlock()
	assert.True(t, ready)
}

func TestSetTargetLaterCallOverwritesStoredTarget(t *testing.T) {
	c := newTestCoordinator()
	c.SetTarget([]byte{0x01})
	c.SetTarget([]byte{0x02})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []byte{0x02}, c.target, "later targets still overwrite the stored value")
}

func TestOnDisconnectedResetsSessionStateOnly(t *testing.T) {
	c := newTestCoordinator()
	c.SetNonceLeft([]byte{0x0a})
	c.SetTarget(make([]byte, 32))
	c.SetNewJob(validJob("job1"))
	c.MarkAuthorized()

	c.onDisconnected()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.authorized)
	assert.False(t, c.nonceLeftSet)
	assert.True(t, c.targetSet, "target survives a disconnect")
	assert.NotNil(t, c.work, "work unit survives a disconnect")
}

func TestHandleClientEventFatalPropagates(t *testing.T) {
	c := newTestCoordinator()
	err := c.handleClientEvent(stratumclient.Event{Kind: stratumclient.EvFatal, Err: assertError("boom")})
	require.Error(t, err)
}

func TestTickSuppressedUntilJobSeen(t *testing.T) {
	c := newTestCoordinator()
	c.handleSolverEvent(supervisor.Event{Kind: supervisor.EvStatus, Devid: "0.0", SolsFound: 20, SharesFound: 0})
	c.tick(time.Unix(100, 0))

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	assert.Equal(t, 0, c.window.Len(), "no snapshot until a job has arrived")
}

func TestTickSnapshotsAfterJobSeen(t *testing.T) {
	c := newTestCoordinator()
	c.SetNewJob(validJob("job1"))
	c.handleSolverEvent(supervisor.Event{Kind: supervisor.EvStatus, Devid: "0.0", SolsFound: 20, SharesFound: 0})
	c.tick(time.Unix(100, 0))

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	assert.Equal(t, 1, c.window.Len())
}

type assertError string

func (e assertError) Error() string { return string(e) }
