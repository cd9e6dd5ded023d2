// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stratumclient manages the TCP connection lifecycle, reconnect
// behavior, and session state machine for a single upstream Stratum pool.
package stratumclient

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"

	"github.com/toole-brendan/zecminer/internal/stratumcodec"
)

// log is a logger that is initialized with no output filters. The package
// performs no logging by default until the caller requests it.
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

// State is the session's position in the Stratum handshake.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateSentSubscribe
	StateSentAuthorize
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSentSubscribe:
		return "sent_subscribe"
	case StateSentAuthorize:
		return "sent_authorize"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// EventKind identifies the shape of an Event delivered to the Coordinator.
type EventKind int

const (
	EvNonceLeft EventKind = iota
	EvAuthorized
	EvTarget
	EvJob
	EvShareAccepted
	EvDisconnected
	EvFatal
)

// Event is a single occurrence the Coordinator reacts to.
type Event struct {
	Kind      EventKind
	NonceLeft []byte
	Target    []byte
	Job       stratumcodec.JobParams
	Err       error
}

// Client is a Stratum V1 TCP client connected to a single upstream pool.
type Client struct {
	host     string
	port     int
	user     string
	password string

	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	state      State
	nextID     int
	expectedID int
	haveExpID  bool
	stateMu    sync.Mutex

	events chan Event
	stopCh chan struct{}
	once   sync.Once
}

// New creates a Stratum client for the given pool and worker credentials.
func New(host string, port int, user, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		nextID:   1,
		events:   make(chan Event, 64),
		stopCh:   make(chan struct{}),
	}
}

// Events returns the channel of events the Coordinator should consume.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Stop tears down the client; no further events are sent.
func (c *Client) Stop() {
	c.once.Do(func() {
		close(c.stopCh)
		c.closeConn()
	})
}

// Submit sends a mining.submit request built from a solver's solution line.
// Every call allocates a new request id. If the session is not connected the
// write fails, the failure is logged at Warn, and the share is not resent.
func (c *Client) Submit(user, jobID, ntime, nonceRightPart, sol string) {
	id := c.allocExpectedID()
	req := stratumcodec.EncodeRequest("mining.submit", id, stratumcodec.SubmitParams(user, jobID, ntime, nonceRightPart, sol))
	if err := c.send(req); err != nil {
		log.Warnf("submit write failed: %v", err)
	}
}

// Run connects and services the connection until Stop is called. The first
// connect attempt is immediate; every subsequent attempt (after a failure or
// a clean close) waits one second.
func (c *Client) Run() {
	attempt := 0
	first := true
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if !first {
			attempt++
			log.Infof("reconnecting to %s:%d (attempt %d)", c.host, c.port, attempt)
			select {
			case <-c.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
		first = false

		if err := c.connectAndHandshake(); err != nil {
			log.Errorf("connect failed: %v", err)
			continue
		}

		// Blocks until the connection closes or a protocol error ends it.
		c.readLoop()

		select {
		case <-c.stopCh:
			return
		default:
			c.emit(Event{Kind: EvDisconnected})
		}
	}
}

func (c *Client) connectAndHandshake() error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := net.DialTimeout("tcp", addr, 15*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 4096)
	c.setState(StateSentSubscribe)

	id := c.allocExpectedID()
	req := stratumcodec.EncodeRequest("mining.subscribe", id, stratumcodec.SubscribeParams(c.host, c.port))
	if err := c.send(req); err != nil {
		c.closeConn()
		return fmt.Errorf("send subscribe: %w", err)
	}

	return nil
}

// readLoop buffers incoming bytes, splits on '\n', and dispatches each
// complete line through the session state machine. A decode or protocol
// failure on a single message is logged and the connection continues, since
// pools sometimes send malformed keepalives.
func (c *Client) readLoop() {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				c.handleLine(line)
			}
			return
		}
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line []byte) {
	msg, err := stratumcodec.Decode(line)
	if err != nil {
		log.Warnf("dropping malformed message: %v", err)
		return
	}
	if log.Level() <= btclog.LevelTrace {
		log.Tracef("decoded message: %s", spew.Sdump(msg))
	}

	if msg.Kind == stratumcodec.KindNotification {
		c.handleNotification(msg)
		return
	}

	if msg.HasError() {
		log.Warnf("pool returned error for request %d: %s", msg.ID, string(msg.Err))
		return
	}

	c.handleResponse(msg)
}

func (c *Client) handleNotification(msg stratumcodec.Message) {
	switch msg.Method {
	case "mining.set_target":
		targetHex, err := stratumcodec.ParseSetTargetParams(msg.Params)
		if err != nil {
			log.Warnf("dropping malformed set_target: %v", err)
			return
		}
		target, err := stratumcodec.TargetFromWireHex(targetHex)
		if err != nil {
			log.Warnf("dropping malformed set_target: %v", err)
			return
		}
		c.emit(Event{Kind: EvTarget, Target: target})

	case "mining.notify":
		job, err := stratumcodec.ParseNotifyParams(msg.Params)
		if err != nil {
			log.Warnf("dropping malformed notify: %v", err)
			return
		}
		if !job.CleanJobs {
			log.Debugf("ignoring notify for job %s: clean_jobs=false", job.JobID)
			return
		}
		c.emit(Event{Kind: EvJob, Job: job})

	default:
		// Pools occasionally send extension notifications this client does
		// not implement. Treated like a malformed keepalive: logged, dropped.
		log.Debugf("ignoring unknown notification method %q", msg.Method)
	}
}

func (c *Client) handleResponse(msg stratumcodec.Message) {
	if !c.checkExpectedID(msg.ID) {
		return
	}

	switch c.getState() {
	case StateSentSubscribe:
		nonceLeftHex, err := stratumcodec.ParseSubscribeResult(msg.Result)
		if err != nil {
			log.Errorf("subscribe response: %v", err)
			c.closeConn()
			return
		}
		nonceLeft, err := stratumcodec.NonceLeftFromHex(nonceLeftHex)
		if err != nil {
			// Pool fixes more nonce bytes than the solver can accommodate.
			c.emit(Event{Kind: EvFatal, Err: fmt.Errorf("nonce_left: %w", err)})
			c.closeConn()
			return
		}

		c.setState(StateSentAuthorize)
		id := c.allocExpectedID()
		req := stratumcodec.EncodeRequest("mining.authorize", id, stratumcodec.AuthorizeParams(c.user, c.password))
		if err := c.send(req); err != nil {
			log.Errorf("send authorize: %v", err)
			c.closeConn()
			return
		}
		c.emit(Event{Kind: EvNonceLeft, NonceLeft: nonceLeft})

	case StateSentAuthorize:
		if stratumcodec.ParseAuthorizeResult(msg.Result) {
			c.setState(StateAuthorized)
			c.emit(Event{Kind: EvAuthorized})
			return
		}
		log.Errorf("pool rejected authorization")
		c.closeConn()

	case StateAuthorized:
		if stratumcodec.ParseSubmitResult(msg.Result) {
			c.emit(Event{Kind: EvShareAccepted})
		}

	default:
		log.Warnf("response received in state %s, ignoring", c.getState())
	}
}

func (c *Client) send(req []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := c.conn.Write(req)
	return err
}

func (c *Client) closeConn() {
	c.setState(StateDisconnected)
	if c.conn != nil {
		c.conn.Close()
	}
}

// allocExpectedID allocates the next request id and records it as the id a
// response is expected to carry, per the session's expected_id bookkeeping.
func (c *Client) allocExpectedID() int {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	id := c.nextID
	c.nextID++
	c.expectedID = id
	c.haveExpID = true
	return id
}

// checkExpectedID reports whether id matches the session's expected_id. A
// mismatch is logged at Warn and the response dropped; the connection is
// left up since pools occasionally resend or delay a stale response.
func (c *Client) checkExpectedID(id int) bool {
	c.stateMu.Lock()
	expected, have := c.expectedID, c.haveExpID
	c.stateMu.Unlock()

	if !have || id != expected {
		log.Warnf("response id %d does not match expected id %d, ignoring", id, expected)
		return false
	}
	return true
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Client) getState() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stopCh:
	}
}
