// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config parses the zecminer command line into an immutable
// configuration value.
package config

import (
	"fmt"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultPoolURL   = "stratum+tcp://us-east.equihash-hub.miningpool.party:3357"
	defaultUser      = "t1ZecMinerWorkerDefault"
	defaultGPUs      = "0"
	defaultInstances = 2
	defaultSolver    = "sa-solver"
)

// cliOptions mirrors the command line surface via go-flags struct tags.
type cliOptions struct {
	Verbose   []bool `short:"v" long:"verbose" description:"increase logging verbosity; repeatable"`
	Debug     bool   `long:"debug" description:"enable trace-level logging (same as -v -v)"`
	List      bool   `long:"list" description:"exec the solver's device listing and exit"`
	Use       string `long:"use" default:"0" description:"comma-separated GPU ids to mine on"`
	Instances int    `long:"instances" default:"2" description:"solver instances launched per GPU"`
	Connect   string `short:"c" long:"connect" description:"pool URL, stratum+tcp://host:port"`
	User      string `short:"u" long:"user" description:"pool worker name"`
	Password  string `short:"p" long:"pwd" description:"pool worker password"`
	Solver    string `long:"solver" description:"path to the sa-solver binary"`
}

// Config is the fully resolved, immutable configuration for one run.
type Config struct {
	PoolHost  string
	PoolPort  int
	User      string
	Password  string
	GPUIDs    []int
	Instances int
	Verbosity int
	Debug     bool
	List      bool
	Solver    string
}

// Load parses args (as from os.Args[1:]) into a Config, applying defaults
// for any flag the caller omitted.
func Load(args []string) (*Config, error) {
	opts := cliOptions{
		Connect: defaultPoolURL,
		User:    defaultUser,
		Use:     defaultGPUs,
		Solver:  defaultSolver,
	}
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if opts.Instances <= 0 {
		return nil, fmt.Errorf("config: --instances must be positive, got %d", opts.Instances)
	}

	host, port, err := ParsePoolURL(opts.Connect)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	gpuIDs, err := ParseGPUList(opts.Use)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &Config{
		PoolHost:  host,
		PoolPort:  port,
		User:      opts.User,
		Password:  opts.Password,
		GPUIDs:    gpuIDs,
		Instances: opts.Instances,
		Verbosity: len(opts.Verbose),
		Debug:     opts.Debug,
		List:      opts.List,
		Solver:    opts.Solver,
	}, nil
}

// ParsePoolURL splits a stratum+tcp://host:port URL into host and port. Host
// may itself contain colons (IPv6), so the split is on the rightmost colon
// rather than via net/url, which would reject a bare IPv6 literal without
// brackets.
func ParsePoolURL(raw string) (host string, port int, err error) {
	const scheme = "stratum+tcp://"
	if !strings.HasPrefix(raw, scheme) {
		return "", 0, fmt.Errorf("pool url %q: missing %s prefix", raw, scheme)
	}
	hostport := strings.TrimPrefix(raw, scheme)

	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("pool url %q: missing port", raw)
	}
	host = hostport[:idx]
	portStr := hostport[idx+1:]
	if host == "" || portStr == "" {
		return "", 0, fmt.Errorf("pool url %q: empty host or port", raw)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("pool url %q: bad port: %w", raw, err)
	}
	return host, port, nil
}

// ParseGPUList parses a comma-separated list of GPU ids. An empty string
// yields an empty, valid set (no solvers configured).
func ParseGPUList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		id, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("gpu list %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
