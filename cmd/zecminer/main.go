// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command zecminer is a Stratum mining coordinator for an Equihash solver.
// It speaks Stratum V1 to a single upstream pool, supervises a fleet of
// sa-solver subprocesses, and forwards their solutions back to the pool.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/toole-brendan/zecminer/internal/config"
	"github.com/toole-brendan/zecminer/internal/coordinator"
	"github.com/toole-brendan/zecminer/internal/stratumclient"
	"github.com/toole-brendan/zecminer/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "zecminer: %v\n", err)
		return 1
	}

	if cfg.List {
		return execList(cfg.Solver)
	}

	logFile := filepath.Join(".", "zecminer.log")
	if err := initLogRotator(logFile); err != nil {
		fmt.Fprintf(os.Stderr, "zecminer: %v\n", err)
		return 1
	}
	initLogging(logFile, verbosityLevel(cfg.Verbosity, cfg.Debug))

	sup := supervisor.New(cfg.Solver, cfg.GPUIDs, cfg.Instances)
	client := stratumclient.New(cfg.PoolHost, cfg.PoolPort, cfg.User, cfg.Password)
	coord := coordinator.New(client, sup, cfg.User)

	go client.Run()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		close(done)
	}()

	err = coord.Run(done)

	client.Stop()
	sup.Close()

	if err != nil {
		fmt.Fprintf(os.Stderr, "zecminer: %v\n", err)
		return 1
	}
	return 0
}

// execList replaces the current process image with the solver binary's
// device listing mode. If exec itself is unavailable on the platform, it
// falls back to spawning the solver and relaying its exit code.
func execList(solverPath string) int {
	path, err := lookPath(solverPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zecminer: solver binary %q not found\n", solverPath)
		return 1
	}

	argv := []string{path, "--list"}
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		return spawnAndRelay(path)
	}
	// syscall.Exec only returns on error.
	return 1
}

func lookPath(solverPath string) (string, error) {
	if filepath.IsAbs(solverPath) {
		if _, err := os.Stat(solverPath); err != nil {
			return "", err
		}
		return solverPath, nil
	}
	return exec.LookPath(solverPath)
}

func spawnAndRelay(path string) int {
	cmd := exec.Command(path, "--list")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "zecminer: %v\n", err)
		return 1
	}
	return 0
}
