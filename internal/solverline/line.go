// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package solverline parses the newline-terminated lines a sa-solver
// subprocess writes to stdout, and formats the job lines written to its
// stdin.
package solverline

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which of the three line shapes a Record carries.
type Kind int

const (
	// KindSol is a found solution, forwarded verbatim as a mining.submit.
	KindSol Kind = iota
	// KindStatus carries cumulative solution/share counters.
	KindStatus
	// KindMsg is any other line, logged at high verbosity.
	KindMsg
)

// Record is the parsed form of one solver stdout line.
type Record struct {
	Kind Kind

	// KindSol fields, forwarded verbatim as mining.submit params.
	JobID          string
	NTime          string
	NonceRightPart string
	Sol            string

	// KindStatus fields.
	SolsFound   int
	SharesFound int

	// KindMsg field.
	Line string
}

// Parse classifies one solver stdout line and extracts its fields. Matching
// is attempted in priority order: sol, then status, then a catch-all Msg.
func Parse(line string) (Record, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(lower, "sol:") {
		fields := strings.Fields(trimmed[len("sol:"):])
		if len(fields) != 4 {
			return Record{}, fmt.Errorf("solverline: sol line has %d fields, want 4: %q", len(fields), line)
		}
		return Record{
			Kind:           KindSol,
			JobID:          fields[0],
			NTime:          fields[1],
			NonceRightPart: fields[2],
			Sol:            fields[3],
		}, nil
	}

	if strings.HasPrefix(lower, "status:") {
		fields := strings.Fields(trimmed[len("status:"):])
		if len(fields) != 2 {
			return Record{}, fmt.Errorf("solverline: status line has %d fields, want 2: %q", len(fields), line)
		}
		sols, err := strconv.Atoi(fields[0])
		if err != nil {
			return Record{}, fmt.Errorf("solverline: status nr_sols: %w", err)
		}
		shares, err := strconv.Atoi(fields[1])
		if err != nil {
			return Record{}, fmt.Errorf("solverline: status nr_shares: %w", err)
		}
		return Record{Kind: KindStatus, SolsFound: sols, SharesFound: shares}, nil
	}

	return Record{Kind: KindMsg, Line: trimmed}, nil
}

// FormatJob formats a job line for the solver's stdin: four space-separated
// lowercase hex tokens followed by "\n". The codec does not validate beyond
// hex; job_id is passed through verbatim since it is an opaque pool string.
func FormatJob(targetHex, jobID, headerPrefixHex, nonceLeftHex string) string {
	return fmt.Sprintf("%s %s %s %s\n",
		strings.ToLower(targetHex), jobID, strings.ToLower(headerPrefixHex), strings.ToLower(nonceLeftHex))
}
