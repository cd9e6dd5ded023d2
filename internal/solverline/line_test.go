// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solverline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseSol(t *testing.T) {
	rec, err := Parse("sol: job1 5a000000 deadbeef0011 aabbccdd\n")
	require.NoError(t, err)
	assert.Equal(t, KindSol, rec.Kind)
	assert.Equal(t, "job1", rec.JobID)
	assert.Equal(t, "5a000000", rec.NTime)
	assert.Equal(t, "deadbeef0011", rec.NonceRightPart)
	assert.Equal(t, "aabbccdd", rec.Sol)
}

func TestParseSolIsCaseInsensitive(t *testing.T) {
	rec, err := Parse("SOL: job1 5a000000 deadbeef0011 aabbccdd")
	require.NoError(t, err)
	assert.Equal(t, KindSol, rec.Kind)
}

func TestParseSolWrongFieldCount(t *testing.T) {
	_, err := Parse("sol: job1 5a000000")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	rec, err := Parse("status: 20 3\n")
	require.NoError(t, err)
	assert.Equal(t, KindStatus, rec.Kind)
	assert.Equal(t, 20, rec.SolsFound)
	assert.Equal(t, 3, rec.SharesFound)
}

func TestParseStatusNonNumeric(t *testing.T) {
	_, err := Parse("status: abc 3")
	assert.Error(t, err)
}

func TestParseMsgFallback(t *testing.T) {
	rec, err := Parse("GPU0: temperature 61C\n")
	require.NoError(t, err)
	assert.Equal(t, KindMsg, rec.Kind)
	assert.Equal(t, "GPU0: temperature 61C", rec.Line)
}

func TestFormatJob(t *testing.T) {
	line := FormatJob("AABB", "job1", "CCDD", "EE")
	assert.Equal(t, "aabb job1 ccdd ee\n", line)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Equal(t, 4, len(strings.Fields(line)))
}

func TestFormatJobAlwaysHasFourFields(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		targetHex := rapid.StringMatching(`[0-9a-f]{8}`).Draw(t, "target")
		jobID := rapid.StringMatching(`[0-9a-f]{8}`).Draw(t, "jobID")
		headerHex := rapid.StringMatching(`[0-9a-f]{8}`).Draw(t, "header")
		nonceLeftHex := rapid.StringMatching(`[0-9a-f]{2,8}`).Draw(t, "nonceLeft")

		line := FormatJob(targetHex, jobID, headerHex, nonceLeftHex)
		fields := strings.Fields(line)
		if len(fields) != 4 {
			t.Fatalf("expected 4 fields, got %d: %q", len(fields), line)
		}
	})
}
