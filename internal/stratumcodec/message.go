// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package stratumcodec frames, parses, and constructs the newline-delimited
// JSON-RPC messages exchanged with a Stratum pool.
package stratumcodec

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocol is returned by Decode when a line is valid JSON but carries
// neither a "result" nor a "method" key.
var ErrProtocol = errors.New("stratumcodec: message has neither result nor method")

// Kind distinguishes a Response from a Notification.
type Kind int

const (
	KindResponse Kind = iota
	KindNotification
)

// Message is the tagged union decoded from one line of Stratum traffic.
type Message struct {
	Kind Kind

	// Response fields.
	ID     int
	HasID  bool
	Result json.RawMessage
	Err    json.RawMessage

	// Notification fields.
	Method string
	Params json.RawMessage
}

// HasError reports whether a decoded Response carries a non-null error.
func (m Message) HasError() bool {
	return len(m.Err) > 0 && string(m.Err) != "null"
}

// Decode parses one already newline-framed Stratum message. A message is a
// Response if it carries a "result" key (even if null) and a Notification if
// it carries a "method" key; if neither is present, decoding fails with
// ErrProtocol.
func Decode(line []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Message{}, fmt.Errorf("stratumcodec: decode: %w", err)
	}

	if result, ok := raw["result"]; ok {
		msg := Message{Kind: KindResponse, Result: result}
		if idRaw, ok := raw["id"]; ok {
			if err := json.Unmarshal(idRaw, &msg.ID); err != nil {
				return Message{}, fmt.Errorf("stratumcodec: decode id: %w", err)
			}
			msg.HasID = true
		}
		if errRaw, ok := raw["error"]; ok {
			msg.Err = errRaw
		}
		return msg, nil
	}

	if methodRaw, ok := raw["method"]; ok {
		var method string
		if err := json.Unmarshal(methodRaw, &method); err != nil {
			return Message{}, fmt.Errorf("stratumcodec: decode method: %w", err)
		}
		msg := Message{Kind: KindNotification, Method: method}
		if paramsRaw, ok := raw["params"]; ok {
			msg.Params = paramsRaw
		}
		return msg, nil
	}

	return Message{}, ErrProtocol
}

type request struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// EncodeRequest serializes a Stratum request as a newline-terminated line.
func EncodeRequest(method string, id int, params []interface{}) []byte {
	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		// params is always built from this package's own constructors, never
		// from unvalidated input, so marshaling cannot fail in practice.
		panic(fmt.Sprintf("stratumcodec: encode %s: %v", method, err))
	}
	return append(data, '\n')
}

// SubscribeParams builds the params for mining.subscribe.
func SubscribeParams(host string, port int) []interface{} {
	return []interface{}{"silentarmy", nil, host, fmt.Sprintf("%d", port)}
}

// AuthorizeParams builds the params for mining.authorize.
func AuthorizeParams(user, password string) []interface{} {
	if password == "" {
		return []interface{}{user}
	}
	return []interface{}{user, password}
}

// SubmitParams builds the params for mining.submit.
func SubmitParams(user, jobID, ntime, nonceRightPart, sol string) []interface{} {
	return []interface{}{user, jobID, ntime, nonceRightPart, sol}
}

// ParseSubscribeResult extracts the nonce-left hex string from a
// mining.subscribe response result, shaped [<ignored>, nonce_left_hex].
func ParseSubscribeResult(result json.RawMessage) (string, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(result, &fields); err != nil {
		return "", fmt.Errorf("stratumcodec: subscribe result: %w", err)
	}
	if len(fields) < 2 {
		return "", fmt.Errorf("stratumcodec: subscribe result has %d elements, want >= 2", len(fields))
	}
	var nonceLeftHex string
	if err := json.Unmarshal(fields[1], &nonceLeftHex); err != nil {
		return "", fmt.Errorf("stratumcodec: subscribe nonce_left: %w", err)
	}
	return nonceLeftHex, nil
}

// ParseAuthorizeResult reports whether a mining.authorize response result is
// truthy.
func ParseAuthorizeResult(result json.RawMessage) bool {
	var ok bool
	_ = json.Unmarshal(result, &ok)
	return ok
}

// ParseSubmitResult reports whether a mining.submit response result is
// truthy.
func ParseSubmitResult(result json.RawMessage) bool {
	return ParseAuthorizeResult(result)
}

// ParseSetTargetParams extracts the 64-hex-digit target from a
// mining.set_target notification.
func ParseSetTargetParams(params json.RawMessage) (string, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return "", fmt.Errorf("stratumcodec: set_target params: %w", err)
	}
	if len(fields) < 1 {
		return "", errors.New("stratumcodec: set_target params empty")
	}
	var targetHex string
	if err := json.Unmarshal(fields[0], &targetHex); err != nil {
		return "", fmt.Errorf("stratumcodec: set_target value: %w", err)
	}
	if len(targetHex) != 64 {
		return "", fmt.Errorf("stratumcodec: target has %d hex digits, want 64", len(targetHex))
	}
	return targetHex, nil
}

// JobParams is the decoded and validated body of a mining.notify
// notification.
type JobParams struct {
	JobID         string
	NVersion      string
	HashPrevBlock string
	HashMerkleRoot string
	HashReserved  string
	NTime         string
	NBits         string
	CleanJobs     bool
}

var zeroHashReserved = func() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}()

// ParseNotifyParams decodes and validates a mining.notify notification per
// spec.md §6: nVersion must equal "04000000", hashReserved must be 64 zero
// hex digits, hashPrevBlock/hashMerkleRoot must be 64 hex digits, nTime/nBits
// must be 8 hex digits.
func ParseNotifyParams(params json.RawMessage) (JobParams, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return JobParams{}, fmt.Errorf("stratumcodec: notify params: %w", err)
	}
	if len(fields) < 8 {
		return JobParams{}, fmt.Errorf("stratumcodec: notify has %d elements, want >= 8", len(fields))
	}

	var job JobParams
	strs := make([]string, 7)
	for i := 0; i < 7; i++ {
		if err := json.Unmarshal(fields[i], &strs[i]); err != nil {
			return JobParams{}, fmt.Errorf("stratumcodec: notify field %d: %w", i, err)
		}
	}
	job.JobID = strs[0]
	job.NVersion = strs[1]
	job.HashPrevBlock = strs[2]
	job.HashMerkleRoot = strs[3]
	job.HashReserved = strs[4]
	job.NTime = strs[5]
	job.NBits = strs[6]

	if err := json.Unmarshal(fields[7], &job.CleanJobs); err != nil {
		return JobParams{}, fmt.Errorf("stratumcodec: notify clean_jobs: %w", err)
	}

	if job.NVersion != "04000000" {
		return JobParams{}, fmt.Errorf("stratumcodec: nVersion %q, want 04000000", job.NVersion)
	}
	if job.HashReserved != zeroHashReserved {
		return JobParams{}, errors.New("stratumcodec: hashReserved is not 64 zero hex digits")
	}
	if len(job.HashPrevBlock) != 64 {
		return JobParams{}, fmt.Errorf("stratumcodec: hashPrevBlock has %d hex digits, want 64", len(job.HashPrevBlock))
	}
	if len(job.HashMerkleRoot) != 64 {
		return JobParams{}, fmt.Errorf("stratumcodec: hashMerkleRoot has %d hex digits, want 64", len(job.HashMerkleRoot))
	}
	if len(job.NTime) != 8 {
		return JobParams{}, fmt.Errorf("stratumcodec: nTime has %d hex digits, want 8", len(job.NTime))
	}
	if len(job.NBits) != 8 {
		return JobParams{}, fmt.Errorf("stratumcodec: nBits has %d hex digits, want 8", len(job.NBits))
	}

	return job, nil
}

// headerPrefixLen is 4 (nVersion) + 32 (hashPrevBlock) + 32 (hashMerkleRoot)
// + 32 (hashReserved) + 4 (nTime) + 4 (nBits) bytes.
const headerPrefixLen = 108

// AssembleHeaderPrefix concatenates a job's header fields in wire byte order
// (no reversal), producing the 108-byte block-header prefix.
func AssembleHeaderPrefix(job JobParams) ([]byte, error) {
	hexFields := []string{job.NVersion, job.HashPrevBlock, job.HashMerkleRoot, job.HashReserved, job.NTime, job.NBits}
	prefix := make([]byte, 0, headerPrefixLen)
	for _, h := range hexFields {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("stratumcodec: header field %q: %w", h, err)
		}
		prefix = append(prefix, b...)
	}
	if len(prefix) != headerPrefixLen {
		return nil, fmt.Errorf("stratumcodec: assembled header is %d bytes, want %d", len(prefix), headerPrefixLen)
	}
	return prefix, nil
}

// ReverseBytes returns a newly allocated reversed copy of b.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// TargetFromWireHex decodes a 64-hex-digit big-endian wire target and
// reverses it into the little-endian internal representation the solver
// expects.
func TargetFromWireHex(targetHex string) ([]byte, error) {
	wire, err := hex.DecodeString(targetHex)
	if err != nil {
		return nil, fmt.Errorf("stratumcodec: target hex: %w", err)
	}
	if len(wire) != 32 {
		return nil, fmt.Errorf("stratumcodec: target is %d bytes, want 32", len(wire))
	}
	return ReverseBytes(wire), nil
}

// NonceLeftFromHex decodes the subscribe response's nonce-left hex string.
// The pool may fix at most 17 bytes (the solver needs 3 bytes to search and
// 12 bytes that must remain zero within the 32-byte nonce).
func NonceLeftFromHex(nonceLeftHex string) ([]byte, error) {
	b, err := hex.DecodeString(nonceLeftHex)
	if err != nil {
		return nil, fmt.Errorf("stratumcodec: nonce_left hex: %w", err)
	}
	if len(b) > 17 {
		return nil, fmt.Errorf("stratumcodec: nonce_left is %d bytes, pool may fix at most 17", len(b))
	}
	return b, nil
}
