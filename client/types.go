// Copyright 2024 Rektor Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

// LogInfo describes the current state of the log, as returned by the
// /log endpoint. RootHash is a lowercase hex string.
type LogInfo struct {
	RootHash       string `json:"rootHash"`
	TreeSize       int64  `json:"treeSize"`
	TreeID         string `json:"treeID"`
	SignedTreeHead string `json:"signedTreeHead"`
}

// Checkpoint identifies a tree state that a caller wants to audit against,
// typically recorded from an earlier LogInfo response.
type Checkpoint struct {
	TreeID   string `json:"treeID"`
	TreeSize int64  `json:"treeSize"`
	RootHash string `json:"rootHash"`
}

// InclusionProof is the proof material bundled with a log entry. Hashes and
// RootHash are lowercase hex strings; they are raw untrusted input until the
// proof has been verified against an independently computed leaf hash.
type InclusionProof struct {
	Checkpoint string   `json:"checkpoint"`
	Hashes     []string `json:"hashes"`
	LogIndex   int64    `json:"logIndex"`
	RootHash   string   `json:"rootHash"`
	TreeSize   int64    `json:"treeSize"`
}

// Verification carries the server-supplied verification material of an entry.
type Verification struct {
	InclusionProof       *InclusionProof `json:"inclusionProof,omitempty"`
	SignedEntryTimestamp string          `json:"signedEntryTimestamp,omitempty"`
}

// LogEntry is a single entry of the log. The /log/entries endpoint returns
// entries as a JSON object keyed by entry UUID; GetLogEntry unwraps that into
// this flat form. Body is the base64-encoded canonical entry, whose decoded
// bytes are the RFC 6962 leaf input.
type LogEntry struct {
	UUID           string
	Body           string
	IntegratedTime int64
	LogID          string
	LogIndex       int64
	Verification   *Verification
}

// logEntryAnon is the wire form of a log entry, before the UUID key it is
// stored under has been attached.
type logEntryAnon struct {
	Body           string        `json:"body"`
	IntegratedTime int64         `json:"integratedTime"`
	LogID          string        `json:"logID"`
	LogIndex       int64         `json:"logIndex"`
	Verification   *Verification `json:"verification,omitempty"`
}

// ConsistencyProof is the response of the /log/proof endpoint. Hashes are
// lowercase hex strings, ordered as required by RFC 6962.
type ConsistencyProof struct {
	RootHash string   `json:"rootHash"`
	Hashes   []string `json:"hashes"`
}
