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

// Package audit checks entries and checkpoints of a transparency log against
// Merkle proofs fetched from the log itself. All proof material arriving from
// the log is treated as untrusted input: leaf hashes are recomputed locally
// from the entry body, and hex fields are decoded and length-checked before
// any hashing takes place.
package audit

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/rektor-dev/rektor/client"
	"github.com/rektor-dev/rektor/crypto/sigverify"
	"github.com/rektor-dev/rektor/merkle/hashers"
	"github.com/rektor-dev/rektor/merkle/logverifier"
)

// Auditor verifies inclusion and consistency claims made by a single log.
type Auditor struct {
	client   *client.LogClient
	hasher   hashers.LogHasher
	verifier logverifier.LogVerifier
}

// New returns an Auditor that fetches proofs with c and hashes with h.
func New(c *client.LogClient, h hashers.LogHasher) *Auditor {
	return &Auditor{
		client:   c,
		hasher:   h,
		verifier: logverifier.New(h),
	}
}

// entryBody is the decoded canonical body of a hashedrekord entry. Only the
// fields the auditor consumes are mapped.
type entryBody struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Spec       struct {
		Signature struct {
			Content   string `json:"content"`
			PublicKey struct {
				Content string `json:"content"`
			} `json:"publicKey"`
		} `json:"signature"`
		Data struct {
			Hash struct {
				Algorithm string `json:"algorithm"`
				Value     string `json:"value"`
			} `json:"hash"`
		} `json:"data"`
	} `json:"spec"`
}

// ComputeLeafHash returns the leaf hash of an entry, derived only from its
// base64-encoded body. The proof bundled with the entry carries no weight
// here; recomputing the leaf locally is what ties the proof to the entry.
func (a *Auditor) ComputeLeafHash(body string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decoding entry body: %w", err)
	}
	return a.hasher.HashLeaf(raw), nil
}

// decodeHash decodes a single hex digest and checks it against the hasher's
// output size, so malformed server responses fail before any tree math runs.
func (a *Auditor) decodeHash(field, h string) ([]byte, error) {
	b, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", field, err)
	}
	if got, want := len(b), a.hasher.Size(); got != want {
		return nil, fmt.Errorf("decoding %s: %d bytes, want %d", field, got, want)
	}
	return b, nil
}

func (a *Auditor) decodeHashes(field string, hs []string) ([][]byte, error) {
	out := make([][]byte, 0, len(hs))
	for i, h := range hs {
		b, err := a.decodeHash(fmt.Sprintf("%s[%d]", field, i), h)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// VerifyInclusion fetches the entry at logIndex and verifies that it is
// included in the tree the server claims. If artifact is non-nil, the entry's
// embedded signature and certificate are additionally checked against the
// artifact bytes before the proof is examined.
func (a *Auditor) VerifyInclusion(ctx context.Context, logIndex int64, artifact io.Reader) error {
	entry, err := a.client.GetLogEntry(ctx, logIndex)
	if err != nil {
		return err
	}
	if entry.Verification == nil || entry.Verification.InclusionProof == nil {
		return fmt.Errorf("entry %d has no inclusion proof", logIndex)
	}

	if artifact != nil {
		if err := a.verifyEntrySignature(entry.Body, artifact); err != nil {
			return fmt.Errorf("entry %d: %w", logIndex, err)
		}
	}

	leafHash, err := a.ComputeLeafHash(entry.Body)
	if err != nil {
		return fmt.Errorf("entry %d: %w", logIndex, err)
	}

	proof := entry.Verification.InclusionProof
	hashes, err := a.decodeHashes("proof hash", proof.Hashes)
	if err != nil {
		return fmt.Errorf("entry %d: %w", logIndex, err)
	}
	root, err := a.decodeHash("root hash", proof.RootHash)
	if err != nil {
		return fmt.Errorf("entry %d: %w", logIndex, err)
	}

	klog.V(1).Infof("verifying inclusion of leaf %d in tree of size %d", proof.LogIndex, proof.TreeSize)
	if err := a.verifier.VerifyInclusionProof(proof.LogIndex, proof.TreeSize, hashes, root, leafHash); err != nil {
		return fmt.Errorf("entry %d: %w", logIndex, err)
	}
	return nil
}

// verifyEntrySignature checks the signature embedded in a hashedrekord body
// against the artifact, using the certificate the body carries.
func (a *Auditor) verifyEntrySignature(body string, artifact io.Reader) error {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("decoding entry body: %w", err)
	}
	var eb entryBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return fmt.Errorf("parsing entry body: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(eb.Spec.Signature.Content)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	certPEM, err := base64.StdEncoding.DecodeString(eb.Spec.Signature.PublicKey.Content)
	if err != nil {
		return fmt.Errorf("decoding certificate: %w", err)
	}
	pub, err := sigverify.PublicKeyFromPEM(certPEM)
	if err != nil {
		return err
	}
	return sigverify.VerifyArtifact(pub, sig, artifact)
}

// VerifyConsistency fetches the latest checkpoint and verifies that the tree
// it describes is an append-only extension of prev. On success it returns the
// latest checkpoint so callers can persist it for the next audit round.
func (a *Auditor) VerifyConsistency(ctx context.Context, prev client.Checkpoint) (*client.LogInfo, error) {
	if prev.TreeSize < 1 {
		return nil, fmt.Errorf("invalid checkpoint tree size %d", prev.TreeSize)
	}
	prevRoot, err := a.decodeHash("checkpoint root", prev.RootHash)
	if err != nil {
		return nil, err
	}

	latest, err := a.client.GetLatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	latestRoot, err := a.decodeHash("latest root", latest.RootHash)
	if err != nil {
		return nil, err
	}
	if latest.TreeSize < prev.TreeSize {
		return nil, fmt.Errorf("log shrank from %d to %d entries", prev.TreeSize, latest.TreeSize)
	}

	var hashes [][]byte
	if prev.TreeSize < latest.TreeSize {
		proof, err := a.client.GetConsistencyProof(ctx, prev.TreeSize, latest.TreeSize)
		if err != nil {
			return nil, err
		}
		hashes, err = a.decodeHashes("proof hash", proof.Hashes)
		if err != nil {
			return nil, err
		}
	}

	klog.V(1).Infof("verifying consistency between sizes %d and %d", prev.TreeSize, latest.TreeSize)
	if err := a.verifier.VerifyConsistencyProof(prev.TreeSize, latest.TreeSize, prevRoot, latestRoot, hashes); err != nil {
		return nil, err
	}
	return latest, nil
}
