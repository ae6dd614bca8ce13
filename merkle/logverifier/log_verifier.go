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

// Package logverifier verifies inclusion and consistency proofs for
// append-only Merkle tree logs, as specified by RFC 6962.
//
// All verification is done locally: the functions here recompute root hashes
// from the supplied proof material and compare them against the claimed
// roots, so a lying log server cannot make a bad proof pass.
package logverifier

import (
	"bytes"
	"errors"
	"fmt"
	"math/bits"

	"github.com/rektor-dev/rektor/merkle/hashers"
)

// RootMismatchError occurs when a recomputed root hash disagrees with the
// claimed one. It is distinct from the plain errors returned for malformed
// requests: a RootMismatchError means the proof itself failed cryptographic
// verification.
type RootMismatchError struct {
	ExpectedRoot   []byte
	CalculatedRoot []byte
}

func (e RootMismatchError) Error() string {
	return fmt.Sprintf("calculated root:\n%x\n does not match expected root:\n%x", e.CalculatedRoot, e.ExpectedRoot)
}

// LogVerifier verifies inclusion and consistency proofs for append only logs.
type LogVerifier struct {
	hasher hashers.LogHasher
}

// New returns a new LogVerifier for a tree.
func New(hasher hashers.LogHasher) LogVerifier {
	return LogVerifier{hasher: hasher}
}

// VerifyInclusionProof verifies the correctness of the inclusion proof for
// the leaf with the specified hash and index, relative to the tree of the
// given size and root hash. Requires 0 <= leafIndex < treeSize.
func (v LogVerifier) VerifyInclusionProof(leafIndex, treeSize int64, proof [][]byte, root, leafHash []byte) error {
	calcRoot, err := v.RootFromInclusionProof(leafIndex, treeSize, proof, leafHash)
	if err != nil {
		return err
	}
	if !bytes.Equal(calcRoot, root) {
		return RootMismatchError{
			CalculatedRoot: calcRoot,
			ExpectedRoot:   root,
		}
	}
	return nil
}

// RootFromInclusionProof calculates the expected root hash for a tree of the
// given size, provided a leaf index and hash with the corresponding inclusion
// proof. Requires 0 <= leafIndex < treeSize.
func (v LogVerifier) RootFromInclusionProof(leafIndex, treeSize int64, proof [][]byte, leafHash []byte) ([]byte, error) {
	if leafIndex < 0 || treeSize < 0 {
		return nil, fmt.Errorf("leafIndex %d or treeSize %d is negative", leafIndex, treeSize)
	}
	if leafIndex >= treeSize {
		return nil, fmt.Errorf("leafIndex is beyond treeSize: %d >= %d", leafIndex, treeSize)
	}
	if got, want := len(leafHash), v.hasher.Size(); got != want {
		return nil, fmt.Errorf("leafHash has unexpected size %d, want %d", got, want)
	}

	inner, border := decompInclProof(uint64(leafIndex), uint64(treeSize))
	if got, want := len(proof), inner+border; got != want {
		return nil, fmt.Errorf("wrong proof size %d, want %d", got, want)
	}

	res := chainInner(v.hasher, leafHash, proof[:inner], uint64(leafIndex))
	res = chainBorderRight(v.hasher, res, proof[inner:])
	return res, nil
}

// VerifyConsistencyProof checks that the passed in consistency proof is valid
// between the passed in tree sizes, with respect to the corresponding root
// hashes. Requires 0 <= snapshot1 <= snapshot2.
func (v LogVerifier) VerifyConsistencyProof(snapshot1, snapshot2 int64, root1, root2 []byte, proof [][]byte) error {
	switch {
	case snapshot1 < 0:
		return fmt.Errorf("snapshot1 (%d) < 0", snapshot1)
	case snapshot2 < snapshot1:
		return fmt.Errorf("snapshot2 (%d) < snapshot1 (%d)", snapshot2, snapshot1)
	case snapshot1 == snapshot2:
		// Equal snapshots never need proof material, so a non-empty proof
		// is a malformed request regardless of the roots.
		if len(proof) > 0 {
			return errors.New("snapshots are equal, but proof is non-empty")
		}
		if !bytes.Equal(root1, root2) {
			return RootMismatchError{
				CalculatedRoot: root1,
				ExpectedRoot:   root2,
			}
		}
		return nil
	case snapshot1 == 0:
		// Any snapshot greater than 0 is consistent with snapshot 0.
		if len(proof) > 0 {
			return fmt.Errorf("expected empty proof, but got %d components", len(proof))
		}
		return nil
	case len(proof) == 0:
		return errors.New("empty proof")
	}

	inner, border := decompInclProof(uint64(snapshot1-1), uint64(snapshot2))
	shift := bits.TrailingZeros64(uint64(snapshot1))
	inner -= shift // Note: shift < inner if snapshot1 < snapshot2.

	// The proof includes the root hash for the sub-tree of size 2^shift.
	seed, start := proof[0], 1
	if snapshot1 == 1<<uint(shift) {
		// That subtree is the whole snapshot1 tree, so the seed is root1.
		seed, start = root1, 0
	}
	if got, want := len(proof), start+inner+border; got != want {
		return fmt.Errorf("wrong proof size %d, want %d", got, want)
	}
	proof = proof[start:]

	// The bits of mask steer the inner chaining; the bottom shift levels are
	// already collapsed into the seed.
	mask := uint64(snapshot1-1) >> uint(shift)

	// Verify the first root.
	hash1 := chainInnerRight(v.hasher, seed, proof[:inner], mask)
	hash1 = chainBorderRight(v.hasher, hash1, proof[inner:])
	if !bytes.Equal(hash1, root1) {
		return RootMismatchError{
			CalculatedRoot: hash1,
			ExpectedRoot:   root1,
		}
	}

	// Verify the second root.
	hash2 := chainInner(v.hasher, seed, proof[:inner], mask)
	hash2 = chainBorderRight(v.hasher, hash2, proof[inner:])
	if !bytes.Equal(hash2, root2) {
		return RootMismatchError{
			CalculatedRoot: hash2,
			ExpectedRoot:   root2,
		}
	}

	return nil
}

// VerifiedPrefixHashFromInclusionProof calculates the root hash of a subtree
// of the given size, provided the leaf hash of the (subSize-1)-th leaf with
// its inclusion proof into the tree of the given size. It additionally
// verifies that the inclusion proof is valid with respect to the passed in
// tree root hash.
func (v LogVerifier) VerifiedPrefixHashFromInclusionProof(subSize, size int64, proof [][]byte, root, leafHash []byte) ([]byte, error) {
	if subSize <= 0 {
		return nil, fmt.Errorf("subtree size is %d, want > 0", subSize)
	}
	leaf := subSize - 1
	if err := v.VerifyInclusionProof(leaf, size, proof, root, leafHash); err != nil {
		return nil, err
	}

	inner := innerProofSize(uint64(leaf), uint64(size))
	res := chainInnerRight(v.hasher, leafHash, proof[:inner], uint64(leaf))
	res = chainBorderRight(v.hasher, res, proof[inner:])
	return res, nil
}

// decompInclProof breaks down inclusion proof for a leaf at the specified
// index in a tree of the specified size into 2 components. The splitting
// point between them is where paths to leaves index and size-1 diverge.
// Returns lengths of the bottom and upper proof parts correspondingly. The
// sum of the two determines the correct length of the inclusion proof.
func decompInclProof(index, size uint64) (int, int) {
	inner := innerProofSize(index, size)
	border := bits.OnesCount64(index >> uint(inner))
	return inner, border
}

func innerProofSize(index, size uint64) int {
	return bits.Len64(index ^ (size - 1))
}

// chainInner computes a subtree hash for a node on or below the tree's right
// border. Assumes |proof| hashes are ordered from lower levels to upper, and
// |seed| is the initial subtree/leaf hash on the path located at the
// specified |index| on its level.
func chainInner(hasher hashers.LogHasher, seed []byte, proof [][]byte, index uint64) []byte {
	for i, h := range proof {
		if (index>>uint(i))&1 == 0 {
			seed = hasher.HashChildren(seed, h)
		} else {
			seed = hasher.HashChildren(h, seed)
		}
	}
	return seed
}

// chainInnerRight computes a subtree hash like chainInner, but only takes
// hashes to the left from the path into consideration, which effectively
// means the result is a hash of the bigger subtree closed at size index+1.
func chainInnerRight(hasher hashers.LogHasher, seed []byte, proof [][]byte, index uint64) []byte {
	for i, h := range proof {
		if (index>>uint(i))&1 == 1 {
			seed = hasher.HashChildren(h, seed)
		}
	}
	return seed
}

// chainBorderRight chains proof hashes along the tree's right border.
func chainBorderRight(hasher hashers.LogHasher, seed []byte, proof [][]byte) []byte {
	for _, h := range proof {
		seed = hasher.HashChildren(h, seed)
	}
	return seed
}
