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

// Package inmemory provides an in-memory Merkle tree implementation.
//
// Roots and proofs are derived directly from the recursive definitions in
// RFC 6962 sections 2.1, 2.1.1 and 2.1.2, which keeps this code independent
// of the iterative bit-twiddling verifier it is used to cross-check in tests.
package inmemory

import (
	"fmt"
	"math/bits"

	"github.com/rektor-dev/rektor/merkle/hashers"
)

// Tree implements an append-only Merkle tree. For testing.
// Not safe for concurrent use.
type Tree struct {
	hasher hashers.LogHasher
	leaves [][]byte // Leaf hashes, in append order.

	// Hashes of perfect aligned subtrees, which are immutable once complete.
	// Keyed by [begin, end) leaf range.
	perfect map[[2]int64][]byte
}

// New returns a new empty Merkle tree.
func New(hasher hashers.LogHasher) *Tree {
	return &Tree{hasher: hasher, perfect: make(map[[2]int64][]byte)}
}

// AppendData adds the leaf hashes of the given entries to the end of the tree.
func (t *Tree) AppendData(entries ...[]byte) {
	for _, data := range entries {
		t.leaves = append(t.leaves, t.hasher.HashLeaf(data))
	}
}

// Append adds the given leaf hashes to the end of the tree.
func (t *Tree) Append(hashes ...[]byte) {
	t.leaves = append(t.leaves, hashes...)
}

// Size returns the current number of leaves in the tree.
func (t *Tree) Size() int64 {
	return int64(len(t.leaves))
}

// LeafHash returns the leaf hash at the given index.
// Requires 0 <= index < Size(), otherwise panics.
func (t *Tree) LeafHash(index int64) []byte {
	return t.leaves[index]
}

// Hash returns the current root hash of the tree.
func (t *Tree) Hash() []byte {
	return t.hashAt(t.Size())
}

// HashAt returns the root hash at the given size.
// Requires 0 <= size <= Size(), otherwise panics.
func (t *Tree) HashAt(size int64) []byte {
	if size < 0 || size > t.Size() {
		panic(fmt.Errorf("HashAt: size %d out of range [0, %d]", size, t.Size()))
	}
	return t.hashAt(size)
}

func (t *Tree) hashAt(size int64) []byte {
	if size == 0 {
		return t.hasher.EmptyRoot()
	}
	return t.subtreeHash(0, size)
}

// InclusionProof returns the inclusion proof for the given leaf index in the
// tree of the given size. Requires 0 <= index < size <= Size().
func (t *Tree) InclusionProof(index, size int64) ([][]byte, error) {
	if index < 0 || size < 0 || index >= size || size > t.Size() {
		return nil, fmt.Errorf("invalid inclusion proof coordinates: index %d, size %d, have %d leaves", index, size, t.Size())
	}
	return t.path(index, 0, size), nil
}

// ConsistencyProof returns the consistency proof between the two given tree
// sizes. Requires 0 <= size1 <= size2 <= Size().
func (t *Tree) ConsistencyProof(size1, size2 int64) ([][]byte, error) {
	if size1 < 0 || size1 > size2 || size2 > t.Size() {
		return nil, fmt.Errorf("invalid consistency proof coordinates: sizes %d, %d, have %d leaves", size1, size2, t.Size())
	}
	if size1 == 0 || size1 == size2 {
		return [][]byte{}, nil
	}
	return t.subproof(size1, 0, size2, true), nil
}

// path implements PATH from RFC 6962 section 2.1.1 for the leaf at the given
// index, over the leaf range [begin, end).
func (t *Tree) path(index, begin, end int64) [][]byte {
	if end-begin <= 1 {
		return nil
	}
	k := split(end - begin)
	if index < begin+k {
		return append(t.path(index, begin, begin+k), t.subtreeHash(begin+k, end))
	}
	return append(t.path(index, begin+k, end), t.subtreeHash(begin, begin+k))
}

// subproof implements SUBPROOF from RFC 6962 section 2.1.2 for the prefix of
// size1 leaves within the leaf range [begin, end). The complete flag records
// whether the prefix is a complete subtree of the original range.
func (t *Tree) subproof(size1, begin, end int64, complete bool) [][]byte {
	if size1 == end-begin {
		if complete {
			return nil
		}
		return [][]byte{t.subtreeHash(begin, end)}
	}
	k := split(end - begin)
	if size1 <= k {
		return append(t.subproof(size1, begin, begin+k, complete), t.subtreeHash(begin+k, end))
	}
	return append(t.subproof(size1-k, begin+k, end, false), t.subtreeHash(begin, begin+k))
}

// subtreeHash implements MTH from RFC 6962 section 2.1 over the leaf range
// [begin, end), which must be non-empty.
func (t *Tree) subtreeHash(begin, end int64) []byte {
	if end-begin == 1 {
		return t.leaves[begin]
	}
	width := end - begin
	cacheable := width&(width-1) == 0 && begin%width == 0
	if cacheable {
		if h, ok := t.perfect[[2]int64{begin, end}]; ok {
			return h
		}
	}
	k := split(width)
	h := t.hasher.HashChildren(t.subtreeHash(begin, begin+k), t.subtreeHash(begin+k, end))
	if cacheable {
		t.perfect[[2]int64{begin, end}] = h
	}
	return h
}

// split returns the largest power of two strictly smaller than n.
// Requires n >= 2.
func split(n int64) int64 {
	return int64(1) << uint(bits.Len64(uint64(n-1))-1)
}
