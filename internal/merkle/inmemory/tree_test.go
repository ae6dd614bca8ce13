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

package inmemory

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rektor-dev/rektor/merkle/rfc6962"
)

// The leaf data and expected root hashes of the growing test tree published
// with the reference implementation of RFC 6962.
var (
	testLeaves = [][]byte{
		dh(""),
		dh("00"),
		dh("10"),
		dh("2021"),
		dh("3031"),
		dh("40414243"),
		dh("5051525354555657"),
		dh("606162636465666768696a6b6c6d6e6f"),
	}

	testRoots = [][]byte{
		dh("6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d"),
		dh("fac54203e7cc696cf0dfcb42c92a1d9dbaf70ad9e621f4bd8d98662f00e3c125"),
		dh("aeb6bcfe274b70a14fb067a5e5578264db0fa9b51af5e0ba159158f329e06e77"),
		dh("d37ee418976dd95753c1c73862b9398fa2a2cf9b4ff0fdfe8b30cd95209614b7"),
		dh("4e3bbb1f7b478dcfe71fb631631519a3bca12c9aefca1612bfce4c13a86264d4"),
		dh("76e67dadbcdf1e10e1b74ddc608abd2f98dfb16fbce75277b5232a127f2087ef"),
		dh("ddb89be403809e325750d3d263cd78929c2942b7942a34b77e122c9594a74c8c"),
		dh("5dc9da79a70659a9ad559cb701ded9a2ab9d823aad2f4960cfe370eff4604328"),
	}
)

func dh(h string) []byte {
	r, err := hex.DecodeString(h)
	if err != nil {
		panic(err)
	}
	return r
}

func newTestTree(size int) *Tree {
	tree := New(rfc6962.DefaultHasher)
	tree.AppendData(testLeaves[:size]...)
	return tree
}

func TestTreeRoots(t *testing.T) {
	tree := New(rfc6962.DefaultHasher)
	if got, want := tree.Hash(), rfc6962.DefaultHasher.EmptyRoot(); !bytes.Equal(got, want) {
		t.Errorf("empty tree root: %x, want %x", got, want)
	}
	for i, data := range testLeaves {
		tree.AppendData(data)
		if got, want := tree.Hash(), testRoots[i]; !bytes.Equal(got, want) {
			t.Errorf("root at size %d: %x, want %x", i+1, got, want)
		}
	}
	// All previous roots must still be reachable via HashAt.
	for i, want := range testRoots {
		if got := tree.HashAt(int64(i + 1)); !bytes.Equal(got, want) {
			t.Errorf("HashAt(%d): %x, want %x", i+1, got, want)
		}
	}
}

func TestInclusionProofVectors(t *testing.T) {
	tree := newTestTree(len(testLeaves))
	for _, tc := range []struct {
		index, size int64
		want        [][]byte
	}{
		{index: 0, size: 1, want: [][]byte{}},
		{index: 0, size: 8, want: [][]byte{
			dh("96a296d224f285c67bee93c30f8a309157f0daa35dc5b87e410b78630a09cfc7"),
			dh("5f083f0a1a33ca076a95279832580db3e0ef4584bdff1f54c8a360f50de3031e"),
			dh("6b47aaf29ee3c2af9af889bc1fb9254dabd31177f16232dd6aab035ca39bf6e4"),
		}},
		{index: 5, size: 8, want: [][]byte{
			dh("bc1a0643b12e4d2d7c77918f44e0f4f79a838b6cf9ec5b5c283e1f4d88599e6b"),
			dh("ca854ea128ed050b41b35ffc1b87b8eb2bde461e9e3b5596ece6b9d5975a0ae0"),
			dh("d37ee418976dd95753c1c73862b9398fa2a2cf9b4ff0fdfe8b30cd95209614b7"),
		}},
		{index: 2, size: 3, want: [][]byte{
			dh("fac54203e7cc696cf0dfcb42c92a1d9dbaf70ad9e621f4bd8d98662f00e3c125"),
		}},
		{index: 1, size: 5, want: [][]byte{
			dh("6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d"),
			dh("5f083f0a1a33ca076a95279832580db3e0ef4584bdff1f54c8a360f50de3031e"),
			dh("bc1a0643b12e4d2d7c77918f44e0f4f79a838b6cf9ec5b5c283e1f4d88599e6b"),
		}},
	} {
		t.Run(fmt.Sprintf("index:%d:size:%d", tc.index, tc.size), func(t *testing.T) {
			proof, err := tree.InclusionProof(tc.index, tc.size)
			if err != nil {
				t.Fatalf("InclusionProof: %v", err)
			}
			if diff := cmp.Diff(tc.want, proof, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("InclusionProof diff (-want +got):\n%s", diff)
			}
		})
	}

	// Out of range coordinates must be rejected.
	for _, tc := range []struct{ index, size int64 }{
		{0, 0}, {1, 1}, {-1, 1}, {8, 8}, {0, 9},
	} {
		if _, err := tree.InclusionProof(tc.index, tc.size); err == nil {
			t.Errorf("InclusionProof(%d, %d): expected error", tc.index, tc.size)
		}
	}
}

func TestConsistencyProofVectors(t *testing.T) {
	tree := newTestTree(len(testLeaves))
	for _, tc := range []struct {
		size1, size2 int64
		want         [][]byte
	}{
		{size1: 1, size2: 1, want: [][]byte{}},
		{size1: 0, size2: 5, want: [][]byte{}},
		{size1: 1, size2: 8, want: [][]byte{
			dh("96a296d224f285c67bee93c30f8a309157f0daa35dc5b87e410b78630a09cfc7"),
			dh("5f083f0a1a33ca076a95279832580db3e0ef4584bdff1f54c8a360f50de3031e"),
			dh("6b47aaf29ee3c2af9af889bc1fb9254dabd31177f16232dd6aab035ca39bf6e4"),
		}},
		{size1: 6, size2: 8, want: [][]byte{
			dh("0ebc5d3437fbe2db158b9f126a1d118e308181031d0a949f8dededebc558ef6a"),
			dh("ca854ea128ed050b41b35ffc1b87b8eb2bde461e9e3b5596ece6b9d5975a0ae0"),
			dh("d37ee418976dd95753c1c73862b9398fa2a2cf9b4ff0fdfe8b30cd95209614b7"),
		}},
		{size1: 2, size2: 5, want: [][]byte{
			dh("5f083f0a1a33ca076a95279832580db3e0ef4584bdff1f54c8a360f50de3031e"),
			dh("bc1a0643b12e4d2d7c77918f44e0f4f79a838b6cf9ec5b5c283e1f4d88599e6b"),
		}},
	} {
		t.Run(fmt.Sprintf("sizes:%d:%d", tc.size1, tc.size2), func(t *testing.T) {
			proof, err := tree.ConsistencyProof(tc.size1, tc.size2)
			if err != nil {
				t.Fatalf("ConsistencyProof: %v", err)
			}
			if diff := cmp.Diff(tc.want, proof, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ConsistencyProof diff (-want +got):\n%s", diff)
			}
		})
	}

	for _, tc := range []struct{ size1, size2 int64 }{
		{-1, 5}, {3, 2}, {0, 9},
	} {
		if _, err := tree.ConsistencyProof(tc.size1, tc.size2); err == nil {
			t.Errorf("ConsistencyProof(%d, %d): expected error", tc.size1, tc.size2)
		}
	}
}
