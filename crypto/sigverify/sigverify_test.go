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

package sigverify

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

func newECDSAKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func selfSignedCertPEM(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "sigverify-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func signArtifact(t *testing.T, key *ecdsa.PrivateKey, artifact []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(artifact)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("SignASN1: %v", err)
	}
	return sig
}

func TestPublicKeyFromPEMCertificate(t *testing.T) {
	key := newECDSAKey(t)
	pub, err := PublicKeyFromPEM(selfSignedCertPEM(t, key))
	if err != nil {
		t.Fatalf("PublicKeyFromPEM: %v", err)
	}
	if !key.PublicKey.Equal(pub) {
		t.Error("extracted key does not match the certificate's key")
	}
}

func TestPublicKeyFromPEMPKIX(t *testing.T) {
	key := newECDSAKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	pub, err := PublicKeyFromPEM(pemBytes)
	if err != nil {
		t.Fatalf("PublicKeyFromPEM: %v", err)
	}
	if !key.PublicKey.Equal(pub) {
		t.Error("extracted key does not match the original key")
	}
}

func TestPublicKeyFromPEMErrors(t *testing.T) {
	for _, tc := range []struct {
		desc string
		pem  []byte
	}{
		{desc: "NotPEM", pem: []byte("not a pem block")},
		{desc: "WrongType", pem: pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1, 2, 3}})},
		{desc: "GarbageCert", pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{1, 2, 3}})},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			if _, err := PublicKeyFromPEM(tc.pem); err == nil {
				t.Error("PublicKeyFromPEM: expected error")
			}
		})
	}
}

func TestVerifyArtifact(t *testing.T) {
	key := newECDSAKey(t)
	artifact := []byte("hello transparency log")
	sig := signArtifact(t, key, artifact)

	if err := VerifyArtifact(&key.PublicKey, sig, bytes.NewReader(artifact)); err != nil {
		t.Errorf("VerifyArtifact: %v", err)
	}

	if err := VerifyArtifact(&key.PublicKey, sig, bytes.NewReader([]byte("tampered"))); err == nil {
		t.Error("VerifyArtifact: expected error for modified artifact")
	}

	otherKey := newECDSAKey(t)
	if err := VerifyArtifact(&otherKey.PublicKey, sig, bytes.NewReader(artifact)); err == nil {
		t.Error("VerifyArtifact: expected error for wrong key")
	}

	if err := VerifyArtifact("not a key", sig, bytes.NewReader(artifact)); err == nil {
		t.Error("VerifyArtifact: expected error for unsupported key type")
	}
}
