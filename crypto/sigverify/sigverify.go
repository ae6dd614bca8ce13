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

// Package sigverify checks artifact signatures against the signing material
// embedded in log entries. Entries carry either a signing certificate or a
// bare public key, both PEM-encoded.
package sigverify

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
)

// PublicKeyFromPEM extracts a public key from a PEM block holding either a
// certificate or a PKIX public key.
func PublicKeyFromPEM(pemBytes []byte) (crypto.PublicKey, error) {
	block, rest := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("sigverify: invalid PEM")
	}
	if len(rest) > 0 {
		return nil, errors.New("sigverify: extra data found after first PEM block")
	}

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sigverify: parsing certificate: %v", err)
		}
		return cert.PublicKey, nil
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("sigverify: parsing public key: %v", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("sigverify: unsupported PEM block type %q", block.Type)
	}
}

// ReadPublicKeyFile reads a PEM-encoded certificate or public key from a file.
func ReadPublicKeyFile(file string) (crypto.PublicKey, error) {
	pemBytes, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("sigverify: error reading file %q: %v", file, err)
	}
	return PublicKeyFromPEM(pemBytes)
}

// VerifyArtifact verifies signature over the contents of artifact. ECDSA and
// RSA signatures are checked over the SHA-256 digest of the artifact; Ed25519
// signs the raw bytes.
func VerifyArtifact(pub crypto.PublicKey, signature []byte, artifact io.Reader) error {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(artifact, h))
	if err != nil {
		return fmt.Errorf("sigverify: reading artifact: %v", err)
	}
	digest := h.Sum(nil)

	switch pub := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, signature) {
			return errors.New("sigverify: ECDSA signature verification failed")
		}
	case *rsa.PublicKey:
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, signature); err != nil {
			return fmt.Errorf("sigverify: RSA signature verification failed: %v", err)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, data, signature) {
			return errors.New("sigverify: Ed25519 signature verification failed")
		}
	default:
		return fmt.Errorf("sigverify: unsupported public key type %T", pub)
	}
	return nil
}
