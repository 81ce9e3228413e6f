// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"time"
)

// KeyPair is an Ed25519 signing key used by one of the three signer
// classes. UAK is long-lived (wrapped under MKEK); LAK is ephemeral
// per-lease, held only in memory; KIAK is instance-scoped, generated at
// worker start.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh Ed25519 signing key.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// DelegationCert binds a subordinate signing key (LAK or KIAK) to a scope,
// validity window, and the executing code's identity, signed by UAK.
type DelegationCert struct {
	Type         string   `json:"type"`
	Version      int      `json:"version"`
	SignerKind   string   `json:"signerKind"` // "LAK" | "KIAK"
	LeaseID      string   `json:"leaseId,omitempty"`
	InstanceID   string   `json:"instanceId,omitempty"`
	DelegatePub  string   `json:"delegatePub"`
	Scope        []string `json:"scope"`
	NotBefore    int64    `json:"notBefore"`
	NotAfter     *int64   `json:"notAfter,omitempty"`
	CodeHash     string   `json:"codeHash"`
	ManifestHash string   `json:"manifestHash"`
	KmsVersion   int      `json:"kmsVersion"`
	Sig          string   `json:"sig"`
}

// signingPayload is the cert with Sig cleared, the bytes UAK actually signs.
func (c *DelegationCert) signingPayload() ([]byte, error) {
	cp := *c
	cp.Sig = ""
	return json.Marshal(cp)
}

// IssueDelegationCert has uak sign a new cert for a LAK/KIAK delegate.
func IssueDelegationCert(uak *KeyPair, signerKind, delegatePub string, scope []string, notBefore time.Time, notAfter *time.Time, leaseID, instanceID, codeHash, manifestHash string, kmsVersion int) (*DelegationCert, error) {
	cert := &DelegationCert{
		Type:         "audit-delegation",
		Version:      1,
		SignerKind:   signerKind,
		LeaseID:      leaseID,
		InstanceID:   instanceID,
		DelegatePub:  delegatePub,
		Scope:        scope,
		NotBefore:    notBefore.Unix(),
		CodeHash:     codeHash,
		ManifestHash: manifestHash,
		KmsVersion:   kmsVersion,
	}
	if notAfter != nil {
		na := notAfter.Unix()
		cert.NotAfter = &na
	}
	payload, err := cert.signingPayload()
	if err != nil {
		return nil, err
	}
	cert.Sig = string(ed25519.Sign(uak.Private, payload))
	return cert, nil
}

// VerifyCert checks cert.Sig against uakPub, the public key of the UAK
// that should have issued it.
func VerifyCert(cert *DelegationCert, uakPub ed25519.PublicKey) bool {
	payload, err := cert.signingPayload()
	if err != nil {
		return false
	}
	return ed25519.Verify(uakPub, payload, []byte(cert.Sig))
}

// CoversOpAt reports whether the cert's scope includes op and its validity
// window covers t.
func (c *DelegationCert) CoversOpAt(op string, t time.Time) bool {
	covered := false
	for _, s := range c.Scope {
		if s == op {
			covered = true
			break
		}
	}
	if !covered {
		return false
	}
	ts := t.Unix()
	if ts < c.NotBefore {
		return false
	}
	if c.NotAfter != nil && ts > *c.NotAfter {
		return false
	}
	return true
}

// uakSigner implements Signer for the long-lived User Audit Key: entries it
// signs carry no cert.
type uakSigner struct {
	id  string
	key *KeyPair
}

// NewUAKSigner wraps a UAK keypair as a Signer, using id (the callers pass
// "uak:"+userId) as signerId.
func NewUAKSigner(id string, key *KeyPair) Signer {
	return &uakSigner{id: id, key: key}
}

func (s *uakSigner) Kind() string { return "UAK" }
func (s *uakSigner) ID() string   { return s.id }
func (s *uakSigner) Cert() []byte { return nil }
func (s *uakSigner) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.key.Private, data), nil
}

// delegatedSigner implements Signer for LAK/KIAK: entries it signs must
// carry a DelegationCert issued by UAK.
type delegatedSigner struct {
	kind string
	id   string
	key  *KeyPair
	cert *DelegationCert
}

// NewLAKSigner wraps an ephemeral per-lease Ed25519 key as a Signer.
func NewLAKSigner(id string, key *KeyPair, cert *DelegationCert) Signer {
	return &delegatedSigner{kind: "LAK", id: id, key: key, cert: cert}
}

// NewKIAKSigner wraps the instance-scoped Ed25519 key as a Signer.
func NewKIAKSigner(id string, key *KeyPair, cert *DelegationCert) Signer {
	return &delegatedSigner{kind: "KIAK", id: id, key: key, cert: cert}
}

func (s *delegatedSigner) Kind() string { return s.kind }
func (s *delegatedSigner) ID() string   { return s.id }
func (s *delegatedSigner) Cert() []byte {
	if s.cert == nil {
		return nil
	}
	b, err := json.Marshal(s.cert)
	if err != nil {
		return nil
	}
	return b
}
func (s *delegatedSigner) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(s.key.Private, data), nil
}
