// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package hopcrypto defines the boundary between the tunnel reactor and
// the per-hop relay crypto.  The onion handshake and key derivation live
// behind this interface; the reactor only ever sees whole relay cell
// payloads going in and out of it.
package hopcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
)

// DecryptError is the typed decryption failure.  It is fatal to the leg
// the cell arrived on.
type DecryptError struct {
	Hop int
}

func (e *DecryptError) Error() string {
	return "hopcrypto: relay cell decryption failed"
}

// Cryptor transforms one relay cell payload for one hop.  Both
// operations work in place on a full relay-cell-sized payload.
type Cryptor interface {
	// EncryptOutbound applies one outbound onion layer.
	EncryptOutbound(payload []byte) error

	// DecryptInbound removes one inbound onion layer.  recognized
	// reports whether the payload was addressed to this hop (fully
	// decrypted and authenticated here).
	DecryptInbound(payload []byte) (recognized bool, err error)
}

// KeyLen is the key length of the reference cryptor.
const KeyLen = chacha20.KeySize

var errBadKeyLen = errors.New("hopcrypto: bad key length")

// chachaCryptor is a reference Cryptor built on chacha20 with a keyed
// recognition tag.  It exists for tests and loopback use; production
// hops derive real Cryptors from the circuit extension handshake.
type chachaCryptor struct {
	encKey [KeyLen]byte
	decKey [KeyLen]byte
	encCtr uint64
	decCtr uint64
}

func deriveKeys(key []byte) (fwd, back [KeyLen]byte) {
	f := sha256.Sum256(append([]byte("fwd"), key...))
	b := sha256.Sum256(append([]byte("back"), key...))
	copy(fwd[:], f[:])
	copy(back[:], b[:])
	return
}

// NewChaChaCryptor creates the client side reference Cryptor from a
// shared key: it encrypts with the forward key and decrypts with the
// backward key.
func NewChaChaCryptor(key []byte) (Cryptor, error) {
	if len(key) != KeyLen {
		return nil, errBadKeyLen
	}
	fwd, back := deriveKeys(key)
	return &chachaCryptor{encKey: fwd, decKey: back}, nil
}

// NewChaChaCryptorPeer creates the relay side counterpart of
// NewChaChaCryptor for the same shared key, for loopback tests.
func NewChaChaCryptorPeer(key []byte) (Cryptor, error) {
	if len(key) != KeyLen {
		return nil, errBadKeyLen
	}
	fwd, back := deriveKeys(key)
	return &chachaCryptor{encKey: back, decKey: fwd}, nil
}

func xorStream(key *[KeyLen]byte, ctr uint64, payload []byte) error {
	var nonce [chacha20.NonceSize]byte
	binary.BigEndian.PutUint64(nonce[4:], ctr)
	s, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	s.XORKeyStream(payload, payload)
	return nil
}

// tag computes the recognition tag over the payload with the recognized
// and digest fields excluded.
func tag(key *[KeyLen]byte, payload []byte) [4]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(payload[:1])
	mac.Write(payload[3:5])
	mac.Write(payload[9:])
	var out [4]byte
	copy(out[:], mac.Sum(nil)[:4])
	return out
}

// EncryptOutbound implements Cryptor.
func (c *chachaCryptor) EncryptOutbound(payload []byte) error {
	// Fill in recognized (zero) and the digest before encrypting.
	payload[1], payload[2] = 0, 0
	d := tag(&c.encKey, payload)
	copy(payload[5:9], d[:])
	if err := xorStream(&c.encKey, c.encCtr, payload); err != nil {
		return err
	}
	c.encCtr++
	return nil
}

// DecryptInbound implements Cryptor.
func (c *chachaCryptor) DecryptInbound(payload []byte) (bool, error) {
	if err := xorStream(&c.decKey, c.decCtr, payload); err != nil {
		return false, err
	}
	c.decCtr++
	if payload[1] != 0 || payload[2] != 0 {
		return false, nil
	}
	var got [4]byte
	copy(got[:], payload[5:9])
	want := tag(&c.decKey, payload)
	if !hmac.Equal(got[:], want[:]) {
		return false, nil
	}
	return true, nil
}
