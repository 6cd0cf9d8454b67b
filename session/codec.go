// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/atrium-foundation/atrium/lib/clock"
)

// KeySize is the size in bytes of the master key and the derived
// encryption key.
const KeySize = 32

// SealedVersion is the layout version byte prepended to every sealed
// session. Included as additional authenticated data in the AEAD
// Seal/Open call, so tampering with it causes authentication failure.
const SealedVersion byte = 0x01

// SealedOverhead is the total byte overhead per sealed session:
// 1 (version) + 1 (key version) + 24 (XChaCha20-Poly1305 nonce) +
// 16 (Poly1305 tag).
const SealedOverhead = 2 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// DefaultLeeway is the expiry leeway applied when no option overrides
// it. It absorbs clock skew between the host that minted the session
// and the host validating it.
const DefaultLeeway = 30 * time.Second

// hkdfInfoCookie is the HKDF-SHA256 info string for deriving the
// cookie encryption key from the master key. Changing it invalidates
// every outstanding cookie.
var hkdfInfoCookie = []byte("atrium.session.cookie.v1")

// Open failure taxonomy. The auth gate collapses all three into one
// client-visible outcome; the distinction exists for logs and tests.
var (
	// ErrForged means the authentication tag did not verify: wrong
	// key, flipped bits, or a fabricated value.
	ErrForged = errors.New("session: authentication failed")

	// ErrExpired means the session authenticated but its expiry (plus
	// leeway) is in the past.
	ErrExpired = errors.New("session: expired")

	// ErrMalformed means the byte layout or version tag is not
	// recognized: truncated input, unknown layout version, unknown
	// key version, or an undecodable payload.
	ErrMalformed = errors.New("session: malformed sealed value")
)

// payload is the CBOR wire form of a Session. Integer keys keep the
// encoded size small; timestamps are Unix seconds.
type payload struct {
	Subject   string            `cbor:"1,keyasint"`
	IssuedAt  int64             `cbor:"2,keyasint"`
	ExpiresAt int64             `cbor:"3,keyasint"`
	Data      map[string]string `cbor:"4,keyasint,omitempty"`
}

// encMode encodes payloads with Core Deterministic Encoding
// (RFC 8949 §4.2): the same session always produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec seals sessions into encrypted byte strings and opens them
// back. It is stateless apart from the derived key and is safe for
// concurrent use.
type Codec struct {
	aead        cipher.AEAD
	keyVersion  byte
	fingerprint string
	leeway      time.Duration
	clock       clock.Clock
}

// Option configures a Codec.
type Option func(*Codec)

// WithLeeway sets the expiry leeway window applied by Open. The
// default is DefaultLeeway. Leeway must not be negative.
func WithLeeway(leeway time.Duration) Option {
	return func(c *Codec) { c.leeway = leeway }
}

// WithClock injects the clock used for expiry validation. Tests use
// clock.Fake; the default is clock.Real().
func WithClock(clk clock.Clock) Option {
	return func(c *Codec) { c.clock = clk }
}

// NewCodec creates a codec from a master key. The encryption key is
// derived via HKDF-SHA256, so the master key itself never touches the
// cipher.
func NewCodec(masterKey []byte, options ...Option) (*Codec, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}

	derived := make([]byte, KeySize)
	reader := hkdf.New(sha256.New, masterKey, nil, hkdfInfoCookie)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("deriving cookie key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("initializing AEAD: %w", err)
	}

	codec := &Codec{
		aead:        aead,
		keyVersion:  0,
		fingerprint: fingerprint(derived),
		leeway:      DefaultLeeway,
		clock:       clock.Real(),
	}
	for _, option := range options {
		option(codec)
	}
	if codec.leeway < 0 {
		return nil, fmt.Errorf("leeway must not be negative, got %v", codec.leeway)
	}
	return codec, nil
}

// fingerprint computes a short non-reversible identifier for a key,
// safe to log. BLAKE3 of the key, first 8 bytes, hex.
func fingerprint(key []byte) string {
	sum := blake3.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// KeyFingerprint identifies the active key in logs without revealing
// key material.
func (c *Codec) KeyFingerprint() string { return c.fingerprint }

// Leeway returns the configured expiry leeway. The cookie helper
// subtracts it from the Expires attribute so the browser drops the
// cookie before the server would reject it.
func (c *Codec) Leeway() time.Duration { return c.leeway }

// Seal encrypts a session. It cannot fail for a valid session: CBOR
// encoding of the payload struct is total, and a random-nonce read
// failure means the process has no working entropy source, which is
// not a recoverable per-request condition.
func (c *Codec) Seal(s Session) []byte {
	plaintext, err := encMode.Marshal(payload{
		Subject:   s.Subject,
		IssuedAt:  s.IssuedAt.Unix(),
		ExpiresAt: s.ExpiresAt.Unix(),
		Data:      s.Data,
	})
	if err != nil {
		panic("session: CBOR encoding of session payload failed: " + err.Error())
	}

	header := [2]byte{SealedVersion, c.keyVersion}

	output := make([]byte, 2+chacha20poly1305.NonceSizeX, SealedOverhead+len(plaintext))
	output[0] = header[0]
	output[1] = header[1]
	nonce := output[2 : 2+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		panic("session: reading random nonce: " + err.Error())
	}

	// Seal appends ciphertext+tag to output. The two header bytes are
	// AAD: flipping either fails authentication on open.
	return c.aead.Seal(output, nonce, plaintext, header[:])
}

// Open decrypts and validates a sealed session. Returns ErrMalformed
// for unrecognized layout, ErrForged for authentication failure, and
// ErrExpired when the session is past its expiry plus leeway.
func (c *Codec) Open(sealed []byte) (Session, error) {
	if len(sealed) < SealedOverhead {
		return Session{}, fmt.Errorf("%w: %d bytes is shorter than the minimum %d", ErrMalformed, len(sealed), SealedOverhead)
	}
	if sealed[0] != SealedVersion {
		return Session{}, fmt.Errorf("%w: unknown layout version 0x%02x", ErrMalformed, sealed[0])
	}
	if sealed[1] != c.keyVersion {
		return Session{}, fmt.Errorf("%w: unknown key version 0x%02x", ErrMalformed, sealed[1])
	}

	nonce := sealed[2 : 2+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[2+chacha20poly1305.NonceSizeX:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, sealed[:2])
	if err != nil {
		return Session{}, ErrForged
	}

	var p payload
	if err := decMode.Unmarshal(plaintext, &p); err != nil {
		// Authenticated but undecodable: sealed by a codec speaking a
		// different payload dialect under the same key.
		return Session{}, fmt.Errorf("%w: payload decode: %v", ErrMalformed, err)
	}

	s := Session{
		Subject:   p.Subject,
		IssuedAt:  time.Unix(p.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(p.ExpiresAt, 0).UTC(),
		Data:      p.Data,
	}

	if c.clock.Now().After(s.ExpiresAt.Add(c.leeway)) {
		return Session{}, ErrExpired
	}
	return s, nil
}

// cookieEncoding is the encoding for sealed sessions in cookie values:
// URL-safe, unpadded.
var cookieEncoding = base64.RawURLEncoding

// SealValue seals a session and encodes it as a cookie-safe string.
func (c *Codec) SealValue(s Session) string {
	return cookieEncoding.EncodeToString(c.Seal(s))
}

// OpenValue decodes a cookie value and opens the sealed session
// inside. An undecodable value is ErrMalformed.
func (c *Codec) OpenValue(value string) (Session, error) {
	sealed, err := cookieEncoding.DecodeString(value)
	if err != nil {
		return Session{}, fmt.Errorf("%w: base64 decode: %v", ErrMalformed, err)
	}
	return c.Open(sealed)
}
