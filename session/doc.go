// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package session seals and opens Atrium's stateless session cookies.
//
// A session is never stored server-side: the cookie is the store. The
// codec encrypts the session payload with XChaCha20-Poly1305 so that
// the client can carry it but neither read nor modify it — any bit
// flip in transit fails authentication rather than silently corrupting
// session fields.
//
// Wire layout of a sealed session:
//
//	[Version: 1 byte (0x01)] [KeyVersion: 1 byte] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The version and key-version bytes are additional authenticated data,
// so tampering with them fails authentication too. The key-version
// byte exists to allow key rotation later; the current implementation
// always writes 0 and rejects anything else as unopenable.
//
// The payload inside the ciphertext is CBOR (Core Deterministic
// Encoding): subject, issue and expiry timestamps, and a small map of
// application data. Expiry is validated on open against an injected
// clock with a configurable leeway window to absorb clock skew
// between issuance and validation.
//
// The encryption key is derived from a master key file via HKDF-SHA256
// with a fixed info string. The master key is loaded once at startup,
// or generated and persisted if absent (LoadOrGenerateKey).
package session
