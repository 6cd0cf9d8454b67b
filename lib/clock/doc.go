// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code injects
// Real(); tests inject Fake() and advance time deterministically.
//
// The session codec's expiry and leeway checks are the main consumer:
// a test can seal a cookie, advance the fake clock past the expiry
// window, and observe the expired outcome without sleeping.
package clock
