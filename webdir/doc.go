// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package webdir serves static file trees for the gateway's static
// route targets.
//
// The handler is deliberately narrow: resolve the request path inside
// the configured root (traversal attempts can never escape it), serve
// index.html for directories, and gzip-compress text-like content
// when the client accepts it. Anything unresolvable is a plain 404 —
// the response never reveals whether the path was outside the root or
// simply absent.
package webdir
