// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/atrium-foundation/atrium/lib/netutil"
)

// ErrAmbiguousRoute is returned by BuildTable when two rules share the
// same host pattern and path prefix. The gateway must fail closed on
// an ambiguous table rather than silently picking one rule.
var ErrAmbiguousRoute = errors.New("gateway: ambiguous route rules")

// TargetKind discriminates the closed set of route target variants.
type TargetKind int

const (
	// TargetDeny rejects the request with a fixed not-found response.
	// The implicit catch-all rule has this kind.
	TargetDeny TargetKind = iota

	// TargetUpstream forwards the request to a backend application.
	TargetUpstream

	// TargetStatic delegates to the static-serving collaborator.
	TargetStatic
)

func (k TargetKind) String() string {
	switch k {
	case TargetDeny:
		return "deny"
	case TargetUpstream:
		return "upstream"
	case TargetStatic:
		return "static"
	}
	return fmt.Sprintf("TargetKind(%d)", int(k))
}

// Target is where a matched request goes. A closed tagged variant:
// exactly the field selected by Kind is meaningful.
type Target struct {
	Kind TargetKind

	// Upstream is the backend base URL (scheme + host[:port]) for
	// TargetUpstream.
	Upstream *url.URL

	// StaticRoot is the identifier handed to the static-serving
	// collaborator for TargetStatic. The gateway does not inspect it.
	StaticRoot string
}

// RouteRule maps a (host pattern, path prefix) pair to a target.
type RouteRule struct {
	// HostPattern matches the request host case-insensitively. Either
	// an exact name ("app1.example") or a wildcard ("*.example")
	// matching exactly one extra label.
	HostPattern string

	// PathPrefix matches the request path byte-wise on segment
	// boundaries: "/app" matches "/app" and "/app/x" but not
	// "/apple". "/" matches everything.
	PathPrefix string

	// Protected requires a valid session before the target is
	// reached.
	Protected bool

	// Roles, when non-empty, additionally requires the session to
	// carry at least one of these roles. Only meaningful on
	// protected rules.
	Roles []string

	// SecurityHeaders injects the hardening header set into responses
	// for this rule when the upstream or static tree did not set them
	// itself.
	SecurityHeaders bool

	// Target is where matched requests go.
	Target Target

	// implicit marks the catch-all deny rule appended to every table.
	// Only Match sets it; BuildTable rejects rules without a host
	// pattern, so explicit rules never carry it.
	implicit bool
}

// RouteTable is an immutable, ordered rule set built once from
// validated configuration. Safe for concurrent readers without
// locking; replaced wholesale (never mutated) on reload.
type RouteTable struct {
	entries []routeEntry
}

type routeEntry struct {
	rule RouteRule

	// wildcard is true for "*.suffix" host patterns; suffix then
	// holds the part after "*." lowercased.
	wildcard bool
	suffix   string
}

// denyRule is the implicit catch-all: every table ends with it, so
// Match is total. Distinguishable from a configured deny rule via the
// implicit flag, which the dispatcher consults for its portal
// fallback.
var denyRule = RouteRule{PathPrefix: "/", Target: Target{Kind: TargetDeny}, implicit: true}

// BuildTable validates, normalizes, and ranks a rule set. Ranking:
// exact host patterns before wildcard patterns, then longer path
// prefixes before shorter, then configuration order. Two rules with
// identical (host pattern, path prefix) cannot be ranked and produce
// ErrAmbiguousRoute — fatal at startup, by design.
func BuildTable(rules []RouteRule) (*RouteTable, error) {
	entries := make([]routeEntry, 0, len(rules))
	seen := make(map[string]bool, len(rules))

	for index, rule := range rules {
		host := strings.ToLower(strings.TrimSpace(rule.HostPattern))
		if host == "" {
			return nil, fmt.Errorf("rule %d: host pattern is required", index)
		}

		prefix, err := normalizePrefix(rule.PathPrefix)
		if err != nil {
			return nil, fmt.Errorf("rule %d (host %q): %w", index, host, err)
		}

		entry := routeEntry{rule: rule}
		entry.rule.HostPattern = host
		entry.rule.PathPrefix = prefix

		if after, ok := strings.CutPrefix(host, "*."); ok {
			if after == "" || strings.Contains(after, "*") {
				return nil, fmt.Errorf("rule %d: invalid wildcard host pattern %q", index, host)
			}
			entry.wildcard = true
			entry.suffix = after
		} else if strings.Contains(host, "*") {
			return nil, fmt.Errorf("rule %d: wildcard is only allowed as a leading \"*.\" in %q", index, host)
		}

		key := host + "\x00" + prefix
		if seen[key] {
			return nil, fmt.Errorf("%w: host %q path prefix %q appears twice", ErrAmbiguousRoute, host, prefix)
		}
		seen[key] = true

		switch entry.rule.Target.Kind {
		case TargetUpstream:
			if entry.rule.Target.Upstream == nil {
				return nil, fmt.Errorf("rule %d (host %q): upstream target without an upstream URL", index, host)
			}
		case TargetStatic:
			if entry.rule.Target.StaticRoot == "" {
				return nil, fmt.Errorf("rule %d (host %q): static target without a static root", index, host)
			}
		case TargetDeny:
		default:
			return nil, fmt.Errorf("rule %d (host %q): unknown target kind %d", index, host, entry.rule.Target.Kind)
		}

		entries = append(entries, entry)
	}

	// Stable sort keeps configuration order as the final tie-break
	// for rules that overlap without being identical.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].wildcard != entries[j].wildcard {
			return !entries[i].wildcard
		}
		return len(entries[i].rule.PathPrefix) > len(entries[j].rule.PathPrefix)
	})

	return &RouteTable{entries: entries}, nil
}

// normalizePrefix canonicalizes a path prefix: leading slash required,
// trailing slash stripped (except the bare "/"), no empty or dot
// segments.
func normalizePrefix(prefix string) (string, error) {
	if prefix == "" {
		return "/", nil
	}
	if !strings.HasPrefix(prefix, "/") {
		return "", fmt.Errorf("path prefix %q must start with /", prefix)
	}
	trimmed := strings.TrimRight(prefix, "/")
	if trimmed == "" {
		return "/", nil
	}
	for _, segment := range strings.Split(trimmed[1:], "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("path prefix %q contains an empty or dot segment", prefix)
		}
	}
	return trimmed, nil
}

// Match resolves a (host, path) pair to the first rule satisfying
// both the host pattern and the path prefix, or the implicit deny
// rule. Total and deterministic: the same table and inputs always
// pick the same rule. The host may carry a port; matching ignores it.
func (t *RouteTable) Match(host, path string) RouteRule {
	host = strings.ToLower(netutil.HostOnly(host))
	if path == "" {
		path = "/"
	}

	for _, entry := range t.entries {
		if !entry.matchHost(host) {
			continue
		}
		if !matchPrefix(entry.rule.PathPrefix, path) {
			continue
		}
		return entry.rule
	}
	return denyRule
}

// Len reports the number of explicit rules (the implicit deny rule is
// not counted).
func (t *RouteTable) Len() int { return len(t.entries) }

func (e *routeEntry) matchHost(host string) bool {
	if !e.wildcard {
		return host == e.rule.HostPattern
	}
	// "*.example" matches exactly one label plus the suffix:
	// "a.example" yes, "example" no, "a.b.example" no.
	label, ok := strings.CutSuffix(host, "."+e.suffix)
	if !ok {
		return false
	}
	return label != "" && !strings.Contains(label, ".")
}

func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
