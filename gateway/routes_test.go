// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"net/url"
	"testing"
)

func upstreamTarget(t *testing.T, raw string) Target {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing upstream URL %q: %v", raw, err)
	}
	return Target{Kind: TargetUpstream, Upstream: u}
}

func mustBuild(t *testing.T, rules []RouteRule) *RouteTable {
	t.Helper()
	table, err := BuildTable(rules)
	if err != nil {
		t.Fatalf("BuildTable: %v", err)
	}
	return table
}

func TestMatchExactHostAndPrefix(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app1.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
		{HostPattern: "app2.example", PathPrefix: "/api", Target: upstreamTarget(t, "http://10.0.0.2:8080")},
	})

	got := table.Match("app1.example", "/anything/at/all")
	if got.HostPattern != "app1.example" {
		t.Errorf("matched %q, want app1.example", got.HostPattern)
	}

	got = table.Match("app2.example", "/api/v1")
	if got.Target.Kind != TargetUpstream {
		t.Errorf("matched kind %v, want upstream", got.Target.Kind)
	}

	// Outside the prefix on a known host is still a deny.
	got = table.Match("app2.example", "/other")
	if got.Target.Kind != TargetDeny {
		t.Errorf("path outside prefix matched %v, want deny", got.Target.Kind)
	}
}

func TestMatchUnknownHostDenied(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app1.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	got := table.Match("evil.example", "/")
	if got.Target.Kind != TargetDeny {
		t.Errorf("unknown host matched %v, want deny", got.Target.Kind)
	}
}

func TestMatchIsCaseInsensitiveAndIgnoresPort(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "App1.Example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	for _, host := range []string{"app1.example", "APP1.EXAMPLE", "app1.example:443", "App1.Example:8443"} {
		if got := table.Match(host, "/"); got.Target.Kind != TargetUpstream {
			t.Errorf("Match(%q) = %v, want upstream", host, got.Target.Kind)
		}
	}
}

func TestMatchPrefixSegmentBoundary(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app.example", PathPrefix: "/app", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	tests := []struct {
		path string
		want TargetKind
	}{
		{"/app", TargetUpstream},
		{"/app/", TargetUpstream},
		{"/app/settings", TargetUpstream},
		{"/apple", TargetDeny},
		{"/ap", TargetDeny},
		{"/", TargetDeny},
	}
	for _, tt := range tests {
		if got := table.Match("app.example", tt.path); got.Target.Kind != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got.Target.Kind, tt.want)
		}
	}
}

func TestMatchWildcardSingleLabel(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "*.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	tests := []struct {
		host string
		want TargetKind
	}{
		{"app.example", TargetUpstream},
		{"other.example", TargetUpstream},
		{"example", TargetDeny},
		{"a.b.example", TargetDeny},
		{".example", TargetDeny},
	}
	for _, tt := range tests {
		if got := table.Match(tt.host, "/"); got.Target.Kind != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.host, got.Target.Kind, tt.want)
		}
	}
}

func TestMatchExactHostBeatsWildcard(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "*.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.9:8080")},
		{HostPattern: "app.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	got := table.Match("app.example", "/")
	if got.HostPattern != "app.example" {
		t.Errorf("matched %q, want the exact host to win over the wildcard", got.HostPattern)
	}

	got = table.Match("other.example", "/")
	if got.HostPattern != "*.example" {
		t.Errorf("matched %q, want the wildcard fallback", got.HostPattern)
	}
}

func TestMatchLongerPrefixWins(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app.example", PathPrefix: "/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
		{HostPattern: "app.example", PathPrefix: "/api", Target: upstreamTarget(t, "http://10.0.0.2:8080")},
		{HostPattern: "app.example", PathPrefix: "/api/admin", Protected: true, Target: upstreamTarget(t, "http://10.0.0.3:8080")},
	})

	tests := []struct {
		path string
		want string
	}{
		{"/api/admin/users", "/api/admin"},
		{"/api/things", "/api"},
		{"/index.html", "/"},
	}
	for _, tt := range tests {
		if got := table.Match("app.example", tt.path); got.PathPrefix != tt.want {
			t.Errorf("Match(%q) matched prefix %q, want %q", tt.path, got.PathPrefix, tt.want)
		}
	}
}

func TestMatchProtectionOfMatchedRuleOnly(t *testing.T) {
	// The protection of the rule that matched applies, never that of a
	// broader overlapping rule.
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app.example", PathPrefix: "/", Protected: true, Target: upstreamTarget(t, "http://10.0.0.1:8080")},
		{HostPattern: "app.example", PathPrefix: "/public", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})

	if got := table.Match("app.example", "/public/logo.png"); got.Protected {
		t.Error("the narrower unprotected rule matched but Protected is set")
	}
	if got := table.Match("app.example", "/private"); !got.Protected {
		t.Error("the broad protected rule matched but Protected is unset")
	}
}

func TestBuildTableRejectsDuplicates(t *testing.T) {
	_, err := BuildTable([]RouteRule{
		{HostPattern: "app.example", PathPrefix: "/api", Target: Target{Kind: TargetDeny}},
		{HostPattern: "App.Example", PathPrefix: "/api/", Target: Target{Kind: TargetDeny}},
	})
	if !errors.Is(err, ErrAmbiguousRoute) {
		t.Errorf("duplicate rules: got %v, want ErrAmbiguousRoute", err)
	}
}

func TestBuildTableRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		rule RouteRule
	}{
		{"empty host", RouteRule{PathPrefix: "/", Target: Target{Kind: TargetDeny}}},
		{"inner wildcard", RouteRule{HostPattern: "app.*.example", Target: Target{Kind: TargetDeny}}},
		{"bare wildcard", RouteRule{HostPattern: "*.", Target: Target{Kind: TargetDeny}}},
		{"relative prefix", RouteRule{HostPattern: "a.example", PathPrefix: "api", Target: Target{Kind: TargetDeny}}},
		{"dot segment", RouteRule{HostPattern: "a.example", PathPrefix: "/api/../x", Target: Target{Kind: TargetDeny}}},
		{"upstream without URL", RouteRule{HostPattern: "a.example", Target: Target{Kind: TargetUpstream}}},
		{"static without root", RouteRule{HostPattern: "a.example", Target: Target{Kind: TargetStatic}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildTable([]RouteRule{tt.rule}); err == nil {
				t.Error("BuildTable accepted an invalid rule")
			}
		})
	}
}

func TestBuildTableNormalizesTrailingSlash(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "app.example", PathPrefix: "/api/", Target: upstreamTarget(t, "http://10.0.0.1:8080")},
	})
	got := table.Match("app.example", "/api")
	if got.Target.Kind != TargetUpstream {
		t.Errorf("normalized prefix did not match the bare path: %v", got.Target.Kind)
	}
	if got.PathPrefix != "/api" {
		t.Errorf("stored prefix = %q, want trailing slash stripped", got.PathPrefix)
	}
}

func TestMatchDistinguishesConfiguredDeny(t *testing.T) {
	table := mustBuild(t, []RouteRule{
		{HostPattern: "blocked.example", PathPrefix: "/", Target: Target{Kind: TargetDeny}},
	})

	if got := table.Match("blocked.example", "/"); got.implicit {
		t.Error("a configured deny rule carries the catch-all marker")
	}
	if got := table.Match("unknown.example", "/"); !got.implicit {
		t.Error("the catch-all deny is not marked as implicit")
	}
}

func TestMatchEmptyTableDeniesEverything(t *testing.T) {
	table := mustBuild(t, nil)
	got := table.Match("anything.example", "/")
	if got.Target.Kind != TargetDeny {
		t.Errorf("empty table matched %v, want deny", got.Target.Kind)
	}
}
