// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of Atrium binaries.
package version

import "runtime/debug"

// Version is the release version, overridden at build time via
// -ldflags "-X .../lib/version.Version=v1.2.3".
var Version = "dev"

// Info returns a human-readable version string, including the VCS
// revision when the binary was built from a module-aware checkout.
func Info() string {
	info := Version
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 12 {
			info += " (" + setting.Value[:12] + ")"
			break
		}
	}
	return info
}
