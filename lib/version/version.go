// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports what build of Capstan is running. Release
// tooling stamps the package-level variables with -ldflags -X; dev
// builds and test runs fall back to the defaults.
//
//	go build -ldflags "-X github.com/capstan-io/capstan/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Stamped at build time. Version is bumped by hand for releases.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	GitDirty  = "false" // "true" when the tree had uncommitted changes
	BuildTime = "unknown"
)

// Info renders the one-line form used for --version output:
// "0.1.0-dev (commit abc1234, built 2026-02-10T09:00:00Z)", with a
// -dirty suffix on the commit when the tree was modified.
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (commit %s, built %s)", Version, commit, BuildTime)
}

// Full extends Info with the toolchain and platform, for the capstan
// version subcommand.
func Full() string {
	return fmt.Sprintf("%s\n%s %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes "<binary> <Info>" to stdout, serving the --version
// flag of the service binaries.
func Print(binary string) {
	fmt.Printf("%s %s\n", binary, Info())
}
