// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil carries the helpers Capstan package tests share:
// deterministic payload generators and channel waits with a wall-clock
// escape hatch.
//
// [Payload] and [CompressiblePayload] regenerate large inputs from a
// seed, so pipeline tests stay reproducible without checked-in fixture
// files. [RequireReceive] and [RequireClosed] are the only places the
// suite waits on real time; scheduled behavior itself is always driven
// through a fake clock.
package testutil
