// SPDX-License-Identifier: MPL-2.0

// Package store implements a local content-addressed artifact store.
//
// Layout under the store root:
//
//	store/<hash>-<name>             built artifacts and added sources
//	store/<hash>-<name>.plan.toml   build plans
//	var/db/<hash>-<name>.toml       validity record and references per path
//	var/gcroots/auto/<hash>         indirect roots: symlinks to output links
//	var/log/<hash>-<name>.log       builder logs
//
// Plan identifiers are derived from the plan's content, so evaluating the
// same plan twice yields the same identifier. Builders are POSIX shell
// scripts run by an embedded interpreter with $out naming the output path.
package store
