// SPDX-License-Identifier: MPL-2.0

// Package cueutil provides shared CUE loading utilities.
//
// Two flows are supported. Configuration files go through ParseAndDecode:
//
//  1. Compile the embedded schema
//  2. Compile user data and unify with schema
//  3. Validate and decode to a Go struct
//
// Package directories go through BuildDir, which merges every root *.cue file
// of one package into a single instance so fields may reference each other
// across files.
//
// # Usage
//
//	//go:embed config_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[Config](
//	    schemaBytes,
//	    userFileBytes,
//	    "#Config",
//	    cueutil.WithFilename("config.cue"),
//	)
//	if err != nil {
//	    return nil, err  // Error includes CUE path for debugging
//	}
//	return result.Value, nil
package cueutil
