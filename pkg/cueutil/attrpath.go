// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
)

// ErrInvalidAttrPath is returned for malformed attribute paths.
var ErrInvalidAttrPath = errors.New("invalid attribute path")

// SplitAttrPath splits a dotted attribute path such as
// `apps.x86_64-linux."my.app"` into its labels. Double quotes protect dots.
func SplitAttrPath(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var (
		parts  []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == '.' && !quoted:
			if cur.Len() == 0 {
				return nil, fmt.Errorf("%w: empty label in %q", ErrInvalidAttrPath, s)
			}
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrInvalidAttrPath, s)
	}
	if cur.Len() == 0 {
		return nil, fmt.Errorf("%w: empty label in %q", ErrInvalidAttrPath, s)
	}
	return append(parts, cur.String()), nil
}

// AttrPath converts a dotted attribute path into a CUE path of regular
// string labels, so labels need not be valid identifiers.
func AttrPath(s string) (cue.Path, error) {
	labels, err := SplitAttrPath(s)
	if err != nil {
		return cue.Path{}, err
	}
	sels := make([]cue.Selector, len(labels))
	for i, l := range labels {
		sels[i] = cue.Str(l)
	}
	return cue.MakePath(sels...), nil
}
