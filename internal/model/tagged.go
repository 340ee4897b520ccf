// SPDX-License-Identifier: MPL-2.0

package model

import "slices"

type (
	// TaggedString is string text carrying the set of store paths it depends
	// on. The evaluator uses DependsOn to decide which artifacts a plan built
	// from this text is permitted to reference.
	TaggedString struct {
		Text      string
		DependsOn []StorePath
	}

	// Record is a named argument record passed to a callable value.
	Record map[string]TaggedString
)

// Plain returns a TaggedString with no provenance.
func Plain(text string) TaggedString {
	return TaggedString{Text: text}
}

// Tagged returns a TaggedString whose provenance is the sorted, de-duplicated
// set of deps.
func Tagged(text string, deps []StorePath) TaggedString {
	return TaggedString{Text: text, DependsOn: SortedPaths(deps)}
}

// Context returns the union of every field's provenance, sorted.
func (r Record) Context() []StorePath {
	var all []StorePath
	for _, v := range r {
		all = append(all, v.DependsOn...)
	}
	return SortedPaths(all)
}

// Keys returns the record field names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
