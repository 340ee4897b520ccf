// SPDX-License-Identifier: MPL-2.0

package model

import "errors"

// Kind classifies an evaluator value.
type Kind int

const (
	KindOther Kind = iota
	KindString
	KindStruct
	KindFunction
	KindList
	KindBool
	KindNumber
	KindNull
)

var kindNames = map[Kind]string{
	KindOther:    "value",
	KindString:   "string",
	KindStruct:   "struct",
	KindFunction: "function",
	KindList:     "list",
	KindBool:     "bool",
	KindNumber:   "number",
	KindNull:     "null",
}

// String returns a lowercase name for the kind.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "value"
}

// Value is an opaque value produced by the evaluator. The pipeline only ever
// inspects values through this surface.
type Value interface {
	// Kind classifies the value.
	Kind() Kind
	// Field returns the named field of a struct value.
	Field(name string) (Value, bool)
	// Text returns the string content of a string value.
	Text() (string, bool)
}

// ErrAttributeNotFound is wrapped by evaluator errors reporting that none of
// the requested attribute paths exist in a package.
var ErrAttributeNotFound = errors.New("attribute not found")
