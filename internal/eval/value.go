// SPDX-License-Identifier: MPL-2.0

package eval

import (
	"cuelang.org/go/cue"

	"github.com/appbundle/appbundle/internal/model"
)

var (
	inPath   = cue.MakePath(cue.Def("#in"))
	outPath  = cue.MakePath(cue.Str("out"))
	typePath = cue.MakePath(cue.Str("type"))
)

// Value is a CUE value with an optional overlay of string fields computed
// outside CUE, such as the plan and output paths of an instantiated
// derivation.
type Value struct {
	v       cue.Value
	dir     string
	overlay map[string]string
	cctx    *cue.Context
}

var _ model.Value = (*Value)(nil)

// CUE returns the underlying CUE value.
func (v *Value) CUE() cue.Value { return v.v }

// Kind classifies the value. Structs with a #in definition and an out field
// are functions.
func (v *Value) Kind() model.Kind {
	if v.overlay != nil {
		return model.KindStruct
	}
	if v.v.Err() != nil {
		return model.KindOther
	}
	switch k := v.v.IncompleteKind(); {
	case k == cue.StructKind:
		if isFunction(v.v) {
			return model.KindFunction
		}
		return model.KindStruct
	case k == cue.StringKind:
		return model.KindString
	case k == cue.ListKind:
		return model.KindList
	case k == cue.BoolKind:
		return model.KindBool
	case k == cue.NullKind:
		return model.KindNull
	case k != 0 && k&^cue.NumberKind == 0:
		return model.KindNumber
	default:
		return model.KindOther
	}
}

// Field returns an overlay field or a regular field of a struct.
func (v *Value) Field(name string) (model.Value, bool) {
	if s, ok := v.overlay[name]; ok {
		return &Value{v: v.cctx.Encode(s), dir: v.dir, cctx: v.cctx}, true
	}
	if v.v.IncompleteKind() != cue.StructKind {
		return nil, false
	}
	f := v.v.LookupPath(cue.MakePath(cue.Str(name)))
	if !f.Exists() {
		return nil, false
	}
	return &Value{v: f, dir: v.dir, cctx: v.cctx}, true
}

// Text returns the content of a concrete string.
func (v *Value) Text() (string, bool) {
	s, err := v.v.String()
	return s, err == nil
}

func isFunction(v cue.Value) bool {
	return v.LookupPath(inPath).Exists() && v.LookupPath(outPath).Exists()
}

func isDerivation(v cue.Value) bool {
	if v.IncompleteKind() != cue.StructKind {
		return false
	}
	t, err := v.LookupPath(typePath).String()
	return err == nil && t == "derivation"
}
