// SPDX-License-Identifier: MPL-2.0

// Package eval implements the pipeline's evaluator on top of CUE.
//
// A package is a directory of *.cue files. Applications live under
// apps.<system>.<name> (with defaultApp.<system> as the default) and
// bundlers under bundlers.<system>.<name>. A bundler is a function: a
// struct with a #in definition and an out field. Calling it fills #in with
// the argument record and reads out. When out is a derivation, a struct with
// type: "derivation", it is written to the store as a plan and the result
// gains the planPath and outPath fields.
package eval
