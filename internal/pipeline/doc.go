// SPDX-License-Identifier: MPL-2.0

// Package pipeline turns a runnable application into a redistributable
// bundle.
//
// A run is strictly linear:
//
//	Start -> AppResolved -> BundlerResolved -> Invoked -> Published
//
// The application is resolved to a program and its dependency closure, a
// bundler function is loaded from a package reference, the bundler is called
// with the program and system, its result is validated as a build plan, and
// the plan is built and published under a garbage-collector root. The first
// failure ends the run with a *PipelineError wrapping exactly one typed error.
//
// The package holds no state between runs. Evaluation and building are
// delegated to the Evaluator and Store collaborators.
package pipeline
