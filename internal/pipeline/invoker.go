// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"

	"github.com/appbundle/appbundle/internal/model"
)

const (
	// PlanField names the result field holding the plan identifier.
	PlanField = "planPath"
	// OutputField names the result field holding the expected output path.
	OutputField = "outPath"

	derivationType = "derivation"
)

// BundleInvoker calls a bundler and validates what it returns.
type BundleInvoker struct {
	eval  Evaluator
	store Store
}

// NewBundleInvoker creates an invoker. store is used to check that result
// paths lie in the store namespace.
func NewBundleInvoker(eval Evaluator, store Store) *BundleInvoker {
	return &BundleInvoker{eval: eval, store: store}
}

// BundlerInput builds the calling-convention record for app. The program is
// tagged with the app's whole dependency context so the plan the bundler
// returns may reference it.
func BundlerInput(app model.App, system string) model.Record {
	return model.Record{
		"program": model.Tagged(app.Program, app.Context),
		"system":  model.Plain(system),
	}
}

// Invoke calls fn with app and returns the plan and expected output paths.
// Either both are returned or neither.
func (i *BundleInvoker) Invoke(ctx context.Context, bundler BundlerSpec, fn model.Value, app model.App, system string) (plan, out model.StorePath, err error) {
	name := bundler.String()

	res, err := i.eval.CallFunction(ctx, fn, BundlerInput(app, system))
	if err != nil {
		return "", "", &BundlerLoadError{Bundler: name, Cause: err}
	}

	if !isDerivation(res) {
		return "", "", &NotADerivationError{Bundler: name, Got: res.Kind()}
	}

	planVal, ok := res.Field(PlanField)
	if !ok {
		return "", "", &MissingPlanFieldError{Bundler: name, Field: PlanField}
	}
	outVal, ok := res.Field(OutputField)
	if !ok {
		return "", "", &MissingOutputFieldError{Bundler: name, Field: OutputField}
	}

	plan, err = i.storePath(ctx, name, PlanField, planVal)
	if err != nil {
		return "", "", err
	}
	if !plan.IsPlan() {
		return "", "", &PathCoercionError{Bundler: name, Field: PlanField, Cause: errors.New(string(plan) + " is not a plan")}
	}
	out, err = i.storePath(ctx, name, OutputField, outVal)
	if err != nil {
		return "", "", err
	}
	return plan, out, nil
}

func (i *BundleInvoker) storePath(ctx context.Context, bundler, field string, v model.Value) (model.StorePath, error) {
	p, err := i.eval.CoerceToPath(ctx, v)
	if err != nil {
		return "", &PathCoercionError{Bundler: bundler, Field: field, Cause: err}
	}
	sp, err := i.store.ParseStorePath(p)
	if err != nil {
		return "", &PathCoercionError{Bundler: bundler, Field: field, Cause: err}
	}
	return sp, nil
}

// isDerivation reports whether v is a struct with type "derivation".
func isDerivation(v model.Value) bool {
	if v == nil || v.Kind() != model.KindStruct {
		return false
	}
	t, ok := v.Field("type")
	if !ok {
		return false
	}
	s, ok := t.Text()
	return ok && s == derivationType
}
