package pipeline

import (
	"context"

	"github.com/electwix/relkit/internal/codegen/render"
	"github.com/electwix/relkit/internal/config"
)

// Hooks provides extension points in the pipeline execution. A hook that
// returns an error aborts the run.
type Hooks struct {
	// BeforeDeclare is called with the resolved plan before any table is
	// declared.
	BeforeDeclare func(ctx context.Context, plan config.Plan) error

	// AfterDeclare is called once every table exists. Links are not filled yet.
	AfterDeclare func(ctx context.Context, declared *Declared) error

	// AfterGenerate is called with the rendered files before they are written.
	AfterGenerate func(ctx context.Context, files []render.File) error

	// AfterRun is called last, even if earlier stages failed.
	AfterRun func(ctx context.Context, summary Summary) error
}

// Chain combines two Hooks, calling h's hooks first, then other's hooks.
// If a hook in h returns an error, other's hook is not called.
func (h Hooks) Chain(other Hooks) Hooks {
	return Hooks{
		BeforeDeclare: chainHook(h.BeforeDeclare, other.BeforeDeclare),
		AfterDeclare:  chainHook(h.AfterDeclare, other.AfterDeclare),
		AfterGenerate: chainHook(h.AfterGenerate, other.AfterGenerate),
		AfterRun:      chainHook(h.AfterRun, other.AfterRun),
	}
}

func chainHook[T any](first, second func(context.Context, T) error) func(context.Context, T) error {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	return func(ctx context.Context, arg T) error {
		if err := first(ctx, arg); err != nil {
			return err
		}
		return second(ctx, arg)
	}
}
