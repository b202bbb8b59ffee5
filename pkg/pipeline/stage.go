// Package pipeline runs the per-location generation workflow: resolve
// inputs, fan out to forecast and comment retrieval, select a pair with the
// LLM, validate, and assemble the final result.
package pipeline

import (
	"context"
	"time"

	"kazeguide/pkg/model"
)

// Stage is one step of the per-location workflow. A stage mutates the
// shared state and fails the run by returning an error.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *model.PipelineState) error
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, st *model.PipelineState) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, st *model.PipelineState) error {
	return s.fn(ctx, st)
}

// runTimed executes a stage and records its wall-clock duration in the
// state's node times, keyed by stage name.
func runTimed(ctx context.Context, stage Stage, st *model.PipelineState) error {
	start := time.Now()
	err := stage.Run(ctx, st)
	st.NodeTimes[stage.Name()] = time.Since(start).Milliseconds()
	return err
}
