package server

import (
	"context"

	"storymill/internal/emit"
	"storymill/internal/pipeline"
)

// StageRunner drives the stages that follow retrieval and ranking. The core
// pipeline treats these as external collaborators; implementations receive
// the finished retrieval result and emit their own stage events.
type StageRunner interface {
	RunStages(ctx context.Context, result *pipeline.Result, emitter emit.Emitter)
}

// downstreamStages is the fixed order the event stream promises.
var downstreamStages = []string{
	emit.StageOutline,
	emit.StageTargetedResearch,
	emit.StageSynthesis,
	emit.StageImagePrompt,
}

// NopStageRunner marks every downstream stage as skipped-successful, keeping
// the event stream shape stable for clients that expect all six stages.
type NopStageRunner struct{}

func (NopStageRunner) RunStages(ctx context.Context, result *pipeline.Result, emitter emit.Emitter) {
	stamper := emit.NewStamper(nil)
	for _, stage := range downstreamStages {
		if ctx.Err() != nil {
			return
		}
		emitter.Emit(stamper.Stamp(emit.StageEvent{
			RunID:  result.RunID,
			Stage:  stage,
			Status: emit.StatusSuccess,
			Data:   map[string]any{"skipped": true},
		}))
	}
}
