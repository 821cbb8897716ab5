package turn

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable matches every turn failure caused by a collaborator.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

type Stage string

const (
	StageSession    Stage = "session"
	StageExtraction Stage = "extraction"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
	StageSynthesis  Stage = "synthesis"
)

// UpstreamError reports which stage of a turn failed.
type UpstreamError struct {
	Stage Stage
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Stage, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

func upstream(stage Stage, err error) error {
	return &UpstreamError{Stage: stage, Err: err}
}
