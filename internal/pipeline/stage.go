package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Stage is one named step. Its outputs go into the Run and must satisfy
// the feature schema contract before a later stage reads them.
type Stage interface {
	Meta() StageMeta
	Handle(ctx context.Context, run *Run) error
}

// StageMeta drives scheduling. Stages sharing an Order run concurrently.
type StageMeta struct {
	Name     string
	Order    int
	Critical bool
	Timeout  time.Duration
}

// StageError wraps the failure of one stage.
type StageError struct {
	Stage    string
	Order    int
	Critical bool
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Stage
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
