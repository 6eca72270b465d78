package exec

import (
	"context"
	"time"
)

// DefaultStageTimeout bounds a single stage transform.
const DefaultStageTimeout = 10 * time.Second

// Executor turns a stage's input bytes into its output bytes. Transforms are
// expected to be deterministic; the policy verifier, not the executor, decides
// whether an output is admissible.
type Executor interface {
	// Transform runs the named stage on the input and returns its output. It
	// returns an error when the stage is not hosted here or the transform
	// fails; the caller simply produces no event in that case.
	Transform(ctx context.Context, stage string, input []byte) ([]byte, error)

	// Hosts says whether this executor implements the named stage.
	Hosts(stage string) bool
}
