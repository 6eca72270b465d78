package exec

import (
	"context"
	"fmt"
)

// InmemExecutor implements stage transforms as in-process functions. It is
// used in tests, where spawning script processes would only add noise.
type InmemExecutor struct {
	stages map[string]func([]byte) ([]byte, error)
}

// NewInmemExecutor instantiates an empty InmemExecutor.
func NewInmemExecutor() *InmemExecutor {
	return &InmemExecutor{
		stages: make(map[string]func([]byte) ([]byte, error)),
	}
}

// Register hosts a stage as a function.
func (x *InmemExecutor) Register(stage string, fn func([]byte) ([]byte, error)) {
	x.stages[stage] = fn
}

// Hosts implements the Executor interface.
func (x *InmemExecutor) Hosts(stage string) bool {
	_, ok := x.stages[stage]
	return ok
}

// Transform implements the Executor interface.
func (x *InmemExecutor) Transform(ctx context.Context, stage string, input []byte) ([]byte, error) {
	fn, ok := x.stages[stage]
	if !ok {
		return nil, fmt.Errorf("stage %s not hosted", stage)
	}
	return fn(input)
}
