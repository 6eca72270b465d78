package policy

import (
	"bytes"
	"fmt"

	"github.com/hetu-project/pohb/src/task"
)

// Status is the outcome of an admissibility evaluation.
type Status int

const (
	// Admitted means the event passed every check and may feed execution and
	// voting.
	Admitted Status = iota
	// Rejected means the event failed a check. Rejection is permanent; the
	// event stays stored for audit and keeps being gossiped so every node
	// reaches the same verdict independently, but it never becomes a
	// candidate for agreement.
	Rejected
)

// String ...
func (s Status) String() string {
	switch s {
	case Admitted:
		return "Admitted"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Reason classifies why an event was rejected.
type Reason int

const (
	// None is the reason attached to admitted events.
	None Reason = iota
	// UnknownContract: no contract is loaded for the event's task.
	UnknownContract
	// BadSignature: the creator signature does not verify.
	BadSignature
	// BadPayloadDigest: the pinned payload digest does not match the payload.
	BadPayloadDigest
	// BadGenesis: a genesis event that does not carry the start stage.
	BadGenesis
	// UnknownInput: the consumed event is missing from the store.
	UnknownInput
	// InputRejected: the consumed event is itself rejected.
	InputRejected
	// WrongTask: the consumed event belongs to another task.
	WrongTask
	// WrongStage: the event's stage is not the contract's successor of its
	// input's stage.
	WrongStage
	// CausalityViolation: the event's clock does not causally descend from
	// its input's clock.
	CausalityViolation
	// PredicateViolation: the stage policy's size or pattern conditions
	// failed.
	PredicateViolation
)

// String ...
func (r Reason) String() string {
	switch r {
	case None:
		return "None"
	case UnknownContract:
		return "UnknownContract"
	case BadSignature:
		return "BadSignature"
	case BadPayloadDigest:
		return "BadPayloadDigest"
	case BadGenesis:
		return "BadGenesis"
	case UnknownInput:
		return "UnknownInput"
	case InputRejected:
		return "InputRejected"
	case WrongTask:
		return "WrongTask"
	case WrongStage:
		return "WrongStage"
	case CausalityViolation:
		return "CausalityViolation"
	case PredicateViolation:
		return "PredicateViolation"
	default:
		return "Unknown"
	}
}

// Verdict is the result of evaluating one event.
type Verdict struct {
	Status Status
	Reason Reason
}

// Admit ...
func Admit() Verdict {
	return Verdict{Status: Admitted, Reason: None}
}

// Reject ...
func Reject(reason Reason) Verdict {
	return Verdict{Status: Rejected, Reason: reason}
}

// CheckStagePolicy applies the tagged-variant predicate parameters to a
// payload. It is a pure function: given the same policy and payload, every
// node computes the same answer.
func CheckStagePolicy(p task.StagePolicy, payload []byte) error {
	if p.MinOutputSize > 0 && len(payload) < p.MinOutputSize {
		return fmt.Errorf("payload size %d below minimum %d", len(payload), p.MinOutputSize)
	}

	if p.MaxOutputSize > 0 && len(payload) > p.MaxOutputSize {
		return fmt.Errorf("payload size %d above maximum %d", len(payload), p.MaxOutputSize)
	}

	if len(p.RequiredPattern) > 0 && !bytes.Contains(payload, p.RequiredPattern) {
		return fmt.Errorf("payload missing required pattern %x", []byte(p.RequiredPattern))
	}

	if len(p.ForbiddenPattern) > 0 && bytes.Contains(payload, p.ForbiddenPattern) {
		return fmt.Errorf("payload contains forbidden pattern %x", []byte(p.ForbiddenPattern))
	}

	return nil
}
