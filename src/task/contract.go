package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// DefaultTaskTimeout is applied when a contract does not set one. A task with
// no admissible final-stage event after this delay is declared stalled.
const DefaultTaskTimeout = 60 * time.Second

// StartStage is the reserved stage name carried by genesis events, ie. the
// admitted client submissions that pipelines start from. It cannot appear in
// a contract's stage list.
const StartStage = "_start"

// StagePolicy holds the admissibility predicate parameters for one stage. It
// is a fixed set of checkable conditions with typed parameters, evaluated by
// a pure function, so that every node computes an identical verdict. This is
// deliberately not a programmable policy language.
type StagePolicy struct {
	// MinOutputSize and MaxOutputSize bound the payload size in bytes. Zero
	// means unbounded.
	MinOutputSize int `json:"min_output_size,omitempty"`
	MaxOutputSize int `json:"max_output_size,omitempty"`

	// RequiredPattern must appear somewhere in the payload when set.
	RequiredPattern HexBytes `json:"required_pattern,omitempty"`

	// ForbiddenPattern must not appear in the payload.
	ForbiddenPattern HexBytes `json:"forbidden_pattern,omitempty"`
}

// HexBytes is a byte slice that marshals to a plain hex string, so that byte
// patterns can be written by hand in contracts.json.
type HexBytes []byte

// MarshalJSON implements json.Marshaler
func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%x", []byte(h)))
}

// UnmarshalJSON implements json.Unmarshaler
func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	var decoded []byte
	if _, err := fmt.Sscanf(s, "%x", &decoded); err != nil {
		return err
	}
	*h = decoded
	return nil
}

// TaskContract declares the shape of one task's pipeline and the rules that
// every node applies to decide whether a stage result is admissible. It is
// loaded once at startup and is read-only for the task's entire lifetime.
type TaskContract struct {
	// TaskID ties the contract to task submissions.
	TaskID string `json:"task_id"`

	// Stages is the ordered list of stage names. The first stage consumes the
	// client input; an admissible event for the last stage completes the task.
	Stages []string `json:"stages"`

	// Policies holds per-stage predicate parameters, keyed by stage name.
	// Stages without an entry have no extra conditions.
	Policies map[string]StagePolicy `json:"policies,omitempty"`

	// QuorumThreshold is the fraction of known peers whose matching votes
	// finalize a result. Must be in (0, 1].
	QuorumThreshold float64 `json:"quorum_threshold"`

	// TimeoutSeconds bounds how long a task may stay unfinished before it is
	// declared stalled. Zero selects DefaultTaskTimeout.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Validate checks that the contract is well formed.
func (c *TaskContract) Validate() error {
	if c.TaskID == "" {
		return fmt.Errorf("contract has no task_id")
	}

	if len(c.Stages) == 0 {
		return fmt.Errorf("contract %s declares no stages", c.TaskID)
	}

	seen := map[string]bool{}
	for _, stage := range c.Stages {
		if stage == "" || stage == StartStage {
			return fmt.Errorf("contract %s contains a reserved stage name", c.TaskID)
		}
		if seen[stage] {
			return fmt.Errorf("contract %s repeats stage %s", c.TaskID, stage)
		}
		seen[stage] = true
	}

	for stage := range c.Policies {
		if !seen[stage] {
			return fmt.Errorf("contract %s declares a policy for unknown stage %s", c.TaskID, stage)
		}
	}

	if c.QuorumThreshold <= 0 || c.QuorumThreshold > 1 {
		return fmt.Errorf("contract %s quorum threshold %f not in (0,1]", c.TaskID, c.QuorumThreshold)
	}

	return nil
}

// FirstStage returns the name of the first stage.
func (c *TaskContract) FirstStage() string {
	return c.Stages[0]
}

// FinalStage returns the name of the last stage.
func (c *TaskContract) FinalStage() string {
	return c.Stages[len(c.Stages)-1]
}

// NextStage returns the stage that follows the given one, or false when the
// given stage is the final one or is not part of the contract. The successor
// of StartStage is the first pipeline stage.
func (c *TaskContract) NextStage(stage string) (string, bool) {
	if stage == StartStage {
		return c.FirstStage(), true
	}
	for i, s := range c.Stages {
		if s == stage && i+1 < len(c.Stages) {
			return c.Stages[i+1], true
		}
	}
	return "", false
}

// StageIndex returns the position of a stage in the pipeline, or -1.
func (c *TaskContract) StageIndex(stage string) int {
	for i, s := range c.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// PolicyFor returns the predicate parameters for a stage. A stage without an
// entry gets the zero policy, which admits everything.
func (c *TaskContract) PolicyFor(stage string) StagePolicy {
	return c.Policies[stage]
}

// Quorum converts the threshold fraction into a vote count over n peers.
// Quorum arithmetic is a pure function of the contract and the peer count, so
// every node computes the same number.
func (c *TaskContract) Quorum(n int) int {
	return int(math.Ceil(c.QuorumThreshold * float64(n)))
}

// Timeout returns the task timeout.
func (c *TaskContract) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTaskTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Marshal returns the JSON encoding of the contract.
func (c *TaskContract) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal converts a JSON encoded contract to a TaskContract.
func (c *TaskContract) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)
	if err := dec.Decode(c); err != nil {
		return err
	}
	return nil
}
