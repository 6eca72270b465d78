package task

import (
	"bytes"
	"encoding/json"

	"github.com/hetu-project/pohb/src/clock"
)

// ConsensusRecord is the canonical answer for one task. It is created exactly
// once per task by the agreement engine and is immutable afterward; no later
// event or vote affects it.
type ConsensusRecord struct {
	// TaskID identifies the finalized task.
	TaskID string

	// FinalDigest is the digest of the final-stage event whose payload is the
	// canonical result.
	FinalDigest string

	// PayloadDigest is the digest of the output bytes themselves, for the
	// audit interface: re-running the stage transforms in sequence on the
	// original input must reproduce it.
	PayloadDigest string

	// Votes is the supporting vote set that reached quorum.
	Votes []*Vote

	// Clock is the finalizing node's clock snapshot at finalization.
	Clock clock.VectorClock

	// Disputed is set when a second, conflicting digest also reached quorum.
	// The lexicographically smaller digest wins; the anomaly is surfaced but
	// non-fatal.
	Disputed bool
}

// Marshal returns the JSON encoding of the record.
func (r *ConsensusRecord) Marshal() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal converts a JSON encoded record to a ConsensusRecord.
func (r *ConsensusRecord) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	dec := json.NewDecoder(b)
	if err := dec.Decode(r); err != nil {
		return err
	}
	return nil
}
