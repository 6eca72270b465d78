package store

import (
	"github.com/hetu-project/pohb/src/task"
)

// Store is the interface to a node's append-only, content-addressed record of
// events and votes. A store is owned exclusively by its node; remote items
// only ever enter it through gossip-mediated inserts, and nothing is ever
// removed or mutated once inserted.
type Store interface {
	// AddEvent inserts an event. Inserting a digest that is already present
	// is a benign no-op. An event whose InputDigest is not yet resolvable is
	// parked in a pending buffer and a PendingDependency StoreErr is
	// returned; it is inserted automatically when its dependency arrives.
	// The returned slice holds the events that actually became stored as a
	// result of this call: the event itself and any pending descendants it
	// unblocked.
	AddEvent(ev *task.Event) ([]*task.Event, error)

	// GetEvent retrieves an event by digest.
	GetEvent(digest string) (*task.Event, error)

	// HasEvent says whether a digest is stored (pending events don't count).
	HasEvent(digest string) bool

	// TaskEvents returns a task's events in causal order, with the
	// deterministic creator/digest tie-break for concurrent events.
	TaskEvents(taskID string) []*task.Event

	// AddVote inserts a vote. Duplicates are benign no-ops. The bool reports
	// whether the vote was newly stored.
	AddVote(vote *task.Vote) (bool, error)

	// GetVote retrieves a vote by digest.
	GetVote(digest string) (*task.Vote, error)

	// TaskVotes returns all votes recorded for a task.
	TaskVotes(taskID string) []*task.Vote

	// Manifest returns the sorted digests of every stored event and vote.
	// This is the compact summary exchanged during anti-entropy rounds.
	Manifest() []string

	// Diff returns the stored events and votes whose digests are not in
	// known.
	Diff(known []string) ([]*task.Event, []*task.Vote)

	// PendingCount returns the number of events parked on unresolved
	// dependencies.
	PendingCount() int

	// SetRecord stores a task's consensus record. Records are write-once; a
	// second write for the same task returns a RecordExists StoreErr.
	SetRecord(record *task.ConsensusRecord) error

	// GetRecord retrieves a task's consensus record.
	GetRecord(taskID string) (*task.ConsensusRecord, error)

	// TaskIDs returns the IDs of all tasks with at least one stored event.
	TaskIDs() []string

	// Close releases underlying resources.
	Close() error
}
