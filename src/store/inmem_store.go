package store

import (
	"sort"
	"sync"

	cm "github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/task"
)

// InmemStore implements the Store interface with in-memory maps. Events and
// votes are append-only, so the maps only ever grow; concurrent gossip
// deliveries and local production are serialised by a single RWMutex, which
// makes every insert atomic.
type InmemStore struct {
	sync.RWMutex

	events       map[string]*task.Event
	eventsByTask map[string][]string
	votes        map[string]*task.Vote
	votesByTask  map[string][]string
	records      map[string]*task.ConsensusRecord

	// pending parks events whose InputDigest is not yet stored, keyed by the
	// missing dependency. pendingDigests tracks their digests so a duplicate
	// of a parked event is also a no-op.
	pending        map[string][]*task.Event
	pendingDigests map[string]bool

	// manifest is the sorted digest list, maintained incrementally.
	manifest []string
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		events:         make(map[string]*task.Event),
		eventsByTask:   make(map[string][]string),
		votes:          make(map[string]*task.Vote),
		votesByTask:    make(map[string][]string),
		records:        make(map[string]*task.ConsensusRecord),
		pending:        make(map[string][]*task.Event),
		pendingDigests: make(map[string]bool),
	}
}

// AddEvent implements the Store interface.
func (s *InmemStore) AddEvent(ev *task.Event) ([]*task.Event, error) {
	s.Lock()
	defer s.Unlock()

	return s.addEvent(ev)
}

// addEvent is the lock-free core of AddEvent, shared with pending-buffer
// draining.
func (s *InmemStore) addEvent(ev *task.Event) ([]*task.Event, error) {
	digest := ev.Hex()

	if _, ok := s.events[digest]; ok {
		return nil, nil
	}
	if s.pendingDigests[digest] {
		return nil, nil
	}

	// the digest covers the body only; a relayed copy with a corrupted
	// signature must not occupy the digest slot and turn the honest copy
	// into a duplicate no-op
	if ok, err := ev.Verify(); err != nil || !ok {
		return nil, cm.NewStoreErr("Event", cm.InvalidSignature, digest)
	}

	if !ev.IsGenesis() {
		if _, ok := s.events[ev.Body.InputDigest]; !ok {
			s.pending[ev.Body.InputDigest] = append(s.pending[ev.Body.InputDigest], ev)
			s.pendingDigests[digest] = true
			return nil, cm.NewStoreErr("Event", cm.PendingDependency, digest)
		}
	}

	s.insertEvent(ev)
	inserted := []*task.Event{ev}

	// drain any events that were waiting on this one, recursively
	queue := []string{digest}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		children := s.pending[parent]
		if len(children) == 0 {
			continue
		}
		delete(s.pending, parent)

		for _, child := range children {
			delete(s.pendingDigests, child.Hex())
			s.insertEvent(child)
			inserted = append(inserted, child)
			queue = append(queue, child.Hex())
		}
	}

	return inserted, nil
}

func (s *InmemStore) insertEvent(ev *task.Event) {
	digest := ev.Hex()
	s.events[digest] = ev
	s.eventsByTask[ev.Body.TaskID] = append(s.eventsByTask[ev.Body.TaskID], digest)
	s.addToManifest(digest)
}

// GetEvent implements the Store interface.
func (s *InmemStore) GetEvent(digest string) (*task.Event, error) {
	s.RLock()
	defer s.RUnlock()

	ev, ok := s.events[digest]
	if !ok {
		return nil, cm.NewStoreErr("Event", cm.KeyNotFound, digest)
	}
	return ev, nil
}

// HasEvent implements the Store interface.
func (s *InmemStore) HasEvent(digest string) bool {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.events[digest]
	return ok
}

// TaskEvents implements the Store interface.
func (s *InmemStore) TaskEvents(taskID string) []*task.Event {
	s.RLock()
	defer s.RUnlock()

	digests := s.eventsByTask[taskID]
	res := make([]*task.Event, 0, len(digests))
	for _, d := range digests {
		res = append(res, s.events[d])
	}

	sort.Sort(task.ByCausalOrder(res))

	return res
}

// AddVote implements the Store interface.
func (s *InmemStore) AddVote(vote *task.Vote) (bool, error) {
	s.Lock()
	defer s.Unlock()

	digest := vote.Hex()

	if _, ok := s.votes[digest]; ok {
		return false, nil
	}

	if ok, err := vote.Verify(); err != nil || !ok {
		return false, cm.NewStoreErr("Vote", cm.InvalidSignature, digest)
	}

	s.votes[digest] = vote
	s.votesByTask[vote.Body.TaskID] = append(s.votesByTask[vote.Body.TaskID], digest)
	s.addToManifest(digest)

	return true, nil
}

// GetVote implements the Store interface.
func (s *InmemStore) GetVote(digest string) (*task.Vote, error) {
	s.RLock()
	defer s.RUnlock()

	vote, ok := s.votes[digest]
	if !ok {
		return nil, cm.NewStoreErr("Vote", cm.KeyNotFound, digest)
	}
	return vote, nil
}

// TaskVotes implements the Store interface.
func (s *InmemStore) TaskVotes(taskID string) []*task.Vote {
	s.RLock()
	defer s.RUnlock()

	digests := s.votesByTask[taskID]
	res := make([]*task.Vote, 0, len(digests))
	for _, d := range digests {
		res = append(res, s.votes[d])
	}
	return res
}

// Manifest implements the Store interface.
func (s *InmemStore) Manifest() []string {
	s.RLock()
	defer s.RUnlock()

	res := make([]string, len(s.manifest))
	copy(res, s.manifest)
	return res
}

// addToManifest inserts a digest in its sorted position.
func (s *InmemStore) addToManifest(digest string) {
	i := sort.SearchStrings(s.manifest, digest)
	s.manifest = append(s.manifest, "")
	copy(s.manifest[i+1:], s.manifest[i:])
	s.manifest[i] = digest
}

// Diff implements the Store interface.
func (s *InmemStore) Diff(known []string) ([]*task.Event, []*task.Vote) {
	s.RLock()
	defer s.RUnlock()

	knownSet := make(map[string]bool, len(known))
	for _, d := range known {
		knownSet[d] = true
	}

	var events []*task.Event
	var votes []*task.Vote

	for _, d := range s.manifest {
		if knownSet[d] {
			continue
		}
		if ev, ok := s.events[d]; ok {
			events = append(events, ev)
		} else if vote, ok := s.votes[d]; ok {
			votes = append(votes, vote)
		}
	}

	// ship events parent-first where possible; the receiver's pending buffer
	// covers the rest
	sort.Sort(task.ByCausalOrder(events))

	return events, votes
}

// PendingCount implements the Store interface.
func (s *InmemStore) PendingCount() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.pendingDigests)
}

// SetRecord implements the Store interface.
func (s *InmemStore) SetRecord(record *task.ConsensusRecord) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.records[record.TaskID]; ok {
		return cm.NewStoreErr("Record", cm.RecordExists, record.TaskID)
	}

	s.records[record.TaskID] = record

	return nil
}

// GetRecord implements the Store interface.
func (s *InmemStore) GetRecord(taskID string) (*task.ConsensusRecord, error) {
	s.RLock()
	defer s.RUnlock()

	record, ok := s.records[taskID]
	if !ok {
		return nil, cm.NewStoreErr("Record", cm.KeyNotFound, taskID)
	}
	return record, nil
}

// TaskIDs implements the Store interface.
func (s *InmemStore) TaskIDs() []string {
	s.RLock()
	defer s.RUnlock()

	res := make([]string, 0, len(s.eventsByTask))
	for id := range s.eventsByTask {
		res = append(res, id)
	}
	sort.Strings(res)
	return res
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
