package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/peers"
	"github.com/hetu-project/pohb/src/policy"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"
	"github.com/sirupsen/logrus"
)

// Phase is a task's position in its lifecycle. Phases only ever move forward;
// a Finalized or Stalled task never changes again.
type Phase int

const (
	// Pending: events exist but no admissible final-stage result yet.
	Pending Phase = iota
	// Voting: at least one admissible final-stage event or vote exists.
	Voting
	// Finalized: a consensus record has been written.
	Finalized
	// Stalled: the task timeout elapsed without finalization.
	Stalled
)

// String ...
func (p Phase) String() string {
	switch p {
	case Pending:
		return "Pending"
	case Voting:
		return "Voting"
	case Finalized:
		return "Finalized"
	case Stalled:
		return "Stalled"
	default:
		return "Unknown"
	}
}

// Tally is the agreement engine. It counts gossiped votes against the
// contract's quorum threshold and writes the task's consensus record exactly
// once. Everything it computes is a deterministic function of the stored
// events and votes, the contract, and the peer set, so any two nodes holding
// the same items finalize identically.
type Tally struct {
	verifier *policy.Verifier
	store    store.Store
	peerSet  *peers.PeerSet
	logger   *logrus.Entry

	deadlineLock sync.Mutex
	deadlines    map[string]time.Time
}

// NewTally instantiates the agreement engine.
func NewTally(verifier *policy.Verifier,
	s store.Store,
	peerSet *peers.PeerSet,
	logger *logrus.Entry) *Tally {

	return &Tally{
		verifier:  verifier,
		store:     s,
		peerSet:   peerSet,
		logger:    logger.WithField("component", "consensus"),
		deadlines: make(map[string]time.Time),
	}
}

// Observe starts a task's timeout countdown the first time any of its events
// is seen. Later calls are no-ops.
func (t *Tally) Observe(taskID string) {
	contract, ok := t.verifier.Contract(taskID)
	if !ok {
		return
	}

	t.deadlineLock.Lock()
	defer t.deadlineLock.Unlock()

	if _, ok := t.deadlines[taskID]; !ok {
		t.deadlines[taskID] = time.Now().Add(contract.Timeout())
	}
}

// SetDeadline overrides a task's deadline. Used when restoring state after a
// restart, where the original submission time is unknown.
func (t *Tally) SetDeadline(taskID string, deadline time.Time) {
	t.deadlineLock.Lock()
	defer t.deadlineLock.Unlock()
	t.deadlines[taskID] = deadline
}

func (t *Tally) deadline(taskID string) (time.Time, bool) {
	t.deadlineLock.Lock()
	defer t.deadlineLock.Unlock()
	d, ok := t.deadlines[taskID]
	return d, ok
}

// PickFinal selects the final-stage event an honest node endorses when more
// than one admissible candidate exists: the first one in causal order, which
// is the same on every node because the order's tie-break is deterministic.
func PickFinal(finals []*task.Event) *task.Event {
	if len(finals) == 0 {
		return nil
	}
	return finals[0]
}

// CountedVotes returns the votes that actually count for a task, at most one
// per voter. A vote counts when its signature verifies, its voter is a known
// peer, and its digest endorses an admitted final-stage event. A voter is
// bound to a single vote per task: when gossip surfaces more than one, the
// vote with the smallest digest is kept, so every node dedupes identically
// regardless of delivery order.
func (t *Tally) CountedVotes(taskID string) []*task.Vote {
	byVoter := map[uint32]*task.Vote{}

	for _, vote := range t.store.TaskVotes(taskID) {
		if ok, err := vote.Verify(); err != nil || !ok {
			continue
		}

		if _, ok := t.peerSet.ByID[vote.VoterID()]; !ok {
			continue
		}

		if !t.verifier.IsAdmitted(vote.Body.FinalDigest) {
			continue
		}

		ev, err := t.store.GetEvent(vote.Body.FinalDigest)
		if err != nil || ev.Body.TaskID != taskID {
			continue
		}
		contract, _ := t.verifier.Contract(taskID)
		if contract == nil || ev.Body.Stage != contract.FinalStage() {
			continue
		}

		prev, ok := byVoter[vote.VoterID()]
		if !ok || vote.Hex() < prev.Hex() {
			byVoter[vote.VoterID()] = vote
		}
	}

	res := make([]*task.Vote, 0, len(byVoter))
	for _, vote := range byVoter {
		res = append(res, vote)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Hex() < res[j].Hex() })
	return res
}

// Counts aggregates counted votes per endorsed digest.
func (t *Tally) Counts(taskID string) map[string]int {
	counts := map[string]int{}
	for _, vote := range t.CountedVotes(taskID) {
		counts[vote.Body.FinalDigest]++
	}
	return counts
}

// ProcessTask runs the quorum check for a task and writes its consensus
// record if a digest reached quorum. It returns the record, or nil when the
// task is not finalized yet. Calling it again after finalization returns the
// existing record; the first write wins and later votes change nothing.
func (t *Tally) ProcessTask(taskID string) (*task.ConsensusRecord, error) {
	if record, err := t.store.GetRecord(taskID); err == nil {
		return record, nil
	}

	contract, ok := t.verifier.Contract(taskID)
	if !ok {
		return nil, nil
	}

	quorum := contract.Quorum(t.peerSet.Len())
	counted := t.CountedVotes(taskID)

	reached := []string{}
	for digest, n := range t.Counts(taskID) {
		if n >= quorum {
			reached = append(reached, digest)
		}
	}

	if len(reached) == 0 {
		return nil, nil
	}

	// with an honest quorum there is exactly one winner; two digests both
	// reaching quorum means overlapping equivocation, which is surfaced but
	// resolved deterministically in favor of the smaller digest
	sort.Strings(reached)
	winner := reached[0]
	disputed := len(reached) > 1

	winningVotes := []*task.Vote{}
	supportClock := clock.New()
	for _, vote := range counted {
		if vote.Body.FinalDigest == winner {
			winningVotes = append(winningVotes, vote)
		}
	}

	finalEvent, err := t.store.GetEvent(winner)
	if err != nil {
		return nil, err
	}
	supportClock.Merge(finalEvent.Body.Clock)

	record := &task.ConsensusRecord{
		TaskID:        taskID,
		FinalDigest:   winner,
		PayloadDigest: finalEvent.Body.PayloadDigest,
		Votes:         winningVotes,
		Clock:         supportClock,
		Disputed:      disputed,
	}

	if err := t.store.SetRecord(record); err != nil {
		if common.IsStore(err, common.RecordExists) {
			return t.store.GetRecord(taskID)
		}
		return nil, err
	}

	t.logger.WithFields(logrus.Fields{
		"task":     taskID,
		"digest":   winner,
		"votes":    len(winningVotes),
		"quorum":   quorum,
		"disputed": disputed,
	}).Debug("Finalized task")

	return record, nil
}

// Phase reports a task's current lifecycle phase.
func (t *Tally) Phase(taskID string) Phase {
	if _, err := t.store.GetRecord(taskID); err == nil {
		return Finalized
	}

	if deadline, ok := t.deadline(taskID); ok && time.Now().After(deadline) {
		return Stalled
	}

	if len(t.verifier.AdmittedFinalEvents(taskID)) > 0 ||
		len(t.store.TaskVotes(taskID)) > 0 {
		return Voting
	}

	return Pending
}

// StalledTasks returns the IDs of tasks whose deadline elapsed without a
// consensus record.
func (t *Tally) StalledTasks() []string {
	res := []string{}
	for _, taskID := range t.store.TaskIDs() {
		if t.Phase(taskID) == Stalled {
			res = append(res, taskID)
		}
	}
	return res
}
