package node

import (
	"context"
	"fmt"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/consensus"
	"github.com/hetu-project/pohb/src/exec"
	"github.com/hetu-project/pohb/src/peers"
	"github.com/hetu-project/pohb/src/policy"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"

	"github.com/sirupsen/logrus"
)

// Core orchestrates a node's local reactions to the causal chains it observes:
// storing gossiped items, verifying them, running hosted stage transforms,
// casting votes, and tallying quorums. Core is not thread-safe; the Node
// serializes access through its coreLock.
type Core struct {
	validator *Validator
	peerSet   *peers.PeerSet

	store    store.Store
	verifier *policy.Verifier
	tally    *consensus.Tally
	executor exec.Executor

	// vclock is the node's local vector clock. It advances on emission and
	// absorbs the clock of every admitted event.
	vclock clock.VectorClock

	// voted remembers the tasks this node has already cast a vote for. The
	// first vote is binding; observing a better candidate later changes
	// nothing.
	voted map[string]bool

	logger *logrus.Entry
}

// NewCore instantiates a Core and restores volatile state from the store,
// which matters when the store was bootstrapped from disk.
func NewCore(validator *Validator,
	peerSet *peers.PeerSet,
	s store.Store,
	verifier *policy.Verifier,
	tally *consensus.Tally,
	executor exec.Executor,
	logger *logrus.Entry) *Core {

	core := &Core{
		validator: validator,
		peerSet:   peerSet,
		store:     s,
		verifier:  verifier,
		tally:     tally,
		executor:  executor,
		vclock:    clock.New(),
		voted:     make(map[string]bool),
		logger:    logger.WithField("component", "core"),
	}

	core.restore()

	return core
}

// restore replays the store into the clock, the vote ledger, and the task
// deadlines.
func (c *Core) restore() {
	for _, taskID := range c.store.TaskIDs() {
		c.tally.Observe(taskID)

		for _, ev := range c.store.TaskEvents(taskID) {
			if c.verifier.Evaluate(ev).Status == policy.Admitted {
				c.vclock.Merge(ev.Body.Clock)
			}
		}

		for _, vote := range c.store.TaskVotes(taskID) {
			if vote.VoterID() == c.validator.ID() {
				c.voted[taskID] = true
			}
		}
	}
}

// ID returns the validator's ID.
func (c *Core) ID() uint32 {
	return c.validator.ID()
}

// Clock returns a snapshot of the local vector clock.
func (c *Core) Clock() clock.VectorClock {
	return c.vclock.Copy()
}

// Manifest returns the digest summary the node offers in pull requests.
func (c *Core) Manifest() []string {
	return c.store.Manifest()
}

// Diff returns the stored items missing from a remote manifest.
func (c *Core) Diff(known []string) ([]*task.Event, []*task.Vote) {
	return c.store.Diff(known)
}

// Submit creates and inserts the genesis event for a task, carrying the
// client's input payload. It fails when no contract covers the task or the
// task already has a genesis event.
func (c *Core) Submit(taskID string, payload []byte) (*task.Event, error) {
	if _, ok := c.verifier.Contract(taskID); !ok {
		return nil, fmt.Errorf("no contract for task %s", taskID)
	}

	for _, ev := range c.store.TaskEvents(taskID) {
		if ev.IsGenesis() {
			return nil, fmt.Errorf("task %s already submitted", taskID)
		}
	}

	snapshot := c.vclock.Tick(c.validator.ID())

	ev := task.NewEvent(taskID, task.StartStage, c.validator.PublicKeyBytes(),
		"", payload, snapshot)
	if err := ev.Sign(c.validator.Key); err != nil {
		return nil, err
	}

	if err := c.AddEvents([]*task.Event{ev}); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"task":   taskID,
		"digest": ev.Hex(),
	}).Debug("Submitted task")

	return ev, nil
}

// AddEvents inserts a batch of events, runs hosted stage transforms on the
// resulting chain, and casts votes on completed tasks. Events this node emits
// in reaction are processed through the same queue, so a node hosting several
// consecutive stages advances the pipeline in one call.
func (c *Core) AddEvents(events []*task.Event) error {
	touched := map[string]bool{}

	queue := append([]*task.Event{}, events...)
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		newStored, err := c.store.AddEvent(ev)
		if err != nil {
			if common.IsStore(err, common.PendingDependency) {
				c.logger.WithField("digest", ev.Hex()).Debug("Parked dangling event")
				continue
			}
			if common.IsStore(err, common.InvalidSignature) {
				c.logger.WithField("digest", ev.Hex()).Warn("Dropped event with invalid signature")
				continue
			}
			return err
		}

		for _, stored := range newStored {
			touched[stored.Body.TaskID] = true

			emitted, err := c.processEvent(stored)
			if err != nil {
				return err
			}
			queue = append(queue, emitted...)
		}
	}

	for taskID := range touched {
		if err := c.finishTask(taskID); err != nil {
			return err
		}
	}

	return nil
}

// processEvent reacts to one newly stored event and returns the events this
// node emitted in response.
func (c *Core) processEvent(ev *task.Event) ([]*task.Event, error) {
	taskID := ev.Body.TaskID

	c.tally.Observe(taskID)

	verdict := c.verifier.Evaluate(ev)
	if verdict.Status != policy.Admitted {
		return nil, nil
	}

	c.vclock.Merge(ev.Body.Clock)

	contract, ok := c.verifier.Contract(taskID)
	if !ok {
		return nil, nil
	}

	next, ok := contract.NextStage(ev.Body.Stage)
	if !ok || !c.executor.Hosts(next) {
		return nil, nil
	}

	if c.alreadyProduced(taskID, ev.Hex()) {
		return nil, nil
	}

	output, err := c.executor.Transform(context.Background(), next, ev.Body.Payload)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"task":  taskID,
			"stage": next,
		}).WithError(err).Error("Stage transform failed")
		return nil, nil
	}

	snapshot := c.vclock.Tick(c.validator.ID())

	successor := task.NewEvent(taskID, next, c.validator.PublicKeyBytes(),
		ev.Hex(), output, snapshot)
	if err := successor.Sign(c.validator.Key); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"task":   taskID,
		"stage":  next,
		"input":  ev.Hex(),
		"digest": successor.Hex(),
	}).Debug("Emitted stage event")

	return []*task.Event{successor}, nil
}

// alreadyProduced says whether this node already emitted an event consuming
// the given input. Gossip echoes must not trigger duplicate transforms.
func (c *Core) alreadyProduced(taskID, inputDigest string) bool {
	for _, ev := range c.store.TaskEvents(taskID) {
		if ev.CreatorID() == c.validator.ID() && ev.Body.InputDigest == inputDigest {
			return true
		}
	}
	return false
}

// finishTask casts this node's vote if the task has an admissible final-stage
// event, then runs the quorum check.
func (c *Core) finishTask(taskID string) error {
	if !c.voted[taskID] {
		finals := c.verifier.AdmittedFinalEvents(taskID)
		if pick := consensus.PickFinal(finals); pick != nil {
			vote := task.NewVote(taskID, c.validator.PublicKeyBytes(), pick.Hex())
			if err := vote.Sign(c.validator.Key); err != nil {
				return err
			}
			if _, err := c.store.AddVote(vote); err != nil {
				return err
			}
			c.voted[taskID] = true

			c.logger.WithFields(logrus.Fields{
				"task":   taskID,
				"digest": pick.Hex(),
			}).Debug("Cast vote")
		}
	}

	_, err := c.tally.ProcessTask(taskID)
	return err
}

// AddVotes inserts gossiped votes and re-runs the quorum check for the tasks
// they touch.
func (c *Core) AddVotes(votes []*task.Vote) error {
	touched := map[string]bool{}

	for _, vote := range votes {
		fresh, err := c.store.AddVote(vote)
		if err != nil {
			if common.IsStore(err, common.InvalidSignature) {
				c.logger.WithField("digest", vote.Hex()).Warn("Dropped vote with invalid signature")
				continue
			}
			return err
		}
		if fresh {
			touched[vote.Body.TaskID] = true
		}
	}

	for taskID := range touched {
		if err := c.finishTask(taskID); err != nil {
			return err
		}
	}

	return nil
}

// PendingCount exposes the number of parked dangling events.
func (c *Core) PendingCount() int {
	return c.store.PendingCount()
}

// Busy says whether there is still work in flight: an unfinalized,
// non-stalled task, or parked dangling events.
func (c *Core) Busy() bool {
	if c.store.PendingCount() > 0 {
		return true
	}

	for _, taskID := range c.store.TaskIDs() {
		switch c.tally.Phase(taskID) {
		case consensus.Pending, consensus.Voting:
			return true
		}
	}

	return false
}
