package node

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hetu-project/pohb/src/config"
	"github.com/hetu-project/pohb/src/consensus"
	"github.com/hetu-project/pohb/src/exec"
	"github.com/hetu-project/pohb/src/net"
	"github.com/hetu-project/pohb/src/peers"
	"github.com/hetu-project/pohb/src/policy"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"

	"github.com/sirupsen/logrus"
)

//Node defines a participant node
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	validator *Validator

	core     *Core
	coreLock sync.Mutex

	peerSelector PeerSelector
	selectorLock sync.Mutex

	trans net.Transport
	netCh <-chan net.RPC

	sigintCh   chan os.Signal
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start time.Time

	// touched by gossip goroutines and read by stats, so atomic
	gossipRounds int32
	gossipErrors int32
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *config.Config,
	validator *Validator,
	peerSet *peers.PeerSet,
	s store.Store,
	contracts *task.ContractSet,
	executor exec.Executor,
	trans net.Transport,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger().WithField("this_id", validator.ID())

	verifier := policy.NewVerifier(contracts, s, logger)
	tally := consensus.NewTally(verifier, s, peerSet, logger)

	node := Node{
		validator:    validator,
		conf:         conf,
		logger:       logger,
		core:         NewCore(validator, peerSet, s, verifier, tally, executor, logger),
		peerSelector: NewRandomPeerSelector(peerSet, validator.ID()),
		trans:        trans,
		netCh:        trans.Consumer(),
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

//Init initialises the node
func (n *Node) Init() error {
	if _, ok := n.core.peerSet.ByID[n.validator.ID()]; !ok {
		return fmt.Errorf("node does not belong to peer-set")
	}

	n.start = time.Now()
	n.setState(Gossiping)

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync(gossip bool) {
	n.logger.WithField("gossip", gossip).Debug("runasync")

	go n.Run(gossip)
}

//Run invokes the main loop of the node
func (n *Node) Run(gossip bool) {
	//The ControlTimer allows the background routines to control the heartbeat
	//timer
	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Gossiping:
			n.gossiping(gossip)
		case Suspended:
			n.suspended()
		case Shutdown:
			return
		}
	}
}

//resetTimer slows the heartbeat down when there is nothing to talk about
func (n *Node) resetTimer() {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if !n.controlTimer.set {
		ts := n.conf.HeartbeatTimeout

		if !n.core.Busy() {
			ts = n.conf.SlowHeartbeatTimeout
		}

		n.controlTimer.resetCh <- ts
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			n.goFunc(func() {
				n.logger.Debug("Processing RPC")
				n.processRPC(rpc)
				n.resetTimer()
			})
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT")
			n.Shutdown()
			os.Exit(0)
		}
	}
}

// gossiping periodically initiates an anti-entropy round with a random peer.
func (n *Node) gossiping(gossip bool) {
	n.logger.Debug("GOSSIPING")

	for {
		select {
		case <-n.controlTimer.tickCh:
			if gossip {
				n.selectorLock.Lock()
				peer := n.peerSelector.Next()
				n.selectorLock.Unlock()
				if peer != nil {
					n.goFunc(func() { n.gossip(peer) })
				}
			}
			n.checkSuspend()
			n.resetTimer()
			if n.getState() != Gossiping {
				return
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// suspended does nothing but wait for a shutdown. Incoming pulls are still
// served by the background routine, so a suspended node keeps feeding the
// network what it already has.
func (n *Node) suspended() {
	n.logger.Warn("SUSPENDED")

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.resetTimer()
		case <-n.shutdownCh:
			return
		}
	}
}

// checkSuspend suspends the node when the pending buffer exceeds the
// configured limit.
func (n *Node) checkSuspend() {
	n.coreLock.Lock()
	pending := n.core.PendingCount()
	n.coreLock.Unlock()

	if n.conf.SuspendLimit > 0 && pending > n.conf.SuspendLimit {
		n.logger.WithField("pending", pending).Warn("Suspend limit reached")
		n.setState(Suspended)
	}
}

//gossip performs a pull-push anti-entropy round with the selected peer.
func (n *Node) gossip(peer *peers.Peer) error {
	atomic.AddInt32(&n.gossipRounds, 1)

	//pull
	otherKnown, err := n.pull(peer)
	if err != nil {
		atomic.AddInt32(&n.gossipErrors, 1)
		n.logger.WithError(err).Error("gossip pull")
		return err
	}

	//push
	err = n.push(peer, otherKnown)
	if err != nil {
		atomic.AddInt32(&n.gossipErrors, 1)
		n.logger.WithError(err).Error("gossip push")
		return err
	}

	//update peer selector
	n.selectorLock.Lock()
	n.peerSelector.UpdateLast(peer.ID())
	n.selectorLock.Unlock()

	n.logStats()

	return nil
}

func (n *Node) pull(peer *peers.Peer) (otherKnown []string, err error) {
	//Compute Known
	n.coreLock.Lock()
	manifest := n.core.Manifest()
	n.coreLock.Unlock()

	//Send PullRequest
	start := time.Now()
	args := &net.PullRequest{FromID: n.validator.ID(), Known: manifest}
	var resp net.PullResponse
	err = n.trans.Pull(peer.NetAddr, args, &resp)
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Pull()")

	if err != nil {
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"from_id": resp.FromID,
		"events":  len(resp.Events),
		"votes":   len(resp.Votes),
	}).Debug("PullResponse")

	//Insert the missing items
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if err := n.core.AddEvents(resp.Events); err != nil {
		return nil, err
	}
	if err := n.core.AddVotes(resp.Votes); err != nil {
		return nil, err
	}

	return resp.Known, nil
}

func (n *Node) push(peer *peers.Peer, otherKnown []string) error {
	//Compute Diff
	start := time.Now()
	n.coreLock.Lock()
	events, votes := n.core.Diff(otherKnown)
	n.coreLock.Unlock()
	elapsed := time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Diff()")

	if len(events) == 0 && len(votes) == 0 {
		return nil
	}

	//Create and send PushRequest
	start = time.Now()
	args := &net.PushRequest{FromID: n.validator.ID(), Events: events, Votes: votes}
	var resp net.PushResponse
	err := n.trans.Push(peer.NetAddr, args, &resp)
	elapsed = time.Since(start)
	n.logger.WithField("duration", elapsed.Nanoseconds()).Debug("Push()")
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"from_id": resp.FromID,
		"success": resp.Success,
	}).Debug("PushResponse")

	return nil
}

// Submit creates the genesis event of a task from a client payload.
func (n *Node) Submit(taskID string, payload []byte) (*task.Event, error) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	ev, err := n.core.Submit(taskID, payload)
	if err != nil {
		return nil, err
	}

	// wake the gossip loop up; non-blocking in case the timer isn't running
	select {
	case n.controlTimer.resetCh <- n.conf.HeartbeatTimeout:
	default:
	}

	return ev, nil
}

//Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		//For some reason this needs to be called after closing the shutdownCh
		//Not entirely sure why...
		n.controlTimer.Shutdown()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		n.core.store.Close()
	}
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	finalized := 0
	stalled := 0
	for _, taskID := range n.core.store.TaskIDs() {
		switch n.core.tally.Phase(taskID) {
		case consensus.Finalized:
			finalized++
		case consensus.Stalled:
			stalled++
		}
	}

	s := map[string]string{
		"tasks":           strconv.Itoa(len(n.core.store.TaskIDs())),
		"finalized_tasks": strconv.Itoa(finalized),
		"stalled_tasks":   strconv.Itoa(stalled),
		"pending_events":  strconv.Itoa(n.core.PendingCount()),
		"gossip_rounds":   strconv.Itoa(int(atomic.LoadInt32(&n.gossipRounds))),
		"sync_rate":       strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"num_peers":       strconv.Itoa(n.peerSelector.Peers().Len()),
		"id":              fmt.Sprint(n.validator.ID()),
		"state":           n.getState().String(),
		"moniker":         n.validator.Moniker,
	}
	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	n.logger.WithFields(logrus.Fields{
		"tasks":           stats["tasks"],
		"finalized_tasks": stats["finalized_tasks"],
		"stalled_tasks":   stats["stalled_tasks"],
		"pending_events":  stats["pending_events"],
		"gossip_rounds":   stats["gossip_rounds"],
		"sync_rate":       stats["sync_rate"],
		"num_peers":       stats["num_peers"],
		"state":           stats["state"],
	}).Debug("Stats")
}

//SyncRate returns the fraction of gossip rounds that completed without error
func (n *Node) SyncRate() float64 {
	var errorRate float64

	rounds := atomic.LoadInt32(&n.gossipRounds)
	if rounds != 0 {
		errorRate = float64(atomic.LoadInt32(&n.gossipErrors)) / float64(rounds)
	}

	return 1 - errorRate
}

//ID returns the validator ID
func (n *Node) ID() uint32 {
	return n.validator.ID()
}

//GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.peerSelector.Peers().Peers
}

//GetTaskIDs returns the IDs of all tasks with at least one stored event
func (n *Node) GetTaskIDs() []string {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.store.TaskIDs()
}

//GetTaskEvents returns a task's events in causal order
func (n *Node) GetTaskEvents(taskID string) []*task.Event {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.store.TaskEvents(taskID)
}

//GetTaskVotes returns a task's votes
func (n *Node) GetTaskVotes(taskID string) []*task.Vote {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.store.TaskVotes(taskID)
}

//GetTaskPhase returns a task's lifecycle phase
func (n *Node) GetTaskPhase(taskID string) consensus.Phase {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.tally.Phase(taskID)
}

//GetRecord returns a task's consensus record
func (n *Node) GetRecord(taskID string) (*task.ConsensusRecord, error) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.core.store.GetRecord(taskID)
}

//GetContract returns the contract of a task
func (n *Node) GetContract(taskID string) (*task.TaskContract, bool) {
	return n.core.verifier.Contract(taskID)
}
