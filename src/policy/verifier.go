package policy

import (
	"sync"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"
	"github.com/sirupsen/logrus"
)

// Verifier decides, independently on every node, whether an observed event is
// admissible under its task's contract, and detects task completion. Apart
// from the verdict cache, evaluation is a pure function of the event chain
// and the contract, so honest nodes presented with the same events always
// compute identical verdicts.
type Verifier struct {
	contracts *task.ContractSet
	store     store.Store
	logger    *logrus.Entry

	verdictLock sync.RWMutex
	verdicts    map[string]Verdict
}

// NewVerifier instantiates a Verifier over a contract registry and a store.
func NewVerifier(contracts *task.ContractSet, s store.Store, logger *logrus.Entry) *Verifier {
	return &Verifier{
		contracts: contracts,
		store:     s,
		logger:    logger.WithField("component", "policy"),
		verdicts:  make(map[string]Verdict),
	}
}

// Evaluate returns the verdict for an event, computing and caching it on
// first sight. The event is expected to be stored already; gossip's pending
// buffer guarantees that an inserted event's input is stored too.
func (v *Verifier) Evaluate(ev *task.Event) Verdict {
	digest := ev.Hex()

	v.verdictLock.RLock()
	verdict, ok := v.verdicts[digest]
	v.verdictLock.RUnlock()
	if ok {
		return verdict
	}

	verdict = v.evaluate(ev)

	// a missing input is a transient condition, not a final verdict: the
	// dependency may still arrive through gossip, so it must not stick
	if verdict.Reason != UnknownInput {
		v.verdictLock.Lock()
		v.verdicts[digest] = verdict
		v.verdictLock.Unlock()
	}

	if verdict.Status == Rejected {
		v.logger.WithFields(logrus.Fields{
			"digest": digest,
			"task":   ev.Body.TaskID,
			"stage":  ev.Body.Stage,
			"reason": verdict.Reason.String(),
		}).Debug("Rejected event")
	}

	return verdict
}

func (v *Verifier) evaluate(ev *task.Event) Verdict {
	contract, ok := v.contracts.Get(ev.Body.TaskID)
	if !ok {
		return Reject(UnknownContract)
	}

	if ok, err := ev.Verify(); err != nil || !ok {
		return Reject(BadSignature)
	}

	if task.PayloadDigest(ev.Body.Payload) != ev.Body.PayloadDigest {
		return Reject(BadPayloadDigest)
	}

	if ev.IsGenesis() {
		// genesis events are admissible by definition; they just have to
		// declare themselves as the start of the pipeline
		if ev.Body.Stage != task.StartStage {
			return Reject(BadGenesis)
		}
		return Admit()
	}

	if ev.Body.Stage == task.StartStage {
		// a non-genesis event cannot claim to be a start event
		return Reject(WrongStage)
	}

	input, err := v.store.GetEvent(ev.Body.InputDigest)
	if err != nil {
		return Reject(UnknownInput)
	}

	if input.Body.TaskID != ev.Body.TaskID {
		return Reject(WrongTask)
	}

	// the input must itself be admitted; a chain hanging off a rejected
	// event is rejected all the way down. An input whose own input is still
	// missing propagates the transient condition instead of a permanent
	// rejection
	if inputVerdict := v.Evaluate(input); inputVerdict.Status != Admitted {
		if inputVerdict.Reason == UnknownInput {
			return Reject(UnknownInput)
		}
		return Reject(InputRejected)
	}

	next, ok := contract.NextStage(input.Body.Stage)
	if !ok || next != ev.Body.Stage {
		return Reject(WrongStage)
	}

	if !clock.DescendsFrom(ev.Body.Clock, input.Body.Clock) {
		return Reject(CausalityViolation)
	}

	if err := CheckStagePolicy(contract.PolicyFor(ev.Body.Stage), ev.Body.Payload); err != nil {
		return Reject(PredicateViolation)
	}

	return Admit()
}

// IsAdmitted evaluates a stored event by digest.
func (v *Verifier) IsAdmitted(digest string) bool {
	ev, err := v.store.GetEvent(digest)
	if err != nil {
		return false
	}
	return v.Evaluate(ev).Status == Admitted
}

// AdmittedFinalEvents returns the admissible final-stage events of a task, in
// causal order. The task is complete when this is non-empty; more than one
// element means divergent branches both satisfied the contract.
func (v *Verifier) AdmittedFinalEvents(taskID string) []*task.Event {
	contract, ok := v.contracts.Get(taskID)
	if !ok {
		return nil
	}

	res := []*task.Event{}
	for _, ev := range v.store.TaskEvents(taskID) {
		if ev.Body.Stage != contract.FinalStage() {
			continue
		}
		if v.Evaluate(ev).Status == Admitted {
			res = append(res, ev)
		}
	}
	return res
}

// Contract exposes the registry for other components.
func (v *Verifier) Contract(taskID string) (*task.TaskContract, bool) {
	return v.contracts.Get(taskID)
}
