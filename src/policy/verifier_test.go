package policy

import (
	"crypto/ecdsa"
	"testing"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/crypto/keys"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"

	"github.com/hetu-project/pohb/src/common"
	"github.com/sirupsen/logrus"
)

func testContract(t *testing.T) *task.ContractSet {
	set, err := task.NewContractSet([]*task.TaskContract{{
		TaskID:          "T",
		Stages:          []string{"stage1", "stage2", "stage3"},
		QuorumThreshold: 0.6,
		Policies: map[string]task.StagePolicy{
			"stage2": {MaxOutputSize: 1024},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return set
}

type testFixture struct {
	key      *ecdsa.PrivateKey
	pub      []byte
	id       uint32
	store    *store.InmemStore
	verifier *Verifier
}

func newFixture(t *testing.T) *testFixture {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := keys.FromPublicKey(&key.PublicKey)

	s := store.NewInmemStore()
	logger := common.NewTestEntry(t, logrus.ErrorLevel)

	return &testFixture{
		key:      key,
		pub:      pub,
		id:       keys.PublicKeyID(&key.PublicKey),
		store:    s,
		verifier: NewVerifier(testContract(t), s, logger),
	}
}

func (f *testFixture) event(t *testing.T, stage, inputDigest string, payload []byte, cl clock.VectorClock) *task.Event {
	ev := task.NewEvent("T", stage, f.pub, inputDigest, payload, cl)
	if err := ev.Sign(f.key); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddEvent(ev); err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestAdmitChain(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})
	s1 := f.event(t, "stage1", genesis.Hex(), []byte("HELLO"), clock.VectorClock{f.id: 1, 2: 1})
	s2 := f.event(t, "stage2", s1.Hex(), []byte("OLLEH"), clock.VectorClock{f.id: 1, 2: 1, 3: 1})
	s3 := f.event(t, "stage3", s2.Hex(), []byte("olleh"), clock.VectorClock{f.id: 1, 2: 1, 3: 1, 4: 1})

	for _, ev := range []*task.Event{genesis, s1, s2, s3} {
		verdict := f.verifier.Evaluate(ev)
		if verdict.Status != Admitted {
			t.Fatalf("%s should be admitted, got %s/%s",
				ev.Body.Stage, verdict.Status, verdict.Reason)
		}
	}

	finals := f.verifier.AdmittedFinalEvents("T")
	if len(finals) != 1 || finals[0].Hex() != s3.Hex() {
		t.Fatalf("task should be complete with one final event, got %d", len(finals))
	}
}

func TestCausalityViolation(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})
	s1 := f.event(t, "stage1", genesis.Hex(), []byte("HELLO"), clock.VectorClock{f.id: 1, 2: 1})

	// stage2 claims to consume stage1 but its clock is concurrent with it
	s2 := f.event(t, "stage2", s1.Hex(), []byte("X"), clock.VectorClock{f.id: 1, 3: 5})

	verdict := f.verifier.Evaluate(s2)
	if verdict.Status != Rejected || verdict.Reason != CausalityViolation {
		t.Fatalf("expected CausalityViolation, got %s/%s", verdict.Status, verdict.Reason)
	}

	// an equal clock does not descend either
	s2b := f.event(t, "stage2", s1.Hex(), []byte("X"), clock.VectorClock{f.id: 1, 2: 1})
	verdict = f.verifier.Evaluate(s2b)
	if verdict.Reason != CausalityViolation {
		t.Fatalf("expected CausalityViolation, got %s", verdict.Reason)
	}
}

func TestHappensBeforeNeverRejected(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("a"), clock.VectorClock{f.id: 1})

	// any strictly dominating clock must pass the causality check
	dominating := []clock.VectorClock{
		{f.id: 2},
		{f.id: 1, 7: 1},
		{f.id: 9, 2: 3, 3: 4},
	}

	for _, cl := range dominating {
		ev := f.event(t, "stage1", genesis.Hex(), []byte("b"), cl)
		verdict := f.verifier.Evaluate(ev)
		if verdict.Reason == CausalityViolation {
			t.Fatalf("clock %v descends from %v and must not be rejected on causality",
				cl, genesis.Body.Clock)
		}
	}
}

func TestWrongStage(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})

	// stage2 cannot consume the genesis event directly
	skipped := f.event(t, "stage2", genesis.Hex(), []byte("X"), clock.VectorClock{f.id: 2})

	verdict := f.verifier.Evaluate(skipped)
	if verdict.Status != Rejected || verdict.Reason != WrongStage {
		t.Fatalf("expected WrongStage, got %s/%s", verdict.Status, verdict.Reason)
	}
}

func TestPredicateViolation(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})
	s1 := f.event(t, "stage1", genesis.Hex(), []byte("HELLO"), clock.VectorClock{f.id: 2})

	// stage2 output exceeds the contract's 1024-byte bound
	big := make([]byte, 2048)
	s2 := f.event(t, "stage2", s1.Hex(), big, clock.VectorClock{f.id: 3})

	verdict := f.verifier.Evaluate(s2)
	if verdict.Status != Rejected || verdict.Reason != PredicateViolation {
		t.Fatalf("expected PredicateViolation, got %s/%s", verdict.Status, verdict.Reason)
	}
}

func TestRejectionPropagates(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})

	// concurrent stage1 event is rejected...
	bad := f.event(t, "stage1", genesis.Hex(), []byte("X"), clock.VectorClock{9: 1})

	// ...and so is everything built on it, even with a valid clock
	child := f.event(t, "stage2", bad.Hex(), []byte("Y"), clock.VectorClock{f.id: 1, 9: 1, 5: 1})

	if verdict := f.verifier.Evaluate(bad); verdict.Reason != CausalityViolation {
		t.Fatalf("expected CausalityViolation, got %s", verdict.Reason)
	}
	if verdict := f.verifier.Evaluate(child); verdict.Reason != InputRejected {
		t.Fatalf("expected InputRejected, got %s", verdict.Reason)
	}
}

func TestMissingInputNotSticky(t *testing.T) {
	f := newFixture(t)

	genesis := task.NewEvent("T", task.StartStage, f.pub, "", []byte("hello"), clock.VectorClock{f.id: 1})
	if err := genesis.Sign(f.key); err != nil {
		t.Fatal(err)
	}
	s1 := task.NewEvent("T", "stage1", f.pub, genesis.Hex(), []byte("HELLO"), clock.VectorClock{f.id: 2})
	if err := s1.Sign(f.key); err != nil {
		t.Fatal(err)
	}
	s2 := task.NewEvent("T", "stage2", f.pub, s1.Hex(), []byte("OLLEH"), clock.VectorClock{f.id: 3})
	if err := s2.Sign(f.key); err != nil {
		t.Fatal(err)
	}

	// neither input is stored yet; the condition is transient, not a
	// permanent rejection of the chain
	if verdict := f.verifier.Evaluate(s1); verdict.Reason != UnknownInput {
		t.Fatalf("expected UnknownInput, got %s/%s", verdict.Status, verdict.Reason)
	}
	if verdict := f.verifier.Evaluate(s2); verdict.Reason != UnknownInput {
		t.Fatalf("expected UnknownInput for descendant, got %s/%s", verdict.Status, verdict.Reason)
	}

	if _, err := f.store.AddEvent(genesis); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.AddEvent(s1); err != nil {
		t.Fatal(err)
	}

	// the same verifier that saw the missing input must now admit the chain
	if verdict := f.verifier.Evaluate(s1); verdict.Status != Admitted {
		t.Fatalf("s1 should be admitted once its input arrives, got %s/%s",
			verdict.Status, verdict.Reason)
	}
	if verdict := f.verifier.Evaluate(s2); verdict.Status != Admitted {
		t.Fatalf("s2 should be admitted once the chain resolves, got %s/%s",
			verdict.Status, verdict.Reason)
	}

	// and it agrees with a verifier that never saw the events early
	fresh := NewVerifier(testContract(t), f.store, common.NewTestEntry(t, logrus.ErrorLevel))
	for _, ev := range []*task.Event{genesis, s1, s2} {
		if f.verifier.Evaluate(ev) != fresh.Evaluate(ev) {
			t.Fatalf("verdicts diverge for %s", ev.Body.Stage)
		}
	}
}

// Two verifiers over the same event set must compute identical verdicts.
func TestDeterminism(t *testing.T) {
	f := newFixture(t)

	genesis := f.event(t, task.StartStage, "", []byte("hello"), clock.VectorClock{f.id: 1})
	good := f.event(t, "stage1", genesis.Hex(), []byte("ok"), clock.VectorClock{f.id: 2})
	bad := f.event(t, "stage1", genesis.Hex(), []byte("bad"), clock.VectorClock{8: 1})

	other := NewVerifier(testContract(t), f.store, common.NewTestEntry(t, logrus.ErrorLevel))

	for _, ev := range []*task.Event{genesis, good, bad} {
		v1 := f.verifier.Evaluate(ev)
		v2 := other.Evaluate(ev)
		if v1 != v2 {
			t.Fatalf("verdicts diverge for %s: %v vs %v", ev.Body.Stage, v1, v2)
		}
	}
}

func TestCheckStagePolicy(t *testing.T) {
	testCases := []struct {
		name    string
		policy  task.StagePolicy
		payload []byte
		ok      bool
	}{
		{"zero policy admits", task.StagePolicy{}, []byte("anything"), true},
		{"min size", task.StagePolicy{MinOutputSize: 4}, []byte("abc"), false},
		{"max size", task.StagePolicy{MaxOutputSize: 2}, []byte("abc"), false},
		{"required present", task.StagePolicy{RequiredPattern: task.HexBytes("bc")}, []byte("abc"), true},
		{"required missing", task.StagePolicy{RequiredPattern: task.HexBytes("xy")}, []byte("abc"), false},
		{"forbidden present", task.StagePolicy{ForbiddenPattern: task.HexBytes("bc")}, []byte("abc"), false},
	}

	for _, tc := range testCases {
		err := CheckStagePolicy(tc.policy, tc.payload)
		if (err == nil) != tc.ok {
			t.Errorf("%s: got err=%v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
