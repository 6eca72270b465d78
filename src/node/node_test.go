package node

import (
	"strings"
	"testing"
	"time"

	"github.com/hetu-project/pohb/src/config"
	"github.com/hetu-project/pohb/src/consensus"
	"github.com/hetu-project/pohb/src/exec"
	"github.com/hetu-project/pohb/src/net"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"

	"github.com/sirupsen/logrus"
)

// createTestNodes builds n nodes over connected in-memory transports. Each
// node hosts the stages listed in hosted[i].
func createTestNodes(t *testing.T,
	n int,
	contract *task.TaskContract,
	hosted [][]string) []*Node {

	ps := newPeerSetWithKeys(t, n)

	transports := []*net.InmemTransport{}
	for i := 0; i < n; i++ {
		_, trans := net.NewInmemTransport(ps.peerSet.Peers[i].NetAddr)
		transports = append(transports, trans)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				transports[i].Connect(ps.peerSet.Peers[j].NetAddr, transports[j])
			}
		}
	}

	contracts, err := task.NewContractSet([]*task.TaskContract{contract})
	if err != nil {
		t.Fatal(err)
	}

	nodes := []*Node{}
	for i := 0; i < n; i++ {
		executor := exec.NewInmemExecutor()
		for _, stage := range hosted[i] {
			switch stage {
			case "upper":
				executor.Register("upper", func(in []byte) ([]byte, error) {
					return []byte(strings.ToUpper(string(in))), nil
				})
			case "reverse":
				executor.Register("reverse", func(in []byte) ([]byte, error) {
					out := make([]byte, len(in))
					for k, b := range in {
						out[len(in)-1-k] = b
					}
					return out, nil
				})
			case "exclaim":
				executor.Register("exclaim", func(in []byte) ([]byte, error) {
					return append(in, '!'), nil
				})
			}
		}

		conf := config.NewTestConfig(t, logrus.ErrorLevel)
		conf.HeartbeatTimeout = 10 * time.Millisecond
		conf.SlowHeartbeatTimeout = 50 * time.Millisecond

		node := NewNode(conf,
			NewValidator(ps.keys[i], ""),
			ps.peerSet,
			store.NewInmemStore(),
			contracts,
			executor,
			transports[i])

		if err := node.Init(); err != nil {
			t.Fatal(err)
		}

		nodes = append(nodes, node)
	}

	return nodes
}

func shutdownNodes(nodes []*Node) {
	for _, n := range nodes {
		n.Shutdown()
	}
}

// waitFinalized polls until every node holds a consensus record for the task.
func waitFinalized(t *testing.T, nodes []*Node, taskID string, timeout time.Duration) []*task.ConsensusRecord {
	deadline := time.Now().Add(timeout)

	for {
		records := []*task.ConsensusRecord{}
		done := true
		for _, n := range nodes {
			record, err := n.GetRecord(taskID)
			if err != nil {
				done = false
				break
			}
			records = append(records, record)
		}
		if done {
			return records
		}

		if time.Now().After(deadline) {
			for i, n := range nodes {
				t.Logf("node %d: phase=%s stats=%v", i, n.GetTaskPhase(taskID), n.GetStats())
			}
			t.Fatalf("task %s did not finalize within %v", taskID, timeout)
		}

		time.Sleep(20 * time.Millisecond)
	}
}

func TestGossipPipelineConvergence(t *testing.T) {
	// stages are split across nodes, so no node can finish the pipeline
	// alone: the intermediate events have to travel through gossip
	nodes := createTestNodes(t, 3,
		&task.TaskContract{
			TaskID:          "T",
			Stages:          []string{"upper", "reverse"},
			QuorumThreshold: 1.0,
		},
		[][]string{{}, {"upper"}, {"reverse"}})
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(true)
	}

	if _, err := nodes[0].Submit("T", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	records := waitFinalized(t, nodes, "T", 10*time.Second)

	for _, record := range records[1:] {
		if record.FinalDigest != records[0].FinalDigest {
			t.Fatal("nodes finalized different digests")
		}
	}
	if records[0].Disputed {
		t.Fatal("honest run must not be disputed")
	}

	// verify the canonical payload is the full transform of the input
	events := nodes[0].GetTaskEvents("T")
	last := events[len(events)-1]
	if string(last.Body.Payload) != "OLLEH" {
		t.Fatalf("canonical output should be OLLEH, got %q", last.Body.Payload)
	}
	if records[0].PayloadDigest != last.Body.PayloadDigest {
		t.Fatal("record payload digest mismatch")
	}
}

func TestThreeStageAudit(t *testing.T) {
	// three distinct nodes each host one stage; the finalized output must
	// match what the same transforms produce when applied directly in
	// sequence, outside the network
	nodes := createTestNodes(t, 3,
		&task.TaskContract{
			TaskID:          "T",
			Stages:          []string{"upper", "reverse", "exclaim"},
			QuorumThreshold: 1.0,
		},
		[][]string{{"upper"}, {"reverse"}, {"exclaim"}})
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(true)
	}

	if _, err := nodes[0].Submit("T", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	records := waitFinalized(t, nodes, "T", 10*time.Second)

	// direct sequential execution of the pipeline
	direct := []byte(strings.ToUpper("hello"))
	reversed := make([]byte, len(direct))
	for i, b := range direct {
		reversed[len(direct)-1-i] = b
	}
	direct = append(reversed, '!')

	want := task.PayloadDigest(direct)
	for i, record := range records {
		if record.PayloadDigest != want {
			t.Fatalf("node %d record digest %s does not match direct execution %s",
				i, record.PayloadDigest, want)
		}
		if record.Disputed {
			t.Fatal("honest run must not be disputed")
		}
	}
}

func TestGossipConvergenceWithIdleNode(t *testing.T) {
	// one node hosts everything; the others verify and vote
	nodes := createTestNodes(t, 3,
		&task.TaskContract{
			TaskID:          "T",
			Stages:          []string{"upper", "reverse"},
			QuorumThreshold: 0.67,
		},
		[][]string{{"upper", "reverse"}, {}, {}})
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(true)
	}

	if _, err := nodes[1].Submit("T", []byte("abc")); err != nil {
		t.Fatal(err)
	}

	records := waitFinalized(t, nodes, "T", 10*time.Second)

	for _, record := range records[1:] {
		if record.FinalDigest != records[0].FinalDigest {
			t.Fatal("nodes finalized different digests")
		}
	}

	// every node must hold the full event chain eventually
	deadline := time.Now().Add(5 * time.Second)
	for {
		counts := []int{}
		for _, n := range nodes {
			counts = append(counts, len(n.GetTaskEvents("T")))
		}
		if counts[0] == 3 && counts[1] == 3 && counts[2] == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event chains did not converge: %v", counts)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// TestStatsDuringGossip reads the gossip counters while gossip rounds run in
// background goroutines. Meaningful under the race detector.
func TestStatsDuringGossip(t *testing.T) {
	nodes := createTestNodes(t, 2,
		&task.TaskContract{
			TaskID:          "T",
			Stages:          []string{"upper"},
			QuorumThreshold: 1.0,
		},
		[][]string{{}, {"upper"}})
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(true)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			for _, n := range nodes {
				n.GetStats()
				n.SyncRate()
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if _, err := nodes[0].Submit("T", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	waitFinalized(t, nodes, "T", 10*time.Second)
	<-done

	if rate := nodes[0].SyncRate(); rate < 0 || rate > 1 {
		t.Fatalf("sync rate out of range: %f", rate)
	}
}

func TestNodeShutdown(t *testing.T) {
	nodes := createTestNodes(t, 2,
		pipelineContract(1.0),
		[][]string{{}, {}})

	for _, n := range nodes {
		n.RunAsync(true)
	}

	time.Sleep(50 * time.Millisecond)

	shutdownNodes(nodes)

	if nodes[0].getState() != Shutdown {
		t.Fatal("node should be in Shutdown state")
	}

	// a second shutdown must be a no-op
	nodes[0].Shutdown()
}

func TestNodeSuspendOnPendingFlood(t *testing.T) {
	nodes := createTestNodes(t, 2,
		pipelineContract(1.0),
		[][]string{{}, {}})
	defer shutdownNodes(nodes)

	nodes[0].conf.SuspendLimit = 1

	// park two dangling events
	ps := newPeerSetWithKeys(t, 1)
	other := newTestCore(t, ps, 0, fullExecutor(), pipelineContract(1.0))
	if _, err := other.Submit("T", []byte("hi")); err != nil {
		t.Fatal(err)
	}
	events := other.store.TaskEvents("T")

	nodes[0].coreLock.Lock()
	// deliver only the descendants, never the genesis
	if err := nodes[0].core.AddEvents(events[1:]); err != nil {
		t.Fatal(err)
	}
	nodes[0].coreLock.Unlock()

	nodes[0].checkSuspend()

	if nodes[0].getState() != Suspended {
		t.Fatalf("node should be Suspended, got %s", nodes[0].getState())
	}
}

func TestStalledTaskSurfaced(t *testing.T) {
	nodes := createTestNodes(t, 2,
		&task.TaskContract{
			TaskID:          "T",
			Stages:          []string{"upper", "reverse"},
			QuorumThreshold: 1.0,
			TimeoutSeconds:  1,
		},
		// nobody hosts "reverse", so the pipeline can never finish
		[][]string{{"upper"}, {}})
	defer shutdownNodes(nodes)

	for _, n := range nodes {
		n.RunAsync(true)
	}

	if _, err := nodes[0].Submit("T", []byte("x")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if nodes[0].GetTaskPhase("T") == consensus.Stalled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task should stall, phase is %s", nodes[0].GetTaskPhase("T"))
		}
		time.Sleep(50 * time.Millisecond)
	}

	if _, err := nodes[0].GetRecord("T"); err == nil {
		t.Fatal("stalled task must not have a record")
	}
}
