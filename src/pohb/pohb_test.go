package pohb

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hetu-project/pohb/src/config"
	"github.com/hetu-project/pohb/src/crypto/keys"
	"github.com/hetu-project/pohb/src/peers"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"

	"github.com/sirupsen/logrus"
)

// populateDataDir writes a keyfile, peers.json, and contracts.json to dir, as
// a user would before starting a node.
func populateDataDir(t *testing.T, dir string) {
	key, err := Keygen(filepath.Join(dir, config.DefaultKeyfile))
	if err != nil {
		t.Fatal(err)
	}

	peerSlice := []*peers.Peer{
		peers.NewPeer(keys.PublicKeyHex(&key.PublicKey), "127.0.0.1:0", "me"),
	}
	for i := 0; i < 2; i++ {
		otherKey, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		peerSlice = append(peerSlice, peers.NewPeer(
			keys.PublicKeyHex(&otherKey.PublicKey),
			fmt.Sprintf("127.0.0.1:%d", 10000+i),
			fmt.Sprintf("peer%d", i)))
	}

	if err := peers.NewJSONPeerSet(dir).Write(peerSlice); err != nil {
		t.Fatal(err)
	}

	contracts := []*task.TaskContract{
		{
			TaskID:          "pipeline",
			Stages:          []string{"extract", "transform"},
			QuorumThreshold: 0.67,
		},
	}

	if err := task.NewJSONContractSet(dir).Write(contracts); err != nil {
		t.Fatal(err)
	}
}

func TestEngineInit(t *testing.T) {
	dir := t.TempDir()
	populateDataDir(t, dir)

	conf := config.NewTestConfig(t, logrus.ErrorLevel)
	conf.SetDataDir(dir)
	conf.BindAddr = "127.0.0.1:0"
	conf.NoService = true

	engine := NewPohb(conf)

	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	defer engine.Node.Shutdown()

	if len(engine.Peers.Peers) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(engine.Peers.Peers))
	}
	if _, ok := engine.Contracts.Get("pipeline"); !ok {
		t.Fatal("contract registry should hold the pipeline contract")
	}
	if engine.Config.Key == nil {
		t.Fatal("key should have been read from the keyfile")
	}
	if _, ok := engine.Store.(*store.InmemStore); !ok {
		t.Fatal("store should default to in-mem")
	}
	if engine.Service != nil {
		t.Fatal("service should be disabled")
	}
}

func TestEngineInitBadgerStore(t *testing.T) {
	dir := t.TempDir()
	populateDataDir(t, dir)

	conf := config.NewTestConfig(t, logrus.ErrorLevel)
	conf.SetDataDir(dir)
	conf.Store = true

	engine := NewPohb(conf)

	if err := engine.initStore(); err != nil {
		t.Fatal(err)
	}

	badgerStore, ok := engine.Store.(*store.BadgerStore)
	if !ok {
		t.Fatal("store should be badger-backed")
	}
	badgerStore.Close()
}

func TestEngineInitMissingPeers(t *testing.T) {
	conf := config.NewTestConfig(t, logrus.ErrorLevel)
	conf.SetDataDir(t.TempDir())

	engine := NewPohb(conf)

	if err := engine.Init(); err == nil {
		t.Fatal("Init should fail without a peers.json")
	}
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	keyfile := filepath.Join(t.TempDir(), config.DefaultKeyfile)

	if _, err := Keygen(keyfile); err != nil {
		t.Fatal(err)
	}
	if _, err := Keygen(keyfile); err == nil {
		t.Fatal("Keygen should refuse to overwrite an existing key")
	}
}
