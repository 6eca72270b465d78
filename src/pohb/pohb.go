package pohb

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/hetu-project/pohb/src/config"
	"github.com/hetu-project/pohb/src/crypto/keys"
	"github.com/hetu-project/pohb/src/exec"
	"github.com/hetu-project/pohb/src/net"
	"github.com/hetu-project/pohb/src/node"
	"github.com/hetu-project/pohb/src/peers"
	"github.com/hetu-project/pohb/src/service"
	"github.com/hetu-project/pohb/src/store"
	"github.com/hetu-project/pohb/src/task"
	"github.com/sirupsen/logrus"
)

// Pohb is the top-level object which ties together a node, a transport, a
// store, a contract registry, and an optional HTTP service. It is initialized
// from a Config.
type Pohb struct {
	Config    *config.Config
	Node      *node.Node
	Transport net.Transport
	Store     store.Store
	Peers     *peers.PeerSet
	Contracts *task.ContractSet
	Executor  exec.Executor
	Service   *service.Service

	logger *logrus.Entry
}

// NewPohb is a factory method that returns an uninitialized Pohb object with
// the provided config. Call Init to finish initializing it.
func NewPohb(conf *config.Config) *Pohb {
	engine := &Pohb{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

func (p *Pohb) initPeers() error {
	if p.Peers != nil {
		return nil
	}

	peerStore := peers.NewJSONPeerSet(p.Config.DataDir)

	participants, err := peerStore.PeerSet()
	if err != nil {
		return err
	}

	if participants == nil || len(participants.Peers) < 1 {
		return fmt.Errorf("peers.json should define at least one peer")
	}

	p.Peers = participants

	return nil
}

func (p *Pohb) initContracts() error {
	if p.Contracts != nil {
		return nil
	}

	contractStore := task.NewJSONContractSet(p.Config.DataDir)

	contracts, err := contractStore.ContractSet()
	if err != nil {
		return err
	}

	if contracts == nil || len(contracts.Contracts) < 1 {
		return fmt.Errorf("contracts.json should define at least one contract")
	}

	p.Contracts = contracts

	return nil
}

func (p *Pohb) initStore() error {
	if p.Store != nil {
		return nil
	}

	if p.Config.Bootstrap {
		p.Config.Store = true
	}

	if !p.Config.Store {
		p.Store = store.NewInmemStore()

		p.logger.Debug("Created new in-mem store")

		return nil
	}

	p.logger.WithField("path", p.Config.DatabaseDir).Debug("Loading or creating database")

	if p.Config.Bootstrap {
		badgerStore, err := store.LoadBadgerStore(p.Config.CacheSize, p.Config.DatabaseDir)
		if err != nil {
			return fmt.Errorf("bootstrapping from existing database: %s", err)
		}

		p.Store = badgerStore

		p.logger.Debug("Loaded badger store from existing database")

		return nil
	}

	badgerStore, err := store.LoadOrCreateBadgerStore(p.Config.CacheSize, p.Config.DatabaseDir)
	if err != nil {
		return err
	}

	p.Store = badgerStore

	return nil
}

func (p *Pohb) initTransport() error {
	if p.Transport != nil {
		return nil
	}

	transport, err := net.NewTCPTransport(
		p.Config.BindAddr,
		p.Config.AdvertiseAddr,
		p.Config.MaxPool,
		p.Config.TCPTimeout,
		p.logger,
	)
	if err != nil {
		return err
	}

	p.Transport = transport

	return nil
}

func (p *Pohb) initKey() error {
	if p.Config.Key == nil {
		keyfile := keys.NewSimpleKeyfile(p.Config.Keyfile())

		privKey, err := keyfile.ReadKey()
		if err != nil {
			return fmt.Errorf("reading private key from %s: %s", p.Config.Keyfile(), err)
		}

		p.Config.Key = privKey
	}
	return nil
}

func (p *Pohb) initExecutor() error {
	if p.Executor != nil {
		return nil
	}

	p.Executor = exec.NewScriptExecutor(p.Config.ScriptsDir, p.logger)

	return nil
}

func (p *Pohb) initNode() error {
	validator := node.NewValidator(p.Config.Key, p.Config.Moniker)

	if _, ok := p.Peers.ByID[validator.ID()]; !ok {
		return fmt.Errorf("cannot find self pubkey in peers.json")
	}

	p.logger.WithFields(logrus.Fields{
		"id":      validator.ID(),
		"moniker": validator.Moniker,
		"peers":   len(p.Peers.Peers),
	}).Debug("PARTICIPANTS")

	p.Node = node.NewNode(
		p.Config,
		validator,
		p.Peers,
		p.Store,
		p.Contracts,
		p.Executor,
		p.Transport,
	)

	if err := p.Node.Init(); err != nil {
		return fmt.Errorf("initializing node: %s", err)
	}

	return nil
}

func (p *Pohb) initService() error {
	if !p.Config.NoService && p.Config.ServiceAddr != "" {
		p.Service = service.NewService(p.Config.ServiceAddr, p.Node, p.logger)
	}
	return nil
}

// Init initializes the pohb engine based on its configuration: it loads the
// key, peers, and contracts from the data directory, opens the store and the
// transport, and initializes the node and the HTTP service.
func (p *Pohb) Init() error {
	if err := p.initPeers(); err != nil {
		return err
	}

	if err := p.initContracts(); err != nil {
		return err
	}

	if err := p.initStore(); err != nil {
		return err
	}

	if err := p.initTransport(); err != nil {
		return err
	}

	if err := p.initKey(); err != nil {
		return err
	}

	if err := p.initExecutor(); err != nil {
		return err
	}

	if err := p.initNode(); err != nil {
		return err
	}

	if err := p.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the node and the HTTP service. This is a blocking call; it
// returns when the node is shut down.
func (p *Pohb) Run() {
	if p.Service != nil {
		go p.Service.Serve()
	}

	p.Node.Run(true)
}

// Keygen generates a new key pair and persists the private key to the keyfile.
// It refuses to overwrite an existing key.
func Keygen(keyfile string) (*ecdsa.PrivateKey, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := simpleKeyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile)
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := simpleKeyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
