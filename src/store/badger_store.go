package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/task"
)

const (
	eventPrefix  = "event"
	votePrefix   = "vote"
	recordPrefix = "record"

	// parked events are persisted under their own prefix so the read path
	// never serves an event that is not actually inserted yet
	pendingPrefix = "pending"
)

// BadgerStore is a persistent implementation of the Store interface. It wraps
// an InmemStore for fast reads and writes every event, vote, and record
// through to a badger database, so a node can be stopped and bootstrapped
// back to its last known state. Reads that miss the in-memory layer fall back
// to the database through an LRU cache.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string

	eventCache *cm.LRU
	voteCache  *cm.LRU

	needBootstrap bool
}

// NewBadgerStore creates a brand new BadgerStore with a fresh database.
func NewBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
		eventCache: cm.NewLRU(cacheSize, nil),
		voteCache:  cm.NewLRU(cacheSize, nil),
	}

	return store, nil
}

// LoadBadgerStore creates a BadgerStore from an existing database and replays
// its contents into the in-memory layer.
func LoadBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	store, err := NewBadgerStore(cacheSize, path)
	if err != nil {
		return nil, err
	}

	store.needBootstrap = true

	if err := store.bootstrap(); err != nil {
		store.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore tries to load an existing database, and creates a
// new one when there is nothing to load.
func LoadOrCreateBadgerStore(cacheSize int, path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(cacheSize, path)

	if err != nil {
		store, err = NewBadgerStore(cacheSize, path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

// NeedBootstrap says whether the store was loaded from an existing database.
func (s *BadgerStore) NeedBootstrap() bool {
	return s.needBootstrap
}

/*******************************************************************************
Keys
*******************************************************************************/

func eventKey(digest string) []byte {
	return []byte(fmt.Sprintf("%s_%s", eventPrefix, digest))
}

func voteKey(digest string) []byte {
	return []byte(fmt.Sprintf("%s_%s", votePrefix, digest))
}

func recordKey(taskID string) []byte {
	return []byte(fmt.Sprintf("%s_%s", recordPrefix, taskID))
}

func pendingKey(digest string) []byte {
	return []byte(fmt.Sprintf("%s_%s", pendingPrefix, digest))
}

/*******************************************************************************
Store interface
*******************************************************************************/

// AddEvent implements the Store interface.
func (s *BadgerStore) AddEvent(ev *task.Event) ([]*task.Event, error) {
	inserted, err := s.inmemStore.AddEvent(ev)
	if err != nil {
		// a parked event is also persisted so it survives a restart, but
		// under the pending prefix: it must not be readable as an inserted
		// event before its dependency arrives
		if cm.IsStore(err, cm.PendingDependency) {
			if dbErr := s.dbSetPendingEvent(ev); dbErr != nil {
				return nil, dbErr
			}
		}
		return inserted, err
	}

	// drained events move from the pending prefix to the event prefix
	for _, e := range inserted {
		if err := s.dbSetEvent(e); err != nil {
			return nil, err
		}
		if err := s.dbDeletePendingEvent(e.Hex()); err != nil {
			return nil, err
		}
	}

	return inserted, nil
}

// GetEvent implements the Store interface.
func (s *BadgerStore) GetEvent(digest string) (*task.Event, error) {
	ev, err := s.inmemStore.GetEvent(digest)
	if err == nil {
		return ev, nil
	}

	return s.dbGetEvent(digest)
}

// HasEvent implements the Store interface.
func (s *BadgerStore) HasEvent(digest string) bool {
	return s.inmemStore.HasEvent(digest)
}

// TaskEvents implements the Store interface.
func (s *BadgerStore) TaskEvents(taskID string) []*task.Event {
	return s.inmemStore.TaskEvents(taskID)
}

// AddVote implements the Store interface.
func (s *BadgerStore) AddVote(vote *task.Vote) (bool, error) {
	fresh, err := s.inmemStore.AddVote(vote)
	if err != nil || !fresh {
		return fresh, err
	}

	if err := s.dbSetVote(vote); err != nil {
		return false, err
	}

	return true, nil
}

// GetVote implements the Store interface.
func (s *BadgerStore) GetVote(digest string) (*task.Vote, error) {
	vote, err := s.inmemStore.GetVote(digest)
	if err == nil {
		return vote, nil
	}

	return s.dbGetVote(digest)
}

// TaskVotes implements the Store interface.
func (s *BadgerStore) TaskVotes(taskID string) []*task.Vote {
	return s.inmemStore.TaskVotes(taskID)
}

// Manifest implements the Store interface.
func (s *BadgerStore) Manifest() []string {
	return s.inmemStore.Manifest()
}

// Diff implements the Store interface.
func (s *BadgerStore) Diff(known []string) ([]*task.Event, []*task.Vote) {
	return s.inmemStore.Diff(known)
}

// PendingCount implements the Store interface.
func (s *BadgerStore) PendingCount() int {
	return s.inmemStore.PendingCount()
}

// SetRecord implements the Store interface.
func (s *BadgerStore) SetRecord(record *task.ConsensusRecord) error {
	if err := s.inmemStore.SetRecord(record); err != nil {
		return err
	}

	return s.dbSetRecord(record)
}

// GetRecord implements the Store interface.
func (s *BadgerStore) GetRecord(taskID string) (*task.ConsensusRecord, error) {
	record, err := s.inmemStore.GetRecord(taskID)
	if err == nil {
		return record, nil
	}

	return s.dbGetRecord(taskID)
}

// TaskIDs implements the Store interface.
func (s *BadgerStore) TaskIDs() []string {
	return s.inmemStore.TaskIDs()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

/*******************************************************************************
DB access
*******************************************************************************/

func (s *BadgerStore) dbSetEvent(ev *task.Event) error {
	raw, err := ev.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(ev.Hex()), raw)
	})
}

func (s *BadgerStore) dbGetEvent(digest string) (*task.Event, error) {
	if cached, ok := s.eventCache.Get(digest); ok {
		return cached.(*task.Event), nil
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(digest))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, cm.NewStoreErr("EventDB", cm.KeyNotFound, digest)
	}

	ev := new(task.Event)
	if err := ev.Unmarshal(raw); err != nil {
		return nil, err
	}

	s.eventCache.Add(digest, ev)

	return ev, nil
}

func (s *BadgerStore) dbSetPendingEvent(ev *task.Event) error {
	raw, err := ev.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(ev.Hex()), raw)
	})
}

func (s *BadgerStore) dbDeletePendingEvent(digest string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pendingKey(digest))
	})
}

func (s *BadgerStore) dbSetVote(vote *task.Vote) error {
	encoded, err := json.Marshal(vote)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(voteKey(vote.Hex()), encoded)
	})
}

func (s *BadgerStore) dbGetVote(digest string) (*task.Vote, error) {
	if cached, ok := s.voteCache.Get(digest); ok {
		return cached.(*task.Vote), nil
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(voteKey(digest))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, cm.NewStoreErr("VoteDB", cm.KeyNotFound, digest)
	}

	vote := new(task.Vote)
	if err := json.Unmarshal(raw, vote); err != nil {
		return nil, err
	}

	s.voteCache.Add(digest, vote)

	return vote, nil
}

func (s *BadgerStore) dbSetRecord(record *task.ConsensusRecord) error {
	raw, err := record.Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(record.TaskID), raw)
	})
}

func (s *BadgerStore) dbGetRecord(taskID string) (*task.ConsensusRecord, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(taskID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, cm.NewStoreErr("RecordDB", cm.KeyNotFound, taskID)
	}

	record := new(task.ConsensusRecord)
	if err := record.Unmarshal(raw); err != nil {
		return nil, err
	}

	return record, nil
}

// bootstrap replays the database contents into the in-memory layer. Events
// are replayed through the normal insert path, so the pending buffer resolves
// whatever order the iterator yields them in.
func (s *BadgerStore) bootstrap() error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(eventPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ev := new(task.Event)
			if err := ev.Unmarshal(raw); err != nil {
				return err
			}
			if _, err := s.inmemStore.AddEvent(ev); err != nil &&
				!cm.IsStore(err, cm.PendingDependency) {
				return err
			}
		}

		// parked events go back through the insert path too: whatever is
		// still unresolved ends up parked again
		prefix = []byte(pendingPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ev := new(task.Event)
			if err := ev.Unmarshal(raw); err != nil {
				return err
			}
			if _, err := s.inmemStore.AddEvent(ev); err != nil &&
				!cm.IsStore(err, cm.PendingDependency) {
				return err
			}
		}

		prefix = []byte(votePrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			vote := new(task.Vote)
			if err := json.Unmarshal(raw, vote); err != nil {
				return err
			}
			if _, err := s.inmemStore.AddVote(vote); err != nil {
				return err
			}
		}

		prefix = []byte(recordPrefix + "_")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			record := new(task.ConsensusRecord)
			if err := record.Unmarshal(raw); err != nil {
				return err
			}
			if err := s.inmemStore.SetRecord(record); err != nil {
				return err
			}
		}

		return nil
	})

	return err
}
