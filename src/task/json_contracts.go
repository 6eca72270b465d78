package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sync"
)

const jsonContractsPath = "contracts.json"

// ContractSet is the read-only registry of task contracts a node operates
// with. It is built once at startup.
type ContractSet struct {
	Contracts []*TaskContract          `json:"contracts"`
	ByTaskID  map[string]*TaskContract `json:"-"`
}

// NewContractSet creates a ContractSet from a list of contracts, validating
// each of them.
func NewContractSet(contracts []*TaskContract) (*ContractSet, error) {
	set := &ContractSet{
		Contracts: contracts,
		ByTaskID:  make(map[string]*TaskContract),
	}

	for _, c := range contracts {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := set.ByTaskID[c.TaskID]; ok {
			return nil, fmt.Errorf("duplicate contract for task %s", c.TaskID)
		}
		set.ByTaskID[c.TaskID] = c
	}

	return set, nil
}

// Get returns the contract for a task ID.
func (s *ContractSet) Get(taskID string) (*TaskContract, bool) {
	c, ok := s.ByTaskID[taskID]
	return c, ok
}

// JSONContractSet provides contract persistence on disk in the form of a
// JSON file.
type JSONContractSet struct {
	l    sync.Mutex
	path string
}

// NewJSONContractSet creates a new JSONContractSet with reference to a base
// directory where the JSON file resides.
func NewJSONContractSet(base string) *JSONContractSet {
	return &JSONContractSet{
		path: filepath.Join(base, jsonContractsPath),
	}
}

// ContractSet parses the underlying JSON file and returns the corresponding
// ContractSet.
func (j *JSONContractSet) ContractSet() (*ContractSet, error) {
	j.l.Lock()
	defer j.l.Unlock()

	// Read the file
	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for no contracts
	if len(buf) == 0 {
		return nil, nil
	}

	// Decode the contracts
	var contracts []*TaskContract
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&contracts); err != nil {
		return nil, err
	}

	return NewContractSet(contracts)
}

// Write persists a list of contracts to the JSON file.
func (j *JSONContractSet) Write(contracts []*TaskContract) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(contracts); err != nil {
		return err
	}

	// Write out as JSON
	return ioutil.WriteFile(j.path, buf.Bytes(), 0755)
}
