package service

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/hetu-project/pohb/src/node"
	"github.com/hetu-project/pohb/src/task"
	"github.com/sirupsen/logrus"
)

// Service exposes the node's HTTP API: task submission, task inspection, and
// node statistics.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/submit/", s.makeHandler(s.Submit))
	http.HandleFunc("/tasks", s.makeHandler(s.GetTasks))
	http.HandleFunc("/task/", s.makeHandler(s.GetTask))
	http.HandleFunc("/contract/", s.makeHandler(s.GetContract))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when another server has already been started with the
// DefaultServerMux and the same address:port combination.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := s.node.GetStats()

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(stats)
}

// Submit creates the genesis event for a task. The request body carries the
// raw input payload: POST /submit/{task_id}
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "expecting POST", http.StatusMethodNotAllowed)
		return
	}

	taskID := r.URL.Path[len("/submit/"):]
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ev, err := s.node.Submit(taskID, payload)
	if err != nil {
		s.logger.WithError(err).Errorf("Submitting task %s", taskID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(map[string]string{
		"task_id": taskID,
		"digest":  ev.Hex(),
	})
}

// GetTasks ...
func (s *Service) GetTasks(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetTaskIDs())
}

// TaskInfo is the full view of one task: its causal chain, votes, phase, and
// consensus record if finalized.
type TaskInfo struct {
	TaskID string                `json:"task_id"`
	Phase  string                `json:"phase"`
	Events []*task.Event         `json:"events"`
	Votes  []*task.Vote          `json:"votes"`
	Record *task.ConsensusRecord `json:"record,omitempty"`
}

// GetTask returns a TaskInfo: GET /task/{task_id}
func (s *Service) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Path[len("/task/"):]
	if taskID == "" {
		http.Error(w, "missing task id", http.StatusBadRequest)
		return
	}

	info := TaskInfo{
		TaskID: taskID,
		Phase:  s.node.GetTaskPhase(taskID).String(),
		Events: s.node.GetTaskEvents(taskID),
		Votes:  s.node.GetTaskVotes(taskID),
	}

	if record, err := s.node.GetRecord(taskID); err == nil {
		info.Record = record
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(info)
}

// GetContract returns the contract of a task: GET /contract/{task_id}
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Path[len("/contract/"):]

	contract, ok := s.node.GetContract(taskID)
	if !ok {
		http.Error(w, "no contract for task "+taskID, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(contract)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.node.GetPeers())
}
