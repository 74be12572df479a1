package distributed

import (
	"errors"

	"github.com/fleetd/fleetd/internal/kvstore"
)

var (
	ErrTransport  = errors.New("distributed transport failed")
	ErrParse      = errors.New("malformed distributed payload")
	ErrStateStore = errors.New("distributed state store failed")
)

const (
	StatusOK             = 0
	StatusExecutionError = 1
	StatusInterrupted    = 9
)

// The durable record of the most recent pull.
const (
	WorkNamespace = kvstore.NamespacePersistentSettings
	WorkKey       = "distributed_work"
)

type State int

const (
	StatePending State = iota
	StateCompleted
)

func (s State) String() string {
	if s == StatePending {
		return "pending"
	}
	return "completed"
}

type QueryRequest struct {
	ID    string
	Query string
}

type DiscoveryQuery struct {
	ID    string
	Query string
}

// Row maps column name to the value rendered as a string.
type Row map[string]string

type QueryResult struct {
	Request QueryRequest
	Columns []string
	Rows    []Row
	Status  int
	Message string
	State   State
}

type Stats struct {
	Reads          int `json:"reads"`
	Writes         int `json:"writes"`
	RecoveredReads int `json:"recovered_reads"`
	DiscoverySkips int `json:"discovery_skips"`
}

type Snapshot struct {
	Pending          int    `json:"pending"`
	Completed        int    `json:"completed"`
	CurrentRequestID string `json:"current_request_id"`
	Stats            Stats  `json:"stats"`
}

func pendingResult(request QueryRequest) QueryResult {
	return QueryResult{Request: request, Rows: []Row{}, State: StatePending}
}

func completedResult(request QueryRequest, status int) QueryResult {
	return QueryResult{Request: request, Rows: []Row{}, Status: status, State: StateCompleted}
}
