package model

// Run states, per spec.md §3.
const (
	RunStateScheduled = "scheduled"
	RunStateInQueue   = "in_queue"
	RunStateStarted   = "started"
	RunStateCompleted = "completed"
)

// Run is a single scheduled job execution on a worker.
type Run struct {
	ID            int64       `json:"id"`
	ResourceURI   string      `json:"resource_uri"`
	State         string      `json:"state"`
	EnqueueDTS    *Timestamp  `json:"enqueue_dts"`
	StartDTS      *Timestamp  `json:"start_dts"`
	ReturnDTS     *Timestamp  `json:"return_dts"`
	ReturnSuccess *bool       `json:"return_success"`
	PID           *int        `json:"pid"`
	Worker        string      `json:"worker"`
	Job           Ref[Job]    `json:"job"`
	RunLog        Ref[RunLog] `json:"run_log"`
}

// Job holds the script to execute. ScriptContent may contain CR bytes that
// must be stripped before the script is written to disk (spec.md §4.4 step 3).
type Job struct {
	ResourceURI   string `json:"resource_uri"`
	ScriptContent string `json:"script_content"`
}

// RunLog is the captured, byte-truncated stdout+stderr of a run.
type RunLog struct {
	ResourceURI string `json:"resource_uri"`
	Run         string `json:"run"`
	Content     string `json:"content"`
}

// KillRequest instructs the worker to terminate an in-flight run by PID.
type KillRequest struct {
	ID          int64      `json:"id"`
	ResourceURI string     `json:"resource_uri"`
	Run         Ref[Run]   `json:"run"`
	EnqueueDTS  *Timestamp `json:"enqueue_dts"`
	ExecuteDTS  *Timestamp `json:"execute_dts"`
}

// Worker is this process's own control-plane record, updated on every ping
// and, per SPEC_FULL.md §3, enriched with host resource gauges.
type Worker struct {
	ResourceURI     string     `json:"resource_uri"`
	PingResponseDTS *Timestamp `json:"ping_response_dts"`
	WorkerVersion   string     `json:"worker_version"`
	ConcurrentJobs  int        `json:"concurrent_jobs"`
	CPUPercent      *float64   `json:"cpu_percent,omitempty"`
	MemPercent      *float64   `json:"mem_percent,omitempty"`
	DiskPercent     *float64   `json:"disk_percent,omitempty"`
}

// Command actions carried on the broadcast topic, per spec.md §6.3.
const (
	ActionEnqueue = "enqueue"
	ActionKill    = "kill"
	ActionPing    = "ping"
)

// Command is the inbound broadcast envelope decoded from the bus.
type Command struct {
	Action        string `json:"action"`
	RunID         *int64 `json:"run_id,omitempty"`
	KillRequestID *int64 `json:"kill_request_id,omitempty"`
}

// Event kinds and names carried on the worker.event topic, per spec.md §6.3.
const (
	EventKindRun         = "run"
	EventKindKillRequest = "kill_request"

	EventEnqueued = "enqueued"
	EventStarted  = "started"
	EventReturned = "returned"
	EventExecuted = "executed"
)

// Event is the outbound lifecycle envelope published on the bus.
type Event struct {
	Kind          string `json:"kind"`
	Event         string `json:"event"`
	RunID         *int64 `json:"run_id,omitempty"`
	KillRequestID *int64 `json:"kill_request_id,omitempty"`
}

// RunEnqueued builds the {kind:run, event:enqueued} envelope.
func RunEnqueued(runID int64) Event {
	return Event{Kind: EventKindRun, Event: EventEnqueued, RunID: &runID}
}

// RunStarted builds the {kind:run, event:started} envelope.
func RunStarted(runID int64) Event {
	return Event{Kind: EventKindRun, Event: EventStarted, RunID: &runID}
}

// RunReturned builds the {kind:run, event:returned} envelope.
func RunReturned(runID int64) Event {
	return Event{Kind: EventKindRun, Event: EventReturned, RunID: &runID}
}

// KillRequestEnqueued builds the {kind:kill_request, event:enqueued} envelope.
func KillRequestEnqueued(killRequestID int64) Event {
	return Event{Kind: EventKindKillRequest, Event: EventEnqueued, KillRequestID: &killRequestID}
}

// KillRequestExecuted builds the {kind:kill_request, event:executed} envelope.
func KillRequestExecuted(killRequestID int64) Event {
	return Event{Kind: EventKindKillRequest, Event: EventExecuted, KillRequestID: &killRequestID}
}
