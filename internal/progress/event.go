package progress

import "time"

// Event is one progress notification for a job.
type Event struct {
	JobID    string    `json:"job_id"`
	Sequence uint64    `json:"sequence"`
	Run      int       `json:"run"`
	Status   string    `json:"status"`
	Stage    string    `json:"stage,omitempty"`
	Percent  float64   `json:"percent"`
	Message  string    `json:"message,omitempty"`
	Record   *int      `json:"record,omitempty"`
	Error    string    `json:"error,omitempty"`
	Output   string    `json:"output,omitempty"`
	Final    bool      `json:"final,omitempty"`
	Time     time.Time `json:"time"`
}
