package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeMaterialize is the task type for expanding recurring
	// templates into dated session instances.
	TaskTypeMaterialize = "billing:materialize"
)

// MaterializePayload describes one materialization run.
type MaterializePayload struct {
	// AsOf is the target date in YYYY-MM-DD form; empty means today.
	AsOf string `json:"as_of,omitempty"`
	// AccountID scopes the run to one account; nil means all accounts.
	AccountID *int64 `json:"account_id,omitempty"`
}

// Date resolves the payload date, defaulting to now.
func (p MaterializePayload) Date(now func() time.Time) (time.Time, error) {
	if p.AsOf == "" {
		return now(), nil
	}
	return time.Parse("2006-01-02", p.AsOf)
}

// NewMaterializeTask constructs an Asynq task.
func NewMaterializeTask(payload MaterializePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeMaterialize, data), nil
}
