// Package queue carries import jobs from the API to the worker over asynq.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeImportImage = "image:import"

type ImportImagePayload struct {
	JobID       string    `json:"job_id"`
	Bucket      string    `json:"bucket"`
	Folder      string    `json:"folder,omitempty"`
	ReplacePath string    `json:"replace_path,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	ObjectKey   string    `json:"object_key"`
	UserID      string    `json:"user_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewImportImageTask(payload ImportImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal import payload: %w", err)
	}
	return asynq.NewTask(TypeImportImage, body), nil
}

func ParseImportImagePayload(task *asynq.Task) (ImportImagePayload, error) {
	var payload ImportImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ImportImagePayload{}, fmt.Errorf("unmarshal import payload: %w", err)
	}
	if payload.JobID == "" || payload.ObjectKey == "" {
		return ImportImagePayload{}, fmt.Errorf("import payload is missing job_id or object_key")
	}
	return payload, nil
}
