package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"
)

var validate = validator.New()

// CreateImportRequest asks for a staged template image import.
type CreateImportRequest struct {
	Bucket      string `json:"bucket" validate:"required"`
	Folder      string `json:"folder,omitempty" validate:"omitempty,max=200"`
	ReplacePath string `json:"replace_path,omitempty" validate:"omitempty,max=512"`
	WebhookURL  string `json:"webhook_url,omitempty" validate:"omitempty,url"`
	UserID      string `json:"user_id,omitempty" validate:"omitempty,max=128"`
}

// ImportJob tracks one staged image through the background pipeline.
type ImportJob struct {
	ID          string
	UserID      string
	Status      string
	Bucket      Bucket
	Folder      string
	ReplacePath string
	WebhookURL  string
	ObjectKey   string
	AssetPath   string
	AssetURL    string
	MeetsBudget bool
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ImportOutcome is what a finished job records.
type ImportOutcome struct {
	Status      string
	AssetPath   string
	AssetURL    string
	MeetsBudget bool
	Error       string
}

func (r CreateImportRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid import request: %w", err)
	}
	if _, err := ParseBucket(r.Bucket); err != nil {
		return err
	}
	if strings.Contains(r.Folder, "..") || strings.Contains(r.ReplacePath, "..") {
		return fmt.Errorf("invalid import request: path traversal is not allowed")
	}
	return nil
}
