package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Task types form a closed set: adding one means a parameter model here and a
// handler in internal/worker.
const (
	TypeCompute     = "compute"
	TypeReport      = "report"
	TypeBatchNotify = "batch-notify"
	TypeUnstable    = "unstable"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ComputeParams sums a list of numbers.
type ComputeParams struct {
	Numbers    []float64 `json:"numbers" validate:"required,min=1"`
	DurationMs int       `json:"duration_ms" validate:"omitempty,gte=0"`
}

// ReportParams renders a title plus sections into a report string.
type ReportParams struct {
	Title      string   `json:"title" validate:"required,min=1"`
	Sections   []string `json:"sections"`
	DurationMs int      `json:"duration_ms" validate:"omitempty,gte=0"`
}

// BatchNotifyParams fans out a simulated notification to each address.
type BatchNotifyParams struct {
	Emails     []string `json:"emails" validate:"required,min=1,max=100,dive,email"`
	DurationMs int      `json:"duration_ms" validate:"omitempty,gte=0"`
}

// UnstableParams configures the fault-injection task. FailRatio defaults to
// 0.5 when omitted.
type UnstableParams struct {
	FailRatio  *float64 `json:"fail_ratio" validate:"omitempty,gte=0,lte=1"`
	DurationMs int      `json:"duration_ms" validate:"omitempty,gte=0"`
}

// ValidateParameters checks raw parameters against the model for taskType.
// Unknown types, unknown fields, and malformed values are all rejected here,
// before any task record exists.
func ValidateParameters(taskType string, raw json.RawMessage) error {
	var target any
	switch taskType {
	case TypeCompute:
		target = &ComputeParams{}
	case TypeReport:
		target = &ReportParams{}
	case TypeBatchNotify:
		target = &BatchNotifyParams{}
	case TypeUnstable:
		target = &UnstableParams{}
	default:
		return fmt.Errorf("unknown task type %q", taskType)
	}

	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", taskType, err)
	}
	return nil
}
