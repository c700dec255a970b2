package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique pipeline run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewCorrelationID generates a correlation ID for one bridge command
func NewCorrelationID() string {
	return uuid.New().String()
}
