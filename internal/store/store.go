// Package store keeps the history of diagnoses produced by strategy runs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labfleet/repair-engine/pkg/models"
)

// ErrNotFound is returned when no diagnosis has the requested ID
var ErrNotFound = errors.New("diagnosis not found")

// Store persists diagnoses
type Store interface {
	// Save inserts or replaces a diagnosis
	Save(ctx context.Context, diag *models.Diagnosis) error

	// Get returns the diagnosis with id
	Get(ctx context.Context, id string) (*models.Diagnosis, error)

	// List returns the diagnoses of host, newest first. limit <= 0 returns all.
	List(ctx context.Context, host string, limit int) ([]*models.Diagnosis, error)

	// Close releases the store
	Close() error
}

func encode(diag *models.Diagnosis) ([]byte, error) {
	if diag == nil {
		return nil, errors.New("nil diagnosis")
	}
	if diag.ID == "" {
		return nil, errors.New("diagnosis has no id")
	}
	payload, err := json.Marshal(diag)
	if err != nil {
		return nil, fmt.Errorf("failed to encode diagnosis %s: %w", diag.ID, err)
	}
	return payload, nil
}

func decode(payload []byte) (*models.Diagnosis, error) {
	var diag models.Diagnosis
	if err := json.Unmarshal(payload, &diag); err != nil {
		return nil, fmt.Errorf("failed to decode diagnosis: %w", err)
	}
	return &diag, nil
}
