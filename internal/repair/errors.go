package repair

import (
	"errors"
	"fmt"
	"strings"

	"github.com/labfleet/repair-engine/pkg/models"
)

var (
	// ErrInfrastructure marks a check error after which the host can no longer
	// be trusted. Wrap it to abort the whole run.
	ErrInfrastructure = errors.New(models.CauseInfrastructureError)

	// ErrInvalidStrategy is returned by NewStrategy for malformed declarations
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrCycle is returned by NewStrategy when the dependency graph has a cycle
	ErrCycle = errors.New("dependency cycle")
)

// Infrastructure wraps err so that the engine aborts the run
func Infrastructure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInfrastructure, err)
}

// Infrastructuref formats an infrastructure error
func Infrastructuref(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInfrastructure, fmt.Sprintf(format, args...))
}

// classify maps a check or repair error onto an Outcome
func classify(err error) models.Outcome {
	if err == nil {
		return models.Passed()
	}
	if errors.Is(err, ErrInfrastructure) {
		reason := strings.TrimPrefix(err.Error(), ErrInfrastructure.Error())
		reason = strings.TrimPrefix(reason, ": ")
		return models.Errored(reason)
	}
	return models.Failed(err.Error())
}
