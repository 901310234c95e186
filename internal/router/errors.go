package router

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

var (
	// ErrModelUnavailable marks a candidate skipped because it is not reachable
	// or its circuit is open.
	ErrModelUnavailable = eris.New("model unavailable")
	// ErrNoModelsAvailable is returned when no candidate is available at all.
	ErrNoModelsAvailable = eris.New("no models available")
)

// Attempt records one candidate tried during a completion.
type Attempt struct {
	Model   string        `json:"model"`
	Err     error         `json:"-"`
	Latency time.Duration `json:"latency"`
}

// AllModelsFailedError is returned when every candidate was tried and none
// succeeded. Last is the final error observed.
type AllModelsFailedError struct {
	Attempts []Attempt
	Last     error
}

func (e *AllModelsFailedError) Error() string {
	return fmt.Sprintf("router: all %d models failed, last error: %v", len(e.Attempts), e.Last)
}

func (e *AllModelsFailedError) Unwrap() error {
	return e.Last
}
