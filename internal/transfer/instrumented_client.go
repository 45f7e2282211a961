package transfer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/stevedev/verifetch/internal/telemetry"
)

// InstrumentedDoer wraps a Doer with telemetry. Responses with a 4xx or 5xx
// status are counted as client errors but still returned to the caller.
type InstrumentedDoer struct {
	doer       Doer
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedDoer creates a new instrumented transport.
func NewInstrumentedDoer(doer Doer, tel *telemetry.Telemetry, clientType string) *InstrumentedDoer {
	return &InstrumentedDoer{
		doer:       doer,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Do issues req with telemetry.
func (c *InstrumentedDoer) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	var err error

	_ = c.telemetry.InstrumentClientOperation(req.Context(), c.clientType, strings.ToLower(req.Method), func(ctx context.Context) error {
		resp, err = c.doer.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}

		return nil
	})

	return resp, err
}
