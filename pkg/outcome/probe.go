package outcome

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// probeEndpoints runs a liveness probe against up to maxEndpoints endpoints.
func (v *Validator) probeEndpoints(ctx context.Context, c *check, endpoints []string) {
	if len(endpoints) == 0 {
		return
	}
	if c.creating() && c.validation.PhaseHints.DeployCompleted == nil {
		c.setDeploy(true, "Application endpoint is available.")
	}
	if len(endpoints) > v.maxEndpoints {
		endpoints = endpoints[:v.maxEndpoints]
	}
	for _, endpoint := range endpoints {
		status, detail := v.probe(ctx, endpoint)
		c.add("http_get", "http", status, endpoint, detail)
	}
}

// probe GETs the endpoint until it answers. 2xx, 3xx and 4xx count as
// reachable. 502/503/504 and transient network errors are retried and end as
// pending once the attempts run out; any other failure fails the check.
func (v *Validator) probe(ctx context.Context, endpoint string) (engine.ValidationStatus, string) {
	var last string
	for attempt := 1; attempt <= v.probeAttempts; attempt++ {
		code, err := v.get(ctx, endpoint)
		switch {
		case err != nil && !looksTransient(err.Error()):
			return engine.CheckFail, err.Error()
		case err != nil:
			last = err.Error()
		case code < 400:
			return engine.CheckPass, fmt.Sprintf("HTTP %d", code)
		case code < 500:
			return engine.CheckPass, fmt.Sprintf("Reachable with HTTP %d.", code)
		case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
			last = fmt.Sprintf("HTTP %d", code)
		default:
			return engine.CheckFail, fmt.Sprintf("HTTP %d", code)
		}

		if attempt < v.probeAttempts && !sleep(ctx, v.probeInterval) {
			break
		}
	}
	return engine.CheckPending, fmt.Sprintf("Endpoint not ready after %d attempt(s): %s", v.probeAttempts, last)
}

func (v *Validator) get(ctx context.Context, endpoint string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, v.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	return resp.StatusCode, nil
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
