package nethealth

import (
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that feeds request outcomes into a
// Monitor. Wrap the storage client's transport with it so the health gate
// reflects the traffic the uploader actually generates.
type Transport struct {
	base    http.RoundTripper
	monitor *Monitor
}

// NewTransport wraps base with outcome recording. A nil base uses
// http.DefaultTransport.
func NewTransport(base http.RoundTripper, monitor *Monitor) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &Transport{base: base, monitor: monitor}
}

// RoundTrip records latency for completed requests and failures for
// transport errors and server-side (5xx) responses. Client-side 4xx
// responses count as successes here: the network delivered them.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.monitor.RequestStarted()
	defer t.monitor.RequestFinished()

	start := time.Now()

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.monitor.RecordFailure()

		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		t.monitor.RecordFailure()
	} else {
		t.monitor.RecordSuccess(time.Since(start))
	}

	return resp, nil
}
