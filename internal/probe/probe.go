// Package probe performs one bounded-time HTTP request per check and classifies the outcome.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hazz-dev/canary/internal/model"
)

// DefaultTimeout applies when a target carries no timeout.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is the error message recorded when the probe deadline elapses.
const ErrTimeout = "timeout"

// maxDrain caps how much of a response body is read before closing it.
const maxDrain = 64 << 10

// Target is what the executor needs to know about a check.
type Target struct {
	URL            string
	Method         string
	TimeoutMs      int
	ExpectedStatus int
}

// TargetFor builds the probe target of a check.
func TargetFor(c model.Check) Target {
	return Target{
		URL:            c.URL,
		Method:         c.Method,
		TimeoutMs:      c.TimeoutMs,
		ExpectedStatus: c.ExpectedStatus,
	}
}

// Outcome is the result of a single probe.
type Outcome struct {
	OK         bool
	StatusCode *int
	LatencyMs  int64
	Error      string
}

// Status maps the outcome onto a check status.
func (o Outcome) Status() model.Status {
	if o.OK {
		return model.StatusUp
	}
	return model.StatusDown
}

// Prober runs a single probe.
type Prober interface {
	Probe(ctx context.Context, t Target) Outcome
}

// Executor is the HTTP Prober.
type Executor struct {
	client *http.Client
}

// NewExecutor returns an Executor. A nil client gets a default one that never follows redirects,
// so the first response's status code is the one classified.
func NewExecutor(client *http.Client) *Executor {
	if client == nil {
		client = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Executor{client: client}
}

// Probe issues exactly one request bounded by the target timeout.
func (e *Executor) Probe(ctx context.Context, t Target) Outcome {
	timeout := time.Duration(t.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	method := t.Method
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var out Outcome

	req, err := http.NewRequestWithContext(ctx, method, t.URL, nil)
	if err != nil {
		out.Error = fmt.Sprintf("creating request: %v", err)
		out.LatencyMs = time.Since(start).Milliseconds()
		return out
	}

	resp, err := e.client.Do(req)
	out.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = describe(ctx, err)
		return out
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	resp.Body.Close()

	code := resp.StatusCode
	out.StatusCode = &code
	out.OK = Classify(code, t.ExpectedStatus)
	return out
}

// Classify decides whether a status code counts as success. With no expected status,
// any 2xx or 3xx response is a success.
func Classify(code, expected int) bool {
	if expected != 0 {
		return code == expected
	}
	return code >= 200 && code < 400
}

func describe(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err.Error()
	}
	return err.Error()
}
