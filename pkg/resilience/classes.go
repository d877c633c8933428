// Package resilience mediates every outbound call to an external
// collaborator: per-class timeouts, retries with jittered exponential
// backoff, circuit breakers per (service, class), and per-service bulkheads.
package resilience

import (
	"net"
	"net/http"
	"time"
)

// OperationClass categorizes an external call and selects its timeouts.
type OperationClass string

// Operation classes.
const (
	ClassHealth     OperationClass = "health"
	ClassAPI        OperationClass = "api"
	ClassSearch     OperationClass = "search"
	ClassGeneration OperationClass = "generation"
	ClassDownload   OperationClass = "download"
	ClassAuth       OperationClass = "auth"
	ClassStream     OperationClass = "stream"
)

// classTimeouts holds the two-level (connect, overall) deadlines.
type classTimeouts struct {
	connect time.Duration
	overall time.Duration
}

var timeouts = map[OperationClass]classTimeouts{
	ClassHealth:     {5 * time.Second, 10 * time.Second},
	ClassAPI:        {10 * time.Second, 30 * time.Second},
	ClassSearch:     {10 * time.Second, 45 * time.Second},
	ClassGeneration: {15 * time.Second, 120 * time.Second},
	ClassDownload:   {30 * time.Second, 300 * time.Second},
	ClassAuth:       {15 * time.Second, 30 * time.Second},
	ClassStream:     {30 * time.Second, 600 * time.Second},
}

// Valid reports whether the class is known.
func (c OperationClass) Valid() bool {
	_, ok := timeouts[c]
	return ok
}

// ConnectTimeout returns the dial deadline for the class.
func (c OperationClass) ConnectTimeout() time.Duration {
	if t, ok := timeouts[c]; ok {
		return t.connect
	}
	return timeouts[ClassAPI].connect
}

// OverallTimeout returns the whole-call deadline for the class.
func (c OperationClass) OverallTimeout() time.Duration {
	if t, ok := timeouts[c]; ok {
		return t.overall
	}
	return timeouts[ClassAPI].overall
}

// HTTPClient returns an http.Client tuned for the class: dial timeout from
// the class, overall deadline left to the per-call context so cancellation
// composes with stage budgets.
func (c OperationClass) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   c.ConnectTimeout(),
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   c.ConnectTimeout(),
			ResponseHeaderTimeout: c.OverallTimeout(),
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}
