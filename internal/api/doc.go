// Package api implements the REST client for the payment service.
//
// It is used on two paths only: the polling fallback (GetDashboardSnapshot)
// and the subnet health sampler (GetSubnetHealth). Retries use exponential
// backoff with jitter; 5xx and 429 responses are retryable, everything else
// fails fast.
package api
