// Package testutil provides deterministic helpers for tests and the
// scenario harness: fixed identifier generators and a sink that records
// every pushed query value.
package testutil
