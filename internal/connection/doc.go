// Package connection implements the gateway connection lifecycle.
//
// The Coordinator:
//   - Serializes connect requests so at most one is in flight
//   - Keeps a single current client per service
//   - Signals readiness once, on the first successful connect
//   - Injects storage and attribution metadata into every command
//
// The BackoffConnector behind it:
//   - Retries failed connects with exponential backoff (100ms * 2^n)
//   - Gives up permanently after a fixed number of attempts (6)
//   - Redials a tenant-qualified host when the service runs for a tenant
package connection
