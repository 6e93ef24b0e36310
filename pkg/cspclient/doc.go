// Package cspclient is the HTTP client for the upstream CSP sandbox
// inventory API: listing active sandboxes for sync, and destroying one by
// external_id during cleanup.
//
// Every call carries the configured bearer token and the configured
// connect/read timeouts. Setting CSP_API_TOKEN to the sentinel value
// "mock" switches the client into mock mode, which serves a local YAML
// fixture instead of making network calls, for local development and for
// exercising the worker loops without a live CSP account.
package cspclient
