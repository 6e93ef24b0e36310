// Package ratelimiter throttles incoming HTTP requests per client identity
// using a token-bucket (golang.org/x/time/rate) per client, refilled continuously
// and capped at a configurable burst.
//
// Buckets are created lazily on first use and swept by a background
// goroutine once idle past a TTL, so a long-running process doesn't
// accumulate one bucket per caller forever.
package ratelimiter
