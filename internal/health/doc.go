// Package health serves the keep-alive banner, a liveness check and a JSON
// stats view over HTTP.
package health
