// Package relaydeck provides the RelayDeck console backend.

// This package contains the module root. The actual API documentation is
// organized into subpackages:

// - internal/history: retrieval engine (pagination, windows, dedup)
// - internal/timetoken: timetoken arithmetic and civil-time conversion
// - internal/persistence: HTTP client for the upstream persistence API
// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/progress: WebSocket streaming of retrieval progress
// - internal/cache: Redis client for response caching
// - internal/metrics: Prometheus metrics
// - internal/middleware: HTTP middleware (request IDs, metrics)
// - internal/logger: structured logging with rotation
// - internal/errors: API error codes and responses

// See the individual package documentation for detailed API reference.
package relaydeck
