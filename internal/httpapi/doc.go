// Package httpapi serves the watcher's control and health endpoints.
//
//	POST   /subscriptions   {"address": "...", "subscriber": 123}
//	DELETE /subscriptions   {"address": "...", "subscriber": 123}
//	GET    /status          per-connection status
//	GET    /health          component health
//	GET    /metrics         Prometheus exposition (path configurable)
package httpapi
