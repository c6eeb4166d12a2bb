// Package http is the HTTP surface of complyflow.
//
// It serves event ingestion, health and Prometheus metrics, and mounts the
// admin API when one is configured.
//
// # Usage
//
//	srv := http.NewServer(bus,
//	    http.WithAddr(":8080"),
//	    http.WithAuthenticator(keyring),
//	    http.WithAdminHandler(adminAPI.Routes()),
//	    http.WithLogger(logger),
//	)
//	err := srv.Start(ctx)
//
// # Endpoints
//
//	POST /api/v1/events            - Publish an event (202 Accepted)
//	POST /api/v1/events?sync=true  - Process an event and return the outcome (200 OK)
//	GET  /health                   - Component health (503 when unhealthy)
//	GET  /metrics                  - Prometheus metrics
//	/admin/api/...                 - Admin API (see package admin)
//
// # Request Headers
//
//	Authorization: Bearer <api-key>  - Key with the ingest or admin role
//	X-Request-ID: <id>               - Optional correlation id, echoed back
//
// # Security
//
// Requests carrying an Origin header must match the configured allowlist.
// A key scoped to tenants may only publish events for those tenants.
package http
