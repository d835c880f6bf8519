// Package app provides application initialization and lifecycle management
// for the licensing backend. It wires configuration, logging, observability,
// the license store and engine, the HTTP transport, and the validation queue
// reconciler, and handles graceful shutdown.
//
// # Initialization Flow
//
//  1. Load configuration from environment and files
//  2. Initialize logging and metrics
//  3. Open the embedded license database and seed the offline serial table
//  4. Wire the activation engine and service layer
//  5. Set up HTTP handlers and middleware
//  6. Schedule the validation queue reconciler
//
// # Usage
//
//	application, err := app.New(version)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// Run blocks until SIGINT or SIGTERM, then shuts the server, the cron jobs,
// the database, and the telemetry providers down in order.
package app
