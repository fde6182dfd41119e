// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// PeerRequest caps a single outbound call to another service.
const PeerRequest = 5 * time.Second

// PaymentRequest caps the synchronous payment call; the simulator sleeps up to a second.
const PaymentRequest = 10 * time.Second

// Callback caps each payment callback delivery, which runs detached from the request.
const Callback = 5 * time.Second

// Handler bounds the work done for one inbound request.
const Handler = 15 * time.Second

// Store bounds a single storage round trip made by a handler.
const Store = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight work during graceful shutdown.
const Shutdown = 10 * time.Second
