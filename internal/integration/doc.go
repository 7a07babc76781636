// Package integration holds end-to-end tests that run the REST API and the
// realtime gateway together over real HTTP and websocket connections.
package integration
