// Package server implements the chat relay: a WebSocket endpoint that
// forwards every frame it receives, unchanged, to every open connection,
// the sender included.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers. The Hub is the only
// shared state; it is created by the caller and passed to SetupRoutes.
package server
