// Package stream implements the streaming market-data client.
//
// The client:
//   - Maintains one logical streaming session per process
//   - Multiplexes per-symbol subscriptions from many consumers onto one connection
//   - Handles reconnection with exponential backoff and a bounded retry budget
//   - Normalizes snapshot/delta price updates into the price store
package stream
