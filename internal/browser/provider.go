// Package browser acquires remote browser profiles and connects to them over
// the Chrome DevTools protocol.
package browser

import "context"

// Provider starts and stops browser profiles. Start returns a DevTools
// websocket endpoint.
type Provider interface {
	Name() string
	Start(ctx context.Context, profileID string) (string, error)
	Stop(ctx context.Context, profileID string) error
}
