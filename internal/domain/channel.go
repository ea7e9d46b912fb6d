package domain

import "context"

// Channel is a user-facing surface over the answer pipeline (HTTP, Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
