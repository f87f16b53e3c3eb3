package worker

import (
	"context"

	"github.com/mtr002/thumbnail-queue/internal/interfaces"
)

// Notifier is told about every terminal transition the processor makes
type Notifier interface {
	Notify(ctx context.Context, job *interfaces.Job) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *interfaces.Job) error { return nil }
