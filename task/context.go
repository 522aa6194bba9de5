package task

import "context"

type contextKey struct{}

// WithTask binds t as the current task of ctx
func WithTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the current task, nil outside of a task
func FromContext(ctx context.Context) *Task {
	t, _ := ctx.Value(contextKey{}).(*Task)
	return t
}
