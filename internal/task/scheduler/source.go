package scheduler

import "context"

// Source tells a job why it is running.
type Source string

const (
	SourceSchedule Source = "schedule"
	SourceManual   Source = "manual"
)

type sourceKey struct{}

func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

// SourceFrom returns the trigger source carried by ctx, SourceSchedule when unset.
func SourceFrom(ctx context.Context) Source {
	if src, ok := ctx.Value(sourceKey{}).(Source); ok && src != "" {
		return src
	}
	return SourceSchedule
}
