package fencetime

// TimelineOption configures a Timeline during creation.
// Use functional options to customize Timeline behavior.
//
// Example:
//
//	// Default capacity
//	tl := fencetime.NewTimeline()
//
//	// Smaller timeline for a low-rate producer
//	tl := fencetime.NewTimeline(fencetime.WithMaxEntries(8))
type TimelineOption func(*timelineOptions)

// timelineOptions holds optional configuration for Timeline creation.
type timelineOptions struct {
	maxEntries int
}

// defaultTimelineOptions returns the default timeline options.
func defaultTimelineOptions() timelineOptions {
	return timelineOptions{
		maxEntries: DefaultMaxEntries,
	}
}

// WithMaxEntries sets the timeline capacity. Once it is reached each Push
// evicts the oldest entry. Values <= 0 select DefaultMaxEntries.
//
// Example:
//
//	tl := fencetime.NewTimeline(fencetime.WithMaxEntries(128))
func WithMaxEntries(n int) TimelineOption {
	return func(o *timelineOptions) {
		o.maxEntries = n
	}
}
