package framelog

import "github.com/gogpu/fencetime"

// DefaultMaxFrames bounds the number of frames a History keeps.
const DefaultMaxFrames = 128

// HistoryOption configures a History during creation.
type HistoryOption func(*historyOptions)

type historyOptions struct {
	maxFrames       int
	timelineEntries int
}

func defaultHistoryOptions() historyOptions {
	return historyOptions{
		maxFrames:       DefaultMaxFrames,
		timelineEntries: fencetime.DefaultMaxEntries,
	}
}

// WithMaxFrames sets how many frames are kept before the oldest is dropped.
// Values <= 0 select DefaultMaxFrames.
//
// Example:
//
//	h := framelog.NewHistory(framelog.WithMaxFrames(32))
func WithMaxFrames(n int) HistoryOption {
	return func(o *historyOptions) {
		o.maxFrames = n
	}
}

// WithTimelineEntries sets the capacity of each per-event timeline.
// Values <= 0 select fencetime.DefaultMaxEntries.
func WithTimelineEntries(n int) HistoryOption {
	return func(o *historyOptions) {
		o.timelineEntries = n
	}
}
