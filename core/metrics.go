package core

import "context"

// NopMetricsRecorder drops every sample.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// MultiMetricsRecorder fans every sample out to each recorder, e.g. a
// prometheus registry next to a test spy. Every recorder gets its own tag copy.
type MultiMetricsRecorder []MetricsRecorder

// CombineMetrics drops nil recorders and unwraps the single-recorder case.
func CombineMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	kept := make(MultiMetricsRecorder, 0, len(recorders))
	for _, recorder := range recorders {
		if recorder != nil {
			kept = append(kept, recorder)
		}
	}
	switch len(kept) {
	case 0:
		return NopMetricsRecorder{}
	case 1:
		return kept[0]
	}
	return kept
}

func (m MultiMetricsRecorder) IncCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	for _, recorder := range m {
		recorder.IncCounter(ctx, name, value, cloneTags(tags))
	}
}

func (m MultiMetricsRecorder) ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	for _, recorder := range m {
		recorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
	}
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
