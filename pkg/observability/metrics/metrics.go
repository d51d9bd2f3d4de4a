package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	timelinesComputed    atomic.Int64
	timelineEntries      atomic.Int64
	timelineCacheHits    atomic.Int64
	timelineCacheMisses  atomic.Int64
	missingAnchorResults atomic.Int64
	degradedCompliance   atomic.Int64
)

func Init() {}

func ObserveTimeline(entries int, missingAnchor bool, cacheHit bool) {
	timelinesComputed.Add(1)
	timelineEntries.Add(int64(entries))
	if missingAnchor {
		missingAnchorResults.Add(1)
	}
	if cacheHit {
		timelineCacheHits.Add(1)
	} else {
		timelineCacheMisses.Add(1)
	}
}

func ObserveDegradedCompliance(count int) {
	degradedCompliance.Add(int64(count))
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP trialdesk_timelines_computed_total Number of subject timelines computed since process start.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_timelines_computed_total counter\n")
	fmt.Fprintf(w, "trialdesk_timelines_computed_total %d\n", timelinesComputed.Load())

	fmt.Fprintf(w, "# HELP trialdesk_timeline_entries_total Number of timeline entries emitted since process start.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_timeline_entries_total counter\n")
	fmt.Fprintf(w, "trialdesk_timeline_entries_total %d\n", timelineEntries.Load())

	fmt.Fprintf(w, "# HELP trialdesk_timeline_cache_hits_total Number of timeline reads served from the cache.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_timeline_cache_hits_total counter\n")
	fmt.Fprintf(w, "trialdesk_timeline_cache_hits_total %d\n", timelineCacheHits.Load())

	fmt.Fprintf(w, "# HELP trialdesk_timeline_cache_misses_total Number of timeline reads recomputed from the store.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_timeline_cache_misses_total counter\n")
	fmt.Fprintf(w, "trialdesk_timeline_cache_misses_total %d\n", timelineCacheMisses.Load())

	fmt.Fprintf(w, "# HELP trialdesk_missing_anchor_results_total Number of timeline computations with no usable anchor date.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_missing_anchor_results_total counter\n")
	fmt.Fprintf(w, "trialdesk_missing_anchor_results_total %d\n", missingAnchorResults.Load())

	fmt.Fprintf(w, "# HELP trialdesk_degraded_compliance_total Number of compliance records computed with a degraded dosing-frequency fallback.\n")
	fmt.Fprintf(w, "# TYPE trialdesk_degraded_compliance_total counter\n")
	fmt.Fprintf(w, "trialdesk_degraded_compliance_total %d\n", degradedCompliance.Load())
}
