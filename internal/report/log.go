package report

import (
	"log/slog"
)

// LogReport logs the correlation report as structured JSON.
func LogReport(r *Report) {
	acc, _ := r.Signal.Accuracy()
	trendAcc, _ := r.Trend.Accuracy()

	slog.Info("=== CORRELATION REPORT ===",
		"resolved_windows", r.ResolvedWindows,
		"graded_windows", r.GradedWindows,
		"skipped_windows", r.SkippedWindows,
		"signal_correct", r.Signal.Correct,
		"signal_wrong", r.Signal.Wrong,
		"signal_accuracy", acc,
		"trend_correct", r.Trend.Correct,
		"trend_wrong", r.Trend.Wrong,
		"trend_accuracy", trendAcc,
		"no_trend_windows", r.NoTrend,
		"recommendation", r.Recommendation,
	)

	for strength, tally := range r.ByStrength {
		sAcc, _ := tally.Accuracy()
		slog.Info("strength bucket",
			"strength", string(strength),
			"correct", tally.Correct,
			"wrong", tally.Wrong,
			"accuracy", sAcc,
		)
	}

	if r.StrongNote != "" {
		strongAcc, _ := r.Strong.Accuracy()
		slog.Info("strong signal grade",
			"sample", r.Strong.Correct+r.Strong.Wrong,
			"accuracy", strongAcc,
			"note", r.StrongNote,
		)
	}
}
