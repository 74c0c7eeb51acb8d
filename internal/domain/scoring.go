package domain

// Summarize computes the score from an answer history.
// Unanswered (expired) records count as wrong.
func Summarize(history []AnswerRecord) ScoreSummary {
	summary := ScoreSummary{Total: len(history)}
	for _, rec := range history {
		switch {
		case rec.Correct:
			summary.Correct++
		case rec.SelectedIndex == nil:
			summary.Wrong++
			summary.Unanswered++
		default:
			summary.Wrong++
		}
	}
	summary.Percentage = Percentage(summary.Correct, summary.Total)
	return summary
}

// Percentage returns round(correct/total*100), or 0 when total is 0.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	// integer half-up rounding of correct*100/total
	return (correct*200 + total) / (2 * total)
}
