package deadline

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UnknownProgram is the grouping key for practices without a program name.
const UnknownProgram = "(no program)"

// AlertSummary is the reporting reduction of an overdue classification run.
type AlertSummary struct {
	Total           int            `json:"total"`
	Critical        int            `json:"critical"`
	Low             int            `json:"low"`
	Normal          int            `json:"normal"`
	AverageDaysLate float64        `json:"average_days_late"`
	DaysLateSum     int            `json:"days_late_sum"`
	ByProgram       map[string]int `json:"by_program"`
}

// Summarize counts classifications per severity and per program and averages
// their days late. An empty input yields a zero summary.
func Summarize(items []OverdueClassification) AlertSummary {
	s := AlertSummary{ByProgram: make(map[string]int)}
	for _, it := range items {
		s.Total++
		s.DaysLateSum += it.DaysLate
		switch it.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityLow:
			s.Low++
		case SeverityNormal:
			s.Normal++
		}
		s.ByProgram[programKey(it.ProgramName)]++
	}
	s.AverageDaysLate = average(s.DaysLateSum, s.Total)
	return s
}

// Merge combines two partial summaries. The result does not depend on the
// order the partials are merged in.
func (s AlertSummary) Merge(other AlertSummary) AlertSummary {
	out := AlertSummary{
		Total:       s.Total + other.Total,
		Critical:    s.Critical + other.Critical,
		Low:         s.Low + other.Low,
		Normal:      s.Normal + other.Normal,
		DaysLateSum: s.DaysLateSum + other.DaysLateSum,
		ByProgram:   make(map[string]int, len(s.ByProgram)+len(other.ByProgram)),
	}
	for k, v := range s.ByProgram {
		out.ByProgram[k] += v
	}
	for k, v := range other.ByProgram {
		out.ByProgram[k] += v
	}
	out.AverageDaysLate = average(out.DaysLateSum, out.Total)
	return out
}

// average returns sum/n rounded to two decimals, 0 when n is 0.
func average(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return decimal.NewFromInt(int64(sum)).
		DivRound(decimal.NewFromInt(int64(n)), 2).
		InexactFloat64()
}

func programKey(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return UnknownProgram
	}
	return name
}
