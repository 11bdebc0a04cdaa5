package progress

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// AnalyzerOptions tunes the session-splitting heuristics.
type AnalyzerOptions struct {
	// RestartGap starts a new session when this much time passes after a
	// terminal event. A short gap here means the operator deliberately
	// restarted the stage.
	RestartGap time.Duration
	// StallGap starts a new session when this much time passes after a
	// running event. A long gap after running implies the process stalled or
	// was killed rather than finishing.
	StallGap time.Duration
}

// DefaultAnalyzerOptions mirrors the config defaults.
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{RestartGap: 30 * time.Second, StallGap: 4 * time.Hour}
}

// Session is a contiguous run of events for one stage label.
type Session struct {
	First  time.Time
	Last   time.Time
	Events int
}

// Duration is the span from the session's first to its last event.
func (s Session) Duration() time.Duration {
	return s.Last.Sub(s.First)
}

// StageReport summarizes the sessions observed for one stage label.
type StageReport struct {
	Label    string
	Sessions []Session
	Skipped  int // events dropped for missing or unparsable timestamps
}

// SessionCount returns the number of sessions for the label.
func (r StageReport) SessionCount() int { return len(r.Sessions) }

// TotalDuration sums the duration of every session.
func (r StageReport) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range r.Sessions {
		total += s.Duration()
	}
	return total
}

// AnalyzeFile reads a JSONL progress log and produces per-label reports
// sorted by label.
func AnalyzeFile(path string, opts AnalyzerOptions) ([]StageReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open progress log: %w", err)
	}
	defer f.Close()
	return Analyze(f, opts)
}

// Analyze consumes a JSONL event stream. Malformed lines and events without a
// usable timestamp are skipped, never fatal.
func Analyze(r io.Reader, opts AnalyzerOptions) ([]StageReport, error) {
	if opts.RestartGap <= 0 {
		opts.RestartGap = DefaultAnalyzerOptions().RestartGap
	}
	if opts.StallGap <= 0 {
		opts.StallGap = DefaultAnalyzerOptions().StallGap
	}

	type stamped struct {
		event Event
		at    time.Time
	}
	byLabel := make(map[string][]stamped)
	skipped := make(map[string]int)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		label := event.StageLabel
		if label == "" {
			continue
		}
		at, ok := event.Time()
		if !ok {
			skipped[label]++
			continue
		}
		byLabel[label] = append(byLabel[label], stamped{event: event, at: at})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read progress log: %w", err)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	for label := range skipped {
		if _, ok := byLabel[label]; !ok {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)

	reports := make([]StageReport, 0, len(labels))
	for _, label := range labels {
		events := byLabel[label]
		sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

		report := StageReport{Label: label, Skipped: skipped[label]}
		var current *Session
		var prevStatus Status
		for _, s := range events {
			if current != nil {
				gap := s.at.Sub(current.Last)
				threshold := opts.StallGap
				if prevStatus.Terminal() {
					threshold = opts.RestartGap
				}
				if gap > threshold {
					report.Sessions = append(report.Sessions, *current)
					current = nil
				}
			}
			if current == nil {
				current = &Session{First: s.at, Last: s.at}
			} else {
				current.Last = s.at
			}
			current.Events++
			prevStatus = s.event.Status
		}
		if current != nil {
			report.Sessions = append(report.Sessions, *current)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
