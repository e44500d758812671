// Package metrics replays recorded history into per-issue timings and
// repository-level traceability statistics.
package metrics

import (
	"iter"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/tracelink/internal/models"
)

// KeySummary holds the first occurrence of each milestone for one issue.
// Zero times mean the milestone was never observed.
type KeySummary struct {
	Key          string    `json:"key"`
	PullRequests []string  `json:"pull_requests"`
	OpenedAt     time.Time `json:"opened_at,omitzero"`
	InReviewAt   time.Time `json:"in_review_at,omitzero"`
	MergedAt     time.Time `json:"merged_at,omitzero"`
}

// ReviewLatency is InReview minus Opened. ok is false when either is missing.
func (s KeySummary) ReviewLatency() (d time.Duration, ok bool) {
	if s.OpenedAt.IsZero() || s.InReviewAt.IsZero() {
		return 0, false
	}
	return s.InReviewAt.Sub(s.OpenedAt), true
}

// LeadTime is Merged minus Opened. ok is false when either is missing.
func (s KeySummary) LeadTime() (d time.Duration, ok bool) {
	if s.OpenedAt.IsZero() || s.MergedAt.IsZero() {
		return 0, false
	}
	return s.MergedAt.Sub(s.OpenedAt), true
}

func earliest(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}
	return cur
}

// Aggregate folds history into one summary per issue key, yielded in order
// of first appearance. Nothing is read until the result is iterated, and
// iterating twice replays events twice with identical output.
func Aggregate(events iter.Seq[models.HistoricalEvent]) iter.Seq[KeySummary] {
	return func(yield func(KeySummary) bool) {
		var order []string
		byKey := make(map[string]*KeySummary)

		for ev := range events {
			for _, key := range ev.Keys {
				s, ok := byKey[key]
				if !ok {
					s = &KeySummary{Key: key}
					byKey[key] = s
					order = append(order, key)
				}
				if ref := ev.PullRequestRef(); ref != "" && !slices.Contains(s.PullRequests, ref) {
					s.PullRequests = append(s.PullRequests, ref)
				}
				switch ev.Type {
				case models.HistoryEvent:
					switch ev.Kind {
					case models.EventOpened:
						s.OpenedAt = earliest(s.OpenedAt, ev.At)
					case models.EventMerged:
						s.MergedAt = earliest(s.MergedAt, ev.At)
					}
				case models.HistoryTransition:
					if ev.State == models.StateInReview {
						s.InReviewAt = earliest(s.InReviewAt, ev.At)
					}
				}
			}
		}

		for _, key := range order {
			if !yield(*byKey[key]) {
				return
			}
		}
	}
}

// PRState is the last known state of a pull request.
type PRState string

const (
	PROpen               PRState = "open"
	PRMerged             PRState = "merged"
	PRClosedWithoutMerge PRState = "closed"
)

// PRSummary describes one pull request as seen through its events.
type PRSummary struct {
	PullRequestID string    `json:"pull_request_id"`
	Repository    string    `json:"repository,omitempty"`
	Keys          []string  `json:"keys"`
	State         PRState   `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	MergedAt      time.Time `json:"merged_at,omitzero"`
}

// LeadTimeHours is the time from first event to merge, in hours.
func (p PRSummary) LeadTimeHours() (float64, bool) {
	if p.MergedAt.IsZero() || p.CreatedAt.IsZero() {
		return 0, false
	}
	return p.MergedAt.Sub(p.CreatedAt).Hours(), true
}

// PullRequests folds lifecycle events into per pull request summaries,
// keyed by repository and number and ordered by first appearance.
// Transition entries are ignored.
func PullRequests(events iter.Seq[models.HistoricalEvent]) []PRSummary {
	var order []string
	byRef := make(map[string]*PRSummary)

	for ev := range events {
		if ev.Type != models.HistoryEvent || ev.PullRequestID == "" {
			continue
		}
		ref := ev.PullRequestRef()
		p, ok := byRef[ref]
		if !ok {
			p = &PRSummary{PullRequestID: ev.PullRequestID, Repository: ev.Repository, State: PROpen, CreatedAt: ev.At}
			byRef[ref] = p
			order = append(order, ref)
		}
		p.CreatedAt = earliest(p.CreatedAt, ev.At)
		for _, k := range ev.Keys {
			if !slices.Contains(p.Keys, k) {
				p.Keys = append(p.Keys, k)
			}
		}
		switch ev.Kind {
		case models.EventMerged:
			p.State = PRMerged
			p.MergedAt = earliest(p.MergedAt, ev.At)
		case models.EventClosed:
			if p.State != PRMerged {
				p.State = PRClosedWithoutMerge
			}
		case models.EventOpened:
			if p.State == PRClosedWithoutMerge {
				p.State = PROpen
			}
		}
	}

	out := make([]PRSummary, 0, len(order))
	for _, ref := range order {
		out = append(out, *byRef[ref])
	}
	return out
}

// Summary is the repository-level traceability report.
type Summary struct {
	Repository          string         `json:"repository,omitempty"`
	GeneratedAt         time.Time      `json:"export_date,omitzero"`
	PeriodDays          int            `json:"period_days,omitempty"`
	TotalPRs            int            `json:"total_prs"`
	MergedPRs           int            `json:"merged_prs"`
	OpenPRs             int            `json:"open_prs"`
	ClosedWithoutMerge  int            `json:"closed_without_merge"`
	WithKey             int            `json:"with_jira_key"`
	WithoutKey          int            `json:"without_jira_key"`
	ComplianceRate      float64        `json:"jira_compliance_rate"`
	AvgTimeToMergeHours float64        `json:"avg_time_to_merge_hours"`
	AvgReviewTimeHours  float64        `json:"avg_review_time_hours"`
	PRsByProject        map[string]int `json:"prs_by_project"`
	MonthlyTrend        map[string]int `json:"monthly_trend"`
}

// Summarize computes the report over the given history. Month buckets use
// the UTC creation month (YYYY-MM).
func Summarize(events iter.Seq[models.HistoricalEvent]) Summary {
	s := Summary{
		PRsByProject: make(map[string]int),
		MonthlyTrend: make(map[string]int),
	}

	var mergeHours []float64
	for _, pr := range PullRequests(events) {
		s.TotalPRs++
		switch pr.State {
		case PROpen:
			s.OpenPRs++
		case PRMerged:
			s.MergedPRs++
		case PRClosedWithoutMerge:
			s.ClosedWithoutMerge++
		}
		if h, ok := pr.LeadTimeHours(); ok {
			mergeHours = append(mergeHours, h)
		}
		if len(pr.Keys) > 0 {
			s.WithKey++
			for _, p := range projects(pr.Keys) {
				s.PRsByProject[p]++
			}
		} else {
			s.WithoutKey++
		}
		s.MonthlyTrend[pr.CreatedAt.UTC().Format("2006-01")]++
	}

	var reviewHours []float64
	for ks := range Aggregate(events) {
		if d, ok := ks.ReviewLatency(); ok {
			reviewHours = append(reviewHours, d.Hours())
		}
	}

	s.AvgTimeToMergeHours = round2(mean(mergeHours))
	s.AvgReviewTimeHours = round2(mean(reviewHours))
	if s.TotalPRs > 0 {
		s.ComplianceRate = round2(float64(s.WithKey) / float64(s.TotalPRs) * 100)
	}
	return s
}

// Since drops history older than cutoff.
func Since(events iter.Seq[models.HistoricalEvent], cutoff time.Time) iter.Seq[models.HistoricalEvent] {
	return func(yield func(models.HistoricalEvent) bool) {
		for ev := range events {
			if ev.At.Before(cutoff) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// SortedKeys returns map keys in lexical order, for stable output.
func SortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func projects(keys []string) []string {
	var out []string
	for _, k := range keys {
		p, _, ok := strings.Cut(k, "-")
		if ok && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
