// Package metrics renders the balancer's Prometheus exposition text.
//
// The label set is fully dynamic — one sample per secret, rebuilt wholesale
// every aggregation cycle — which does not fit client_golang's static
// Collector registration model, so the document itself is hand-assembled
// with strings.Builder. Only metric names come from
// prometheus/client_golang/prometheus (BuildFQName); values are rendered by
// the local formatValue, and HELP text is written without escaping.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/de-ibh/b3lb/pkg/models"
)

// metricHelp documents the fixed vocabulary, used for every "# HELP" line.
var metricHelp = map[models.MetricName]string{
	models.MetricAttendees:                   "Current number of attendees.",
	models.MetricListeners:                   "Current number of listen-only attendees.",
	models.MetricVoices:                      "Current number of attendees with an open microphone.",
	models.MetricVideos:                      "Current number of attendees sharing webcam.",
	models.MetricMeetings:                    "Current number of running meetings.",
	models.MetricAttendeesTotal:              "Total attendees that have ever joined.",
	models.MetricMeetingsTotal:               "Total meetings that have ever been created.",
	models.MetricMeetingDurationSecondsCount: "Number of meetings whose duration was recorded.",
	models.MetricMeetingDurationSecondsSum:   "Sum of meeting durations in seconds.",
	models.MetricAttendeeLimitHits:           "Number of times an attendee limit was hit.",
	models.MetricMeetingLimitHits:            "Number of times a meeting limit was hit.",
}

// SecretLabel carries the identifying labels one row of aggregated metrics
// needs for its Prometheus sample.
type SecretLabel struct {
	TenantSlug string
	SubID      int
	IsGlobal   bool // true for the "all" row with secret=null
}

// AggregatedValue is one (metric name, secret) sum, already reduced across
// nodes by the caller (pkg/aggregation).
type AggregatedValue struct {
	Name   models.MetricName
	Label  SecretLabel
	Value  float64
}

// NodeLoadSample backs the per-node "bbb_node_load{slug,cluster}" line.
type NodeLoadSample struct {
	Slug    string
	Cluster string
	Load    float64
}

// LimitSample backs the per-secret/tenant attendee_limit / meeting_limit lines.
type LimitSample struct {
	Label SecretLabel
	Value int
}

// Render builds the full Prometheus text document for one scope (a single
// secret, the tenant-wide sub_id=0 row, or the global "all" row).
func Render(values []AggregatedValue, nodeLoads []NodeLoadSample, attendeeLimits, meetingLimits []LimitSample) string {
	var sb strings.Builder

	byName := map[models.MetricName][]AggregatedValue{}
	var names []models.MetricName
	for _, v := range values {
		if _, seen := byName[v.Name]; !seen {
			names = append(names, v.Name)
		}
		byName[v.Name] = append(byName[v.Name], v)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		kindText := "counter"
		if models.Gauges[name] {
			kindText = "gauge"
		}

		metricName := prometheus.BuildFQName("bbb", "", string(name))
		fmt.Fprintf(&sb, "# HELP %s %s\n", metricName, metricHelp[name])
		fmt.Fprintf(&sb, "# TYPE %s %s\n", metricName, kindText)
		for _, v := range byName[name] {
			fmt.Fprintf(&sb, "%s{%s} %s\n", metricName, labelText(v.Label), formatValue(v.Value))
		}
	}

	if len(nodeLoads) > 0 {
		sb.WriteString("# HELP bbb_node_load Current computed load of a node.\n")
		sb.WriteString("# TYPE bbb_node_load gauge\n")
		for _, n := range nodeLoads {
			fmt.Fprintf(&sb, "bbb_node_load{slug=%q,cluster=%q} %s\n", n.Slug, n.Cluster, formatValue(n.Load))
		}
	}

	if len(attendeeLimits) > 0 {
		sb.WriteString("# HELP bbb_attendee_limit Configured attendee limit.\n")
		sb.WriteString("# TYPE bbb_attendee_limit gauge\n")
		for _, l := range attendeeLimits {
			fmt.Fprintf(&sb, "bbb_attendee_limit{%s} %d\n", labelText(l.Label), l.Value)
		}
	}
	if len(meetingLimits) > 0 {
		sb.WriteString("# HELP bbb_meeting_limit Configured meeting limit.\n")
		sb.WriteString("# TYPE bbb_meeting_limit gauge\n")
		for _, l := range meetingLimits {
			fmt.Fprintf(&sb, "bbb_meeting_limit{%s} %d\n", labelText(l.Label), l.Value)
		}
	}

	return sb.String()
}

func labelText(l SecretLabel) string {
	if l.IsGlobal {
		return `secret="all"`
	}
	if l.SubID == 0 {
		return fmt.Sprintf(`tenant=%q`, l.TenantSlug)
	}
	return fmt.Sprintf(`tenant=%q,sub_id="%d"`, l.TenantSlug, l.SubID)
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
