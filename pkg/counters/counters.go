// Package counters applies the fixed metric vocabulary
// to the relational store via pkg/database's atomic Incr/SetGauge calls.
package counters

import (
	"context"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
)

// Sink is the subset of *database.Repository the counters package needs,
// kept as an interface so callers (and tests) can substitute a fake.
type Sink interface {
	IncrMetric(ctx context.Context, name models.MetricName, secretID, nodeID string, delta uint64) error
	SetGauge(ctx context.Context, name models.MetricName, secretID, nodeID string, value int) error
}

var _ Sink = (*database.Repository)(nil)

// MeetingCreated bumps the meetings_total counter when a new meeting is
// created on a node.
func MeetingCreated(ctx context.Context, s Sink, secretID, nodeID string) error {
	return s.IncrMetric(ctx, models.MetricMeetingsTotal, secretID, nodeID, 1)
}

// MeetingEnded records the duration histogram-style pair:
// only meetings with lifetime < 12h count.
func MeetingEnded(ctx context.Context, s Sink, secretID, nodeID string, lifetimeSeconds int64) error {
	if lifetimeSeconds >= 12*3600 {
		return nil
	}
	if err := s.IncrMetric(ctx, models.MetricMeetingDurationSecondsCount, secretID, nodeID, 1); err != nil {
		return err
	}
	return s.IncrMetric(ctx, models.MetricMeetingDurationSecondsSum, secretID, nodeID, uint64(lifetimeSeconds))
}

// LimitHit increments the named limit-hits counter on the node-independent
// row of secretID. The hit is recorded only on the secret it is given; it
// is not also recorded on the tenant-wide sub_id 0 secret.
func LimitHit(ctx context.Context, s Sink, metric models.MetricName, secretID string) error {
	return s.IncrMetric(ctx, metric, secretID, "", 1)
}

// SetSecretNodeGauges sets gauge-kind metrics to the absolute
// value for one secret's view of one node's census.
func SetSecretNodeGauges(ctx context.Context, s Sink, secretID, nodeID string, attendees, listeners, voices, videos, meetings int) error {
	for name, v := range map[models.MetricName]int{
		models.MetricAttendees: attendees,
		models.MetricListeners: listeners,
		models.MetricVoices:    voices,
		models.MetricVideos:    videos,
		models.MetricMeetings:  meetings,
	} {
		if err := s.SetGauge(ctx, name, secretID, nodeID, v); err != nil {
			return err
		}
	}
	return nil
}

// ZeroSecretNodeGauges implements the "secrets unseen this cycle have their
// gauges set to 0 on this node" rule.
func ZeroSecretNodeGauges(ctx context.Context, s Sink, secretID, nodeID string) error {
	return SetSecretNodeGauges(ctx, s, secretID, nodeID, 0, 0, 0, 0, 0)
}
