// Package aggregation rebuilds the derived, read-optimized views the
// request pipeline serves without touching a node: per-secret getMeetings
// XML and per-secret/tenant/global Prometheus text.
package aggregation

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/metrics"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/queue"
	"github.com/de-ibh/b3lb/pkg/selector"
)

const noMeetingsXML = "<response><returncode>SUCCESS</returncode><meetings></meetings></response>\r\n"

// Aggregator rebuilds one Secret's cached views per tick.
type Aggregator struct {
	repo *database.Repository
}

func New(repo *database.Repository) *Aggregator { return &Aggregator{repo: repo} }

// Source builds one RebuildSecretAggregates task per secret, keyed so the
// scheduler runs at most one rebuild per secret concurrently.
func (a *Aggregator) Source(ctx context.Context) ([]queue.Task, error) {
	tenants, err := a.repo.AllTenants(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []queue.Task
	for _, t := range tenants {
		secrets, err := a.repo.SecretsOfTenant(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, s := range secrets {
			s := s
			tasks = append(tasks, queue.Task{
				Key: "aggregate:" + s.ID,
				Run: func(ctx context.Context) error { return a.RebuildSecret(ctx, s) },
			})
		}
	}
	return tasks, nil
}

// RebuildSecret rebuilds a single Secret's getMeetings XML cache.
// sub_id=0 is the tenant-wide aggregation root and owns every meeting
// belonging to any of the tenant's sub-secrets.
func (a *Aggregator) RebuildSecret(ctx context.Context, secret models.Secret) error {
	ownedSecretIDs := map[string]bool{secret.ID: true}
	if secret.SubID == 0 {
		siblings, err := a.repo.SecretsOfTenant(ctx, secret.TenantID)
		if err != nil {
			return err
		}
		for _, s := range siblings {
			ownedSecretIDs[s.ID] = true
		}
	}

	lists, err := a.repo.AllNodeMeetingLists(ctx)
	if err != nil {
		return err
	}

	var meetingsXML strings.Builder
	count := 0
	for _, list := range lists {
		meetings, err := a.repo.MeetingsOnNode(ctx, list.NodeID)
		if err != nil {
			return err
		}
		for _, m := range meetings {
			if !ownedSecretIDs[m.SecretID] {
				continue
			}
			count++
			fmt.Fprintf(&meetingsXML,
				"<meeting><meetingID>%s</meetingID><meetingName>%s</meetingName><createTime>%d</createTime><participantCount>%d</participantCount><listenerCount>%d</listenerCount><voiceParticipantCount>%d</voiceParticipantCount><videoCount>%d</videoCount><moderatorCount>%d</moderatorCount></meeting>",
				html.EscapeString(m.ExternalID), html.EscapeString(m.RoomName), m.CreatedAt.UnixMilli(),
				m.Attendees, m.Listeners, m.Voices, m.Videos, m.Moderators)
		}
	}

	var doc string
	if count == 0 {
		doc = noMeetingsXML
	} else {
		doc = fmt.Sprintf("<response><returncode>SUCCESS</returncode><meetings>%s</meetings></response>\r\n", meetingsXML.String())
	}
	return a.repo.UpsertSecretMeetingList(ctx, secret.ID, doc)
}

// RenderPrometheusText renders one sample per metric, summed over the
// secrets in scopeSecretIDs (over every secret when it is empty) under the
// single given label, plus one bbb_node_load sample per node. It emits no
// separate per-secret rows and no attendee/meeting limit samples.
// Called by the metrics HTTP handler at request time rather
// than cached, since its scope (one secret vs tenant vs global) varies
// per caller and rebuilding from already-aggregated counters is cheap.
func (a *Aggregator) RenderPrometheusText(ctx context.Context, scopeSecretIDs []string, label metrics.SecretLabel) (string, error) {
	allMetrics, err := a.repo.AllMetrics(ctx)
	if err != nil {
		return "", err
	}

	inScope := make(map[string]bool, len(scopeSecretIDs))
	for _, id := range scopeSecretIDs {
		inScope[id] = true
	}

	sums := map[models.MetricName]float64{}
	for _, m := range allMetrics {
		if len(inScope) > 0 && !inScope[m.SecretID] {
			continue
		}
		sums[m.Name] += float64(m.Value)
	}

	var values []metrics.AggregatedValue
	var names []models.MetricName
	for n := range sums {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		values = append(values, metrics.AggregatedValue{Name: n, Label: label, Value: sums[n]})
	}

	nodes, err := a.repo.AllNodes(ctx)
	if err != nil {
		return "", err
	}
	var nodeLoads []metrics.NodeLoadSample
	for _, n := range nodes {
		c, err := a.repo.GetCluster(ctx, n.ClusterID)
		if err != nil {
			continue
		}
		nodeLoads = append(nodeLoads, metrics.NodeLoadSample{Slug: n.Slug, Cluster: c.Name, Load: selector.Load(n, c)})
	}

	return metrics.Render(values, nodeLoads, nil, nil), nil
}
