// Package poller implements the per-node health and meeting census cycle:
// fetch CPU load and the node's getMeetings XML, fold the result into the
// relational store, and reconcile stale meetings.
package poller

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/de-ibh/b3lb/pkg/counters"
	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/queue"
	"github.com/de-ibh/b3lb/pkg/signing"
)

// noMeetingsXML is the canned body cached as a node's census whenever any
// upstream step in its poll cycle fails.
const noMeetingsXML = "<response><returncode>SUCCESS</returncode><meetings></meetings></response>\r\n"

// Config carries the subset of the application configuration the poller needs.
type Config struct {
	Protocol       string
	LoadEndpoint   string
	BBBEndpoint    string
	RequestTimeout time.Duration
}

// Poller runs one health/census tick for a single Node at a time; Scheduler
// fans calls to Tick out across nodes under the per-node singleton key.
type Poller struct {
	repo   *database.Repository
	client *http.Client
	cfg    Config
}

func New(repo *database.Repository, cfg Config) *Poller {
	return &Poller{
		repo:   repo,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:    cfg,
	}
}

// Source builds one queue.Task per known Node every tick, keyed "node:<id>"
// so the scheduler never runs two cycles for the same node concurrently.
func (p *Poller) Source(ctx context.Context) ([]queue.Task, error) {
	nodes, err := p.repo.AllNodes(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]queue.Task, 0, len(nodes))
	for _, n := range nodes {
		n := n
		tasks = append(tasks, queue.Task{
			Key: "node:" + n.ID,
			Run: func(ctx context.Context) error { return p.Tick(ctx, n) },
		})
	}
	return tasks, nil
}

// Tick runs one load-and-census cycle for one Node: refresh its CPU load,
// fetch its meeting census, persist both, then reconcile local state.
func (p *Poller) Tick(ctx context.Context, node models.Node) error {
	cluster, err := p.repo.GetCluster(ctx, node.ClusterID)
	if err != nil {
		return fmt.Errorf("poller: load cluster %s: %w", node.ClusterID, err)
	}

	load, loadErr := p.fetchLoad(ctx, node)
	if loadErr == nil {
		_ = p.repo.UpdateNodeCPULoad(ctx, node.ID, load)
	}

	census, xmlBody, censusErr := p.fetchCensus(ctx, node, cluster)
	if loadErr != nil || censusErr != nil {
		_ = p.repo.UpsertNodeMeetingList(ctx, node.ID, noMeetingsXML)
		return p.repo.WithTx(ctx, func(tx *sql.Tx) error {
			return p.repo.UpdateNodeCensus(ctx, tx, node.ID, true, node.Attendees, node.Meetings)
		})
	}

	if err := p.repo.UpsertNodeMeetingList(ctx, node.ID, xmlBody); err != nil {
		return err
	}

	attendees, meetings := 0, 0
	for _, m := range census {
		if m.IsBreakout {
			continue
		}
		meetings++
		attendees += m.ParticipantCount
	}

	if err := p.repo.WithTx(ctx, func(tx *sql.Tx) error {
		return p.repo.UpdateNodeCensus(ctx, tx, node.ID, false, attendees, meetings)
	}); err != nil {
		return err
	}

	return p.reconcile(ctx, node, census)
}

// reconcile folds the census into existing
// Meeting rows (dropping ones the node no longer reports, once aged out)
// and roll per-secret gauges/counters for every secret seen on this node.
func (p *Poller) reconcile(ctx context.Context, node models.Node, census map[string]meetingCensus) error {
	existing, err := p.repo.MeetingsOnNode(ctx, node.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	bySecretSeen := map[string]secretTotals{}

	for _, m := range existing {
		c, ok := census[m.ExternalID]
		if !ok {
			if m.Age(now) <= 5*time.Second {
				continue // too young to consider orphaned yet
			}
			if err := p.repo.DeleteMeeting(ctx, m.ID); err != nil {
				return err
			}
			lifetime := now.Sub(m.CreatedAt)
			if lifetime < 12*time.Hour {
				if err := counters.MeetingEnded(ctx, p.repo, m.SecretID, node.ID, int64(lifetime.Seconds())); err != nil {
					return err
				}
			}
			continue
		}

		if err := p.repo.UpdateMeetingCensus(ctx, m.ID, c.ParticipantCount, c.ListenerCount, c.VoiceParticipantCount, c.ModeratorCount, c.VideoCount, c.BBBOrigin, c.BBBOriginServerName); err != nil {
			return err
		}

		t := bySecretSeen[m.SecretID]
		t.attendees += c.ParticipantCount
		t.listeners += c.ListenerCount
		t.voices += c.VoiceParticipantCount
		t.videos += c.VideoCount
		if !c.IsBreakout {
			t.meetings++
		}
		bySecretSeen[m.SecretID] = t
	}

	seenSecrets := map[string]bool{}
	for secretID, t := range bySecretSeen {
		seenSecrets[secretID] = true
		if err := counters.SetSecretNodeGauges(ctx, p.repo, secretID, node.ID, t.attendees, t.listeners, t.voices, t.videos, t.meetings); err != nil {
			return err
		}
	}

	prevSecrets := map[string]bool{}
	for _, m := range existing {
		prevSecrets[m.SecretID] = true
	}
	for secretID := range prevSecrets {
		if seenSecrets[secretID] {
			continue
		}
		if err := counters.ZeroSecretNodeGauges(ctx, p.repo, secretID, node.ID); err != nil {
			return err
		}
	}

	return nil
}

type secretTotals struct {
	attendees, listeners, voices, videos, meetings int
}

type meetingCensus struct {
	ParticipantCount      int
	ListenerCount         int
	VoiceParticipantCount int
	VideoCount            int
	ModeratorCount        int
	IsBreakout            bool
	BBBOrigin             string
	BBBOriginServerName   string
}

// fetchLoad issues GET <node>/b3lb/load; the first line is the
// integer CPU load (scaled x100 percent).
func (p *Poller) fetchLoad(ctx context.Context, node models.Node) (int, error) {
	endpoint := fmt.Sprintf("%s://%s%s", p.cfg.Protocol, node.Domain, p.cfg.LoadEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("poller: load endpoint returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() {
		return 0, fmt.Errorf("poller: empty load response")
	}
	return strconv.Atoi(scanner.Text())
}

// fetchCensus issues a signed getMeetings call and parses the result into
// an in-memory census keyed by meeting id.
func (p *Poller) fetchCensus(ctx context.Context, node models.Node, cluster models.Cluster) (map[string]meetingCensus, string, error) {
	algo := signing.Algorithm(cluster.HashAlgorithm)
	params := url.Values{}
	encoded := signing.EncodeParamsExcludingChecksum(params)
	checksum, err := signing.Sign(algo, "getMeetings", encoded, node.Secret)
	if err != nil {
		return nil, "", err
	}
	params.Set("checksum", checksum)

	endpoint := fmt.Sprintf("%s://%s%s/getMeetings?%s", p.cfg.Protocol, node.Domain, p.cfg.BBBEndpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("poller: getMeetings returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	var doc getMeetingsResponse
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		return nil, "", err
	}

	census := make(map[string]meetingCensus, len(doc.Meetings.Meeting))
	for _, m := range doc.Meetings.Meeting {
		census[m.MeetingID] = meetingCensus{
			ParticipantCount:      m.ParticipantCount,
			ListenerCount:         m.ListenerCount,
			VoiceParticipantCount: m.VoiceParticipantCount,
			VideoCount:            m.VideoCount,
			ModeratorCount:        m.ModeratorCount,
			IsBreakout:            m.IsBreakout,
			BBBOrigin:             m.BBBOrigin,
			BBBOriginServerName:   m.BBBOriginServerName,
		}
	}
	return census, string(body), nil
}

type getMeetingsResponse struct {
	XMLName    xml.Name `xml:"response"`
	ReturnCode string   `xml:"returncode"`
	Meetings   struct {
		Meeting []xmlMeeting `xml:"meeting"`
	} `xml:"meetings"`
}

type xmlMeeting struct {
	MeetingID             string `xml:"meetingID"`
	ParticipantCount      int    `xml:"participantCount"`
	ListenerCount         int    `xml:"listenerCount"`
	VoiceParticipantCount int    `xml:"voiceParticipantCount"`
	VideoCount            int    `xml:"videoCount"`
	ModeratorCount        int    `xml:"moderatorCount"`
	IsBreakout            bool   `xml:"isBreakout"`
	BBBOrigin             string `xml:"bbb-origin"`
	BBBOriginServerName   string `xml:"bbb-origin-server-name"`
}
