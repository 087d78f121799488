package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/de-ibh/b3lb/pkg/counters"
	"github.com/de-ibh/b3lb/pkg/meetingid"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/policy"
	"github.com/de-ibh/b3lb/pkg/selector"
	"github.com/de-ibh/b3lb/pkg/signing"
	"github.com/de-ibh/b3lb/pkg/version"
)

// pathSlugPattern matches a path-scoped tenant segment: "<slug>(-<subid>)?".
var pathSlugPattern = regexp.MustCompile(`^([A-Za-z]{2,10})(-(\d{1,3}))?$`)

func splitSlugSubID(raw string) (string, int, error) {
	m := pathSlugPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", 0, fmt.Errorf("invalid tenant slug %q", raw)
	}
	subID := 0
	if m[3] != "" {
		var err error
		if subID, err = strconv.Atoi(m[3]); err != nil {
			return "", 0, err
		}
	}
	return strings.ToUpper(m[1]), subID, nil
}

// handleBBB is the unified entry point for both the unscoped (host-based)
// and path-scoped backend protocol routes, dispatching across its
// endpoint classes: handled, pass-through, and forbidden.
func (s *Server) handleBBB(c *gin.Context) {
	endpoint := c.Param("endpoint")
	ctx := c.Request.Context()

	pathSlug, pathSubID := "", 0
	if raw := c.Param("slug"); raw != "" {
		var err error
		pathSlug, pathSubID, err = splitSlugSubID(raw)
		if err != nil {
			unauthorized(c)
			return
		}
	}

	tenant, secret, err := s.resolver.Resolve(ctx, pathSlug, pathSubID, c.Request.Host)
	if err != nil {
		unauthorized(c)
		return
	}

	rawQuery := c.Request.URL.RawQuery
	checksum := c.Query("checksum")
	rawNoChecksum := signing.StripChecksumFromRawQuery(rawQuery)
	if endpoint != "" && endpoint != "version" {
		if !verifyChecksum(rawNoChecksum, endpoint, checksum, secret) {
			xmlResponse(c, http.StatusOK, cannedChecksumError)
			return
		}
	}

	params, _ := url.ParseQuery(rawQuery)
	params.Del("checksum")

	switch endpoint {
	case "", "version":
		xmlResponse(c, http.StatusOK, cannedVersion)
	case "create":
		s.handleCreate(c, tenant, secret, params)
	case "join":
		s.handleJoin(c, secret, params)
	case "isMeetingRunning":
		s.handleIsMeetingRunning(c, secret, params)
	case "getMeetings":
		s.handleGetMeetings(c, secret)
	case "getRecordings":
		s.handleGetRecordings(c, secret, params)
	case "publishRecordings":
		s.handlePublishRecordings(c, secret, params)
	case "deleteRecordings":
		s.handleDeleteRecordings(c, secret, params)
	case "updateRecordings":
		s.handleUpdateRecordings(c, secret, params)
	case "getRecordingTextTracks":
		c.Data(http.StatusOK, "application/json", []byte(cannedGetRecordingTextTracksNotFoundJSON))
	case "end", "setConfigXML", "insertDocument", "getMeetingInfo":
		s.handlePassThrough(c, secret, endpoint, params)
	default:
		c.Status(http.StatusForbidden)
	}
}

// handleCreate implements the create path. A create for a meeting id
// already bound to a node is routing-stable: it re-signs and forwards to
// that same node unchanged, creating neither a new Meeting nor a new
// RecordSet. Only a genuinely new meeting id runs the limit gate, node
// selection, parameter policy, and RecordSet creation.
func (s *Server) handleCreate(c *gin.Context, tenant models.Tenant, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	externalID := params.Get("meetingID")
	if externalID == "" {
		xmlResponse(c, http.StatusOK, cannedMissingMeetingID)
		return
	}
	internalID := meetingid.Derive(s.cfg.APIBaseDomain, secret.ID, externalID)

	if existing, err := s.repo.GetMeeting(ctx, internalID, secret.ID); err == nil {
		node, err := s.repo.GetNode(ctx, existing.NodeID)
		if err != nil || node.HasErrors {
			xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
			return
		}
		cluster, err := s.repo.GetCluster(ctx, node.ClusterID)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
			return
		}
		params.Set("meta_endCallbackUrl", endCallbackURL(s.cfg.APIBaseDomain, existing.Nonce))
		body, status, contentType, err := s.callNode(ctx, node, cluster, "create", params, http.MethodPost, nil)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
			return
		}
		c.Data(status, contentType, body)
		return
	}

	if hit, metric := s.checkLimits(ctx, tenant, secret); hit {
		_ = counters.LimitHit(ctx, s.repo, metric, secret.ID)
		xmlResponse(c, http.StatusOK, cannedCreateLimitReached)
		return
	}

	clusters, err := s.repo.ClustersInGroup(ctx, tenant.ClusterGroupID)
	if err != nil || len(clusters) == 0 {
		xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
		return
	}
	clustersByID := make(map[string]models.Cluster, len(clusters))
	for _, cl := range clusters {
		clustersByID[cl.ID] = cl
	}
	nodes, err := s.repo.NodesInGroup(ctx, tenant.ClusterGroupID)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
		return
	}

	node, err := selector.Select(nodes, clustersByID)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
		return
	}
	cluster := clustersByID[node.ClusterID]

	rules, _ := s.repo.ParametersForTenant(ctx, tenant.ID)
	policy.Apply(params, rules, policy.Create)
	policy.ApplyCreateDefaults(params)

	callerEndCallback := params.Get("meta_endCallbackUrl")
	readyURL := params.Get("meta_bbb-recording-ready-url")
	params.Del("meta_bbb-recording-ready-url")

	asset, _ := s.repo.GetAssetForTenant(ctx, tenant.ID)
	s.injectLogo(params, tenant, asset)

	method := http.MethodPost
	var body io.Reader
	if c.Request.Method == http.MethodGet {
		if presentation, ok := s.buildPresentationBody(ctx, tenant, asset); ok {
			body = strings.NewReader(presentation)
		}
	}

	internalNonce := uuid.NewString() + uuid.NewString()
	recordingEnabled := tenant.RecordingEnabled && secret.RecordingEnabled
	var recordSet models.RecordSet
	if recordingEnabled {
		recordSet, err = s.recordings.Create(ctx, secret.ID, externalID, internalNonce, readyURL)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
			return
		}
		params.Set(fmt.Sprintf("meta_%s-recordset", strings.ToLower(tenant.Slug)), recordSet.Nonce)
	} else {
		policy.ForceRecordingDisabled(params)
	}
	params.Set("meta_endCallbackUrl", endCallbackURL(s.cfg.APIBaseDomain, internalNonce))

	respBody, status, contentType, err := s.callNode(ctx, node, cluster, "create", params, method, body)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedCreateNoNodeAvailable)
		return
	}

	meeting := models.Meeting{
		ID:             internalID,
		ExternalID:     externalID,
		SecretID:       secret.ID,
		NodeID:         node.ID,
		RoomName:       params.Get("name"),
		CreatedAt:      time.Now(),
		EndCallbackURL: callerEndCallback,
		Nonce:          internalNonce,
	}
	if err := s.repo.InsertMeeting(ctx, meeting); err == nil {
		_ = counters.MeetingCreated(ctx, s.repo, secret.ID, node.ID)
	}

	c.Data(status, contentType, respBody)
}

// endCallbackURL is the node-facing callback this balancer always injects so
// it learns when a meeting ends, regardless of any caller-supplied value.
func endCallbackURL(apiBaseDomain, nonce string) string {
	return fmt.Sprintf("https://%s/b3lb/b/meeting/end?nonce=%s", apiBaseDomain, nonce)
}

// checkLimits applies the limit gate across tenant and secret scope,
// checking attendee and meeting counts against whichever of the two
// defines the tighter (non-zero) bound.
func (s *Server) checkLimits(ctx context.Context, tenant models.Tenant, secret models.Secret) (bool, models.MetricName) {
	if secret.MeetingLimit > 0 {
		if n, err := s.repo.CountMeetingsBySecret(ctx, secret.ID); err == nil && n >= secret.MeetingLimit {
			return true, models.MetricMeetingLimitHits
		}
	}
	if tenant.MeetingLimit > 0 {
		if n, err := s.repo.CountMeetingsByTenant(ctx, tenant.ID); err == nil && n >= tenant.MeetingLimit {
			return true, models.MetricMeetingLimitHits
		}
	}
	if secret.AttendeeLimit > 0 {
		if n, err := s.repo.SumAttendeesBySecret(ctx, secret.ID); err == nil && n >= secret.AttendeeLimit {
			return true, models.MetricAttendeeLimitHits
		}
	}
	if tenant.AttendeeLimit > 0 {
		if n, err := s.repo.SumAttendeesByTenant(ctx, tenant.ID); err == nil && n >= tenant.AttendeeLimit {
			return true, models.MetricAttendeeLimitHits
		}
	}
	return false, ""
}

func (s *Server) handleJoin(c *gin.Context, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	externalID := params.Get("meetingID")
	if externalID == "" {
		xmlResponse(c, http.StatusOK, cannedMissingMeetingID)
		return
	}

	internalID := meetingid.Derive(s.cfg.APIBaseDomain, secret.ID, externalID)
	meeting, err := s.repo.GetMeeting(ctx, internalID, secret.ID)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
		return
	}
	node, err := s.repo.GetNode(ctx, meeting.NodeID)
	if err != nil || node.HasErrors {
		xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
		return
	}
	cluster, err := s.repo.GetCluster(ctx, node.ClusterID)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
		return
	}

	if tenant, err := s.repo.GetTenant(ctx, secret.TenantID); err == nil {
		rules, _ := s.repo.ParametersForTenant(ctx, tenant.ID)
		policy.Apply(params, rules, policy.Join)
		if asset, err := s.repo.GetAssetForTenant(ctx, tenant.ID); err == nil {
			s.injectCustomCSS(params, tenant, asset)
		}
	}

	body, status, contentType, err := s.callNode(ctx, node, cluster, "join", params, c.Request.Method, nil)
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
		return
	}
	c.Data(status, contentType, body)
}

func (s *Server) handleIsMeetingRunning(c *gin.Context, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	externalID := params.Get("meetingID")
	if externalID == "" {
		xmlResponse(c, http.StatusOK, cannedMissingMeetingID)
		return
	}
	internalID := meetingid.Derive(s.cfg.APIBaseDomain, secret.ID, externalID)
	if _, err := s.repo.GetMeeting(ctx, internalID, secret.ID); err != nil {
		xmlResponse(c, http.StatusOK, cannedIsMeetingRunningFalse)
		return
	}
	xmlResponse(c, http.StatusOK, "<response>\r\n<returncode>SUCCESS</returncode>\r\n<running>true</running>\r\n</response>")
}

// handleGetMeetings reads the per-secret cache built by pkg/aggregation;
// it never contacts a node.
func (s *Server) handleGetMeetings(c *gin.Context, secret models.Secret) {
	ctx := c.Request.Context()
	list, err := s.repo.GetSecretMeetingList(ctx, secret.ID)
	if err != nil || list.XML == "" {
		xmlResponse(c, http.StatusOK, cannedGetMeetingsNoMeetings)
		return
	}
	xmlResponse(c, http.StatusOK, list.XML)
}

// handlePassThrough implements the pass-through class: resolve the
// owning node from the meeting record, re-sign with that node's secret,
// and stream the response back verbatim.
func (s *Server) handlePassThrough(c *gin.Context, secret models.Secret, endpoint string, params url.Values) {
	ctx := c.Request.Context()
	externalID := params.Get("meetingID")

	var node models.Node
	var cluster models.Cluster
	if externalID != "" {
		internalID := meetingid.Derive(s.cfg.APIBaseDomain, secret.ID, externalID)
		meeting, err := s.repo.GetMeeting(ctx, internalID, secret.ID)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
			return
		}
		node, err = s.repo.GetNode(ctx, meeting.NodeID)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
			return
		}
		cluster, err = s.repo.GetCluster(ctx, node.ClusterID)
		if err != nil {
			xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
			return
		}
	} else if endpoint == "getMeetingInfo" {
		xmlResponse(c, http.StatusOK, cannedGetMeetingNotFound)
		return
	} else {
		c.Status(http.StatusForbidden)
		return
	}

	respBody, status, contentType, err := s.callNode(ctx, node, cluster, endpoint, params, c.Request.Method, nil)
	if err != nil {
		c.Status(http.StatusBadGateway)
		return
	}
	c.Data(status, contentType, respBody)
}

// callNode signs params with the node's own secret and the cluster's
// configured hash algorithm, issues the upstream call, and returns the
// response body, status and content type verbatim so callers can stream
// it straight back to the caller.
func (s *Server) callNode(ctx context.Context, node models.Node, cluster models.Cluster, endpoint string, params url.Values, method string, body io.Reader) ([]byte, int, string, error) {
	encoded := signing.EncodeParamsExcludingChecksum(params)
	algo := signing.Algorithm(cluster.HashAlgorithm)
	checksum, err := signing.Sign(algo, endpoint, encoded, node.Secret)
	if err != nil {
		return nil, 0, "", err
	}

	query := encoded
	if query != "" {
		query += "&"
	}
	query += "checksum=" + checksum

	target := fmt.Sprintf("%s://%s%s/%s?%s", s.cfg.NodeProtocol, node.Domain, s.cfg.NodeBBBEndpoint, endpoint, query)

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, "", err
	}
	req.Header.Set("User-Agent", version.Full())
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/xml; charset=utf-8"
	}
	return respBody, resp.StatusCode, contentType, nil
}
