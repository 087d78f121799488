// Package models holds the plain data structures for the load balancer's
// relational store. Every type here maps onto one table managed by
// pkg/database's embedded migrations; there is no ORM or code generation
// layer between these structs and SQL.
package models

import "time"

// Cluster is a homogeneous group of Nodes sharing load-calculation
// parameters and the hash algorithm used to sign upstream requests.
type Cluster struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AFactor       float64 `json:"a_factor"`
	MFactor       float64 `json:"m_factor"`
	CPUIterations int     `json:"cpu_iterations"`
	CPUMax        float64 `json:"cpu_max"`
	HashAlgorithm string  `json:"hash_algorithm"` // sha1, sha256, sha384, sha512
}

// Node belongs to exactly one Cluster and is one conferencing backend
// instance. Attendees/Meetings/CPULoad are live counters refreshed by the
// poller every cycle; Load is derived, never stored.
type Node struct {
	ID          string `json:"id"`
	ClusterID   string `json:"cluster_id"`
	Slug        string `json:"slug"`
	Domain      string `json:"domain"`
	Secret      string `json:"secret"`
	Attendees   int    `json:"attendees"`
	Meetings    int    `json:"meetings"`
	CPULoad     int    `json:"cpu_load"` // scaled x100 percent, i.e. 10000 == 100%
	HasErrors   bool   `json:"has_errors"`
	Maintenance bool   `json:"maintenance"`
}

// ClusterGroup is the set of Clusters a Tenant's traffic may land on.
type ClusterGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClusterGroupRelation is a (ClusterGroup, Cluster) membership row.
type ClusterGroupRelation struct {
	ID             string `json:"id"`
	ClusterGroupID string `json:"cluster_group_id"`
	ClusterID      string `json:"cluster_id"`
}

// Tenant is a logical customer: a slug, soft limits, and recording policy.
type Tenant struct {
	ID               string `json:"id"`
	Slug             string `json:"slug"` // 2-10 uppercase letters, unique
	Description      string `json:"description"`
	ClusterGroupID   string `json:"cluster_group_id"`
	AttendeeLimit    int    `json:"attendee_limit"` // 0 == unlimited
	MeetingLimit     int    `json:"meeting_limit"`  // 0 == unlimited
	RecordingEnabled bool   `json:"recording_enabled"`
	RecordsHoldDays  int    `json:"records_hold_days"` // 0 == unlimited
	StatsToken       string `json:"stats_token"`
}

// Secret is a credential scoped to a Tenant, optionally sub-indexed.
// sub_id 0 is the tenant-wide secret and aggregation root.
type Secret struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	SubID            int    `json:"sub_id"` // 0..999
	Secret           string `json:"secret"`
	Secret2          string `json:"secret2"`
	AttendeeLimit    int    `json:"attendee_limit"`
	MeetingLimit     int    `json:"meeting_limit"`
	RecordingEnabled bool   `json:"recording_enabled"`
	RecordsHoldDays  int    `json:"records_hold_days"`
}

// RecordsEffectiveHoldDays resolves retention: the minimum of tenant
// and secret hold days, or the maximum of the two if either is unlimited (0).
func RecordsEffectiveHoldDays(tenant Tenant, secret Secret) int {
	t, s := tenant.RecordsHoldDays, secret.RecordsHoldDays
	if t == 0 || s == 0 {
		if t > s {
			return t
		}
		return s
	}
	if t < s {
		return t
	}
	return s
}

// Meeting is the primary live routing record: a conference currently
// believed to be running on some Node.
type Meeting struct {
	ID                   string    `json:"id"` // internal id, derived from ExternalID, <=100 chars
	ExternalID           string    `json:"external_id"`
	SecretID             string    `json:"secret_id"`
	NodeID               string    `json:"node_id"`
	RoomName             string    `json:"room_name"` // <=256 chars
	CreatedAt            time.Time `json:"created_at"`
	Attendees            int       `json:"attendees"`
	Listeners            int       `json:"listeners"`
	Voices               int       `json:"voices"`
	Moderators           int       `json:"moderators"`
	Videos               int       `json:"videos"`
	BBBOrigin            string    `json:"bbb_origin"`
	BBBOriginServerName  string    `json:"bbb_origin_server_name"`
	EndCallbackURL       string    `json:"end_callback_url"`
	Nonce                string    `json:"nonce"` // 64 chars, unique
}

// Age reports how long the meeting has existed.
func (m Meeting) Age(now time.Time) time.Duration { return now.Sub(m.CreatedAt) }

// NodeMeetingList is the last successful XML census response for a Node.
type NodeMeetingList struct {
	NodeID    string    `json:"node_id"`
	XML       string    `json:"xml"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SecretMeetingList is the per-secret cached getMeetings XML, rebuilt each
// poll cycle from the union of NodeMeetingLists the secret owns.
type SecretMeetingList struct {
	SecretID  string    `json:"secret_id"`
	XML       string    `json:"xml"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordSetStatus enumerates the lifecycle in {UNKNOWN, UPLOADED, RENDERED, DELETING}.
// Status lives on RecordSet, not on the individual Record rows it owns.
type RecordSetStatus string

const (
	RecordSetUnknown  RecordSetStatus = "UNKNOWN"
	RecordSetUploaded RecordSetStatus = "UPLOADED"
	RecordSetRendered RecordSetStatus = "RENDERED"
	RecordSetDeleting RecordSetStatus = "DELETING"
)

// CanTransition reports whether moving from s to next is a legal, forward
// step of the lifecycle (invariant iii: no backward transitions).
func (s RecordSetStatus) CanTransition(next RecordSetStatus) bool {
	order := map[RecordSetStatus]int{
		RecordSetUnknown:  0,
		RecordSetUploaded: 1,
		RecordSetRendered: 2,
		RecordSetDeleting: 3,
	}
	cur, ok1 := order[s]
	nxt, ok2 := order[next]
	if !ok1 || !ok2 {
		return false
	}
	// Any state may advance to DELETING; otherwise only the single next step
	// (UNKNOWN -> UPLOADED, UPLOADED -> RENDERED) is allowed.
	if next == RecordSetDeleting {
		return cur < nxt
	}
	return nxt == cur+1
}

// RecordSet ties a Meeting to its raw archive and rendered outputs.
type RecordSet struct {
	ID                       string          `json:"id"`
	SecretID                 string          `json:"secret_id"`
	MeetingExternalID        string          `json:"meeting_external_id"`
	Nonce                    string          `json:"nonce"`
	Status                   RecordSetStatus `json:"status"`
	FilePath                 string          `json:"file_path"` // base32(UUID) hierarchy, see models.BlobPath
	OriginServerName         string          `json:"origin_server_name"`
	BBBVersion               string          `json:"bbb_version"`
	MeetingName              string          `json:"meeting_name"`
	StartedAt                int64           `json:"started_at"` // epoch millis
	EndedAt                  int64           `json:"ended_at"`   // epoch millis
	Participants             int             `json:"participants"`
	GLListed                 bool            `json:"gl_listed"`
	RecordingReadyOriginURL  string          `json:"recording_ready_origin_url"`
	CreatedAt                time.Time       `json:"created_at"`
}

// RecordProfile is a rendering recipe: a named container/extension pair
// that a Tenant or Secret can be bound to, selecting which renderer output
// format a RecordSet's render step produces.
type RecordProfile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	WebcamSize  int    `json:"webcam_size"`
	Annotations bool   `json:"annotations"`
	IsDefault   bool   `json:"is_default"`
	Container   string `json:"container"`
	Extension   string `json:"extension"`
}

// SecretRecordProfileRelation opts a Secret into a non-default RecordProfile.
type SecretRecordProfileRelation struct {
	ID              string `json:"id"`
	SecretID        string `json:"secret_id"`
	RecordProfileID string `json:"record_profile_id"`
}

// Record is one rendered video for a (RecordSet, RecordProfile) pair.
type Record struct {
	ID              string `json:"id"`
	RecordSetID     string `json:"record_set_id"`
	RecordProfileID string `json:"record_profile_id"`
	FilePath        string `json:"file_path"` // blob key of the rendered file
	Published       bool   `json:"published"`
	Nonce           string `json:"nonce"` // delivery nonce, /b3lb/r/<nonce>
	DisplayName     string `json:"display_name"`
}

// MetricName enumerates the fixed set of counters and gauges this system tracks.
type MetricName string

const (
	MetricAttendees                    MetricName = "attendees"
	MetricListeners                    MetricName = "listeners"
	MetricVoices                       MetricName = "voices"
	MetricVideos                       MetricName = "videos"
	MetricMeetings                     MetricName = "meetings"
	MetricAttendeesTotal               MetricName = "attendees_total"
	MetricMeetingsTotal                MetricName = "meetings_total"
	MetricMeetingDurationSecondsCount  MetricName = "meeting_duration_seconds_count"
	MetricMeetingDurationSecondsSum    MetricName = "meeting_duration_seconds_sum"
	MetricAttendeeLimitHits            MetricName = "attendee_limit_hits"
	MetricMeetingLimitHits             MetricName = "meeting_limit_hits"
)

// Gauges is the subset of MetricName that are set absolutely rather than
// accumulated; everything else in the fixed set is a monotonic counter.
var Gauges = map[MetricName]bool{
	MetricAttendees: true,
	MetricListeners: true,
	MetricVoices:    true,
	MetricVideos:    true,
	MetricMeetings:  true,
}

// CounterModulus is 2**63, the wrap point for counter-kind metrics.
const CounterModulus uint64 = 1 << 63

// Metric is a (name, secret, node) keyed gauge or counter.
type Metric struct {
	Name     MetricName `json:"name"`
	SecretID string     `json:"secret_id"` // empty == global "all" row
	NodeID   string     `json:"node_id"`   // empty == tenant/secret aggregate, not per-node
	Value    uint64     `json:"value"`
}

// Incr applies the wrap-modulo counter semantics of invariant (v).
func Incr(value uint64, delta uint64) uint64 {
	return (value + delta) % CounterModulus
}

// Stats is a per-(Tenant, bbb_origin, bbb_origin_server_name) usage snapshot.
type Stats struct {
	TenantID            string `json:"tenant_id"`
	BBBOrigin           string `json:"bbb_origin"`
	BBBOriginServerName string `json:"bbb_origin_server_name"`
	Attendees           int    `json:"attendees"`
	Listeners           int    `json:"listeners"`
	Voices              int    `json:"voices"`
	Videos              int    `json:"videos"`
	Meetings            int    `json:"meetings"`
}

// ParameterMode enumerates the parameter-policy actions.
type ParameterMode string

const (
	ParameterBlock    ParameterMode = "BLOCK"
	ParameterSet      ParameterMode = "SET"
	ParameterOverride ParameterMode = "OVERRIDE"
)

// Parameter is a (tenant, parameter name) policy rule.
type Parameter struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Parameter string        `json:"parameter"`
	Mode      ParameterMode `json:"mode"`
	Value     string        `json:"value"` // required for SET/OVERRIDE, validated against a per-parameter regex
}

// Asset is the tenant-scoped slide/logo/CSS blob reference, at most one of
// each per tenant.
type Asset struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	SlidePath string `json:"slide_path"`
	LogoPath  string `json:"logo_path"`
	CSSPath   string `json:"css_path"`
}
