package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/de-ibh/b3lb/pkg/models"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Repository groups every query the request pipeline, poller, aggregator
// and recording pipeline need against the relational store. It is a thin
// wrapper over *sql.DB — no query builder, no generated code.
type Repository struct {
	db *sql.DB
}

func NewRepository(c *Client) *Repository { return &Repository{db: c.db} }

// DB exposes the underlying pool for health checks that don't fit the
// Repository's domain-shaped query methods.
func (r *Repository) DB() *sql.DB { return r.db }

// --- Clusters / ClusterGroups -------------------------------------------------

func (r *Repository) GetCluster(ctx context.Context, id string) (models.Cluster, error) {
	var c models.Cluster
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, a_factor, m_factor, cpu_iterations, cpu_max, hash_algorithm FROM clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.AFactor, &c.MFactor, &c.CPUIterations, &c.CPUMax, &c.HashAlgorithm)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// ClustersInGroup returns every Cluster a ClusterGroup references.
func (r *Repository) ClustersInGroup(ctx context.Context, clusterGroupID string) ([]models.Cluster, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.a_factor, c.m_factor, c.cpu_iterations, c.cpu_max, c.hash_algorithm
		FROM clusters c
		JOIN cluster_group_relations r ON r.cluster_id = c.id
		WHERE r.cluster_group_id = $1`, clusterGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Cluster
	for rows.Next() {
		var c models.Cluster
		if err := rows.Scan(&c.ID, &c.Name, &c.AFactor, &c.MFactor, &c.CPUIterations, &c.CPUMax, &c.HashAlgorithm); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCluster provisions a Cluster row, returning its generated id.
func (r *Repository) CreateCluster(ctx context.Context, c models.Cluster) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO clusters (name, a_factor, m_factor, cpu_iterations, cpu_max, hash_algorithm)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		c.Name, c.AFactor, c.MFactor, c.CPUIterations, c.CPUMax, c.HashAlgorithm,
	).Scan(&id)
	return id, err
}

// CreateClusterGroup provisions a ClusterGroup row, returning its generated id.
func (r *Repository) CreateClusterGroup(ctx context.Context, name string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `INSERT INTO cluster_groups (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	return id, err
}

// AddClusterToGroup opts a Cluster into a ClusterGroup's routing scope.
func (r *Repository) AddClusterToGroup(ctx context.Context, clusterGroupID, clusterID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cluster_group_relations (cluster_group_id, cluster_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, clusterGroupID, clusterID)
	return err
}

// --- Nodes ---------------------------------------------------------------

// CreateNode provisions a Node row, returning its generated id.
func (r *Repository) CreateNode(ctx context.Context, n models.Node) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO nodes (cluster_id, slug, domain, secret, maintenance)
		VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		n.ClusterID, n.Slug, n.Domain, n.Secret, n.Maintenance,
	).Scan(&id)
	return id, err
}

// SetNodeMaintenance toggles a Node's maintenance flag, taking it in or out
// of selection eligibility without deleting it.
func (r *Repository) SetNodeMaintenance(ctx context.Context, nodeID string, maintenance bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE nodes SET maintenance = $2 WHERE id = $1`, nodeID, maintenance)
	return err
}

func (r *Repository) NodesInGroup(ctx context.Context, clusterGroupID string) ([]models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT n.id, n.cluster_id, n.slug, n.domain, n.secret, n.attendees, n.meetings, n.cpu_load, n.has_errors, n.maintenance
		FROM nodes n
		JOIN cluster_group_relations r ON r.cluster_id = n.cluster_id
		WHERE r.cluster_group_id = $1`, clusterGroupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (r *Repository) AllNodes(ctx context.Context) ([]models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, cluster_id, slug, domain, secret, attendees, meetings, cpu_load, has_errors, maintenance FROM nodes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]models.Node, error) {
	var out []models.Node
	for rows.Next() {
		var n models.Node
		if err := rows.Scan(&n.ID, &n.ClusterID, &n.Slug, &n.Domain, &n.Secret, &n.Attendees, &n.Meetings, &n.CPULoad, &n.HasErrors, &n.Maintenance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) GetNode(ctx context.Context, id string) (models.Node, error) {
	var n models.Node
	err := r.db.QueryRowContext(ctx,
		`SELECT id, cluster_id, slug, domain, secret, attendees, meetings, cpu_load, has_errors, maintenance FROM nodes WHERE id = $1`, id,
	).Scan(&n.ID, &n.ClusterID, &n.Slug, &n.Domain, &n.Secret, &n.Attendees, &n.Meetings, &n.CPULoad, &n.HasErrors, &n.Maintenance)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	return n, err
}

// UpdateNodeCensus persists the poller's census update under a row
// lock, acquired implicitly by the UPDATE statement itself.
func (r *Repository) UpdateNodeCensus(ctx context.Context, tx *sql.Tx, nodeID string, hasErrors bool, attendees, meetings int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE nodes SET has_errors = $2, attendees = $3, meetings = $4 WHERE id = $1`,
		nodeID, hasErrors, attendees, meetings)
	return err
}

func (r *Repository) UpdateNodeCPULoad(ctx context.Context, nodeID string, cpuLoad int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE nodes SET cpu_load = $2 WHERE id = $1`, nodeID, cpuLoad)
	return err
}

// --- Tenants / Secrets -----------------------------------------------------

func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, description, cluster_group_id, attendee_limit, meeting_limit, recording_enabled, records_hold_days, stats_token
		FROM tenants WHERE slug = $1`, slug,
	).Scan(&t.ID, &t.Slug, &t.Description, &t.ClusterGroupID, &t.AttendeeLimit, &t.MeetingLimit, &t.RecordingEnabled, &t.RecordsHoldDays, &t.StatsToken)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r *Repository) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, description, cluster_group_id, attendee_limit, meeting_limit, recording_enabled, records_hold_days, stats_token
		FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Slug, &t.Description, &t.ClusterGroupID, &t.AttendeeLimit, &t.MeetingLimit, &t.RecordingEnabled, &t.RecordsHoldDays, &t.StatsToken)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	return t, err
}

func (r *Repository) AllTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, slug, description, cluster_group_id, attendee_limit, meeting_limit, recording_enabled, records_hold_days, stats_token FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Description, &t.ClusterGroupID, &t.AttendeeLimit, &t.MeetingLimit, &t.RecordingEnabled, &t.RecordsHoldDays, &t.StatsToken); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateTenant provisions a Tenant row, returning its generated id.
func (r *Repository) CreateTenant(ctx context.Context, t models.Tenant) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tenants (slug, description, cluster_group_id, attendee_limit, meeting_limit, recording_enabled, records_hold_days, stats_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		t.Slug, t.Description, t.ClusterGroupID, t.AttendeeLimit, t.MeetingLimit, t.RecordingEnabled, t.RecordsHoldDays, t.StatsToken,
	).Scan(&id)
	return id, err
}

// CreateSecret provisions a Secret row, returning its generated id.
func (r *Repository) CreateSecret(ctx context.Context, s models.Secret) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO secrets (tenant_id, sub_id, secret, secret2, attendee_limit, meeting_limit, recording_enabled, records_hold_days)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		s.TenantID, s.SubID, s.Secret, s.Secret2, s.AttendeeLimit, s.MeetingLimit, s.RecordingEnabled, s.RecordsHoldDays,
	).Scan(&id)
	return id, err
}

func (r *Repository) GetSecretByTenantSubID(ctx context.Context, tenantID string, subID int) (models.Secret, error) {
	var s models.Secret
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sub_id, secret, secret2, attendee_limit, meeting_limit, recording_enabled, records_hold_days
		FROM secrets WHERE tenant_id = $1 AND sub_id = $2`, tenantID, subID,
	).Scan(&s.ID, &s.TenantID, &s.SubID, &s.Secret, &s.Secret2, &s.AttendeeLimit, &s.MeetingLimit, &s.RecordingEnabled, &s.RecordsHoldDays)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

func (r *Repository) GetSecret(ctx context.Context, id string) (models.Secret, error) {
	var s models.Secret
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, sub_id, secret, secret2, attendee_limit, meeting_limit, recording_enabled, records_hold_days
		FROM secrets WHERE id = $1`, id,
	).Scan(&s.ID, &s.TenantID, &s.SubID, &s.Secret, &s.Secret2, &s.AttendeeLimit, &s.MeetingLimit, &s.RecordingEnabled, &s.RecordsHoldDays)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// SecretsOfTenant returns every sub-secret of a tenant, including sub_id=0.
func (r *Repository) SecretsOfTenant(ctx context.Context, tenantID string) ([]models.Secret, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, sub_id, secret, secret2, attendee_limit, meeting_limit, recording_enabled, records_hold_days
		FROM secrets WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Secret
	for rows.Next() {
		var s models.Secret
		if err := rows.Scan(&s.ID, &s.TenantID, &s.SubID, &s.Secret, &s.Secret2, &s.AttendeeLimit, &s.MeetingLimit, &s.RecordingEnabled, &s.RecordsHoldDays); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- Meetings --------------------------------------------------------------

func (r *Repository) GetMeeting(ctx context.Context, internalID, secretID string) (models.Meeting, error) {
	var m models.Meeting
	err := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, secret_id, node_id, room_name, created_at, attendees, listeners, voices, moderators, videos, bbb_origin, bbb_origin_server_name, end_callback_url, nonce
		FROM meetings WHERE id = $1 AND secret_id = $2`, internalID, secretID,
	).Scan(&m.ID, &m.ExternalID, &m.SecretID, &m.NodeID, &m.RoomName, &m.CreatedAt, &m.Attendees, &m.Listeners, &m.Voices, &m.Moderators, &m.Videos, &m.BBBOrigin, &m.BBBOriginServerName, &m.EndCallbackURL, &m.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (r *Repository) GetMeetingByNonce(ctx context.Context, nonce string) (models.Meeting, error) {
	var m models.Meeting
	err := r.db.QueryRowContext(ctx, `
		SELECT id, external_id, secret_id, node_id, room_name, created_at, attendees, listeners, voices, moderators, videos, bbb_origin, bbb_origin_server_name, end_callback_url, nonce
		FROM meetings WHERE nonce = $1`, nonce,
	).Scan(&m.ID, &m.ExternalID, &m.SecretID, &m.NodeID, &m.RoomName, &m.CreatedAt, &m.Attendees, &m.Listeners, &m.Voices, &m.Moderators, &m.Videos, &m.BBBOrigin, &m.BBBOriginServerName, &m.EndCallbackURL, &m.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (r *Repository) InsertMeeting(ctx context.Context, m models.Meeting) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO meetings (id, external_id, secret_id, node_id, room_name, created_at, end_callback_url, nonce)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.ExternalID, m.SecretID, m.NodeID, m.RoomName, m.CreatedAt, m.EndCallbackURL, m.Nonce)
	return err
}

func (r *Repository) DeleteMeeting(ctx context.Context, internalID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM meetings WHERE id = $1`, internalID)
	return err
}

// MeetingsOnNode returns every Meeting currently routed to a Node, for the
// poller's per-meeting reconciliation.
func (r *Repository) MeetingsOnNode(ctx context.Context, nodeID string) ([]models.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, external_id, secret_id, node_id, room_name, created_at, attendees, listeners, voices, moderators, videos, bbb_origin, bbb_origin_server_name, end_callback_url, nonce
		FROM meetings WHERE node_id = $1`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.Scan(&m.ID, &m.ExternalID, &m.SecretID, &m.NodeID, &m.RoomName, &m.CreatedAt, &m.Attendees, &m.Listeners, &m.Voices, &m.Moderators, &m.Videos, &m.BBBOrigin, &m.BBBOriginServerName, &m.EndCallbackURL, &m.Nonce); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StatsForTenant builds the JSON usage snapshot live, grouping every
// currently-live Meeting under the tenant's secrets by (bbb_origin,
// bbb_origin_server_name).
func (r *Repository) StatsForTenant(ctx context.Context, tenantID string) ([]models.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT $1, m.bbb_origin, m.bbb_origin_server_name,
		       COALESCE(SUM(m.attendees),0), COALESCE(SUM(m.listeners),0),
		       COALESCE(SUM(m.voices),0), COALESCE(SUM(m.videos),0), COUNT(*)
		FROM meetings m
		JOIN secrets sec ON sec.id = m.secret_id
		WHERE sec.tenant_id = $1
		GROUP BY m.bbb_origin, m.bbb_origin_server_name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Stats
	for rows.Next() {
		var st models.Stats
		if err := rows.Scan(&st.TenantID, &st.BBBOrigin, &st.BBBOriginServerName, &st.Attendees, &st.Listeners, &st.Voices, &st.Videos, &st.Meetings); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateMeetingCensus(ctx context.Context, internalID string, attendees, listeners, voices, moderators, videos int, bbbOrigin, bbbOriginServerName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE meetings SET attendees=$2, listeners=$3, voices=$4, moderators=$5, videos=$6, bbb_origin=$7, bbb_origin_server_name=$8
		WHERE id = $1`, internalID, attendees, listeners, voices, moderators, videos, bbbOrigin, bbbOriginServerName)
	return err
}

// CountMeetingsBySecret and sums are used by the node selector's limit gate.
func (r *Repository) CountMeetingsBySecret(ctx context.Context, secretID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings WHERE secret_id = $1`, secretID).Scan(&n)
	return n, err
}

func (r *Repository) CountMeetingsByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM meetings m JOIN secrets s ON s.id = m.secret_id WHERE s.tenant_id = $1`, tenantID).Scan(&n)
	return n, err
}

func (r *Repository) SumAttendeesBySecret(ctx context.Context, secretID string) (int, error) {
	var n sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(attendees),0) FROM meetings WHERE secret_id = $1`, secretID).Scan(&n)
	return int(n.Int64), err
}

func (r *Repository) SumAttendeesByTenant(ctx context.Context, tenantID string) (int, error) {
	var n sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(m.attendees),0) FROM meetings m JOIN secrets s ON s.id = m.secret_id WHERE s.tenant_id = $1`, tenantID).Scan(&n)
	return int(n.Int64), err
}

// --- NodeMeetingList / SecretMeetingList caches (store side; rebuilt by pkg/poller and pkg/aggregation, no TTL) ---

func (r *Repository) UpsertNodeMeetingList(ctx context.Context, nodeID, xmlBody string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO node_meeting_lists (node_id, xml, fetched_at) VALUES ($1, $2, now())
		ON CONFLICT (node_id) DO UPDATE SET xml = EXCLUDED.xml, fetched_at = now()`, nodeID, xmlBody)
	return err
}

func (r *Repository) AllNodeMeetingLists(ctx context.Context) ([]models.NodeMeetingList, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_id, xml, fetched_at FROM node_meeting_lists`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.NodeMeetingList
	for rows.Next() {
		var n models.NodeMeetingList
		if err := rows.Scan(&n.NodeID, &n.XML, &n.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertSecretMeetingList(ctx context.Context, secretID, xmlBody string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO secret_meeting_lists (secret_id, xml, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (secret_id) DO UPDATE SET xml = EXCLUDED.xml, updated_at = now()`, secretID, xmlBody)
	return err
}

func (r *Repository) GetSecretMeetingList(ctx context.Context, secretID string) (models.SecretMeetingList, error) {
	var s models.SecretMeetingList
	err := r.db.QueryRowContext(ctx, `SELECT secret_id, xml, updated_at FROM secret_meeting_lists WHERE secret_id = $1`, secretID).
		Scan(&s.SecretID, &s.XML, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// --- RecordSets / Records ---------------------------------------------------

func (r *Repository) InsertRecordSet(ctx context.Context, rs models.RecordSet) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO record_sets (id, secret_id, meeting_external_id, nonce, status, file_path, recording_ready_origin_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rs.ID, rs.SecretID, rs.MeetingExternalID, rs.Nonce, rs.Status, rs.FilePath, rs.RecordingReadyOriginURL, rs.CreatedAt)
	return err
}

func (r *Repository) GetRecordSetByNonce(ctx context.Context, nonce string) (models.RecordSet, error) {
	return r.scanRecordSetRow(r.db.QueryRowContext(ctx, recordSetSelect+` WHERE nonce = $1`, nonce))
}

func (r *Repository) GetRecordSet(ctx context.Context, id string) (models.RecordSet, error) {
	return r.scanRecordSetRow(r.db.QueryRowContext(ctx, recordSetSelect+` WHERE id = $1`, id))
}

const recordSetSelect = `SELECT id, secret_id, meeting_external_id, nonce, status, file_path, origin_server_name, bbb_version, meeting_name, started_at, ended_at, participants, gl_listed, recording_ready_origin_url, created_at FROM record_sets`

func (r *Repository) scanRecordSetRow(row *sql.Row) (models.RecordSet, error) {
	var rs models.RecordSet
	err := row.Scan(&rs.ID, &rs.SecretID, &rs.MeetingExternalID, &rs.Nonce, &rs.Status, &rs.FilePath, &rs.OriginServerName, &rs.BBBVersion, &rs.MeetingName, &rs.StartedAt, &rs.EndedAt, &rs.Participants, &rs.GLListed, &rs.RecordingReadyOriginURL, &rs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rs, ErrNotFound
	}
	return rs, err
}

func (r *Repository) RecordSetsByStatus(ctx context.Context, status models.RecordSetStatus) ([]models.RecordSet, error) {
	rows, err := r.db.QueryContext(ctx, recordSetSelect+` WHERE status = $1`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RecordSet
	for rows.Next() {
		var rs models.RecordSet
		if err := rows.Scan(&rs.ID, &rs.SecretID, &rs.MeetingExternalID, &rs.Nonce, &rs.Status, &rs.FilePath, &rs.OriginServerName, &rs.BBBVersion, &rs.MeetingName, &rs.StartedAt, &rs.EndedAt, &rs.Participants, &rs.GLListed, &rs.RecordingReadyOriginURL, &rs.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (r *Repository) RecordSetsOlderThan(ctx context.Context, cutoffEpochMillis int64) ([]models.RecordSet, error) {
	rows, err := r.db.QueryContext(ctx, recordSetSelect+` WHERE status != 'DELETING' AND created_at < to_timestamp($1 / 1000.0)`, cutoffEpochMillis)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RecordSet
	for rows.Next() {
		var rs models.RecordSet
		if err := rows.Scan(&rs.ID, &rs.SecretID, &rs.MeetingExternalID, &rs.Nonce, &rs.Status, &rs.FilePath, &rs.OriginServerName, &rs.BBBVersion, &rs.MeetingName, &rs.StartedAt, &rs.EndedAt, &rs.Participants, &rs.GLListed, &rs.RecordingReadyOriginURL, &rs.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// UpdateRecordSetStatus enforces invariant (iii) at the repository boundary:
// it refuses to write a backward transition.
func (r *Repository) UpdateRecordSetStatus(ctx context.Context, id string, next models.RecordSetStatus) error {
	rs, err := r.GetRecordSet(ctx, id)
	if err != nil {
		return err
	}
	if !rs.Status.CanTransition(next) {
		return fmt.Errorf("illegal record set transition %s -> %s", rs.Status, next)
	}
	_, err = r.db.ExecContext(ctx, `UPDATE record_sets SET status = $2 WHERE id = $1`, id, next)
	return err
}

func (r *Repository) UpdateRecordSetMetadata(ctx context.Context, rs models.RecordSet) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE record_sets SET status=$2, file_path=$3, origin_server_name=$4, bbb_version=$5, meeting_name=$6, started_at=$7, ended_at=$8, participants=$9, gl_listed=$10
		WHERE id = $1`,
		rs.ID, rs.Status, rs.FilePath, rs.OriginServerName, rs.BBBVersion, rs.MeetingName, rs.StartedAt, rs.EndedAt, rs.Participants, rs.GLListed)
	return err
}

func (r *Repository) DeleteRecordSet(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM record_sets WHERE id = $1`, id)
	return err
}

// AllRecordSetFilePaths returns the file_path of every live RecordSet, used
// by the orphan blob sweep to tell which on-disk directories are still
// backed by a row. file_path is an independently generated directory key
// (see models.BlobPath), not derivable from the RecordSet id, so the actual
// stored column has to be read rather than recomputed.
func (r *Repository) AllRecordSetFilePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT file_path FROM record_sets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repository) InsertRecord(ctx context.Context, rec models.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (id, record_set_id, record_profile_id, file_path, published, nonce, display_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.RecordSetID, rec.RecordProfileID, rec.FilePath, rec.Published, rec.Nonce, rec.DisplayName)
	return err
}

func (r *Repository) RecordsForSecret(ctx context.Context, secretID string) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rec.id, rec.record_set_id, rec.record_profile_id, rec.file_path, rec.published, rec.nonce, rec.display_name
		FROM records rec JOIN record_sets rs ON rs.id = rec.record_set_id
		WHERE rs.secret_id = $1`, secretID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.RecordSetID, &rec.RecordProfileID, &rec.FilePath, &rec.Published, &rec.Nonce, &rec.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) GetRecordByNonce(ctx context.Context, nonce string) (models.Record, error) {
	var rec models.Record
	err := r.db.QueryRowContext(ctx, `
		SELECT id, record_set_id, record_profile_id, file_path, published, nonce, display_name FROM records WHERE nonce = $1`, nonce,
	).Scan(&rec.ID, &rec.RecordSetID, &rec.RecordProfileID, &rec.FilePath, &rec.Published, &rec.Nonce, &rec.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r *Repository) SetRecordPublished(ctx context.Context, id string, published bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE records SET published = $2 WHERE id = $1`, id, published)
	return err
}

func (r *Repository) DeleteRecordsOfRecordSet(ctx context.Context, recordSetID string) ([]models.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_set_id, record_profile_id, file_path, published, nonce, display_name FROM records WHERE record_set_id = $1`, recordSetID)
	if err != nil {
		return nil, err
	}
	var out []models.Record
	for rows.Next() {
		var rec models.Record
		if err := rows.Scan(&rec.ID, &rec.RecordSetID, &rec.RecordProfileID, &rec.FilePath, &rec.Published, &rec.Nonce, &rec.DisplayName); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}
	rows.Close()
	_, err = r.db.ExecContext(ctx, `DELETE FROM records WHERE record_set_id = $1`, recordSetID)
	return out, err
}

func (r *Repository) DefaultRecordProfiles(ctx context.Context) ([]models.RecordProfile, error) {
	return r.queryProfiles(ctx, `SELECT id, name, description, width, height, webcam_size, annotations, is_default, container, extension FROM record_profiles WHERE is_default = true`)
}

func (r *Repository) RecordProfilesForSecret(ctx context.Context, secretID string) ([]models.RecordProfile, error) {
	profiles, err := r.queryProfiles(ctx, `
		SELECT p.id, p.name, p.description, p.width, p.height, p.webcam_size, p.annotations, p.is_default, p.container, p.extension
		FROM record_profiles p JOIN secret_record_profile_relations rel ON rel.record_profile_id = p.id
		WHERE rel.secret_id = $1`, secretID)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return r.DefaultRecordProfiles(ctx)
	}
	return profiles, nil
}

func (r *Repository) queryProfiles(ctx context.Context, query string, args ...any) ([]models.RecordProfile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RecordProfile
	for rows.Next() {
		var p models.RecordProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Width, &p.Height, &p.WebcamSize, &p.Annotations, &p.IsDefault, &p.Container, &p.Extension); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Metrics -----------------------------------------------------------------

// IncrMetric applies the wrap-modulo counter update atomically.
func (r *Repository) IncrMetric(ctx context.Context, name models.MetricName, secretID, nodeID string, delta uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (name, secret_id, node_id, value) VALUES ($1,$2,$3,$4 % 9223372036854775808::numeric)
		ON CONFLICT (name, secret_id, node_id) DO UPDATE SET value = (metrics.value + EXCLUDED.value) % 9223372036854775808::numeric
	`, name, secretID, nodeID, delta)
	return err
}

// SetGauge writes an absolute gauge value, per invariant (v)'s gauge/counter split.
func (r *Repository) SetGauge(ctx context.Context, name models.MetricName, secretID, nodeID string, value int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metrics (name, secret_id, node_id, value) VALUES ($1,$2,$3,$4)
		ON CONFLICT (name, secret_id, node_id) DO UPDATE SET value = EXCLUDED.value
	`, name, secretID, nodeID, value)
	return err
}

func (r *Repository) MetricsByName(ctx context.Context, name models.MetricName) ([]models.Metric, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, secret_id, node_id, value FROM metrics WHERE name = $1`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Metric
	for rows.Next() {
		var m models.Metric
		if err := rows.Scan(&m.Name, &m.SecretID, &m.NodeID, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) AllMetrics(ctx context.Context) ([]models.Metric, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, secret_id, node_id, value FROM metrics`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Metric
	for rows.Next() {
		var m models.Metric
		if err := rows.Scan(&m.Name, &m.SecretID, &m.NodeID, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Parameters / Assets ------------------------------------------------------

func (r *Repository) ParametersForTenant(ctx context.Context, tenantID string) ([]models.Parameter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, tenant_id, parameter, mode, value FROM parameters WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Parameter
	for rows.Next() {
		var p models.Parameter
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Parameter, &p.Mode, &p.Value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetAssetForTenant(ctx context.Context, tenantID string) (models.Asset, error) {
	var a models.Asset
	err := r.db.QueryRowContext(ctx, `SELECT id, tenant_id, slide_path, logo_path, css_path FROM assets WHERE tenant_id = $1`, tenantID).
		Scan(&a.ID, &a.TenantID, &a.SlidePath, &a.LogoPath, &a.CSSPath)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// --- Transactions --------------------------------------------------------

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (r *Repository) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
