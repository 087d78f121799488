// Package recording implements the recording lifecycle: creation at
// meeting-create time, the node's end callback, raw archive upload, profile
// rendering, retention sweep, orphan blob sweep, and signed delivery of a
// rendered video.
package recording

import (
	"archive/tar"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/queue"
	"github.com/de-ibh/b3lb/pkg/storage"
)

// Renderer converts an extracted raw archive directory into one profile's
// output video under outDir/video.<profile.Extension>. The concrete
// transcoding tool is an external collaborator;
// this interface is the seam a deployment plugs its tool into.
type Renderer interface {
	Render(ctx context.Context, inDir, outDir string, profile models.RecordProfile) error
}

// Config carries the recording-pipeline settings.
type Config struct {
	ScratchDir        string
	MetaDataTag       string
	RequestTimeout    time.Duration
	OrphanGracePeriod time.Duration // min age of an orphaned blob directory before it is swept
}

type Service struct {
	repo     *database.Repository
	store    storage.Store
	renderer Renderer
	cfg      Config
	client   *http.Client
}

func New(repo *database.Repository, store storage.Store, renderer Renderer, cfg Config) *Service {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.OrphanGracePeriod == 0 {
		cfg.OrphanGracePeriod = time.Hour
	}
	return &Service{
		repo:     repo,
		store:    store,
		renderer: renderer,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Create inserts the UNKNOWN RecordSet row at meeting-create time; nonce is
// the link the node will echo back on its end callback and upload calls.
// recordingReadyOriginURL carries the caller's own meta_bbb-recording-ready-url,
// fired once the RecordSet reaches RENDERED.
func (s *Service) Create(ctx context.Context, secretID, meetingExternalID, nonce, recordingReadyOriginURL string) (models.RecordSet, error) {
	rs := models.RecordSet{
		ID:                      uuid.NewString(),
		SecretID:                secretID,
		MeetingExternalID:       meetingExternalID,
		Nonce:                   nonce,
		Status:                  models.RecordSetUnknown,
		FilePath:                models.BlobPath(uuid.NewString(), 2, 3),
		RecordingReadyOriginURL: recordingReadyOriginURL,
		CreatedAt:               time.Now(),
	}
	if err := s.repo.InsertRecordSet(ctx, rs); err != nil {
		return models.RecordSet{}, err
	}
	return rs, nil
}

// EndCallback handles `GET /b3lb/b/meeting/end`: authenticate by
// (meeting.id, meeting.nonce), drop the RecordSet if recordingmarks=false,
// forward the caller's original callback best-effort, and always delete
// the Meeting row. The caller (pkg/api) always answers 204 regardless of
// the error this returns.
func (s *Service) EndCallback(ctx context.Context, nonce, meetingID string, recordingMarks bool) error {
	meeting, err := s.repo.GetMeetingByNonce(ctx, nonce)
	if err != nil {
		return err
	}
	if meeting.ExternalID != meetingID {
		return errors.New("recording: nonce does not match meeting id")
	}

	if !recordingMarks {
		if rs, err := s.repo.GetRecordSetByNonce(ctx, nonce); err == nil {
			_ = s.store.DeletePrefix(ctx, rs.FilePath)
			_ = s.repo.DeleteRecordSet(ctx, rs.ID)
		}
	}

	if meeting.EndCallbackURL != "" {
		go s.fireEndCallback(meeting.EndCallbackURL, meetingID, recordingMarks)
	}

	return s.repo.DeleteMeeting(ctx, meeting.ID)
}

func (s *Service) fireEndCallback(callbackURL, meetingID string, recordingMarks bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	u := fmt.Sprintf("%s?meetingID=%s&recordingmarks=%t", callbackURL, meetingID, recordingMarks)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return // best-effort: fire-and-forget, errors are swallowed
	}
	_ = resp.Body.Close()
}

// recordingMetadata mirrors the XML a node's raw archive upload carries
// alongside the tar, parsing metadata into the RecordSet.
type recordingMetadata struct {
	XMLName      xml.Name `xml:"recording"`
	Meta         struct {
		BBBOriginVersion    string `xml:"bbb-origin-version"`
		BBBOriginServerName string `xml:"bbb-origin-server-name"`
		IsBreakout          bool   `xml:"isBreakout"`
		GLListed            bool   `xml:"gl-listed"`
	} `xml:"meta"`
	Playback struct {
		Start string `xml:"start_time"`
		End   string `xml:"end_time"`
	} `xml:"playback"`
	Participants int    `xml:"participants"`
	Name         string `xml:"name"`
}

// Upload handles `POST /b3lb/b/record/upload?nonce`: store the raw tar,
// parse its metadata XML into the RecordSet, and transition it to UPLOADED.
func (s *Service) Upload(ctx context.Context, nonce string, tarBody io.Reader, metaXML []byte) error {
	rs, err := s.repo.GetRecordSetByNonce(ctx, nonce)
	if err != nil {
		return err
	}

	var meta recordingMetadata
	if err := xml.Unmarshal(metaXML, &meta); err != nil {
		return fmt.Errorf("recording: invalid metadata xml: %w", err)
	}
	if meta.Meta.IsBreakout {
		return errors.New("recording: breakout recordings are rejected")
	}

	if err := s.store.Put(ctx, rs.FilePath+"/raw.tar", tarBody, -1); err != nil {
		return err
	}

	rs.Status = models.RecordSetUploaded
	rs.OriginServerName = meta.Meta.BBBOriginServerName
	rs.BBBVersion = meta.Meta.BBBOriginVersion
	rs.MeetingName = meta.Name
	rs.Participants = meta.Participants
	rs.GLListed = meta.Meta.GLListed
	rs.StartedAt = parseEpochMillis(meta.Playback.Start)
	rs.EndedAt = parseEpochMillis(meta.Playback.End)

	return s.repo.UpdateRecordSetMetadata(ctx, rs)
}

func parseEpochMillis(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// RenderSource builds one render task per UPLOADED RecordSet, keyed on its
// id so the scheduler runs at most one render per record set at a time.
func (s *Service) RenderSource(ctx context.Context) ([]queue.Task, error) {
	sets, err := s.repo.RecordSetsByStatus(ctx, models.RecordSetUploaded)
	if err != nil {
		return nil, err
	}
	tasks := make([]queue.Task, 0, len(sets))
	for _, rs := range sets {
		rs := rs
		tasks = append(tasks, queue.Task{
			Key: "render:" + rs.ID,
			Run: func(ctx context.Context) error { return s.Render(ctx, rs) },
		})
	}
	return tasks, nil
}

// Render implements the render phase: extract raw.tar into a scratch
// directory, run every applicable profile, store each output as a Record,
// start the recording-ready webhook, and finally advance the RecordSet to
// RENDERED. Because the webhook is started before the status update, a
// client that re-fetches as soon as it is notified can still see UPLOADED.
func (s *Service) Render(ctx context.Context, rs models.RecordSet) error {
	secret, err := s.repo.GetSecret(ctx, rs.SecretID)
	if err != nil {
		return err
	}
	profiles, err := s.repo.RecordProfilesForSecret(ctx, secret.ID)
	if err != nil {
		return err
	}

	scratch, err := os.MkdirTemp(s.cfg.ScratchDir, "b3lb-render-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(scratch)

	inDir := filepath.Join(scratch, "in")
	if err := os.MkdirAll(inDir, 0o755); err != nil {
		return err
	}

	raw, err := s.store.Get(ctx, rs.FilePath+"/raw.tar")
	if err != nil {
		return err
	}
	defer raw.Close()
	if err := extractTar(raw, inDir); err != nil {
		return err
	}

	for _, profile := range profiles {
		outDir := filepath.Join(scratch, "out-"+profile.ID)
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		if err := s.renderer.Render(ctx, inDir, outDir, profile); err != nil {
			return fmt.Errorf("recording: render profile %s: %w", profile.Name, err)
		}

		outPath := filepath.Join(outDir, "video."+profile.Extension)
		f, err := os.Open(outPath)
		if err != nil {
			return fmt.Errorf("recording: missing rendered output for profile %s: %w", profile.Name, err)
		}
		key := fmt.Sprintf("%s/%s.%s", rs.FilePath, profile.Name, profile.Extension)
		putErr := s.store.Put(ctx, key, f, -1)
		f.Close()
		if putErr != nil {
			return putErr
		}

		rec := models.Record{
			ID:              uuid.NewString(),
			RecordSetID:     rs.ID,
			RecordProfileID: profile.ID,
			FilePath:        key,
			Published:       true,
			Nonce:           uuid.NewString(),
			DisplayName:     profile.Name,
		}
		if err := s.repo.InsertRecord(ctx, rec); err != nil {
			return err
		}
	}

	if rs.RecordingReadyOriginURL != "" {
		go s.fireReadyWebhook(rs.RecordingReadyOriginURL)
	}

	return s.repo.UpdateRecordSetStatus(ctx, rs.ID, models.RecordSetRendered)
}

func (s *Service) fireReadyWebhook(readyURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, readyURL, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

// RetentionSource builds the single global retention-sweep task, keyed so
// only one sweep runs at a time regardless of how many ticks elapse while
// a prior sweep is still deleting blobs.
func (s *Service) RetentionSource(ctx context.Context) ([]queue.Task, error) {
	return []queue.Task{{
		Key: "retention-sweep",
		Run: s.Sweep,
	}}, nil
}

// Sweep implements the retention phase: any RecordSet older than its
// resolved hold period is marked DELETING, then its Records and blobs and
// finally its own row are removed.
func (s *Service) Sweep(ctx context.Context) error {
	tenants, err := s.repo.AllTenants(ctx)
	if err != nil {
		return err
	}
	tenantByID := make(map[string]models.Tenant, len(tenants))
	for _, t := range tenants {
		tenantByID[t.ID] = t
	}

	// Every RecordSet not already in DELETING is a sweep candidate; hold
	// days are per-secret, so the cutoff below is computed per-row.
	candidates, err := s.repo.RecordSetsOlderThan(ctx, time.Now().UnixMilli())
	if err != nil {
		return err
	}

	for _, rs := range candidates {
		secret, err := s.repo.GetSecret(ctx, rs.SecretID)
		if err != nil {
			continue
		}
		tenant, ok := tenantByID[secret.TenantID]
		if !ok {
			continue
		}
		holdDays := models.RecordsEffectiveHoldDays(tenant, secret)
		if holdDays == 0 {
			continue // unlimited retention
		}
		cutoff := time.Now().AddDate(0, 0, -holdDays)
		if rs.CreatedAt.After(cutoff) {
			continue
		}

		if err := s.repo.UpdateRecordSetStatus(ctx, rs.ID, models.RecordSetDeleting); err != nil {
			continue
		}
		if _, err := s.repo.DeleteRecordsOfRecordSet(ctx, rs.ID); err != nil {
			continue
		}
		_ = s.store.DeletePrefix(ctx, rs.FilePath)
		_ = s.repo.DeleteRecordSet(ctx, rs.ID)
	}
	return nil
}

// OrphanBlobSweepSource builds the single global orphan-blob-sweep task,
// keyed so only one sweep runs at a time.
func (s *Service) OrphanBlobSweepSource(ctx context.Context) ([]queue.Task, error) {
	return []queue.Task{{
		Key: "orphan-blob-sweep",
		Run: s.SweepOrphanBlobs,
	}}, nil
}

// SweepOrphanBlobs is a standalone, idempotent garbage collector: it diffs
// every blob directory actually present in storage against every RecordSet
// row's file_path, and deletes directories that have no backing row (Sweep
// and EndCallback ignore a failed store.DeletePrefix and still delete the
// row, which leaves exactly this kind of orphan behind). A grace
// period on each directory's newest file guards against racing a RecordSet
// whose row insert hasn't committed yet when its upload is already underway.
func (s *Service) SweepOrphanBlobs(ctx context.Context) error {
	live, err := s.repo.AllRecordSetFilePaths(ctx)
	if err != nil {
		return err
	}
	liveDirs := make(map[string]bool, len(live))
	for _, fp := range live {
		liveDirs[fp] = true
	}

	entries, err := s.store.List(ctx, "record/")
	if err != nil {
		return err
	}

	newest := make(map[string]time.Time)
	for _, e := range entries {
		dir := path.Dir(e.Key)
		if t, ok := newest[dir]; !ok || e.ModTime.After(t) {
			newest[dir] = e.ModTime
		}
	}

	cutoff := time.Now().Add(-s.cfg.OrphanGracePeriod)
	for dir, modTime := range newest {
		if liveDirs[dir] {
			continue
		}
		if modTime.After(cutoff) {
			continue // too young; could be an upload racing its RecordSet insert
		}
		_ = s.store.DeletePrefix(ctx, dir)
	}
	return nil
}

// Deliver implements `GET /b3lb/r/<nonce>`: stream a rendered Record's
// blob as an attachment named video.<ext>. The caller is responsible for
// closing the returned ReadCloser.
func (s *Service) Deliver(ctx context.Context, nonce string) (io.ReadCloser, string, error) {
	rec, err := s.repo.GetRecordByNonce(ctx, nonce)
	if err != nil {
		return nil, "", err
	}
	rc, err := s.store.Get(ctx, rec.FilePath)
	if err != nil {
		return nil, "", err
	}
	ext := filepath.Ext(rec.FilePath)
	return rc, "video" + ext, nil
}
