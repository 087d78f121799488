package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/de-ibh/b3lb/pkg/models"
)

// handleGetRecordings lists every rendered Record for the secret, filtered
// by the optional meetingID/recordID CSV parameters.
func (s *Server) handleGetRecordings(c *gin.Context, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	records, err := s.repo.RecordsForSecret(ctx, secret.ID)
	if err != nil || len(records) == 0 {
		xmlResponse(c, http.StatusOK, cannedNoRecordings)
		return
	}

	meetingFilter := csvSet(params.Get("meetingID"))
	recordFilter := csvSet(params.Get("recordID"))

	var sb strings.Builder
	count := 0
	for _, rec := range records {
		rs, err := s.repo.GetRecordSet(ctx, rec.RecordSetID)
		if err != nil {
			continue
		}
		if len(meetingFilter) > 0 && !meetingFilter[rs.MeetingExternalID] {
			continue
		}
		if len(recordFilter) > 0 && !recordFilter[rec.ID] {
			continue
		}
		sb.WriteString(recordingXML(rec, rs))
		count++
	}

	if count == 0 {
		xmlResponse(c, http.StatusOK, cannedNoRecordings)
		return
	}

	xmlResponse(c, http.StatusOK, fmt.Sprintf(
		"<response>\r\n<returncode>SUCCESS</returncode>\r\n<recordings>\r\n%s</recordings>\r\n<messageKey></messageKey>\r\n<message></message>\r\n</response>",
		sb.String(),
	))
}

func recordingXML(rec models.Record, rs models.RecordSet) string {
	published := "false"
	if rec.Published {
		published = "true"
	}
	return fmt.Sprintf(
		"<recording>\r\n<recordID>%s</recordID>\r\n<meetingID>%s</meetingID>\r\n<name>%s</name>\r\n<published>%s</published>\r\n<state>published</state>\r\n<startTime>%d</startTime>\r\n<endTime>%d</endTime>\r\n<participants>%d</participants>\r\n<playback>\r\n<format>\r\n<type>%s</type>\r\n<url>%s</url>\r\n</format>\r\n</playback>\r\n</recording>\r\n",
		rec.ID, rs.MeetingExternalID, xmlEscape(rs.MeetingName), published, rs.StartedAt, rs.EndedAt, rs.Participants,
		xmlEscape(rec.DisplayName), "/b3lb/r/"+rec.Nonce,
	)
}

// handlePublishRecordings implements publish/unpublish, a capability the
// original left as an explicit TODO stub (see DESIGN.md).
func (s *Server) handlePublishRecordings(c *gin.Context, secret models.Secret, params url.Values) {
	s.setPublished(c, secret, params, "published")
}

// handleDeleteRecordings deletes, for each named Record, its whole
// RecordSet: every Record of that set and its file, the set's blob
// directory, and the RecordSet row.
func (s *Server) handleDeleteRecordings(c *gin.Context, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	ids := csvList(params.Get("recordID"))
	if len(ids) == 0 {
		xmlResponse(c, http.StatusOK, cannedMissingRecordID)
		return
	}

	ok := true
	for _, id := range ids {
		rec, err := s.findOwnedRecord(ctx, secret, id)
		if err != nil {
			ok = false
			continue
		}
		rs, err := s.repo.GetRecordSet(ctx, rec.RecordSetID)
		if err != nil {
			ok = false
			continue
		}
		if err := s.repo.UpdateRecordSetStatus(ctx, rec.RecordSetID, models.RecordSetDeleting); err != nil {
			ok = false
			continue
		}
		recs, err := s.repo.DeleteRecordsOfRecordSet(ctx, rec.RecordSetID)
		if err != nil {
			ok = false
			continue
		}
		for _, r := range recs {
			_ = s.store.Delete(ctx, r.FilePath)
		}
		_ = s.store.DeletePrefix(ctx, rs.FilePath)
		_ = s.repo.DeleteRecordSet(ctx, rec.RecordSetID)
	}
	xmlResponse(c, http.StatusOK, cannedGeneralResult("deleted", ok))
}

// handleUpdateRecordings sets a Record's display name, the one per-record
// attribute exposed as mutable after upload.
func (s *Server) handleUpdateRecordings(c *gin.Context, secret models.Secret, params url.Values) {
	ctx := c.Request.Context()
	ids := csvList(params.Get("recordID"))
	if len(ids) == 0 {
		xmlResponse(c, http.StatusOK, cannedMissingRecordID)
		return
	}
	meta := params.Get("meta_name")

	ok := true
	for _, id := range ids {
		rec, err := s.findOwnedRecord(ctx, secret, id)
		if err != nil {
			ok = false
			continue
		}
		if meta != "" {
			rec.DisplayName = meta
		}
		if _, err := s.repo.DB().ExecContext(ctx, `UPDATE records SET display_name = $1 WHERE id = $2`, rec.DisplayName, rec.ID); err != nil {
			ok = false
		}
	}
	xmlResponse(c, http.StatusOK, cannedGeneralResult("updated", ok))
}

func (s *Server) setPublished(c *gin.Context, secret models.Secret, params url.Values, tag string) {
	ctx := c.Request.Context()
	ids := csvList(params.Get("recordID"))
	if len(ids) == 0 {
		xmlResponse(c, http.StatusOK, cannedMissingRecordID)
		return
	}
	publish, err := strconv.ParseBool(params.Get("publish"))
	if err != nil {
		xmlResponse(c, http.StatusOK, cannedMissingPublish)
		return
	}

	ok := true
	for _, id := range ids {
		rec, err := s.findOwnedRecord(ctx, secret, id)
		if err != nil {
			ok = false
			continue
		}
		if err := s.repo.SetRecordPublished(ctx, rec.ID, publish); err != nil {
			ok = false
		}
	}
	xmlResponse(c, http.StatusOK, cannedGeneralResult(tag, ok))
}

// findOwnedRecord resolves a recordID to a Record, verifying its RecordSet
// belongs to the calling secret so one tenant can never touch another's
// recordings.
func (s *Server) findOwnedRecord(ctx context.Context, secret models.Secret, recordID string) (models.Record, error) {
	records, err := s.repo.RecordsForSecret(ctx, secret.ID)
	if err != nil {
		return models.Record{}, err
	}
	for _, rec := range records {
		if rec.ID == recordID {
			return rec, nil
		}
	}
	return models.Record{}, fmt.Errorf("record %q not found for secret", recordID)
}

func csvList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func csvSet(raw string) map[string]bool {
	list := csvList(raw)
	if len(list) == 0 {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, v := range list {
		set[v] = true
	}
	return set
}

func rs2prefix(recordSetID string) string { return "recordsets/" + recordSetID + "/" }

func xmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
