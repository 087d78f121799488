package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleEndCallback implements `GET /b3lb/b/meeting/end`: a node calls this
// once a meeting has fully ended, authenticated by nonce+meetingID. The
// response is always 204 regardless of the outcome — this is an internal
// node-to-dispatcher callback, not a client-facing one.
func (s *Server) handleEndCallback(c *gin.Context) {
	ctx := c.Request.Context()
	nonce := c.Query("nonce")
	meetingID := c.Query("meetingID")
	recordingMarks := c.Query("recordingmarks") != "false"

	if nonce == "" || meetingID == "" {
		c.Status(http.StatusNoContent)
		return
	}

	_ = s.recordings.EndCallback(ctx, nonce, meetingID, recordingMarks)
	c.Status(http.StatusNoContent)
}

// handleUpload implements `POST /b3lb/b/record/upload`: a node posts the
// raw recording archive plus its metadata XML once a meeting's recording
// artifacts are ready.
func (s *Server) handleUpload(c *gin.Context) {
	ctx := c.Request.Context()
	nonce := c.PostForm("nonce")
	if nonce == "" {
		c.String(http.StatusUnprocessableEntity, "Missing nonce POST parameter")
		return
	}

	tarFile, _, err := c.Request.FormFile("file")
	if err != nil {
		c.String(http.StatusUnprocessableEntity, "Missing 'file' upload file.")
		return
	}
	defer tarFile.Close()

	metaFile, _, err := c.Request.FormFile("metadata")
	if err != nil {
		c.String(http.StatusUnprocessableEntity, "Missing 'metadata' upload file.")
		return
	}
	defer metaFile.Close()

	metaBytes := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, rerr := metaFile.Read(buf)
		if n > 0 {
			metaBytes = append(metaBytes, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	if err := s.recordings.Upload(ctx, nonce, tarFile, metaBytes); err != nil {
		c.String(http.StatusInternalServerError, "Error during filesave")
		return
	}
	c.String(http.StatusCreated, "File uploaded sucessfully")
}

// handleDeliver implements `GET /b3lb/r/:nonce`: stream a rendered video by
// its per-Record delivery nonce.
func (s *Server) handleDeliver(c *gin.Context) {
	ctx := c.Request.Context()
	nonce := c.Param("nonce")

	rc, filename, err := s.recordings.Deliver(ctx, nonce)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", rc, nil)
}
