package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/de-ibh/b3lb/pkg/metrics"
	"github.com/de-ibh/b3lb/pkg/models"
)

// authToken strips an optional "Bearer " prefix, matching both a bare
// token header and the more conventional Authorization scheme.
func authToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	return strings.TrimPrefix(h, "Bearer ")
}

// resolveStatsTenant resolves the tenant a stats/metrics token authorizes:
// a path-scoped slug names the tenant directly, otherwise the token itself
// must uniquely identify one.
func (s *Server) resolveStatsTenant(c *gin.Context) (models.Tenant, bool) {
	ctx := c.Request.Context()
	token := authToken(c)
	if token == "" {
		return models.Tenant{}, false
	}

	if raw := c.Param("slug"); raw != "" {
		slug, _, err := splitSlugSubID(raw)
		if err != nil {
			return models.Tenant{}, false
		}
		tenant, err := s.repo.GetTenantBySlug(ctx, slug)
		if err != nil || tenant.StatsToken != token {
			return models.Tenant{}, false
		}
		return tenant, true
	}

	tenants, err := s.repo.AllTenants(ctx)
	if err != nil {
		return models.Tenant{}, false
	}
	for _, t := range tenants {
		if t.StatsToken == token {
			return t, true
		}
	}
	return models.Tenant{}, false
}

// handleStats implements `GET /b3lb/stats` and its tenant-scoped variant:
// a token-authorized JSON usage snapshot.
func (s *Server) handleStats(c *gin.Context) {
	tenant, ok := s.resolveStatsTenant(c)
	if !ok {
		unauthorized(c)
		return
	}
	snapshot, err := s.repo.StatsForTenant(c.Request.Context(), tenant.ID)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	body, err := json.Marshal(snapshot)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// handleMetrics implements `GET /b3lb/metrics` and its tenant-scoped
// variant: Prometheus text exposition, authorized either by stats token
// (tenant-scoped) or by the request arriving on the base domain (global).
func (s *Server) handleMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	if raw := c.Param("slug"); raw != "" {
		tenant, ok := s.resolveStatsTenant(c)
		if !ok {
			unauthorized(c)
			return
		}
		secrets, err := s.repo.SecretsOfTenant(ctx, tenant.ID)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		ids := make([]string, 0, len(secrets))
		for _, sec := range secrets {
			ids = append(ids, sec.ID)
		}
		text, err := s.aggregator.RenderPrometheusText(ctx, ids, metrics.SecretLabel{TenantSlug: tenant.Slug})
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(text))
		return
	}

	if !strings.EqualFold(strings.Split(c.Request.Host, ":")[0], s.cfg.APIBaseDomain) {
		unauthorized(c)
		return
	}
	text, err := s.aggregator.RenderPrometheusText(ctx, nil, metrics.SecretLabel{IsGlobal: true})
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(text))
}
