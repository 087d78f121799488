package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/de-ibh/b3lb/pkg/models"
)

// assetKind names one of a tenant's three optional branding blobs.
type assetKind int

const (
	assetLogo assetKind = iota
	assetSlide
	assetCSS
)

func (k assetKind) contentType() string {
	switch k {
	case assetSlide:
		return "application/pdf"
	case assetCSS:
		return "text/css; charset=utf-8"
	default:
		return "image/png"
	}
}

// handleAsset returns a gin.HandlerFunc serving the tenant's slide/logo/css
// blob, resolved by path slug.
func (s *Server) handleAsset(kind assetKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		slug, _, err := splitSlugSubID(c.Param("slug"))
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		tenant, err := s.repo.GetTenantBySlug(ctx, slug)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		asset, err := s.repo.GetAssetForTenant(ctx, tenant.ID)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}

		var key string
		switch kind {
		case assetSlide:
			key = asset.SlidePath
		case assetCSS:
			key = asset.CSSPath
		default:
			key = asset.LogoPath
		}
		if key == "" {
			c.Status(http.StatusNotFound)
			return
		}

		rc, err := s.store.Get(ctx, key)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		defer rc.Close()
		c.DataFromReader(http.StatusOK, -1, kind.contentType(), rc, nil)
	}
}

// slideInlineMaxBytes is the decoded-size ceiling past which a slide is
// referenced by URL in a presentation body instead of embedded as base64
// (768 KiB decoded == 1 MB once base64-encoded).
const slideInlineMaxBytes = 768 * 1024

// assetURL builds the publicly reachable URL this server itself serves a
// tenant asset under, for injection into create/join parameters.
func (s *Server) assetURL(slug string, kind assetKind) string {
	name := "logo"
	switch kind {
	case assetSlide:
		name = "slide"
	case assetCSS:
		name = "css"
	}
	return fmt.Sprintf("https://%s/b3lb/t/%s/%s", s.cfg.APIBaseDomain, strings.ToLower(slug), name)
}

// injectLogo sets the logo parameter to the tenant's hosted logo when the
// caller left it unset and the tenant has one.
func (s *Server) injectLogo(params url.Values, tenant models.Tenant, asset models.Asset) {
	if params.Get("logo") != "" || asset.LogoPath == "" {
		return
	}
	params.Set("logo", s.assetURL(tenant.Slug, assetLogo))
}

// injectCustomCSS sets the custom-style userdata parameter to the tenant's
// hosted stylesheet when the caller left it unset and the tenant has one.
func (s *Server) injectCustomCSS(params url.Values, tenant models.Tenant, asset models.Asset) {
	const key = "userdata-bbb_custom_style_url"
	if params.Get(key) != "" || asset.CSSPath == "" {
		return
	}
	params.Set(key, s.assetURL(tenant.Slug, assetCSS))
}

// buildPresentationBody synthesizes the <modules> document BBB expects when
// a tenant slide replaces the meeting's default presentation: embedded as
// base64 when small enough, referenced by URL otherwise. ok is false when
// the tenant has no slide asset.
func (s *Server) buildPresentationBody(ctx context.Context, tenant models.Tenant, asset models.Asset) (body string, ok bool) {
	if asset.SlidePath == "" {
		return "", false
	}
	filename := escapeXMLAttr(path.Base(asset.SlidePath))

	rc, err := s.store.Get(ctx, asset.SlidePath)
	if err != nil {
		return "", false
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, slideInlineMaxBytes+1))
	if err != nil {
		return "", false
	}

	if len(data) <= slideInlineMaxBytes {
		encoded := base64.StdEncoding.EncodeToString(data)
		return fmt.Sprintf(`<modules><module name="presentation"><document name="%s">%s</document></module></modules>`,
			filename, encoded), true
	}
	slideURL := escapeXMLAttr(s.assetURL(tenant.Slug, assetSlide))
	return fmt.Sprintf(`<modules><module name="presentation"><document url="%s" filename="%s"></document></module></modules>`,
		slideURL, filename), true
}

func escapeXMLAttr(v string) string {
	r := strings.NewReplacer(`&`, "&amp;", `<`, "&lt;", `>`, "&gt;", `"`, "&quot;")
	return r.Replace(v)
}
