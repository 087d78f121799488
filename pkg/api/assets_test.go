package api

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/de-ibh/b3lb/pkg/config"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/storage"
)

func newAssetTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := storage.NewLocalStore(storage.LocalConfig{RootDir: t.TempDir()})
	require.NoError(t, err)
	return &Server{cfg: config.Config{APIBaseDomain: "b3lb.example.com"}, store: store}
}

func TestAssetURLBuildsPerKindPublicPath(t *testing.T) {
	s := newAssetTestServer(t)
	assert.Equal(t, "https://b3lb.example.com/b3lb/t/tn/logo", s.assetURL("TN", assetLogo))
	assert.Equal(t, "https://b3lb.example.com/b3lb/t/tn/slide", s.assetURL("TN", assetSlide))
	assert.Equal(t, "https://b3lb.example.com/b3lb/t/tn/css", s.assetURL("TN", assetCSS))
}

func TestInjectLogoSetsWhenUnsetAndAssetExists(t *testing.T) {
	s := newAssetTestServer(t)
	tenant := models.Tenant{Slug: "TN"}

	params := url.Values{}
	s.injectLogo(params, tenant, models.Asset{LogoPath: "logo/tn.png"})
	assert.Equal(t, "https://b3lb.example.com/b3lb/t/tn/logo", params.Get("logo"))
}

func TestInjectLogoLeavesCallerValueUntouched(t *testing.T) {
	s := newAssetTestServer(t)
	tenant := models.Tenant{Slug: "TN"}

	params := url.Values{"logo": {"https://caller.example.com/own-logo.png"}}
	s.injectLogo(params, tenant, models.Asset{LogoPath: "logo/tn.png"})
	assert.Equal(t, "https://caller.example.com/own-logo.png", params.Get("logo"))
}

func TestInjectLogoNoopWithoutAsset(t *testing.T) {
	s := newAssetTestServer(t)
	tenant := models.Tenant{Slug: "TN"}

	params := url.Values{}
	s.injectLogo(params, tenant, models.Asset{})
	assert.Empty(t, params.Get("logo"))
}

func TestInjectCustomCSSSetsWhenUnsetAndAssetExists(t *testing.T) {
	s := newAssetTestServer(t)
	tenant := models.Tenant{Slug: "TN"}

	params := url.Values{}
	s.injectCustomCSS(params, tenant, models.Asset{CSSPath: "css/tn.css"})
	assert.Equal(t, "https://b3lb.example.com/b3lb/t/tn/css", params.Get("userdata-bbb_custom_style_url"))
}

func TestInjectCustomCSSLeavesCallerValueUntouched(t *testing.T) {
	s := newAssetTestServer(t)
	tenant := models.Tenant{Slug: "TN"}

	params := url.Values{"userdata-bbb_custom_style_url": {"https://caller.example.com/own.css"}}
	s.injectCustomCSS(params, tenant, models.Asset{CSSPath: "css/tn.css"})
	assert.Equal(t, "https://caller.example.com/own.css", params.Get("userdata-bbb_custom_style_url"))
}

func TestBuildPresentationBodyInlinesSmallSlideAsBase64(t *testing.T) {
	s := newAssetTestServer(t)
	ctx := context.Background()
	tenant := models.Tenant{Slug: "TN"}
	asset := models.Asset{SlidePath: "slide/tn.pdf"}

	require.NoError(t, s.store.Put(ctx, asset.SlidePath, strings.NewReader("%PDF-1.4 small slide"), -1))

	body, ok := s.buildPresentationBody(ctx, tenant, asset)
	require.True(t, ok)
	assert.Contains(t, body, `<module name="presentation">`)
	assert.Contains(t, body, `<document name="tn.pdf">`)
	assert.NotContains(t, body, "url=")
}

func TestBuildPresentationBodyReferencesLargeSlideByURL(t *testing.T) {
	s := newAssetTestServer(t)
	ctx := context.Background()
	tenant := models.Tenant{Slug: "TN"}
	asset := models.Asset{SlidePath: "slide/tn.pdf"}

	big := strings.Repeat("a", slideInlineMaxBytes+1)
	require.NoError(t, s.store.Put(ctx, asset.SlidePath, strings.NewReader(big), -1))

	body, ok := s.buildPresentationBody(ctx, tenant, asset)
	require.True(t, ok)
	assert.Contains(t, body, `url="https://b3lb.example.com/b3lb/t/tn/slide"`)
	assert.Contains(t, body, `filename="tn.pdf"`)
}

func TestBuildPresentationBodyNoopWithoutSlideAsset(t *testing.T) {
	s := newAssetTestServer(t)
	ctx := context.Background()
	tenant := models.Tenant{Slug: "TN"}

	_, ok := s.buildPresentationBody(ctx, tenant, models.Asset{})
	assert.False(t, ok)
}

func TestEscapeXMLAttrEscapesReservedCharacters(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot;", escapeXMLAttr(`a & b <c> "d"`))
}

func TestEndCallbackURLFormatsNonceIntoNodeCallback(t *testing.T) {
	got := endCallbackURL("b3lb.example.com", "abc123")
	assert.Equal(t, "https://b3lb.example.com/b3lb/b/meeting/end?nonce=abc123", got)
}
