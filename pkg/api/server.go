// Package api implements the balancer's HTTP surface: the signed backend
// protocol endpoints, the stats/metrics/ping endpoints, the recording node
// callbacks, and tenant asset serving.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/de-ibh/b3lb/pkg/aggregation"
	"github.com/de-ibh/b3lb/pkg/config"
	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/recording"
	"github.com/de-ibh/b3lb/pkg/signing"
	"github.com/de-ibh/b3lb/pkg/storage"
	"github.com/de-ibh/b3lb/pkg/tenantresolve"
)

// Server wires every package the request pipeline depends on behind gin
// handlers. It holds no mutable state of its own — everything lives in the
// relational store behind repo.
type Server struct {
	cfg        config.Config
	repo       *database.Repository
	resolver   *tenantresolve.Resolver
	aggregator *aggregation.Aggregator
	recordings *recording.Service
	store      storage.Store
	httpClient *http.Client
}

func New(cfg config.Config, repo *database.Repository, resolver *tenantresolve.Resolver, aggregator *aggregation.Aggregator, recordings *recording.Service, store storage.Store) *Server {
	return &Server{
		cfg:        cfg,
		repo:       repo,
		resolver:   resolver,
		aggregator: aggregator,
		recordings: recordings,
		store:      store,
		httpClient: &http.Client{Timeout: cfg.NodeRequestTimeout},
	}
}

// Router builds the gin engine with every route the dispatcher exposes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/bigbluebutton/api/:endpoint", s.handleBBB)
	r.POST("/bigbluebutton/api/:endpoint", s.handleBBB)
	r.GET("/b3lb/t/:slug/bbb/api/:endpoint", s.handleBBB)
	r.POST("/b3lb/t/:slug/bbb/api/:endpoint", s.handleBBB)

	r.GET("/b3lb/stats", s.handleStats)
	r.GET("/b3lb/t/:slug/stats", s.handleStats)
	r.GET("/b3lb/metrics", s.handleMetrics)
	r.GET("/b3lb/t/:slug/metrics", s.handleMetrics)

	r.GET("/b3lb/ping", s.handlePing)

	r.GET("/b3lb/b/meeting/end", s.handleEndCallback)
	r.POST("/b3lb/b/record/upload", s.handleUpload)
	r.GET("/b3lb/r/:nonce", s.handleDeliver)

	r.GET("/b3lb/t/:slug/logo", s.handleAsset(assetLogo))
	r.GET("/b3lb/t/:slug/slide", s.handleAsset(assetSlide))
	r.GET("/b3lb/t/:slug/css", s.handleAsset(assetCSS))

	return r
}

func (s *Server) handlePing(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.Health(ctx, s.repo.DB()); err != nil {
		c.String(http.StatusServiceUnavailable, "Doh!")
		return
	}
	c.String(http.StatusOK, "OK!")
}

// algorithmFor resolves a cluster's configured hash algorithm, falling back
// to the first allowed algorithm if the cluster's own setting is somehow
// unsupported (defense against data entered before a config change).
func algorithmFor(allowed []string, clusterAlgo string) signing.Algorithm {
	for _, a := range allowed {
		if a == clusterAlgo {
			return signing.Algorithm(a)
		}
	}
	if len(allowed) > 0 {
		return signing.Algorithm(allowed[0])
	}
	return signing.SHA1
}
