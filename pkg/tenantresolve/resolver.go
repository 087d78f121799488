// Package tenantresolve maps an inbound request (path slug or forwarded
// host) to a (Tenant, Secret) pair.
package tenantresolve

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
)

// ErrUnauthorized is returned whenever the resolved (tenant, secret) pair
// does not exist — the caller should answer 401.
var ErrUnauthorized = errors.New("unauthorized")

// hostPattern matches the "<slug>(-<subid>)" label that is left of
// ".{APIBaseDomain}".
var hostPattern = regexp.MustCompile(`^([a-z]{2,10})(-(\d{3}))?$`)

// Resolver resolves a request's (models.Tenant, models.Secret) pair.
type Resolver struct {
	repo          *database.Repository
	apiBaseDomain string
}

func New(repo *database.Repository, apiBaseDomain string) *Resolver {
	return &Resolver{repo: repo, apiBaseDomain: apiBaseDomain}
}

// Resolve prefers an explicit path slug (and optional
// sub-id), otherwise parse it out of the forwarded Host header.
func (r *Resolver) Resolve(ctx context.Context, pathSlug string, pathSubID int, host string) (models.Tenant, models.Secret, error) {
	slug := pathSlug
	subID := pathSubID

	if slug == "" {
		var err error
		slug, subID, err = parseHost(host, r.apiBaseDomain)
		if err != nil {
			return models.Tenant{}, models.Secret{}, ErrUnauthorized
		}
	}

	tenant, err := r.repo.GetTenantBySlug(ctx, strings.ToUpper(slug))
	if err != nil {
		return models.Tenant{}, models.Secret{}, ErrUnauthorized
	}

	secret, err := r.repo.GetSecretByTenantSubID(ctx, tenant.ID, subID)
	if err != nil {
		return models.Tenant{}, models.Secret{}, ErrUnauthorized
	}

	return tenant, secret, nil
}

// parseHost extracts (uppercased slug, sub_id) from a forwarded Host
// header matching ^([a-z]{2,10})(-(\d{3}))?\.<API_BASE_DOMAIN>$.
func parseHost(host, apiBaseDomain string) (string, int, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		host = host[:idx]
	}

	suffix := "." + strings.ToLower(apiBaseDomain)
	if !strings.HasSuffix(host, suffix) {
		return "", 0, errors.New("host does not match API base domain")
	}

	m := hostPattern.FindStringSubmatch(strings.TrimSuffix(host, suffix))
	if m == nil {
		return "", 0, errors.New("host does not match tenant pattern")
	}

	slug := m[1]
	subID := 0
	if m[3] != "" {
		var err error
		subID, err = strconv.Atoi(m[3])
		if err != nil {
			return "", 0, err
		}
	}
	return strings.ToUpper(slug), subID, nil
}
