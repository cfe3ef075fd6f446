// Package routing picks the SMS tier, template and gateway for a recipient.
package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/feedback-engine/internal/domain"
)

// RouteStore looks up gateway configuration per tier.
type RouteStore interface {
	GetRoute(ctx context.Context, tier domain.RoutingTier) (*domain.RouteConfig, error)
}

// Decision is the resolved route for one SMS send.
type Decision struct {
	Tier domain.RoutingTier
	// TemplateKeys holds one key for domestic/gcc and the happy then unhappy keys for global.
	TemplateKeys []string
	Route        domain.RouteConfig
	CountryCode  string
	Region       string
}

// Dispatches is the number of gateway calls the decision implies.
func (d Decision) Dispatches() int {
	return len(d.TemplateKeys)
}

// Classify maps a country code and attempt number onto a tier.
func Classify(countryCode string, tryCount int) domain.RoutingTier {
	cc := NormalizeCountryCode(countryCode)
	switch {
	case cc == DomesticCountryCode:
		return domain.TierDomestic
	case tryCount == 1 && cc != GlobalOnlyCountryCode:
		return domain.TierGCC
	default:
		return domain.TierGlobal
	}
}

// TemplateKeys returns the SMS template keys for a tier.
func TemplateKeys(tier domain.RoutingTier, hasDeepLink bool) []string {
	switch tier {
	case domain.TierDomestic:
		if hasDeepLink {
			return []string{domain.TemplateSMSWithLink}
		}
		return []string{domain.TemplateSMSDomestic}
	case domain.TierGCC:
		if hasDeepLink {
			return []string{domain.TemplateSMSWithLink}
		}
		return []string{domain.TemplateSMSGCC}
	default:
		return []string{domain.TemplateSMSGlobalHappy, domain.TemplateSMSGlobalUnhappy}
	}
}

type Router struct {
	routes RouteStore
}

func NewRouter(routes RouteStore) (*Router, error) {
	if routes == nil {
		return nil, fmt.Errorf("route store is required")
	}
	return &Router{routes: routes}, nil
}

// ResolveRoute classifies the recipient and loads the tier's gateway. A tier
// without a configured endpoint fails with domain.ErrRouteUnavailable.
func (r *Router) ResolveRoute(ctx context.Context, countryCode string, tryCount int, hasDeepLink bool) (*Decision, error) {
	cc := NormalizeCountryCode(countryCode)
	if cc == "" {
		return nil, fmt.Errorf("%w: country code is required", domain.ErrValidation)
	}
	region := RegionFor(cc)
	if region == unknownRegion {
		return nil, fmt.Errorf("%w: unknown calling code %q", domain.ErrValidation, countryCode)
	}
	if tryCount < 1 {
		tryCount = 1
	}

	tier := Classify(cc, tryCount)

	route, err := r.routes.GetRoute(ctx, tier)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no gateway configured for tier %s", domain.ErrRouteUnavailable, tier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load route for tier %s: %w", tier, err)
	}
	if route == nil || strings.TrimSpace(route.EndpointPattern) == "" {
		return nil, fmt.Errorf("%w: empty endpoint for tier %s", domain.ErrRouteUnavailable, tier)
	}

	return &Decision{
		Tier:         tier,
		TemplateKeys: TemplateKeys(tier, hasDeepLink),
		Route:        *route,
		CountryCode:  cc,
		Region:       region,
	}, nil
}
