package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Provider is the read side of the tenant-configuration store.
type Provider interface {
	GetPolicy(ctx context.Context, tenantID string) (TenantPolicy, error)
	FeatureEnabled(ctx context.Context, tenantID, feature string) (bool, error)
}

type staticProvider struct {
	policies map[string]TenantPolicy
	features map[string]map[string]bool
}

// NewStaticProvider serves a fixed set of tenants; used for local development and tests.
func NewStaticProvider(policies []TenantPolicy, features map[string]map[string]bool) Provider {
	p := &staticProvider{
		policies: make(map[string]TenantPolicy, len(policies)),
		features: features,
	}
	for _, pol := range policies {
		p.policies[pol.TenantID] = pol
	}
	if p.features == nil {
		p.features = map[string]map[string]bool{}
	}
	return p
}

func (p *staticProvider) GetPolicy(_ context.Context, tenantID string) (TenantPolicy, error) {
	pol, ok := p.policies[tenantID]
	if !ok {
		return TenantPolicy{}, ErrTenantNotFound
	}
	return pol, nil
}

func (p *staticProvider) FeatureEnabled(_ context.Context, tenantID, feature string) (bool, error) {
	if _, ok := p.policies[tenantID]; !ok {
		return false, ErrTenantNotFound
	}
	return p.features[tenantID][feature], nil
}

type fileTenant struct {
	TenantPolicy
	Features map[string]bool `json:"features"`
}

type fileLayout struct {
	Tenants []fileTenant `json:"tenants"`
}

// LoadFile reads {"tenants": [{...policy fields..., "features": {"bookings": true}}]}.
func LoadFile(path string) (Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseFile(raw)
}

func parseFile(raw []byte) (Provider, error) {
	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	policies := make([]TenantPolicy, 0, len(layout.Tenants))
	features := make(map[string]map[string]bool, len(layout.Tenants))
	for _, t := range layout.Tenants {
		if err := t.TenantPolicy.Validate(); err != nil {
			return nil, err
		}
		policies = append(policies, t.TenantPolicy)
		features[t.TenantID] = t.Features
	}
	return NewStaticProvider(policies, features), nil
}
