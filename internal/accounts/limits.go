// Package accounts abstracts the external account service that owns quota
// limits. The engine reads limits through the Provider interface and keeps
// running totals itself; only the static config-backed provider ships here.
package accounts

import "context"

// Limits holds one account's quota ceilings.
type Limits struct {
	StorageBytes        int64
	BandwidthBytesMonth int64
}

// Provider resolves quota limits for an account.
type Provider interface {
	LimitsFor(ctx context.Context, accountID string) (Limits, error)
}

// StaticProvider serves the same configured limits for every account. It
// stands in for the account service in single-tenant deployments and tests.
type StaticProvider struct {
	Limits Limits
}

// NewStaticProvider builds a provider returning fixed limits.
func NewStaticProvider(storageBytes, bandwidthBytesMonth int64) *StaticProvider {
	return &StaticProvider{Limits: Limits{
		StorageBytes:        storageBytes,
		BandwidthBytesMonth: bandwidthBytesMonth,
	}}
}

// LimitsFor implements Provider.
func (p *StaticProvider) LimitsFor(ctx context.Context, accountID string) (Limits, error) {
	return p.Limits, nil
}

var _ Provider = (*StaticProvider)(nil)
