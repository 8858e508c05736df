package storage

import (
	"context"
	"strings"
)

// GiB is one binary gigabyte
const GiB int64 = 1024 * 1024 * 1024

// Unlimited marks an allocation with no ceiling
const Unlimited int64 = -1

// QuotaTier maps a membership substring to an allocation
type QuotaTier struct {
	Match string
	Bytes int64
}

// QuotaTable is an ordered tier list; the first tier whose Match is a
// substring of the membership ID wins. DefaultBytes applies when none match.
type QuotaTable struct {
	Tiers        []QuotaTier
	DefaultBytes int64
}

// DefaultQuotaTable returns the standard membership tiers.
// DefaultBytes is zero: an unrecognized membership gets no allowance.
func DefaultQuotaTable() QuotaTable {
	return QuotaTable{
		Tiers: []QuotaTier{
			{Match: "artist", Bytes: 2 * GiB},
			{Match: "pro", Bytes: 500 * GiB},
			{Match: "agency", Bytes: 2000 * GiB},
		},
		DefaultBytes: 0,
	}
}

// Allocation returns the byte ceiling for a membership ID
func (t QuotaTable) Allocation(membershipID string) int64 {
	id := strings.ToLower(membershipID)
	if id != "" {
		for _, tier := range t.Tiers {
			if strings.Contains(id, strings.ToLower(tier.Match)) {
				return tier.Bytes
			}
		}
	}
	return t.DefaultBytes
}

// Usage is the storage accounting for one user or tenant
type Usage struct {
	Used        int64
	Allocated   int64 // Unlimited for tenants
	UsedPercent float64
}

// NewUsage computes the percentage for used against allocated
func NewUsage(used, allocated int64) Usage {
	u := Usage{Used: used, Allocated: allocated}
	if allocated > 0 {
		u.UsedPercent = float64(used) / float64(allocated) * 100
	}
	return u
}

// IsUnlimited reports whether the allocation has no ceiling
func (u Usage) IsUnlimited() bool {
	return u.Allocated == Unlimited
}

// Remaining returns the bytes left, never negative
func (u Usage) Remaining() int64 {
	if u.IsUnlimited() {
		return Unlimited
	}
	if r := u.Allocated - u.Used; r > 0 {
		return r
	}
	return 0
}

// CheckQuota rejects an incoming batch that does not fit the remaining allocation
func CheckQuota(u Usage, incoming int64) error {
	if u.IsUnlimited() {
		return nil
	}
	if remaining := u.Remaining(); incoming > remaining {
		return &QuotaExceededError{Needed: incoming, Remaining: remaining}
	}
	return nil
}

// QuotaResolver turns raw used bytes into a Usage for a session
type QuotaResolver interface {
	Resolve(ctx context.Context, sess Session, membershipHint string, used int64) (*Usage, error)
}
