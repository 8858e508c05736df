package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mediadrop/domain/storage"
)

// QuotaCalculator maps used bytes to a Usage. Tenants are unlimited;
// personal allocations come from the membership tier table.
type QuotaCalculator struct {
	table  storage.QuotaTable
	creds  storage.CredentialStore
	logger *slog.Logger
}

// NewQuotaCalculator creates a calculator. creds may be nil, in which case
// the membership must come from the hint or the session.
func NewQuotaCalculator(table storage.QuotaTable, creds storage.CredentialStore, logger *slog.Logger) *QuotaCalculator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &QuotaCalculator{table: table, creds: creds, logger: logger}
}

// Resolve computes the Usage of sess given used bytes. The membership is
// taken from membershipHint, then the session, then the CredentialStore.
func (q *QuotaCalculator) Resolve(ctx context.Context, sess storage.Session, membershipHint string, used int64) (*storage.Usage, error) {
	if sess.IsTenant() {
		u := storage.NewUsage(used, storage.Unlimited)
		return &u, nil
	}

	membership := membershipHint
	if membership == "" {
		membership = sess.Membership
	}
	if membership == "" && q.creds != nil {
		record, err := q.creds.Get(ctx, sess.UserID, sess.Provider)
		if err != nil && !storage.IsNotFound(err) {
			return nil, fmt.Errorf("failed to look up membership: %w", err)
		}
		if record != nil {
			membership = record.MembershipID
		}
	}

	allocated := q.table.Allocation(membership)
	if allocated == q.table.DefaultBytes && membership != "" {
		q.logger.Warn("membership matched no quota tier", "membership", membership, "allocated", allocated)
	}

	u := storage.NewUsage(used, allocated)
	return &u, nil
}
