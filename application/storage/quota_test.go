package storage

import (
	"context"
	"testing"

	"mediadrop/domain/storage"
)

func TestQuotaCalculator_Resolve(t *testing.T) {
	creds := &mockCredentialStore{records: map[string]*storage.CredentialRecord{
		"u-agency": {MembershipID: "price_agency_monthly"},
	}}
	calc := NewQuotaCalculator(storage.DefaultQuotaTable(), creds, nil)

	tests := []struct {
		name          string
		sess          storage.Session
		hint          string
		wantAllocated int64
	}{
		{
			name:          "hint wins",
			sess:          storage.Session{UserID: "u1"},
			hint:          "pro",
			wantAllocated: 500 * 1024 * 1024 * 1024,
		},
		{
			name:          "membership from credential store",
			sess:          storage.Session{UserID: "u-agency"},
			wantAllocated: 2000 * 1024 * 1024 * 1024,
		},
		{
			name:          "membership from session",
			sess:          storage.Session{UserID: "u1", Membership: "artist"},
			wantAllocated: 2 * storage.GiB,
		},
		{
			name:          "unknown user gets default allocation",
			sess:          storage.Session{UserID: "nobody"},
			wantAllocated: 0,
		},
		{
			name:          "tenant is unlimited regardless of membership",
			sess:          storage.Session{UserID: "u1", TenantID: "t1"},
			hint:          "artist",
			wantAllocated: storage.Unlimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage, err := calc.Resolve(context.Background(), tt.sess, tt.hint, 1024)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if usage.Allocated != tt.wantAllocated {
				t.Errorf("expected allocated %d, got %d", tt.wantAllocated, usage.Allocated)
			}
			if usage.Used != 1024 {
				t.Errorf("expected used 1024, got %d", usage.Used)
			}
		})
	}
}

func TestQuotaCalculator_ConfiguredDefault(t *testing.T) {
	table := storage.DefaultQuotaTable()
	table.DefaultBytes = storage.GiB
	calc := NewQuotaCalculator(table, nil, nil)

	usage, err := calc.Resolve(context.Background(), storage.Session{UserID: "u1"}, "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if usage.Allocated != storage.GiB {
		t.Errorf("expected configured default allocation, got %d", usage.Allocated)
	}
}
