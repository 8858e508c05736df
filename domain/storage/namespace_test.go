package storage

import (
	"strings"
	"testing"
)

func TestNamespace_Prefix(t *testing.T) {
	personal := Namespace{UserID: "u1"}
	if got := personal.Prefix(); got != "user/u1/" {
		t.Errorf("expected personal prefix user/u1/, got %q", got)
	}

	tenant := Namespace{TenantID: "t9", UserID: "u1"}
	if got := tenant.Prefix(); got != "tenant/t9/user/u1/" {
		t.Errorf("expected tenant prefix, got %q", got)
	}
}

func TestNamespace_Resolve(t *testing.T) {
	ns := Namespace{TenantID: "t9", UserID: "u1"}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "relative folder", input: "Beach", want: "tenant/t9/user/u1/Beach"},
		{name: "already scoped", input: "tenant/t9/user/u1/Beach/a.jpg", want: "tenant/t9/user/u1/Beach/a.jpg"},
		{name: "parent traversal", input: "../../u2/Beach", want: "tenant/t9/user/u1/u2/Beach"},
		{name: "other user's prefix", input: "user/u2/Beach", want: "tenant/t9/user/u1/user/u2/Beach"},
		{name: "empty", input: "", want: "tenant/t9/user/u1/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ns.Resolve(tt.input)
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !strings.HasPrefix(got, ns.Prefix()) {
				t.Errorf("Resolve(%q) escaped the namespace: %q", tt.input, got)
			}
		})
	}
}

func TestNamespace_FolderPrefix(t *testing.T) {
	ns := Namespace{UserID: "u1"}
	if got := ns.FolderPrefix("Beach"); got != "user/u1/Beach/" {
		t.Errorf("expected trailing slash, got %q", got)
	}
	if got := ns.Relative("user/u1/Beach/a.jpg"); got != "Beach/a.jpg" {
		t.Errorf("expected relative key, got %q", got)
	}
}

func TestNamespaceFor_RequiresUser(t *testing.T) {
	if _, err := NamespaceFor(Session{}); err == nil {
		t.Error("expected error for session without user")
	}
}
