package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func tenantRequestContext(t *testing.T, target string, header, jwtClaim string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("X-Tenant-ID", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	if jwtClaim != "" {
		c.Set("jwt_tenant_id", jwtClaim)
	}
	return c
}

func TestExtractTenantID_SourcePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		jwt    string
		want   string
	}{
		{"jwt claim wins over everything", "/?tenant_id=riverside", "northside", "lakeview", "lakeview"},
		{"header wins over query", "/?tenant_id=riverside", "northside", "", "northside"},
		{"query when nothing else set", "/?tenant_id=riverside", "", "", "riverside"},
		{"default when no source present", "/", "", "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tenantRequestContext(t, tt.target, tt.header, tt.jwt)
			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("extractTenantID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTenantID_EmptyJWTClaimFallsThrough(t *testing.T) {
	c := tenantRequestContext(t, "/", "northside", "")
	c.Set("jwt_tenant_id", "")
	if got := extractTenantID(c, "default"); got != "northside" {
		t.Errorf("extractTenantID = %q, want northside", got)
	}
}

func TestTenantIDPattern_RejectsUnsafeIdentifiers(t *testing.T) {
	// The tenant ID is interpolated into SET search_path, so anything beyond
	// alphanumerics and underscore must be rejected before it reaches SQL.
	tests := []struct {
		id    string
		valid bool
	}{
		{"northside", true},
		{"clinic_22", true},
		{"TENANT9", true},
		{"x", true},
		{"", false},
		{"north-side", false},
		{"north side", false},
		{"north.side", false},
		{"tenant;drop schema shared", false},
		{"tenant'--", false},
	}
	for _, tt := range tests {
		if got := tenantIDPattern.MatchString(tt.id); got != tt.valid {
			t.Errorf("tenantIDPattern(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestCreateTenantSchema_RejectsInvalidID(t *testing.T) {
	for _, id := range []string{"north-side", "a b", "x;y", ""} {
		if err := CreateTenantSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for tenant id %q", id)
		}
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), TenantIDKey, "northside")
	if got := TenantFromContext(ctx); got != "northside" {
		t.Errorf("TenantFromContext = %q, want northside", got)
	}
	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("expected empty tenant for bare context, got %q", got)
	}
	mistyped := context.WithValue(context.Background(), TenantIDKey, 7)
	if got := TenantFromContext(mistyped); got != "" {
		t.Errorf("expected empty tenant for mistyped value, got %q", got)
	}
}

func TestConnAndTxFromContext_AbsentOrMistyped(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn for bare context")
	}
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx for bare context")
	}
	ctx := context.WithValue(context.Background(), DBConnKey, "not a conn")
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn for mistyped value")
	}
	ctx = context.WithValue(context.Background(), DBTxKey, 42)
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for mistyped value")
	}
}

func TestWithTx_RequiresTenantConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when the context carries no connection")
	}
}
