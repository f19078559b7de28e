package models

import "testing"

func TestStandardsCacheScopePerTenant(t *testing.T) {
	// two tenants can hold the same framework id; their cached hierarchies
	// must live under distinct keys
	a := standardsCacheScope("biz-a", 4)
	b := standardsCacheScope("biz-b", 4)
	if a == b {
		t.Fatalf("cache scope %q is shared across tenants", a)
	}
	if a != standardsCacheScope("biz-a", 4) {
		t.Fatal("cache scope must be stable for the same tenant and framework")
	}
}

func TestMaturityRankMapKeyPerTenant(t *testing.T) {
	a := maturityRankMapKey("biz-a", 4)
	b := maturityRankMapKey("biz-b", 4)
	if a == b {
		t.Fatalf("rank map key %q is shared across tenants", a)
	}
}
