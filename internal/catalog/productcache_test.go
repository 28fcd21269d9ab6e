package catalog

import "testing"

// TestProductCacheWithoutRedis verifies invalidation is a silent no-op when
// no Redis is configured.
func TestProductCacheWithoutRedis(t *testing.T) {
	c := NewProductCache(nil)
	if err := c.Invalidate(t.Context(), "widget-1", "widget-2"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
	if err := c.InvalidateAll(t.Context()); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}

func TestProductKey(t *testing.T) {
	if got := productKey("widget-1"); got != "product:widget-1" {
		t.Errorf("unexpected key %q", got)
	}
}
