package mapview

import (
	"testing"

	"github.com/example/driver-agent/internal/models"
)

func TestUpdatesDroppedUntilReady(t *testing.T) {
	s := New()
	s.UpdateSelf(models.Coord{Lat: 1, Lon: 1})
	if s.HasSelf {
		t.Fatal("self marker should not exist before readiness")
	}
	if s.ToggleTraffic() {
		t.Fatal("traffic toggle should be a no-op before readiness")
	}

	s.SetReady()
	if !s.HasSelf || s.Self != DefaultCenter {
		t.Fatalf("self marker should sit at default center, got %+v", s.Self)
	}

	s.UpdateSelf(models.Coord{Lat: 55.76, Lon: 37.62})
	if s.Center != s.Self || s.Zoom != FollowZoom {
		t.Fatalf("camera should follow self marker, center=%+v zoom=%d", s.Center, s.Zoom)
	}
}

func TestReplaceOrderMarkersIsWholesale(t *testing.T) {
	s := New()
	s.SetReady()

	s.ReplaceOrderMarkers([]models.Order{
		{ID: 1, PickupLat: 55.75, PickupLon: 37.61, PickupAddress: "a"},
		{ID: 2}, // no coordinates, skipped
		{ID: 3, PickupLat: 55.76, PickupLon: 37.62, PickupAddress: "b"},
	})
	if len(s.OrderMarkers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(s.OrderMarkers))
	}

	s.ReplaceOrderMarkers([]models.Order{
		{ID: 9, PickupLat: 55.70, PickupLon: 37.60},
	})
	if len(s.OrderMarkers) != 1 || s.OrderMarkers[0].OrderID != 9 {
		t.Fatalf("old markers should be gone, got %+v", s.OrderMarkers)
	}
}

func TestTrafficToggle(t *testing.T) {
	s := New()
	s.SetReady()
	if !s.ToggleTraffic() {
		t.Fatal("expected traffic on")
	}
	if s.ToggleTraffic() {
		t.Fatal("expected traffic off")
	}
}
