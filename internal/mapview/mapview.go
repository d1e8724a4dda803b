package mapview

import "github.com/example/driver-agent/internal/models"

// Default camera: Moscow city center.
var DefaultCenter = models.Coord{Lat: 55.7558, Lon: 37.6176}

const (
	DefaultZoom = 12
	FollowZoom  = 15
)

// Marker is one pickup pin on the map.
type Marker struct {
	OrderID int64
	Pos     models.Coord
	Label   string
}

// RoutePurpose says where an active route is headed.
type RoutePurpose string

const (
	RouteToPickup      RoutePurpose = "pickup"
	RouteToDestination RoutePurpose = "destination"
)

type Route struct {
	Purpose RoutePurpose
	To      models.Coord
}

// State is the declarative map view: what the renderer should show, not how.
// The provider signals readiness before any geometry is accepted; updates
// arriving earlier are dropped.
type State struct {
	ready bool

	Center models.Coord
	Zoom   int

	Self    models.Coord
	HasSelf bool

	OrderMarkers []Marker
	Traffic      bool
	Route        *Route
}

func New() *State {
	return &State{Center: DefaultCenter, Zoom: DefaultZoom}
}

// SetReady marks the map provider as initialized and places the self marker
// at the default center.
func (s *State) SetReady() {
	s.ready = true
	s.Self = s.Center
	s.HasSelf = true
}

func (s *State) Ready() bool { return s.ready }

// UpdateSelf moves the self marker and follows it with the camera.
func (s *State) UpdateSelf(pos models.Coord) {
	if !s.ready {
		return
	}
	s.Self = pos
	s.HasSelf = true
	s.Center = pos
	s.Zoom = FollowZoom
}

// CenterOn recenters the camera without touching the self marker.
func (s *State) CenterOn(pos models.Coord) {
	if !s.ready {
		return
	}
	s.Center = pos
	s.Zoom = FollowZoom
}

// ReplaceOrderMarkers swaps the whole marker set for the given orders.
// Orders without pickup coordinates are skipped.
func (s *State) ReplaceOrderMarkers(orders []models.Order) {
	if !s.ready {
		return
	}
	s.OrderMarkers = s.OrderMarkers[:0]
	for _, o := range orders {
		if o.PickupLat == 0 && o.PickupLon == 0 {
			continue
		}
		s.OrderMarkers = append(s.OrderMarkers, Marker{
			OrderID: o.ID,
			Pos:     o.Pickup(),
			Label:   o.PickupAddress,
		})
	}
}

// ToggleTraffic flips the traffic overlay and returns the new state.
func (s *State) ToggleTraffic() bool {
	if !s.ready {
		return false
	}
	s.Traffic = !s.Traffic
	return s.Traffic
}

func (s *State) RequestRoute(purpose RoutePurpose, to models.Coord) {
	if !s.ready {
		return
	}
	s.Route = &Route{Purpose: purpose, To: to}
}

func (s *State) ClearRoute() { s.Route = nil }
