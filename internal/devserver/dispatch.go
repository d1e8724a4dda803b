package devserver

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/models"
)

// newOrderFrame is the push the dispatcher sends over the message channel
// when it offers an order to a driver.
type newOrderFrame struct {
	Type    string       `json:"type"`
	Order   models.Order `json:"order"`
	Timeout int          `json:"timeout"`
}

type orderUpdateFrame struct {
	Type    string `json:"type"`
	OrderID int64  `json:"order_id"`
	Status  string `json:"status"`
}

// dispatchOrder offers a newly created order to nearby online drivers, one
// at a time, widening the radius when nobody is in range. Gives up after
// MaxSearchTime and marks the order cancelled.
func (s *Server) dispatchOrder(ctx context.Context, order models.Order) {
	log := s.log.With("order_id", order.ID, "dispatch_id", uuid.NewString())

	order.Status = "searching_driver"
	if err := s.orders.UpdateOrder(&order, 0); err != nil {
		log.Error("dispatch abort", "error", err)
		return
	}
	log.Info("driver search started", "radius_km", s.cfg.SearchRadiusKm)

	deadline := time.Now().Add(s.cfg.MaxSearchTime)
	offered := make(map[int64]bool)
	radius := s.cfg.SearchRadiusKm
	timeout := int(s.cfg.DriverResponseTimeout / time.Second)

	for {
		current, driverID, err := s.orders.GetOrder(order.ID)
		if err != nil {
			log.Error("dispatch abort", "error", err)
			return
		}
		if driverID != 0 {
			log.Info("driver search finished", "driver_id", driverID)
			return
		}
		if current.Status != "searching_driver" {
			log.Info("driver search stopped", "status", current.Status)
			return
		}
		if time.Now().After(deadline) {
			current.Status = "cancelled"
			if err := s.orders.UpdateOrder(&current, 0); err != nil {
				log.Error("cancel after timeout failed", "error", err)
			}
			log.Warn("driver search exhausted")
			return
		}

		if id, ok := s.pickCandidate(ctx, order.Pickup(), radius, offered); ok {
			offered[id] = true
			offersPushed.Inc()
			s.registry.sendTo(id, newOrderFrame{Type: "new_order", Order: current, Timeout: timeout})
			log.Info("order offered", "driver_id", id)
		} else {
			radius *= 1.5
			log.Info("no candidates, widening search", "radius_km", radius)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.DriverResponseTimeout):
		}
	}
}

// pickCandidate returns the nearest online, connected driver within radius
// that has not been offered this order yet.
func (s *Server) pickCandidate(ctx context.Context, pickup models.Coord, radiusKm float64, offered map[int64]bool) (int64, bool) {
	ids, err := s.geo.Nearby(ctx, pickup, radiusKm)
	if err != nil {
		s.log.Warn("geo lookup failed", "error", err)
		return 0, false
	}

	type candidate struct {
		id   int64
		dist float64
	}
	var candidates []candidate
	for _, id := range ids {
		if offered[id] {
			continue
		}
		d, ok := s.drivers.Get(id)
		if !ok || d.Status != models.StatusOnline {
			continue
		}
		if !s.registry.connected(id) {
			continue
		}
		pos, ok := s.lastPosition(id)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{id: id, dist: geo.DistanceKm(pickup, pos)})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	return candidates[0].id, true
}
