package app

import (
	"fmt"

	"github.com/example/driver-agent/internal/channel"
	"github.com/example/driver-agent/internal/mapview"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/observability"
)

// AcceptOrder accepts the pending offer.
func (a *App) AcceptOrder() { a.do(func() { a.acceptOrder() }) }

// DeclineOrder declines the pending offer.
func (a *App) DeclineOrder() { a.do(func() { a.declineOrder() }) }

// ArriveAtPickup advances the ride from stage 1 to 2.
func (a *App) ArriveAtPickup() { a.do(func() { a.arriveAtPickup() }) }

// StartRide advances the ride from stage 2 to 3.
func (a *App) StartRide() { a.do(func() { a.startRide() }) }

// CompleteRide advances the ride from stage 3 to 4 and schedules payout.
func (a *App) CompleteRide() { a.do(func() { a.completeRide() }) }

// CallPassenger surfaces the passenger phone for the active ride.
func (a *App) CallPassenger() { a.do(func() { a.callPassenger() }) }

// handleNewOrder installs a pushed offer. The idle guard keeps at most one
// pending offer: a second push while one is outstanding is ignored.
func (a *App) handleNewOrder(ev channel.NewOrder) {
	if a.status != models.StatusOnline || a.ride != nil || a.offer != nil {
		observability.OffersTotal.WithLabelValues("ignored").Inc()
		a.log.Info("offer ignored", "order_id", ev.Order.ID, "status", a.status)
		return
	}

	order := ev.Order
	a.offer = &order
	a.offerCountdown = ev.TimeoutSec
	if a.offerCountdown <= 0 {
		a.offerCountdown = a.cfg.OfferTimeoutSec
	}
	a.notices.Push(notify.KindWarning, "New order!",
		fmt.Sprintf("You have %d seconds to accept", a.offerCountdown))
}

func (a *App) acceptOrder() error {
	if a.offer == nil {
		return validationErr("no pending offer")
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.AcceptOrder(ctx, a.driver.ID, a.offer.ID); err != nil {
		// the offer stays pending; the countdown keeps running
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	// offer cleared atomically with ride creation
	order := *a.offer
	a.offer = nil
	a.offerCountdown = 0
	a.ride = &ActiveRide{Order: order, Stage: models.StageToPickup}
	a.setStatus(models.StatusBusy)

	observability.OffersTotal.WithLabelValues("accepted").Inc()
	a.notices.Push(notify.KindSuccess, "Accepted", fmt.Sprintf("Order #%d is yours", order.ID))
	a.mapState.RequestRoute(mapview.RouteToPickup, order.Pickup())
	return nil
}

func (a *App) declineOrder() {
	if a.offer == nil {
		return
	}
	id := a.offer.ID
	a.offer = nil
	a.offerCountdown = 0
	observability.OffersTotal.WithLabelValues("declined").Inc()
	a.notices.Push(notify.KindInfo, "Declined", fmt.Sprintf("You declined order #%d", id))
}

func (a *App) expireOffer() {
	if a.offer == nil {
		return
	}
	id := a.offer.ID
	a.offer = nil
	a.offerCountdown = 0
	observability.OffersTotal.WithLabelValues("expired").Inc()
	a.notices.Push(notify.KindInfo, "Expired", fmt.Sprintf("Order #%d timed out", id))
}

// Ride stages are one-directional; each transition is a guarded no-op
// outside its source stage, so stages can never be skipped.

func (a *App) arriveAtPickup() {
	if a.ride == nil || a.ride.Stage != models.StageToPickup {
		return
	}
	a.ride.Stage = models.StageAboard
	a.notices.Push(notify.KindInfo, "Arrived", "Waiting for the passenger")
}

func (a *App) startRide() {
	if a.ride == nil || a.ride.Stage != models.StageAboard {
		return
	}
	a.ride.Stage = models.StageToDestination
	a.notices.Push(notify.KindInfo, "Started", "Heading to the destination")
	a.mapState.RequestRoute(mapview.RouteToDestination, a.ride.Order.Destination())
}

func (a *App) completeRide() {
	if a.ride == nil || a.ride.Stage != models.StageToDestination {
		return
	}
	a.ride.Stage = models.StageCompleted
	a.notices.Push(notify.KindSuccess, "Completed", "Waiting for payment")
	a.finalizeIn = a.cfg.RideFinalizeDelaySec
	if a.finalizeIn <= 0 {
		a.finalizeRide()
	}
}

// finalizeRide credits the payout and resets to online. The credit happens
// before the ride is cleared; the authoritative balance still lives on the
// server and today's stats are refreshed right after.
func (a *App) finalizeRide() {
	if a.ride == nil {
		return
	}
	earnings := a.ride.Order.Price * (1 - a.cfg.CommissionRate)
	a.balance += earnings

	a.ride = nil
	a.finalizeIn = 0
	a.setStatus(models.StatusOnline)

	observability.RidesCompleted.Inc()
	a.notices.Push(notify.KindSuccess, "Paid", fmt.Sprintf("%s credited to your balance", FormatBalance(earnings)))

	ctx, cancel := a.callCtx()
	defer cancel()
	if today, err := a.backend.TodayStats(ctx, a.driver.ID); err == nil {
		a.today = today
	}
}

// forceFinishRide ends the ride without payout (passenger cancelled).
func (a *App) forceFinishRide() {
	if a.ride == nil {
		return
	}
	a.ride = nil
	a.finalizeIn = 0
	a.setStatus(models.StatusOnline)
}

func (a *App) handleOrderUpdate(ev channel.OrderUpdate) {
	if a.ride == nil || a.ride.Order.ID != ev.OrderID {
		return
	}
	switch ev.Status {
	case "cancelled":
		a.notices.Push(notify.KindInfo, "Cancelled", "The passenger cancelled the order")
		a.forceFinishRide()
	case "completed":
		a.notices.Push(notify.KindSuccess, "Confirmed", "The passenger confirmed the ride")
	default:
		a.ride.Order.Status = ev.Status
	}
}

func (a *App) callPassenger() {
	if a.ride == nil || a.ride.Order.PassengerPhone == "" {
		a.notices.Push(notify.KindInfo, "Call", "Passenger phone not provided")
		return
	}
	a.notices.Push(notify.KindInfo, "Call", "Calling "+a.ride.Order.PassengerPhone)
}
