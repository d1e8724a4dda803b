package app

import (
	"errors"
	"testing"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/channel"
	"github.com/example/driver-agent/internal/mapview"
	"github.com/example/driver-agent/internal/models"
)

func offerFor(id int64, price float64) channel.NewOrder {
	return channel.NewOrder{
		Order: models.Order{
			ID: id, Price: price,
			PickupLat: 55.75, PickupLon: 37.61,
			DestinationLat: 55.76, DestinationLon: 37.62,
		},
		TimeoutSec: 30,
	}
}

func TestOfferCountdownAutoDeclinesAtThirtiethSecond(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.handleNewOrder(offerFor(7, 250))
	if a.offer == nil || a.offer.ID != 7 || a.offerCountdown != 30 {
		t.Fatalf("offer not installed: %+v countdown=%d", a.offer, a.offerCountdown)
	}

	for i := 0; i < 29; i++ {
		a.onTick()
	}
	if a.offer == nil {
		t.Fatal("offer expired too early")
	}
	a.onTick() // 30th second
	if a.offer != nil {
		t.Fatal("offer should auto-decline exactly at the 30th second")
	}
}

func TestCountdownNeverFiresAfterAcceptOrDecline(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.handleNewOrder(offerFor(7, 250))
	a.declineOrder()
	if a.offer != nil || a.offerCountdown != 0 {
		t.Fatalf("decline should clear offer and countdown: %+v %d", a.offer, a.offerCountdown)
	}
	for i := 0; i < 40; i++ {
		a.onTick()
	}
	if a.offer != nil || a.ride != nil {
		t.Fatal("stale countdown must not resurrect anything")
	}

	a.handleNewOrder(offerFor(8, 300))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 40; i++ {
		a.onTick()
	}
	if a.ride == nil {
		t.Fatal("ride must survive ticks after accept")
	}
}

func TestSecondOfferIgnoredWhilePending(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.handleNewOrder(offerFor(7, 250))
	a.handleNewOrder(offerFor(8, 999))
	if a.offer == nil || a.offer.ID != 7 {
		t.Fatalf("original offer must be retained, got %+v", a.offer)
	}
}

func TestOfferRequiresOnlineAndNoRide(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.setStatus(models.StatusOffline)
	a.handleNewOrder(offerFor(7, 250))
	if a.offer != nil {
		t.Fatal("offline driver must not receive offers")
	}

	a.setStatus(models.StatusOnline)
	a.ride = &ActiveRide{Order: models.Order{ID: 1}, Stage: models.StageToPickup}
	a.handleNewOrder(offerFor(7, 250))
	if a.offer != nil {
		t.Fatal("driver with an active ride must not receive offers")
	}
}

func TestAcceptConvertsOfferToRideAtomically(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}
	if a.offer != nil || a.offerCountdown != 0 {
		t.Fatal("offer must be cleared atomically with ride creation")
	}
	if a.ride == nil || a.ride.Order.ID != 7 || a.ride.Stage != models.StageToPickup {
		t.Fatalf("ride not created: %+v", a.ride)
	}
	if a.status != models.StatusBusy {
		t.Fatalf("status = %v, want busy", a.status)
	}
	if a.mapState.Route == nil || a.mapState.Route.Purpose != mapview.RouteToPickup {
		t.Fatalf("route to pickup should be requested, got %+v", a.mapState.Route)
	}
}

func TestAcceptWithoutOfferIsValidationError(t *testing.T) {
	backend := &fakeBackend{}
	a := authedApp(t, backend)

	err := a.acceptOrder()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if backend.count("accept") != 0 {
		t.Fatal("no request may be sent without an offer")
	}
}

func TestAcceptFailureKeepsOfferPending(t *testing.T) {
	backend := &fakeBackend{acceptErr: &api.APIError{Op: "accept", Message: "order already taken"}}
	a := authedApp(t, backend)

	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err == nil {
		t.Fatal("expected error")
	}
	if a.offer == nil || a.ride != nil || a.status != models.StatusOnline {
		t.Fatalf("failed accept must not mutate state: offer=%+v ride=%+v status=%v", a.offer, a.ride, a.status)
	}
}

func TestRideStagesAreMonotonic(t *testing.T) {
	a := authedApp(t, &fakeBackend{})
	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}

	// out-of-order transitions are no-ops
	a.startRide()
	a.completeRide()
	if a.ride.Stage != models.StageToPickup {
		t.Fatalf("stage = %v, want to_pickup", a.ride.Stage)
	}

	a.arriveAtPickup()
	if a.ride.Stage != models.StageAboard {
		t.Fatalf("stage = %v, want aboard", a.ride.Stage)
	}
	a.arriveAtPickup() // repeat is a no-op
	a.completeRide()
	if a.ride.Stage != models.StageAboard {
		t.Fatalf("stage skipped: %v", a.ride.Stage)
	}

	a.startRide()
	if a.ride.Stage != models.StageToDestination {
		t.Fatalf("stage = %v, want to_destination", a.ride.Stage)
	}
	if a.mapState.Route == nil || a.mapState.Route.Purpose != mapview.RouteToDestination {
		t.Fatalf("route to destination should be requested, got %+v", a.mapState.Route)
	}

	a.completeRide()
	if a.ride.Stage != models.StageCompleted {
		t.Fatalf("stage = %v, want completed", a.ride.Stage)
	}
}

func TestFinalizeCreditsEightyPercentBeforeClearing(t *testing.T) {
	a := authedApp(t, &fakeBackend{})
	a.balance = 100

	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}
	a.arriveAtPickup()
	a.startRide()
	a.completeRide()

	if a.finalizeIn != 2 {
		t.Fatalf("finalization should be scheduled 2s out, got %d", a.finalizeIn)
	}
	a.onTick()
	if a.ride == nil {
		t.Fatal("finalized one tick early")
	}
	a.onTick()

	if a.ride != nil {
		t.Fatal("ride must be cleared on finalize")
	}
	if a.status != models.StatusOnline {
		t.Fatalf("status = %v, want online", a.status)
	}
	if want := 100 + 250*0.8; a.balance != want {
		t.Fatalf("balance = %v, want %v", a.balance, want)
	}
}

func TestCancelledPushForceFinishesWithoutPayout(t *testing.T) {
	a := authedApp(t, &fakeBackend{})
	a.balance = 100

	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}
	a.arriveAtPickup()

	// update for some other order is ignored
	a.handleOrderUpdate(channel.OrderUpdate{OrderID: 99, Status: "cancelled"})
	if a.ride == nil {
		t.Fatal("mismatched order id must be ignored")
	}

	a.handleOrderUpdate(channel.OrderUpdate{OrderID: 7, Status: "cancelled"})
	if a.ride != nil {
		t.Fatal("cancel push must force-finish the ride")
	}
	if a.status != models.StatusOnline {
		t.Fatalf("status = %v, want online", a.status)
	}
	if a.balance != 100 {
		t.Fatalf("cancelled ride must not be paid, balance = %v", a.balance)
	}
}

func TestCompletedPushIsAcknowledgedOnly(t *testing.T) {
	a := authedApp(t, &fakeBackend{})
	a.handleNewOrder(offerFor(7, 250))
	if err := a.acceptOrder(); err != nil {
		t.Fatal(err)
	}
	a.arriveAtPickup()
	a.startRide()

	a.handleOrderUpdate(channel.OrderUpdate{OrderID: 7, Status: "completed"})
	if a.ride == nil || a.ride.Stage != models.StageToDestination {
		t.Fatalf("completed push must not advance the ride: %+v", a.ride)
	}
}

func TestChannelDownSurfacesDegradedState(t *testing.T) {
	a := authedApp(t, &fakeBackend{})

	a.handleChannelEvent(channel.Down{Attempts: 10})
	if !a.channelDown {
		t.Fatal("degraded state must be surfaced")
	}
	if got := a.statusText(); got != "Online (connection lost)" {
		t.Fatalf("status text = %q", got)
	}

	a.handleChannelEvent(channel.Connected{})
	if a.channelDown {
		t.Fatal("reconnect should clear the degraded flag")
	}
}
