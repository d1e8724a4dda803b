package app

import (
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
)

// GoOnline asks the backend to put the driver on the line.
func (a *App) GoOnline() { a.do(func() { a.goOnline() }) }

// GoOffline takes the driver off the line.
func (a *App) GoOffline() { a.do(func() { a.goOffline() }) }

// RefreshNearbyOrders reloads the nearby order list while online.
func (a *App) RefreshNearbyOrders() { a.do(func() { a.refreshNearbyOrders() }) }

// CenterOnMe recenters the map camera on a fresh position reading.
func (a *App) CenterOnMe() { a.do(func() { a.centerOnMe() }) }

// ToggleTraffic flips the traffic overlay.
func (a *App) ToggleTraffic() { a.do(func() { a.toggleTraffic() }) }

// goOnline flips status only after server confirmation. A failed request
// leaves the driver offline and says so; no local simulation of success.
func (a *App) goOnline() error {
	if a.status != models.StatusOffline {
		return nil
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.SetStatus(ctx, a.driver.ID, models.StatusOnline); err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	a.setStatus(models.StatusOnline)
	a.onlineSeconds = 0
	a.notices.Push(notify.KindSuccess, "On the line", "You are now receiving orders")

	// one-shot permission probe, mirrors the position onto the map
	a.probeLocation()
	a.refreshNearbyOrders()
	return nil
}

func (a *App) goOffline() error {
	if a.status != models.StatusOnline {
		return nil
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.SetStatus(ctx, a.driver.ID, models.StatusOffline); err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	a.setStatus(models.StatusOffline)
	a.notices.Push(notify.KindSuccess, "Off the line", "You will not receive orders")
	return nil
}

func (a *App) probeLocation() {
	if a.source == nil {
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	pos, err := a.source.Current(ctx)
	if err != nil {
		a.notices.Push(notify.KindWarning, "Location", "Allow location access to receive orders")
		return
	}
	a.handlePosition(pos)
}

func (a *App) refreshNearbyOrders() error {
	if a.status != models.StatusOnline {
		return nil
	}

	pos, ok := a.currentCoord()
	if !ok {
		a.notices.Push(notify.KindWarning, "Location", "No position fix yet")
		return nil
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	orders, err := a.backend.NearbyOrders(ctx, pos, a.cfg.NearbyRadiusKm)
	if err != nil {
		a.notices.Push(notify.KindError, "Error", errText(err))
		return err
	}

	a.nearby = orders
	a.mapState.ReplaceOrderMarkers(orders)
	return nil
}

func (a *App) centerOnMe() {
	if a.source == nil {
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	pos, err := a.source.Current(ctx)
	if err != nil {
		a.notices.Push(notify.KindWarning, "Location", "Could not read your position")
		return
	}
	a.mapState.CenterOn(pos.Coord)
}

func (a *App) toggleTraffic() {
	if a.mapState.ToggleTraffic() {
		a.notices.Push(notify.KindInfo, "Traffic", "Traffic layer on")
	} else {
		a.notices.Push(notify.KindInfo, "Traffic", "Traffic layer off")
	}
}

func (a *App) currentCoord() (models.Coord, bool) {
	if a.lastPos != nil {
		return a.lastPos.Coord, true
	}
	if a.source != nil {
		ctx, cancel := a.callCtx()
		defer cancel()
		if pos, err := a.source.Current(ctx); err == nil {
			return pos.Coord, true
		}
	}
	return models.Coord{}, false
}
