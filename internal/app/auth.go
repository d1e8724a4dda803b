package app

import (
	"errors"
	"strings"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/storage"
)

// Login enqueues an authentication attempt.
func (a *App) Login(phone, password string) { a.do(func() { a.login(phone, password) }) }

// Logout ends the session and returns to the login screen.
func (a *App) Logout() { a.do(func() { a.logout() }) }

// OpenRegistration switches to the registration wizard.
func (a *App) OpenRegistration() { a.do(func() { a.showScreen(ScreenRegistration) }) }

// OpenProfile switches to the profile screen.
func (a *App) OpenProfile() { a.do(func() { a.showScreen(ScreenProfile) }) }

// SetTab selects a main-screen tab.
func (a *App) SetTab(t Tab) { a.do(func() { a.tab = t }) }

// boot restores a persisted session: validate the stored token remotely,
// load profile and stats, and land on the main screen. Anything else falls
// through to login.
func (a *App) boot() {
	a.screen = ScreenLoading

	creds, err := a.creds.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrNoCredentials) {
			a.log.Warn("credential restore failed", "error", err)
		}
		a.showScreen(ScreenLogin)
		return
	}

	a.backend.SetToken(creds.Token)
	ctx, cancel := a.callCtx()
	defer cancel()
	driver, err := a.backend.Me(ctx)
	if err != nil {
		var apiErr *api.APIError
		if errors.As(err, &apiErr) {
			// stale token, drop it
			_ = a.creds.Clear()
		} else {
			a.notices.Push(notify.KindError, "Offline", "Could not reach the server, please log in")
		}
		a.backend.SetToken("")
		a.showScreen(ScreenLogin)
		return
	}

	a.authenticated = true
	a.driver = driver
	if a.driver.ID == 0 {
		a.driver.ID = creds.DriverID
	}
	a.loadDriverData()
	a.enterMain()
}

func (a *App) login(phone, password string) error {
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(password) == "" {
		a.notices.Push(notify.KindError, "Error", "Fill in phone and password")
		return validationErr("phone and password are required")
	}

	ctx, cancel := a.callCtx()
	defer cancel()
	res, err := a.backend.Login(ctx, phone, password)
	if err != nil {
		a.notices.Push(notify.KindError, "Login failed", errText(err))
		return err
	}

	a.backend.SetToken(res.Token)
	if err := a.creds.Save(storage.Credentials{Token: res.Token, DriverID: res.DriverID}); err != nil {
		a.log.Warn("credential save failed", "error", err)
	}

	a.authenticated = true
	a.driver = res.Driver
	if a.driver.ID == 0 {
		a.driver.ID = res.DriverID
	}
	a.balance = res.Balance

	a.notices.Push(notify.KindSuccess, "Welcome", "Signed in")
	a.enterMain()
	return nil
}

func (a *App) logout() {
	if err := a.creds.Clear(); err != nil {
		a.log.Warn("credential clear failed", "error", err)
	}
	a.backend.SetToken("")

	a.stopBackground()

	a.authenticated = false
	a.driver = models.Driver{}
	a.balance = 0
	a.setStatus(models.StatusOffline)
	a.onlineSeconds = 0
	a.offer = nil
	a.offerCountdown = 0
	a.ride = nil
	a.finalizeIn = 0
	a.nearby = nil
	a.channelDown = false

	a.showScreen(ScreenLogin)
	a.notices.Push(notify.KindInfo, "Signed out", "See you next shift")
}

// loadDriverData fetches profile and stats; each piece is best effort.
func (a *App) loadDriverData() {
	ctx, cancel := a.callCtx()
	defer cancel()

	if profile, err := a.backend.Profile(ctx, a.driver.ID); err == nil && profile.ID != 0 {
		a.driver = profile
	}
	if stats, err := a.backend.Stats(ctx, a.driver.ID); err == nil {
		a.stats = stats
	}
	if today, err := a.backend.TodayStats(ctx, a.driver.ID); err == nil {
		a.today = today
	}
}

func (a *App) enterMain() {
	a.showScreen(ScreenMain)
	a.mapState.SetReady()
	a.startBackground()
}

func (a *App) showScreen(s Screen) { a.screen = s }
