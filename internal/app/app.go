package app

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/channel"
	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/mapview"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/notify"
	"github.com/example/driver-agent/internal/storage"
)

// Screen is the declarative route state: exactly one screen is active.
type Screen string

const (
	ScreenLoading      Screen = "loading"
	ScreenLogin        Screen = "login"
	ScreenRegistration Screen = "registration"
	ScreenMain         Screen = "main"
	ScreenProfile      Screen = "profile"
)

// Tab is the bottom-bar selection on the main screen.
type Tab string

const (
	TabHome     Tab = "home"
	TabOrders   Tab = "orders"
	TabBalance  Tab = "balance"
	TabStats    Tab = "stats"
	TabSettings Tab = "settings"
)

// Backend is the slice of the REST API the view-model uses.
type Backend interface {
	SetToken(token string)
	Login(ctx context.Context, phone, password string) (api.LoginResult, error)
	Me(ctx context.Context) (models.Driver, error)
	Register(ctx context.Context, draft *models.RegistrationDraft) error
	SetStatus(ctx context.Context, driverID int64, status models.DriverStatus) error
	NearbyOrders(ctx context.Context, pos models.Coord, radiusKm float64) ([]models.Order, error)
	AcceptOrder(ctx context.Context, driverID, orderID int64) error
	PushLocation(ctx context.Context, driverID int64, pos geo.Position) error
	ReportProblem(ctx context.Context, report models.ProblemReport) error
	Profile(ctx context.Context, driverID int64) (models.Driver, error)
	Stats(ctx context.Context, driverID int64) (models.DriverStats, error)
	TodayStats(ctx context.Context, driverID int64) (models.TodayStats, error)
}

// CredentialStore persists the session token between runs.
type CredentialStore interface {
	Load() (storage.Credentials, error)
	Save(storage.Credentials) error
	Clear() error
}

// ActiveRide is the accepted order plus its progress marker. At most one
// exists at a time; it is owned by the current session.
type ActiveRide struct {
	Order   models.Order
	Stage   models.RideStage
	Seconds int
}

// channelFactory opens the message channel for a driver and returns its
// event stream. Swapped out in tests.
type channelFactory func(ctx context.Context, driverID int64, status func() models.DriverStatus) <-chan channel.Event

// App is the single owned state aggregate behind the driver UI: session,
// availability, offer and ride state machines, notifications, map view.
// All mutation happens on the Run goroutine; the exported command methods
// enqueue work onto it.
type App struct {
	cfg     config.AgentConfig
	log     *slog.Logger
	backend Backend
	creds   CredentialStore
	source  geo.Source

	newChannel channelFactory

	ctx        context.Context
	commands   chan func()
	chanEvents <-chan channel.Event
	positions  <-chan geo.Position
	stopBg     context.CancelFunc

	screen Screen
	tab    Tab

	notices  *notify.Center
	mapState *mapview.State

	authenticated bool
	driver        models.Driver
	stats         models.DriverStats
	today         models.TodayStats
	balance       float64

	status        models.DriverStatus
	presence      atomic.Value // models.DriverStatus, read by the channel goroutine
	onlineSeconds int
	channelDown   bool

	nearby []models.Order

	offer          *models.Order
	offerCountdown int

	ride       *ActiveRide
	finalizeIn int

	draft   *models.RegistrationDraft
	regStep int

	problemTypes    []models.ProblemType
	selectedProblem *models.ProblemType
	problemText     string

	pushGate *geo.Throttle
	lastPos  *geo.Position
}

func New(cfg config.AgentConfig, log *slog.Logger, backend Backend, creds CredentialStore, source geo.Source) *App {
	a := &App{
		cfg:      cfg,
		log:      log,
		backend:  backend,
		creds:    creds,
		source:   source,
		ctx:      context.Background(),
		commands: make(chan func(), 32),
		screen:   ScreenLoading,
		tab:      TabHome,
		notices:  notify.NewCenter(cfg.NotificationTTL, cfg.NotificationCap),
		mapState: mapview.New(),
		status:   models.StatusOffline,
		draft:    models.NewRegistrationDraft(),
		regStep:  1,
		problemTypes: []models.ProblemType{
			{ID: 1, Name: "Problem with the passenger"},
			{ID: 2, Name: "Vehicle problem"},
			{ID: 3, Name: "Traffic accident"},
			{ID: 4, Name: "Payment problem"},
			{ID: 5, Name: "Other"},
		},
		pushGate: geo.NewThrottle(cfg.LocationMinPush),
	}
	a.presence.Store(models.StatusOffline)
	a.newChannel = func(ctx context.Context, driverID int64, status func() models.DriverStatus) <-chan channel.Event {
		cl := channel.New(channel.Config{
			BaseURL:     cfg.WSBaseURL,
			DriverID:    driverID,
			Status:      status,
			Backoff:     channel.NewBackoff(cfg.ReconnectBase, cfg.ReconnectMax),
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Log:         log,
		})
		go cl.Run(ctx)
		return cl.Events()
	}
	return a
}

// Run processes all events on one goroutine: commands, channel frames,
// position fixes and the shared 1 Hz tick. Every handler runs to completion
// before the next event, so state needs no locks.
func (a *App) Run(ctx context.Context) error {
	a.ctx = ctx
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	a.boot()

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return ctx.Err()
		case fn := <-a.commands:
			fn()
		case ev, ok := <-a.chanEvents:
			if !ok {
				a.chanEvents = nil
				continue
			}
			a.handleChannelEvent(ev)
		case pos, ok := <-a.positions:
			if !ok {
				a.positions = nil
				continue
			}
			a.handlePosition(pos)
		case <-ticker.C:
			a.onTick()
		}
	}
}

func (a *App) do(fn func()) {
	select {
	case a.commands <- fn:
	case <-a.ctx.Done():
	}
}

// onTick advances every per-second counter. Timers are plain countdowns on
// the shared tick, so only one live instance per kind can exist.
func (a *App) onTick() {
	a.notices.Tick()

	if a.status != models.StatusOffline {
		a.onlineSeconds++
	}
	if a.ride != nil {
		a.ride.Seconds++
	}

	if a.offer != nil {
		a.offerCountdown--
		if a.offerCountdown <= 0 {
			a.expireOffer()
		}
	}

	if a.finalizeIn > 0 {
		a.finalizeIn--
		if a.finalizeIn == 0 {
			a.finalizeRide()
		}
	}
}

func (a *App) handleChannelEvent(ev channel.Event) {
	switch e := ev.(type) {
	case channel.Connected:
		a.channelDown = false
		a.log.Info("message channel up")
	case channel.Disconnected:
		a.log.Warn("message channel dropped", "error", e.Err)
	case channel.Down:
		a.channelDown = true
		a.notices.Push(notify.KindError, "Connection lost",
			"Could not reach the dispatch server. New orders will not arrive.")
	case channel.NewOrder:
		a.handleNewOrder(e)
	case channel.OrderUpdate:
		a.handleOrderUpdate(e)
	case channel.DriverStatusUpdate:
		a.notices.Push(notify.KindInfo, "Status", "Dispatcher set your status to "+string(e.Status))
	case channel.ChatMessage:
		a.notices.Push(notify.KindInfo, "Message", e.Text)
	}
}

func (a *App) handlePosition(pos geo.Position) {
	a.lastPos = &pos
	a.mapState.UpdateSelf(pos.Coord)

	// pushes are suppressed entirely while offline and throttled otherwise
	if a.status == models.StatusOffline || a.driver.ID == 0 {
		return
	}
	if !a.pushGate.Allow() {
		return
	}
	ctx, cancel := a.callCtx()
	defer cancel()
	if err := a.backend.PushLocation(ctx, a.driver.ID, pos); err != nil {
		a.log.Warn("location push failed", "error", err)
	}
}

func (a *App) startBackground() {
	if a.stopBg != nil {
		return
	}
	bg, cancel := context.WithCancel(a.ctx)
	a.stopBg = cancel

	if a.newChannel != nil {
		a.chanEvents = a.newChannel(bg, a.driver.ID, func() models.DriverStatus {
			s, _ := a.presence.Load().(models.DriverStatus)
			return s
		})
	}
	if a.source != nil {
		if ch, err := a.source.Watch(bg); err == nil {
			a.positions = ch
		} else {
			a.log.Warn("position watch unavailable", "error", err)
			a.notices.Push(notify.KindWarning, "Location", "Allow location access to receive orders")
		}
	}
}

func (a *App) stopBackground() {
	if a.stopBg != nil {
		a.stopBg()
		a.stopBg = nil
	}
	a.chanEvents = nil
	a.positions = nil
}

func (a *App) teardown() {
	a.stopBackground()
}

func (a *App) setStatus(s models.DriverStatus) {
	a.status = s
	a.presence.Store(s)
}

func (a *App) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(a.ctx, a.cfg.HTTPTimeout)
}

func errText(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Msg
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var trErr *api.TransportError
	if errors.As(err, &trErr) {
		return "Could not reach the server"
	}
	return err.Error()
}

// Snapshot is a copy of the user-visible state, safe to read from any
// goroutine.
type Snapshot struct {
	Screen        Screen
	Tab           Tab
	Authenticated bool
	Driver        models.Driver
	Balance       float64
	Status        models.DriverStatus
	StatusText    string
	OnlineSeconds int
	ChannelDown   bool
	Nearby        []models.Order
	Offer         *models.Order
	OfferSecsLeft int
	Ride          *ActiveRide
	Today         models.TodayStats
	Notifications []notify.Notification
}

func (a *App) Snapshot() Snapshot {
	resp := make(chan Snapshot, 1)
	a.do(func() { resp <- a.snapshot() })
	select {
	case s := <-resp:
		return s
	case <-a.ctx.Done():
		return Snapshot{}
	}
}

func (a *App) snapshot() Snapshot {
	s := Snapshot{
		Screen:        a.screen,
		Tab:           a.tab,
		Authenticated: a.authenticated,
		Driver:        a.driver,
		Balance:       a.balance,
		Status:        a.status,
		StatusText:    a.statusText(),
		OnlineSeconds: a.onlineSeconds,
		ChannelDown:   a.channelDown,
		Nearby:        append([]models.Order(nil), a.nearby...),
		Today:         a.today,
		Notifications: a.notices.Active(),
	}
	if a.offer != nil {
		o := *a.offer
		s.Offer = &o
		s.OfferSecsLeft = a.offerCountdown
	}
	if a.ride != nil {
		r := *a.ride
		s.Ride = &r
	}
	return s
}

func (a *App) statusText() string {
	var t string
	switch a.status {
	case models.StatusOnline:
		t = "Online"
	case models.StatusBusy:
		t = "On a ride"
	default:
		t = "Off duty"
	}
	if a.channelDown && a.status != models.StatusOffline {
		t += " (connection lost)"
	}
	return t
}
