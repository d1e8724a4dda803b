package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/models"
	"github.com/example/driver-agent/internal/storage"
)

// fakeBackend records every call and serves canned responses.
type fakeBackend struct {
	calls []string

	token string

	loginRes api.LoginResult
	loginErr error

	meDriver models.Driver
	meErr    error

	registerErr error
	statusErr   error
	acceptErr   error
	nearbyRes   []models.Order
	nearbyErr   error
	problemErr  error

	today models.TodayStats
}

func (f *fakeBackend) called(op string) { f.calls = append(f.calls, op) }

func (f *fakeBackend) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeBackend) SetToken(token string) { f.token = token }

func (f *fakeBackend) Login(ctx context.Context, phone, password string) (api.LoginResult, error) {
	f.called("login")
	return f.loginRes, f.loginErr
}

func (f *fakeBackend) Me(ctx context.Context) (models.Driver, error) {
	f.called("me")
	return f.meDriver, f.meErr
}

func (f *fakeBackend) Register(ctx context.Context, draft *models.RegistrationDraft) error {
	f.called("register")
	return f.registerErr
}

func (f *fakeBackend) SetStatus(ctx context.Context, driverID int64, status models.DriverStatus) error {
	f.called("set_status:" + string(status))
	return f.statusErr
}

func (f *fakeBackend) NearbyOrders(ctx context.Context, pos models.Coord, radiusKm float64) ([]models.Order, error) {
	f.called("nearby")
	return f.nearbyRes, f.nearbyErr
}

func (f *fakeBackend) AcceptOrder(ctx context.Context, driverID, orderID int64) error {
	f.called("accept")
	return f.acceptErr
}

func (f *fakeBackend) PushLocation(ctx context.Context, driverID int64, pos geo.Position) error {
	f.called("push_location")
	return nil
}

func (f *fakeBackend) ReportProblem(ctx context.Context, report models.ProblemReport) error {
	f.called("problem")
	return f.problemErr
}

func (f *fakeBackend) Profile(ctx context.Context, driverID int64) (models.Driver, error) {
	f.called("profile")
	return f.meDriver, f.meErr
}

func (f *fakeBackend) Stats(ctx context.Context, driverID int64) (models.DriverStats, error) {
	f.called("stats")
	return models.DriverStats{}, nil
}

func (f *fakeBackend) TodayStats(ctx context.Context, driverID int64) (models.TodayStats, error) {
	f.called("today")
	return f.today, nil
}

type fakeCreds struct {
	saved  *storage.Credentials
	cleans int
}

func (f *fakeCreds) Load() (storage.Credentials, error) {
	if f.saved == nil {
		return storage.Credentials{}, storage.ErrNoCredentials
	}
	return *f.saved, nil
}

func (f *fakeCreds) Save(c storage.Credentials) error { f.saved = &c; return nil }
func (f *fakeCreds) Clear() error                     { f.saved = nil; f.cleans++; return nil }

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		APIBaseURL:           "http://test",
		WSBaseURL:            "ws://test",
		HTTPTimeout:          time.Second,
		OfferTimeoutSec:      30,
		RideFinalizeDelaySec: 2,
		CommissionRate:       0.20,
		NotificationTTL:      5 * time.Second,
		NotificationCap:      50,
		LocationMinPush:      10 * time.Second,
		NearbyRadiusKm:       5,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		ReconnectMaxAttempts: 10,
	}
}

func newTestApp(t *testing.T, backend *fakeBackend) (*App, *fakeCreds) {
	t.Helper()
	creds := &fakeCreds{}
	a := New(testConfig(), logging.Discard(), backend, creds, nil)
	a.newChannel = nil // no background channel in unit tests
	return a, creds
}

// authedApp returns an app that is signed in, online and on the main screen.
func authedApp(t *testing.T, backend *fakeBackend) *App {
	t.Helper()
	a, _ := newTestApp(t, backend)
	a.authenticated = true
	a.driver = models.Driver{ID: 1, FirstName: "Ivan"}
	a.screen = ScreenMain
	a.mapState.SetReady()
	a.setStatus(models.StatusOnline)
	return a
}

func TestLoginRejectsEmptyFields(t *testing.T) {
	backend := &fakeBackend{}
	a, _ := newTestApp(t, backend)

	for _, tc := range [][2]string{{"", "secret"}, {"7999", ""}, {"", ""}, {"  ", "secret"}} {
		err := a.login(tc[0], tc[1])
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("phone=%q password=%q: expected ValidationError, got %v", tc[0], tc[1], err)
		}
	}
	if len(backend.calls) != 0 {
		t.Fatalf("validation failures must not reach the backend, calls=%v", backend.calls)
	}
}

func TestLoginSuccessEntersMainScreen(t *testing.T) {
	backend := &fakeBackend{
		loginRes: api.LoginResult{
			Token:    "T",
			DriverID: 1,
			Driver:   models.Driver{ID: 1, FirstName: "Ivan", Rating: 4.8},
			Balance:  1500,
		},
	}
	a, creds := newTestApp(t, backend)

	if err := a.login("79990000000", "secret"); err != nil {
		t.Fatal(err)
	}
	if !a.authenticated {
		t.Fatal("expected authenticated session")
	}
	if a.balance != 1500 {
		t.Fatalf("balance = %v, want 1500", a.balance)
	}
	if a.screen != ScreenMain {
		t.Fatalf("screen = %v, want main", a.screen)
	}
	if backend.token != "T" {
		t.Fatalf("client token = %q, want T", backend.token)
	}
	if creds.saved == nil || creds.saved.Token != "T" || creds.saved.DriverID != 1 {
		t.Fatalf("credentials not persisted: %+v", creds.saved)
	}
}

func TestLoginFailureStaysOnLogin(t *testing.T) {
	backend := &fakeBackend{loginErr: &api.APIError{Op: "login", Message: "invalid credentials"}}
	a, creds := newTestApp(t, backend)
	a.screen = ScreenLogin

	if err := a.login("79990000000", "bad"); err == nil {
		t.Fatal("expected error")
	}
	if a.authenticated || a.screen != ScreenLogin {
		t.Fatalf("failed login must not open a session: auth=%v screen=%v", a.authenticated, a.screen)
	}
	if creds.saved != nil {
		t.Fatal("credentials must not be persisted on failure")
	}
}

func TestBootRestoresValidToken(t *testing.T) {
	backend := &fakeBackend{meDriver: models.Driver{ID: 1, FirstName: "Ivan"}}
	a, creds := newTestApp(t, backend)
	creds.saved = &storage.Credentials{Token: "T", DriverID: 1}

	a.boot()

	if !a.authenticated || a.screen != ScreenMain {
		t.Fatalf("expected restored session on main screen, auth=%v screen=%v", a.authenticated, a.screen)
	}
	if backend.token != "T" {
		t.Fatalf("token not installed: %q", backend.token)
	}
}

func TestBootDropsStaleToken(t *testing.T) {
	backend := &fakeBackend{meErr: &api.APIError{Op: "me", StatusCode: 401}}
	a, creds := newTestApp(t, backend)
	creds.saved = &storage.Credentials{Token: "stale", DriverID: 1}

	a.boot()

	if a.authenticated || a.screen != ScreenLogin {
		t.Fatalf("stale token must land on login, auth=%v screen=%v", a.authenticated, a.screen)
	}
	if creds.saved != nil {
		t.Fatal("stale credentials should be cleared")
	}
}

func TestLogoutResetsEverything(t *testing.T) {
	backend := &fakeBackend{}
	a := authedApp(t, backend)
	ord := models.Order{ID: 7, Price: 250}
	a.ride = &ActiveRide{Order: ord, Stage: models.StageAboard}
	a.balance = 900
	a.onlineSeconds = 120

	a.logout()

	if a.authenticated || a.screen != ScreenLogin {
		t.Fatalf("logout must land on login, auth=%v screen=%v", a.authenticated, a.screen)
	}
	if a.ride != nil || a.offer != nil || a.status != models.StatusOffline || a.onlineSeconds != 0 {
		t.Fatalf("session state must be reset: %+v", a.snapshot())
	}
	if backend.token != "" {
		t.Fatalf("token must be cleared, got %q", backend.token)
	}
}

func TestGoOnlineFailureLeavesStatusUntouched(t *testing.T) {
	backend := &fakeBackend{statusErr: &api.TransportError{Op: "set_status", Err: errors.New("down")}}
	a, _ := newTestApp(t, backend)
	a.authenticated = true
	a.driver.ID = 1

	if err := a.goOnline(); err == nil {
		t.Fatal("expected error")
	}
	if a.status != models.StatusOffline {
		t.Fatalf("status must stay offline on failure, got %v", a.status)
	}
}

func TestGoOnlineResetsCounterAndLoadsNearby(t *testing.T) {
	backend := &fakeBackend{nearbyRes: []models.Order{{ID: 1, PickupLat: 55.75, PickupLon: 37.61}}}
	a, _ := newTestApp(t, backend)
	a.authenticated = true
	a.driver.ID = 1
	a.mapState.SetReady()
	a.lastPos = &geo.Position{Coord: models.Coord{Lat: 55.75, Lon: 37.61}}
	a.onlineSeconds = 500

	if err := a.goOnline(); err != nil {
		t.Fatal(err)
	}
	if a.status != models.StatusOnline || a.onlineSeconds != 0 {
		t.Fatalf("status=%v onlineSeconds=%d", a.status, a.onlineSeconds)
	}
	if len(a.nearby) != 1 || len(a.mapState.OrderMarkers) != 1 {
		t.Fatalf("nearby list and markers should be loaded: %d/%d", len(a.nearby), len(a.mapState.OrderMarkers))
	}

	a.onTick()
	a.onTick()
	if a.onlineSeconds != 2 {
		t.Fatalf("online counter should tick, got %d", a.onlineSeconds)
	}

	if err := a.goOffline(); err != nil {
		t.Fatal(err)
	}
	a.onTick()
	if a.onlineSeconds != 2 {
		t.Fatalf("counter must stop offline, got %d", a.onlineSeconds)
	}
}

func TestPositionPushSuppressedWhileOffline(t *testing.T) {
	backend := &fakeBackend{}
	a, _ := newTestApp(t, backend)
	a.driver.ID = 1
	a.mapState.SetReady()

	a.handlePosition(geo.Position{Coord: models.Coord{Lat: 55.75, Lon: 37.61}})
	if backend.count("push_location") != 0 {
		t.Fatal("offline position must not be pushed")
	}

	a.setStatus(models.StatusOnline)
	a.handlePosition(geo.Position{Coord: models.Coord{Lat: 55.76, Lon: 37.62}})
	if backend.count("push_location") != 1 {
		t.Fatalf("expected one push, got %d", backend.count("push_location"))
	}

	// second fix inside the throttle window stays local
	a.handlePosition(geo.Position{Coord: models.Coord{Lat: 55.77, Lon: 37.63}})
	if backend.count("push_location") != 1 {
		t.Fatalf("throttled fix must not be pushed, got %d", backend.count("push_location"))
	}
	if a.mapState.Self.Lat != 55.77 {
		t.Fatal("map marker should still follow every fix")
	}
}

func TestSubmitProblemRequiresType(t *testing.T) {
	backend := &fakeBackend{}
	a := authedApp(t, backend)

	err := a.submitProblem()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if backend.count("problem") != 0 {
		t.Fatal("no request may be sent without a problem type")
	}

	a.selectProblem(3)
	a.ride = &ActiveRide{Order: models.Order{ID: 7}, Stage: models.StageToDestination}
	if err := a.submitProblem(); err != nil {
		t.Fatal(err)
	}
	if backend.count("problem") != 1 {
		t.Fatal("report should be sent")
	}
	if a.selectedProblem != nil || a.problemText != "" {
		t.Fatal("selection should be cleared after submit")
	}
}
