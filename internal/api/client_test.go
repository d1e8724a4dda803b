package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/driver-agent/internal/models"
)

func testCoord(lat, lon float64) models.Coord { return models.Coord{Lat: lat, Lon: lon} }

func TestLoginDecodesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"token":"T","driver_id":1,"driver":{"id":1,"first_name":"Ivan"},"balance":1500}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.Login(context.Background(), "79990000000", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if res.Token != "T" || res.DriverID != 1 || res.Balance != 1500 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Driver.FirstName != "Ivan" {
		t.Fatalf("driver not decoded: %+v", res.Driver)
	}
}

func TestRefusedEnvelopeBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"invalid credentials"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.Login(context.Background(), "7999", "bad")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "invalid credentials" {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestNetworkFailureBecomesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := NewClient(srv.URL, time.Second)
	err := c.SetStatus(context.Background(), 1, "online")
	var trErr *TransportError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"driver":{"id":1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	c.SetToken("T")
	if _, err := c.Me(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got != "Bearer T" {
		t.Fatalf("expected bearer header, got %q", got)
	}
}

func TestNearbyOrdersQueryAndDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lat") == "" || q.Get("lon") == "" || q.Get("radius") != "5" {
			t.Fatalf("bad query: %v", q)
		}
		w.Write([]byte(`{"success":true,"orders":[{"id":7,"pickup_address":"a","price":250}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	orders, err := c.NearbyOrders(context.Background(), testCoord(55.75, 37.61), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].ID != 7 || orders[0].Price != 250 {
		t.Fatalf("unexpected orders: %+v", orders)
	}
}
