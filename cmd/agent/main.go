package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-agent/internal/api"
	"github.com/example/driver-agent/internal/app"
	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/geo"
	"github.com/example/driver-agent/internal/logging"
	"github.com/example/driver-agent/internal/mapview"
	"github.com/example/driver-agent/internal/storage"
)

func main() {
	cfg, err := config.LoadAgentConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go serveMetrics(cfg.MetricsAddr, log)

	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	creds := storage.NewCredentialStore(cfg.StatePath)
	source := geo.NewSimSource(mapview.DefaultCenter, 2*time.Second)

	a := app.New(cfg, log, client, creds, source)

	go repl(ctx, a, stop)

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		log.Error("agent stopped", "error", err)
		os.Exit(1)
	}
	log.Info("agent stopped")
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "error", err)
	}
}

// repl drives the agent from stdin so scenarios can be walked through
// against a running devserver.
func repl(ctx context.Context, a *app.App, stop context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	printHelp()
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "login":
			if len(args) != 2 {
				fmt.Println("usage: login <phone> <password>")
				continue
			}
			a.Login(args[0], args[1])
		case "logout":
			a.Logout()
		case "online":
			a.GoOnline()
		case "offline":
			a.GoOffline()
		case "refresh":
			a.RefreshNearbyOrders()
		case "accept":
			a.AcceptOrder()
		case "decline":
			a.DeclineOrder()
		case "arrive":
			a.ArriveAtPickup()
		case "start":
			a.StartRide()
		case "complete":
			a.CompleteRide()
		case "call":
			a.CallPassenger()
		case "center":
			a.CenterOnMe()
		case "traffic":
			a.ToggleTraffic()
		case "status":
			printSnapshot(a.Snapshot())
		case "help":
			printHelp()
		case "quit", "exit":
			stop()
			return
		default:
			fmt.Printf("unknown command %q, try help\n", cmd)
		}
	}
}

func printSnapshot(s app.Snapshot) {
	fmt.Printf("screen=%s tab=%s %s\n", s.Screen, s.Tab, s.StatusText)
	if s.Authenticated {
		fmt.Printf("driver #%d %s %s, balance %s, online %s\n",
			s.Driver.ID, s.Driver.FirstName, s.Driver.LastName,
			app.FormatBalance(s.Balance), app.FormatOnlineTime(s.OnlineSeconds))
	}
	if s.Offer != nil {
		fmt.Printf("OFFER #%d %s -> %s, %s, %ds left\n",
			s.Offer.ID, app.ShortenAddress(s.Offer.PickupAddress, 30),
			app.ShortenAddress(s.Offer.DestinationAddress, 30),
			app.FormatBalance(s.Offer.Price), s.OfferSecsLeft)
	}
	if s.Ride != nil {
		fmt.Printf("ride #%d stage=%s elapsed=%s\n",
			s.Ride.Order.ID, s.Ride.Stage, app.FormatDuration(s.Ride.Seconds))
	}
	for _, o := range s.Nearby {
		fmt.Printf("nearby #%d %s, %s\n", o.ID, app.ShortenAddress(o.PickupAddress, 40), app.FormatBalance(o.Price))
	}
	for _, n := range s.Notifications {
		fmt.Printf("[%s] %s: %s\n", n.Kind, n.Title, n.Message)
	}
}

func printHelp() {
	fmt.Println(`commands:
  login <phone> <password>   sign in
  logout                     sign out
  online | offline           toggle availability
  refresh                    reload nearby orders
  accept | decline           answer the current offer
  arrive | start | complete  advance the active ride
  call                       call the passenger
  center | traffic           map controls
  status                     print current state
  quit`)
}
