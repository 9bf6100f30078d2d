// Command test-client replays a short browsing session against a running ingest service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/tracker"
	"github.com/Wuchinator/litetics/pkg/logger"
)

func main() {
	base := flag.String("addr", "http://localhost:8080", "ingest service base URL")
	site := flag.String("site", "https://example.com", "origin of the simulated site")
	flag.Parse()

	log, err := logger.NewLogger("debug", "development")
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()
	log = logger.WithService(log, "test-client")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := run(ctx, strings.TrimRight(*base, "/"), strings.TrimRight(*site, "/"), log); err != nil {
		log.Error("Session failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Session replayed")
}

func run(ctx context.Context, base, site string, log *zap.Logger) error {
	tr, err := tracker.New(tracker.Config{
		TrackURL: base + "/api/hit",
		PingURL:  base + "/api/ping",
	}, tracker.WithLogger(log))
	if err != nil {
		return err
	}

	session, err := tr.Register(ctx, tracker.StaticPage{
		Href:         site + "/?utm_source=newsletter&utm_medium=email",
		ReferrerURL:  "https://www.google.com/search?q=litetics",
		TimezoneName: "Europe/London",
	}, nil)
	if err != nil {
		return err
	}
	log.Info("Landing page tracked", zap.String("bid", session.BeaconID()))

	if err := tr.Track(ctx, "signup", "click", map[string]any{"plan": "free"}, true); err != nil {
		return err
	}

	session.Hidden()
	time.Sleep(200 * time.Millisecond)
	session.Visible()

	if err := session.Navigate(ctx, site+"/docs/getting-started"); err != nil {
		return err
	}
	log.Info("Navigated", zap.String("href", session.Href()), zap.String("bid", session.BeaconID()))

	if err := tr.TrackEndOf(ctx, "signup"); err != nil {
		return err
	}
	if err := session.PopState(ctx, site+"/"); err != nil {
		return err
	}
	return session.Close(ctx)
}
