// Command refdata-fetch regenerates the referrer and country timezone tables from their
// upstream sources. Point REFDATA_DIR at the output directory to use them.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/refdata"
	"github.com/Wuchinator/litetics/pkg/httpretry"
	"github.com/Wuchinator/litetics/pkg/logger"
)

const (
	defaultReferersURL = "https://s3-eu-west-1.amazonaws.com/snowplow-hosted-assets/third-party/referer-parser/referers-latest.json"
	defaultZoneTabURL  = "https://raw.githubusercontent.com/eggert/tz/main/zone.tab"
)

func main() {
	out := flag.String("out", "refdata", "output directory")
	referersURL := flag.String("referers", defaultReferersURL, "Snowplow referer-parser JSON")
	zoneTabURL := flag.String("zonetab", defaultZoneTabURL, "tz database zone.tab")
	flag.Parse()

	log, err := logger.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()
	log = logger.WithService(log, "refdata-fetch")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := httpretry.New(log)
	if err := run(ctx, client, *referersURL, *zoneTabURL, *out); err != nil {
		log.Fatal("Failed to regenerate reference tables", zap.Error(err))
	}
	log.Info("Reference tables written", zap.String("dir", *out))
}

func run(ctx context.Context, client httpretry.Doer, referersURL, zoneTabURL, out string) error {
	referers, err := download(ctx, client, referersURL)
	if err != nil {
		return err
	}
	zoneTab, err := download(ctx, client, zoneTabURL)
	if err != nil {
		return err
	}

	tables := &refdata.Tables{}
	if tables.Referrers, err = refdata.ParseSnowplow(referers); err != nil {
		return err
	}
	if tables.Countries, err = refdata.ParseZoneTab(bytes.NewReader(zoneTab)); err != nil {
		return err
	}
	if err := tables.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	var refBuf, countryBuf bytes.Buffer
	if err := tables.Write(&refBuf, &countryBuf); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(out, refdata.ReferrersFile), refBuf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write referrers: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, refdata.CountryTimezonesFile), countryBuf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write country timezones: %w", err)
	}
	return nil
}

func download(ctx context.Context, client httpretry.Doer, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}
