// Command sign fetches a JS-SDK signature for a page from a running server
// and prints it as JSON. It exercises the same retry policy browsers rely on.
//
//	sign -base http://localhost:8080/api/v1 -url https://example.com/results/42
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/match-results-backend/internal/retry"
	"github.com/tbourn/match-results-backend/internal/sigclient"
	"github.com/tbourn/match-results-backend/internal/sysutil"
)

func main() {
	base := flag.String("base", sysutil.FirstNonEmpty(os.Getenv("SIGN_BASE_URL"), "http://localhost:8080/api/v1"), "API base URL")
	page := flag.String("url", "", "page URL to sign")
	attempts := flag.Int("attempts", retry.DefaultMaxAttempts, "attempts including the first")
	delay := flag.Duration("delay", retry.DefaultBaseDelay, "base retry delay")
	timeout := flag.Duration("timeout", 5*time.Second, "per-attempt timeout")
	flag.Parse()

	sysutil.ConfigureLogger(os.Stderr, os.Getenv("LOG_LEVEL"), true)

	c := sigclient.New(sigclient.Options{
		BaseURL: *base,
		Timeout: *timeout,
		Retrier: retry.New(*attempts, *delay),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sig, err := c.GetSignature(ctx, *page)
	if err != nil {
		log.Fatal().Err(err).Int("retries", c.Retries()).Msg("sign failed")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sig); err != nil {
		log.Fatal().Err(err).Msg("encode")
	}
}
