package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/foliolabs/pulsefeed/configs"
	"github.com/foliolabs/pulsefeed/internal/client"
	"github.com/foliolabs/pulsefeed/internal/portfolio"
	"github.com/foliolabs/pulsefeed/internal/stream"
)

func main() {
	appConfig := configs.AppLoad()
	logger := appConfig.NewLogger()

	api := client.New(appConfig.APIBaseURL, logger)

	supervisor := stream.NewPortfolioSupervisor(
		stream.Config{
			StreamOverride: appConfig.StreamURL,
			APIBase:        appConfig.APIBaseURL,
			ReconnectDelay: appConfig.Stream.ReconnectDelay,
			ThrottleWindow: appConfig.Stream.ThrottleWindow,
		},
		stream.NewWSDialer(),
		logger,
		func(p *portfolio.LivePortfolio) {
			logger.Infof("portfolio %s: value=%.2f pnl=%.2f positions=%d",
				p.Watermark.Version, p.TotalLiveValue, p.TotalLiveUnrealizedPNL, len(p.Positions))
		},
	)
	defer supervisor.Close()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := refresh(ctx, api, supervisor, appConfig.APIToken, logger); err != nil {
		logger.Fatalf("initial portfolio fetch failed: %v", err)
	}

	ticker := time.NewTicker(appConfig.RefreshInterval)
	defer ticker.Stop()

	logger.Infof("watcher started: api=%s refresh=%v", appConfig.APIBaseURL, appConfig.RefreshInterval)

	for {
		select {
		case <-ctx.Done():
			logger.Warn("shutdown signal received, stopping")
			return
		case <-ticker.C:
			if err := refresh(ctx, api, supervisor, appConfig.APIToken, logger); err != nil && ctx.Err() == nil {
				logger.Errorf("portfolio refresh failed: %v", err)
			}
		}
	}
}

// refresh fetches a fresh REST snapshot and reconciles the stream
// subscriptions against it. Until a fetch succeeds no subscriptions
// are (re)established.
func refresh(ctx context.Context, api *client.Client, supervisor *stream.PortfolioSupervisor, token string, logger *logrus.Logger) error {
	resp, err := api.FetchPortfolio(ctx, token)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			logger.Warnf("portfolio API rejected request: status=%d message=%s", apiErr.Status, apiErr.Message)
		}
		return err
	}
	supervisor.Reconcile(resp.Positions, resp.GeneratedAt, resp.Watermark)
	return nil
}
