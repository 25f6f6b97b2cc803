package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"fptucal/internal/browser"
	"fptucal/internal/config"
	"fptucal/internal/ics"
	appLog "fptucal/internal/log"
	"fptucal/internal/model"
	"fptucal/internal/scrape"
	"fptucal/internal/store"
	"fptucal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	from       string
	to         string
	mode       string
	out        string
}

func main() {
	appLog.Info("fptucal starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"portal", conf.ScheduleURL(),
		"timezone", conf.Timezone,
		"storage", conf.StoragePath,
		"refresh", conf.RefreshCron,
		"headless", conf.Headless,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	st, err := store.Open(ctx, conf.StoragePath)
	if err != nil {
		appLog.Error("failed to open storage", err, "path", conf.StoragePath)
		os.Exit(1)
	}
	defer st.Close()

	// A process start is a fresh browser: any cached session state from a
	// previous process is stale.
	if err := st.ResetSession(ctx); err != nil {
		appLog.Warn("failed to reset session state", "err", err)
	}

	session := browser.NewSession(browser.Options{
		ScheduleURL: conf.ScheduleURL(),
		Headless:    conf.Headless,
		Settle:      time.Duration(conf.WaitMs) * time.Millisecond,
	})
	defer session.Close()

	orch := scrape.New(scrape.Config{
		Navigator: session,
		Session:   session,
		Auth:      st,
		AuthTTL:   time.Duration(conf.AuthCacheMinutes) * time.Minute,
		Retries:   conf.RetryPerWeek,
	})

	if flags.once {
		if err := runOnce(ctx, conf, st, orch, flags); err != nil {
			appLog.Error("run failed", err)
			os.Exit(1)
		}
		appLog.Info("fptucal exiting")
		return
	}

	serve(ctx, conf, st, orch)
	appLog.Info("fptucal exiting")
}

// runOnce performs a single scrape, persists the result and writes an ICS
// file, then exits.
func runOnce(ctx context.Context, conf *config.Config, st *store.Store, orch *scrape.Orchestrator, flags flagConfig) error {
	start, end, err := resolveRange(conf, flags.from, flags.to)
	if err != nil {
		return err
	}

	res := orch.Run(ctx, scrape.Options{Start: start, End: end, WaitMs: conf.WaitMs})
	if !res.Success {
		return errors.New(res.Error)
	}
	for _, we := range res.Errors {
		appLog.Warn("week skipped", "week", we.Week, "err", we.Error)
	}

	var incoming []model.ClassRecord
	for _, wk := range res.Data.Weeks {
		incoming = append(incoming, wk.Classes...)
	}

	var classes []model.ClassRecord
	if flags.mode == "replace" {
		classes, err = st.Replace(ctx, incoming)
	} else {
		classes, err = st.MergeSave(ctx, incoming)
	}
	if err != nil {
		return err
	}

	body, err := ics.Encode(classes, time.Now())
	if err != nil {
		return err
	}
	out := flags.out
	if out == "" {
		out = ics.Filename(classes)
	}
	if err := os.WriteFile(out, []byte(body), 0o644); err != nil {
		return err
	}
	appLog.Info("calendar written", "path", out, "classes", len(classes))
	return nil
}

// serve runs the HTTP API, with cron-driven auto-sync when configured.
func serve(ctx context.Context, conf *config.Config, st *store.Store, orch *scrape.Orchestrator) {
	if conf.RefreshCron != "" {
		c := cron.New()
		_, err := c.AddFunc(conf.RefreshCron, func() {
			start, end, _ := resolveRange(conf, "", "")
			res := orch.Run(ctx, scrape.Options{Start: start, End: end, WaitMs: conf.WaitMs})
			if !res.Success {
				appLog.Warn("scheduled scrape failed", "err", res.Error)
				return
			}
			var incoming []model.ClassRecord
			for _, wk := range res.Data.Weeks {
				incoming = append(incoming, wk.Classes...)
			}
			if _, err := st.MergeSave(ctx, incoming); err != nil {
				appLog.Error("scheduled scrape persistence failed", err)
			}
		})
		if err != nil {
			appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
			os.Exit(1)
		}
		c.Start()
		defer c.Stop()
		appLog.Info("auto-sync scheduled", "refresh", conf.RefreshCron)
	}

	server := web.NewServer(conf, st, orch)
	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Router(),
	}

	go func() {
		appLog.Info("http server listening", "addr", conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("http server failed", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("http shutdown incomplete", "err", err)
	}
	orch.Bus().Shutdown()
}

func resolveRange(conf *config.Config, from, to string) (time.Time, time.Time, error) {
	now := time.Now()
	start := now.AddDate(0, 0, -conf.RangePastDays)
	end := now.AddDate(0, 0, conf.RangeFutureDays)

	var err error
	if from != "" {
		if start, err = time.Parse(model.DateLayout, from); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if to != "" {
		if end, err = time.Parse(model.DateLayout, to); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end date before start date")
	}
	return start, end, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "fptucal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one scrape+export cycle and exit")
	flag.StringVar(&cfg.from, "from", "", "Range start date (YYYY-MM-DD, once mode)")
	flag.StringVar(&cfg.to, "to", "", "Range end date (YYYY-MM-DD, once mode)")
	flag.StringVar(&cfg.mode, "mode", "merge", "Persistence mode: merge or replace (once mode)")
	flag.StringVar(&cfg.out, "out", "", "Output .ics path (once mode; default derived from dates)")

	flag.Parse()

	return cfg
}
