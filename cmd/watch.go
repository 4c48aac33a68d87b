package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gonexia/internal/pkg/logging"
	"gonexia/internal/pkg/session"
	"gonexia/internal/pkg/transport"
	"gonexia/pkg/middlewares"
)

var _watchCmdOpts struct {
	interval        time.Duration
	listenAddr      string
	gracefulTimeout time.Duration
	logRequests     bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a refresh loop and serve thermostat state and metrics over HTTP",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doWatch(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("nexia.login", "nexia.password")
	},
}

func init() {
	watchCmd.Flags().DurationVar(&_watchCmdOpts.interval, "interval", time.Minute, "refresh interval, eg. 1m or 30s")
	watchCmd.Flags().StringVar(&_watchCmdOpts.listenAddr, "listen", ":8093", "status/metrics listen address")
	watchCmd.Flags().DurationVar(&_watchCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for the server to finish, eg. 1m or 10s")
	watchCmd.Flags().BoolVar(&_watchCmdOpts.logRequests, "log-requests", false, "log requests and responses (only in debug mode)")

	errPanic(viper.GetViper().BindPFlag("watch.interval", watchCmd.Flags().Lookup("interval")))
	errPanic(viper.GetViper().BindPFlag("watch.listen", watchCmd.Flags().Lookup("listen")))
	errPanic(viper.GetViper().BindPFlag("watch.graceful-timeout", watchCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("logging.log-requests", watchCmd.Flags().Lookup("log-requests")))

	rootCmd.AddCommand(watchCmd)
}

func doWatch() error {
	interval := viper.GetDuration("watch.interval")
	listenAddr := viper.GetString("watch.listen")
	wait := viper.GetDuration("watch.graceful-timeout")

	var logRequests bool
	if viper.GetBool("logging.log-requests") {
		if logrus.IsLevelEnabled(logrus.DebugLevel) {
			logRequests = true
		} else {
			logging.Logger(nil).Warn("log-requests ignored when not in debug mode")
		}
	}

	h := newHome()
	defer h.Close()

	ctx := context.Background()
	if err := h.Update(ctx, true); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(transport.MetricsCollectors()...)
	registry.MustRegister(session.MetricsCollectors()...)

	r := mux.NewRouter()
	r.Use(middlewares.NewLoggingMw(logRequests))
	r.Use(middlewares.NewRecoveryMw())
	r.Use(middlewares.NewCorsMw())
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/status", func(rw http.ResponseWriter, req *http.Request) {
		view := statusView{
			HouseID:     h.House().ID,
			HouseName:   h.House().Name,
			Thermostats: h.Thermostats(),
			Automations: h.Automations(),
		}

		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(view); err != nil {
			logging.Logger(req.Context()).WithError(err).Error("writing status response")
		}
	}).Methods(http.MethodGet)

	s := &http.Server{
		Addr:         listenAddr,
		ReadTimeout:  time.Second * 15,
		WriteTimeout: time.Second * 60,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}

	logging.Logger(nil).Infof("serving status on %s, refreshing every %s", listenAddr, interval)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running status server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			if err := h.Update(ctx, false); err != nil {
				logging.Logger(nil).WithError(err).Error("refreshing device tree")
			}
		case <-c:
			break loop
		}
	}

	// Create a deadline to wait for.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	logging.Logger(nil).Info("shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}
	logging.Logger(nil).Info("exiting")
	return nil
}
