// Package cmd wires up and runs the cover controller: configuration, MQTT
// platform, decision engines, Prometheus exporter and health endpoint.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/covercontrol/covercontrol/internal/collector"
	"github.com/covercontrol/covercontrol/internal/configuration"
	"github.com/covercontrol/covercontrol/internal/controller"
	"github.com/covercontrol/covercontrol/internal/controller/astro"
	"github.com/covercontrol/covercontrol/internal/health"
	"github.com/covercontrol/covercontrol/internal/platform/mqtt"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "covercontrol",
		Short: "rule-based automation for motorized covers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
		RunE: run,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))
}

var args = charmer.Arguments{
	"debug":              charmer.Argument{Default: false, Help: "Log debug messages"},
	"covers":             charmer.Argument{Default: "", Help: "Covers configuration file (default: covers.yaml next to the main configuration file)"},
	"mqtt.broker":        charmer.Argument{Default: "tcp://localhost:1883", Help: "MQTT broker URL"},
	"mqtt.client_id":     charmer.Argument{Default: "covercontrol", Help: "MQTT client id"},
	"mqtt.username":      charmer.Argument{Default: "", Help: "MQTT username"},
	"mqtt.password":      charmer.Argument{Default: "", Help: "MQTT password"},
	"mqtt.topic_prefix":  charmer.Argument{Default: "covercontrol", Help: "MQTT topic prefix"},
	"location.latitude":  charmer.Argument{Default: 0.0, Help: "Latitude for sun calculations"},
	"location.longitude": charmer.Argument{Default: 0.0, Help: "Longitude for sun calculations"},
	"location.timezone":  charmer.Argument{Default: "", Help: "Timezone for schedules (default: local time)"},
	"exporter.addr":      charmer.Argument{Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":        charmer.Argument{Default: ":8080", Help: "Address of /health endpoint"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/covercontrol/")
		viper.AddConfigPath("$HOME/.covercontrol")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("COVERCONTROL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		slog.Error("failed to read config file", "err", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	return Run(cmd.Context(), viper.GetViper(), cmd.Root().Version, slog.Default())
}

// Run assembles all components and runs them until ctx is canceled.
func Run(ctx context.Context, v *viper.Viper, version string, logger *slog.Logger) error {
	logger.Info("covercontrol starting", "version", version)
	defer logger.Info("covercontrol stopped")

	cfg, err := configuration.LoadFile(coversPath(v))
	if err != nil {
		return fmt.Errorf("covers configuration: %w", err)
	}

	location, err := buildLocation(v)
	if err != nil {
		return fmt.Errorf("location: %w", err)
	}

	broker := mqtt.New(mqtt.Configuration{
		Broker:      v.GetString("mqtt.broker"),
		ClientID:    v.GetString("mqtt.client_id"),
		Username:    v.GetString("mqtt.username"),
		Password:    v.GetString("mqtt.password"),
		TopicPrefix: v.GetString("mqtt.topic_prefix"),
	}, logger.With(slog.String("component", "mqtt")))

	metrics := controller.NewMetrics()
	manager := controller.New(cfg, broker, location, metrics, logger.With(slog.String("component", "controller")))

	coll := &collector.Collector{Store: manager, Logger: logger.With(slog.String("component", "collector"))}
	prometheus.MustRegister(metrics, coll)

	h := &health.Health{Store: manager, Logger: logger.With(slog.String("component", "health"))}
	healthRouter := http.NewServeMux()
	healthRouter.Handle("/health", h)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return broker.Run(ctx) })
	group.Go(func() error { return manager.Run(ctx) })
	group.Go(func() error { return serve(ctx, v.GetString("exporter.addr"), promhttp.Handler()) })
	group.Go(func() error { return serve(ctx, v.GetString("health.addr"), healthRouter) })
	return group.Wait()
}

// coversPath locates the covers configuration: an explicit path from the
// configuration, or covers.yaml next to the main configuration file.
func coversPath(v *viper.Viper) string {
	if path := v.GetString("covers"); path != "" {
		return path
	}
	return filepath.Join(filepath.Dir(v.ConfigFileUsed()), "covers.yaml")
}

func buildLocation(v *viper.Viper) (astro.Location, error) {
	tz := time.Local
	if name := v.GetString("location.timezone"); name != "" {
		var err error
		if tz, err = time.LoadLocation(name); err != nil {
			return astro.Location{}, err
		}
	}
	return astro.Location{
		Latitude:  v.GetFloat64("location.latitude"),
		Longitude: v.GetFloat64("location.longitude"),
		TZ:        tz,
	}, nil
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error)
	go func() {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return <-errCh
	}
}
