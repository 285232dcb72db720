package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"time"

	"github.com/itohio/godiode/pkg/arduino"
	"github.com/itohio/godiode/pkg/config"
	"github.com/itohio/godiode/pkg/experiment"
	"github.com/itohio/godiode/pkg/publish"
	"github.com/itohio/godiode/pkg/telemetry"
	"github.com/itohio/godiode/pkg/uncertainty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/physic"
)

const progressInterval = time.Second

func main() {
	var (
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		mockFlag    = flag.Bool("mock", false, "Use mocked instrument instead of serial port")
		listFlag    = flag.Bool("list", false, "List serial ports and exit")
		startFlag   = flag.Float64("start", -1, "Sweep start voltage (negative = use config)")
		stopFlag    = flag.Float64("stop", -1, "Sweep stop voltage (negative = use config)")
		loadFlag    = flag.Float64("load", -1, "Resistor load in Ohm (negative = use config)")
		samplesFlag = flag.Int("samples", -1, "Readings per channel per step (negative = use config)")
		outFlag     = flag.String("o", "", "CSV output file (empty = stdout)")
		metricsFlag = flag.String("metrics", "", "Prometheus listen address override (e.g., :9100)")
		mqttFlag    = flag.String("mqtt", "", "MQTT broker override (e.g., tcp://localhost:1883)")
		previewFlag = flag.Int("preview", 10, "Number of curve points logged after the scan (0 = disabled)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)

	if *listFlag {
		if err := listPorts(os.Stdout); err != nil {
			logger.Fatal().Err(err).Msg("failed to list serial ports")
		}
		return
	}

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *startFlag >= 0 {
		cfg.Scan.StartVolts = *startFlag
	}
	if *stopFlag >= 0 {
		cfg.Scan.StopVolts = *stopFlag
	}
	if *loadFlag >= 0 {
		cfg.Scan.ResistorLoad = *loadFlag
	}
	if *samplesFlag >= 0 {
		cfg.Scan.SampleSize = *samplesFlag
	}
	if *metricsFlag != "" {
		cfg.Metrics.Listen = *metricsFlag
	}
	if *mqttFlag != "" {
		cfg.MQTT.Server = *mqttFlag
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, *mockFlag, *outFlag, *previewFlag, logger); err != nil {
		logger.Fatal().Err(err).Msg("scan failed")
	}
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()
}

func listPorts(w io.Writer) error {
	ports, err := arduino.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.Description != "" && p.Description != p.Name {
			fmt.Fprintf(w, "%s\t%s\n", p.Name, p.Description)
		} else {
			fmt.Fprintln(w, p.Name)
		}
	}
	return nil
}

func run(cfg *config.Config, useMock bool, out string, preview int, logger zerolog.Logger) error {
	opts := []experiment.Option{experiment.WithLogger(logger)}

	endpoint := cfg.Serial.Port
	if useMock {
		endpoint = "mock"
		opts = append(opts, experiment.WithDialer(arduino.MockDialer(&cfg.Mock, nil)))
	} else {
		opts = append(opts, experiment.WithDialer(arduino.SerialDialer(cfg.Serial)))
	}

	if cfg.Metrics.Listen != "" {
		reg := prometheus.NewRegistry()
		collector, err := telemetry.NewPrometheusCollector(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, experiment.WithCollector(collector))
		serveMetrics(cfg.Metrics.Listen, reg, logger)
	}

	e := experiment.New(opts...)

	if cfg.MQTT.Server != "" {
		pub, err := publish.NewMQTT(cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		e.OnStep(publish.StepFunc(pub, logger))
		logger.Info().Str("server", cfg.MQTT.Server).Str("topic", cfg.MQTT.Topic).Msg("publishing steps")
	}

	p := experiment.ParamsFromConfig(cfg.Scan)
	scan := experiment.Start(e, endpoint, p)
	waitWithProgress(scan, p.Steps(), logger)

	headers, rows, err := scan.Wait()
	if err != nil {
		return err
	}

	if err := writeOutput(out, headers, rows); err != nil {
		return err
	}

	summarize(e.Results(), preview, logger)
	return nil
}

// writeOutput writes the CSV to out, or to stdout when out is empty.
func writeOutput(out string, headers []string, rows iter.Seq[experiment.Row]) error {
	if out == "" {
		return publish.WriteCSV(os.Stdout, headers, rows)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := publish.WriteCSV(f, headers, rows); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func waitWithProgress(scan *experiment.Run, steps int, logger zerolog.Logger) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-scan.Done():
			return
		case <-ticker.C:
			r, index, ok := scan.Latest()
			if !ok {
				continue
			}
			logger.Info().
				Int("step", index+1).
				Int("steps", steps).
				Str("led", formatVolts(r.LEDVolt)).
				Str("current", formatAmps(r.Current)).
				Msg("scanning")
		}
	}
}

// summarize logs a coarse view of the curve and the operating point with the
// highest current.
func summarize(results []experiment.StepResult, preview int, logger zerolog.Logger) {
	if len(results) == 0 {
		return
	}

	for _, r := range experiment.Downsample(nil, results, preview) {
		logger.Info().
			Int("code", r.Code).
			Str("led", formatVolts(r.LEDVolt)).
			Str("current", formatAmps(r.Current)).
			Msg("curve")
	}

	peak := results[0]
	for _, r := range results[1:] {
		if r.Current > peak.Current {
			peak = r
		}
	}

	resistorPower, err := uncertainty.Power(peak.ResistorLoad, peak.ResistorVolt)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to compute resistor power")
	}

	logger.Info().
		Int("steps", len(results)).
		Str("led", formatVolts(peak.LEDVolt)).
		Str("led_err", formatVolts(peak.LEDVoltErr)).
		Str("current", formatAmps(peak.Current)).
		Str("current_err", formatAmps(peak.CurrentErr)).
		Str("led_power", formatWatts(peak.LEDVolt*peak.Current)).
		Str("resistor_power", formatWatts(resistorPower)).
		Msg("peak operating point")
}

func formatVolts(v float64) string {
	return physic.ElectricPotential(v * float64(physic.Volt)).String()
}

func formatAmps(a float64) string {
	return physic.ElectricCurrent(a * float64(physic.Ampere)).String()
}

func formatWatts(w float64) string {
	return physic.Power(w * float64(physic.Watt)).String()
}
