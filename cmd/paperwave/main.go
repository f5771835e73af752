// Command paperwave drives a color e-paper panel: detect it, push a single
// image from the command line, or serve the upload UI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/robfig/cron/v3"

	"paperwave/internal/config"
	"paperwave/internal/convert"
	"paperwave/internal/epd"
	"paperwave/internal/imaging"
	appLog "paperwave/internal/log"
	"paperwave/internal/panel"
	"paperwave/internal/render"
	"paperwave/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	detect     bool
	image      string
	demo       bool
	saturation float64
	lighten    float64
	rotation   int
	border     int
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	} else {
		appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	}
	if flags.saturation >= 0 {
		conf.Saturation = flags.saturation
	}
	if flags.lighten >= 0 {
		conf.Lighten = flags.lighten
	}
	if flags.border >= 0 {
		conf.Border = uint8(flags.border)
	}

	if flags.detect {
		os.Exit(runDetect(conf))
	}

	probe, err := startupProbe(conf)
	if err != nil {
		appLog.Error("panel detection failed", err)
		os.Exit(1)
	}
	if !probe.Detected() {
		appLog.Error("no usable panel", fmt.Errorf("%s", probe.Summary()))
		os.Exit(1)
	}
	appLog.Info("panel detected", "variant", probe.Variant.Name,
		"controller", probe.Variant.Controller.String(),
		"width", probe.Variant.Width, "height", probe.Variant.Height)

	dev, err := epd.Open(busConfig(conf, probe.Variant.Controller))
	if err != nil {
		appLog.Error("failed to open panel bus", err)
		os.Exit(1)
	}
	defer dev.Close()

	eng := render.New(dev, conf.Border)

	if flags.image != "" || flags.demo {
		os.Exit(runOnce(eng, conf, flags))
	}

	os.Exit(serve(eng, conf))
}

// runDetect probes the EEPROM over I2C alone and prints what it finds.
func runDetect(conf config.Config) int {
	det, err := epd.OpenDetector(conf.Bus.I2CBus)
	if err != nil {
		appLog.Error("failed to open I2C bus", err)
		return 1
	}
	defer det.Close()

	probe := panel.Detect(det)
	if !probe.Detected() {
		color.Red("no panel: %s", probe.Summary())
		return 1
	}
	v := probe.Variant
	color.Green("%s", v.Name)
	fmt.Printf("  controller: %s\n", v.Controller)
	fmt.Printf("  resolution: %dx%d\n", v.Width, v.Height)
	fmt.Printf("  colors:     %d\n", len(v.Palette))
	if len(probe.Metadata.Raw) > 0 {
		fmt.Printf("  eeprom:     %s\n", probe.Metadata)
	}
	if v.Experimental {
		color.Yellow("  experimental support, colors may be off")
	}
	return 0
}

// startupProbe reads the EEPROM once over I2C to pick the pin defaults for
// the detected controller family before the SPI transport is opened.
func startupProbe(conf config.Config) (panel.ProbeResult, error) {
	det, err := epd.OpenDetector(conf.Bus.I2CBus)
	if err != nil {
		return panel.ProbeResult{}, err
	}
	defer det.Close()
	return panel.Detect(det), nil
}

// busConfig merges configured overrides over the family defaults.
func busConfig(conf config.Config, family panel.Controller) epd.Config {
	cfg := epd.DefaultConfig(family)
	b := conf.Bus
	if b.SPIPort != "" {
		cfg.SPIPort = b.SPIPort
	}
	if b.I2CBus != "" {
		cfg.I2CBus = b.I2CBus
	}
	if b.CS0Pin != "" {
		cfg.CS0Pin = b.CS0Pin
	}
	if b.CS1Pin != "" {
		cfg.CS1Pin = b.CS1Pin
	}
	if b.DCPin != "" {
		cfg.DCPin = b.DCPin
	}
	if b.ResetPin != "" {
		cfg.ResetPin = b.ResetPin
	}
	if b.BusyPin != "" {
		cfg.BusyPin = b.BusyPin
	}
	return cfg
}

// runOnce pushes a single frame and exits.
func runOnce(eng *render.Engine, conf config.Config, flags flagConfig) int {
	rot, err := convert.ParseRotation(flags.rotation)
	if err != nil {
		appLog.Error("bad -rotation", err)
		return 1
	}
	if st, err := config.LoadState(conf.StatePath); err == nil {
		if base, err := convert.ParseRotation(st.RotationDeg); err == nil {
			rot = base.Plus(rot)
		}
	}

	req := render.Request{Rotation: rot, Saturation: conf.Saturation, Lighten: conf.Lighten}
	if flags.image != "" {
		f, err := os.Open(flags.image)
		if err != nil {
			appLog.Error("failed to open image", err, "path", flags.image)
			return 1
		}
		src, format, err := imaging.Decode(f)
		f.Close()
		if err != nil {
			appLog.Error("failed to decode image", err, "path", flags.image)
			return 1
		}
		appLog.Info("image loaded", "path", flags.image, "format", format,
			"width", src.Width, "height", src.Height)
		req.Source = src
	}

	res, err := eng.Update(context.Background(), req)
	if err != nil {
		appLog.Error("update failed", err)
		return 1
	}
	appLog.Info("done", "update", res.ID, "elapsed", res.Elapsed.String())
	return 0
}

// serve runs the HTTP server plus the optional anti-ghosting refresh
// schedule until SIGINT or SIGTERM.
func serve(eng *render.Engine, conf config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	srv, err := web.NewServer(conf, eng)
	if err != nil {
		appLog.Error("failed to build web server", err)
		return 1
	}
	httpSrv := &http.Server{Addr: conf.Listen, Handler: srv.Handler()}

	var sched *cron.Cron
	if conf.RefreshCron != "" {
		sched = cron.New()
		_, err := sched.AddFunc(conf.RefreshCron, func() {
			if _, err := eng.RefreshLast(context.Background()); err != nil {
				appLog.Error("scheduled refresh failed", err)
			}
		})
		if err != nil {
			appLog.Error("bad refresh_cron expression", err, "cron", conf.RefreshCron)
			return 1
		}
		sched.Start()
		appLog.Info("refresh schedule active", "cron", conf.RefreshCron)
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		appLog.Error("HTTP server failed", err)
		return 1
	case <-ctx.Done():
	}

	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("paperwave exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/paperwave/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.detect, "detect", false, "Probe the EEPROM, print the panel, and exit")
	flag.StringVar(&cfg.image, "image", "", "Render a single image file and exit")
	flag.BoolVar(&cfg.demo, "demo", false, "Render the stripe test card and exit")
	flag.Float64Var(&cfg.saturation, "saturation", -1, "Dither saturation 0..1 (overrides config if set)")
	flag.Float64Var(&cfg.lighten, "lighten", -1, "Gamma lift 0..1 (overrides config if set)")
	flag.IntVar(&cfg.rotation, "rotation", 0, "Rotation in degrees: 0, 90, 180 or 270")
	flag.IntVar(&cfg.border, "border", -1, "Border color code (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
