package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"github.com/ivlev/framecap/internal/canvas"
	"github.com/ivlev/framecap/internal/config"
	"github.com/ivlev/framecap/internal/driver"
	"github.com/ivlev/framecap/internal/logging"
	"github.com/ivlev/framecap/internal/recording"
	"github.com/ivlev/framecap/internal/scene"
	"github.com/ivlev/framecap/internal/source"
	"github.com/ivlev/framecap/internal/surface"
	"github.com/ivlev/framecap/internal/system"
	"github.com/ivlev/framecap/internal/video"
)

var buildVersion = "dev"

// realtimeRate is the display refresh simulated for realtime recordings
// when no tick rate is configured.
const realtimeRate = 60

func main() {
	def := config.Default()
	configPtr := flag.String("config", "", "YAML config file; flags override its values")
	inputPtr := flag.String("input", "", "PDF, image or folder of images for the slideshow (default: newest file in input/)")
	outputPtr := flag.String("output", "", "Output video (default: output/<name>_<timestamp>.<format>)")
	scenePtr := flag.String("scene", def.Scene.Kind, "Scene: ball, slideshow")
	fpsPtr := flag.Float64("fps", def.FPS, "Frames per second")
	widthPtr := flag.Int("width", def.Width, "Layout width")
	heightPtr := flag.Int("height", def.Height, "Layout height")
	presetPtr := flag.String("preset", "", "Size preset: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	modePtr := flag.String("mode", def.Mode, "Recording mode: frame-accurate, realtime")
	durationPtr := flag.Float64("duration", 0, "Recording length in seconds (0: scene length, or until Ctrl+C in realtime)")
	scalePtr := flag.String("scale", def.Scale, "Resolution multiplier: 1x, 2x, 3x, 4x")
	formatPtr := flag.String("format", def.Format, "Container: mp4, mov, mkv, webm")
	codecPtr := flag.String("codec", "", "Codec: avc, hevc, vp9, av1, mjpeg (default depends on the format)")
	qualityPtr := flag.String("quality", def.Quality, "Quality: very-low, low, medium, high, very-high")
	encoderPtr := flag.String("encoder", "", "ffmpeg encoder override, e.g. h264_nvenc")
	backendPtr := flag.String("backend", "", "Sink: ffmpeg, native (default: native for webm/mjpeg)")
	ratePtr := flag.Float64("rate", 0, "Render loop ticks per second (0: as fast as capture allows)")
	pageDurationPtr := flag.Float64("page-duration", def.Scene.PageDuration, "Seconds per page")
	dpiPtr := flag.Int("dpi", def.Scene.DPI, "DPI for PDF pages")
	fadePtr := flag.Float64("fade", def.Scene.Fade, "Crossfade between pages (seconds)")
	zoomPtr := flag.String("zoom-mode", def.Scene.Zoom, "Zoom: none, center, top-left, top-right, bottom-left, bottom-right, random, smart")
	zoomPeakPtr := flag.Float64("zoom-peak", def.Scene.ZoomPeak, "Maximum zoom of the automatic camera")
	outroPtr := flag.Float64("outro", 0, "Seconds at the end of each page on the full view")
	scenarioPtr := flag.String("scenario", "", "Camera scenario YAML")
	loopPtr := flag.Bool("loop", false, "Restart the slideshow after the last page")
	stampPtr := flag.Bool("stamp", false, "Burn a QR code of the frame index into every frame")
	genScenarioPtr := flag.String("gen-scenario", "", "Write the automatic camera scenario to this file and exit")
	writeConfigPtr := flag.String("write-config", "", "Write the effective config to this file and exit")
	posterPtr := flag.Bool("poster", false, "Also save the opening frame as a PNG next to the video")
	statsPtr := flag.Bool("stats", false, "Print a performance report and append it to benchmark.log")
	logLevelPtr := flag.String("log-level", def.LogLevel, "Log level: debug, info, warn, error")
	debugPtr := flag.Bool("debug", false, "Development logging, including the renderer's")

	flag.Parse()

	cfg := def
	if *configPtr != "" {
		var err error
		if cfg, err = config.Load(*configPtr); err != nil {
			log.Fatalf("[-] Config: %v", err)
		}
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	overrides := []struct {
		name  string
		apply func()
	}{
		{"input", func() { cfg.Scene.Input = *inputPtr }},
		{"output", func() { cfg.Output = *outputPtr }},
		{"scene", func() { cfg.Scene.Kind = *scenePtr }},
		{"fps", func() { cfg.FPS = *fpsPtr }},
		{"width", func() { cfg.Width = *widthPtr }},
		{"height", func() { cfg.Height = *heightPtr }},
		{"mode", func() { cfg.Mode = *modePtr }},
		{"duration", func() { cfg.Duration = *durationPtr }},
		{"scale", func() { cfg.Scale = *scalePtr }},
		{"format", func() { cfg.Format = *formatPtr }},
		{"codec", func() { cfg.Codec = *codecPtr }},
		{"quality", func() { cfg.Quality = *qualityPtr }},
		{"encoder", func() { cfg.Encoder = *encoderPtr }},
		{"backend", func() { cfg.Backend = *backendPtr }},
		{"rate", func() { cfg.TickRate = *ratePtr }},
		{"page-duration", func() { cfg.Scene.PageDuration = *pageDurationPtr }},
		{"dpi", func() { cfg.Scene.DPI = *dpiPtr }},
		{"fade", func() { cfg.Scene.Fade = *fadePtr }},
		{"zoom-mode", func() { cfg.Scene.Zoom = *zoomPtr }},
		{"zoom-peak", func() { cfg.Scene.ZoomPeak = *zoomPeakPtr }},
		{"outro", func() { cfg.Scene.Outro = *outroPtr }},
		{"scenario", func() { cfg.Scene.Scenario = *scenarioPtr }},
		{"loop", func() { cfg.Scene.Loop = *loopPtr }},
		{"stamp", func() { cfg.Scene.Stamp = *stampPtr }},
		{"stats", func() { cfg.Stats = *statsPtr }},
		{"log-level", func() { cfg.LogLevel = *logLevelPtr }},
	}
	for _, o := range overrides {
		if set[o.name] {
			o.apply()
		}
	}
	if *debugPtr {
		cfg.LogLevel = "debug"
	}
	if err := cfg.ApplyPreset(*presetPtr); err != nil {
		log.Fatalf("[-] %v", err)
	}
	if *genScenarioPtr != "" {
		cfg.Scene.Kind = config.SceneSlideshow
	}

	logger, err := logging.New(cfg.LogLevel, *debugPtr)
	if err != nil {
		log.Fatalf("[-] Logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	if *debugPtr {
		gg.SetLogger(slog.Default())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Scene.Kind == config.SceneSlideshow && cfg.Scene.Input == "" {
		exts := append([]string{".pdf"}, source.ImageExtensions...)
		latest, err := system.FindLatest("input", exts...)
		if err != nil {
			log.Fatalf("[-] %v. Put a PDF or images into input/", err)
		}
		cfg.Scene.Input = latest
		fmt.Printf("[*] Selected input: %s\n", latest)
	}

	sc, length, closeScene, err := buildScene(ctx, cfg, *genScenarioPtr)
	if err != nil {
		log.Fatalf("[-] Scene: %v", err)
	}
	defer closeScene()
	if *genScenarioPtr != "" {
		fmt.Printf("[+++] Scenario written: %s\n", *genScenarioPtr)
		return
	}

	cfg.FillDuration(length)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[-] %v", err)
	}
	if *writeConfigPtr != "" {
		if err := cfg.Write(*writeConfigPtr); err != nil {
			log.Fatalf("[-] Write config: %v", err)
		}
		fmt.Printf("[+++] Config written: %s\n", *writeConfigPtr)
		return
	}
	opts, err := cfg.RecordOptions()
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	surf, err := surface.New(cfg.Width, cfg.Height, 1, surface.WithLogger(logger))
	if err != nil {
		log.Fatalf("[-] Surface: %v", err)
	}
	defer surf.Close()
	manager, err := canvas.New(surf, cfg.FPS, canvas.WithLogger(logger))
	if err != nil {
		log.Fatalf("[-] %v", err)
	}

	rate := cfg.TickRate
	if rate == 0 && opts.Mode == recording.Realtime {
		rate = realtimeRate
	}
	loop := driver.New(manager, surf, sc, driver.Options{
		Width:  float64(cfg.Width),
		Height: float64(cfg.Height),
		Rate:   rate,
		Logger: logger,
	})

	// First Ctrl+C stops the recording and keeps what was captured; the
	// second discards it.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Println("\n[*] Stopping, press Ctrl+C again to discard the recording")
		if err := manager.Stop(); err != nil {
			logger.Warn("Stop failed", zap.Error(err))
		}
		<-sigs
		cancel()
	}()

	if video.ResolveBackend(opts.Format, opts.Codec, opts.Backend) == video.BackendFFmpeg {
		enc := video.ResolveEncoder(ctx, opts.Codec, opts.Encoder, "")
		if strings.HasSuffix(enc, "_videotoolbox") || strings.HasSuffix(enc, "_nvenc") {
			fmt.Printf("[*] Hardware acceleration detected: %s\n", enc)
		} else {
			fmt.Printf("[*] Encoder: %s\n", enc)
		}
	} else {
		fmt.Println("[*] Encoder: native MJPEG/WebM writer")
	}

	if opts.Duration > 0 {
		fmt.Printf("[*] Recording %s: %.2fs at %.0f fps, %s %s/%s, scale %s\n",
			opts.Mode, opts.Duration, cfg.FPS, opts.Quality, opts.Format, opts.Codec, opts.Scale)
	} else {
		fmt.Printf("[*] Recording %s until Ctrl+C at %.0f fps, %s %s/%s, scale %s\n",
			opts.Mode, cfg.FPS, opts.Quality, opts.Format, opts.Codec, opts.Scale)
	}

	output := cfg.OutputPath(time.Now())
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		log.Fatalf("[-] %v", err)
	}
	if *posterPtr {
		poster := strings.TrimSuffix(output, filepath.Ext(output)) + ".png"
		if err := loop.Poster(poster); err != nil {
			log.Fatalf("[-] Poster: %v", err)
		}
		fmt.Printf("[*] Poster: %s\n", poster)
	}

	var monitor *system.Monitor
	if cfg.Stats {
		if monitor, err = system.StartMonitor(); err != nil {
			logger.Warn("Resource monitor unavailable", zap.Error(err))
		}
	}

	rec, out, err := loop.Record(ctx, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, recording.ErrCanceled) {
			fmt.Println("[-] Recording discarded")
			os.Exit(1)
		}
		log.Fatalf("[-] Recording failed: %v", err)
	}

	if err := os.WriteFile(output, out.Data, 0644); err != nil {
		log.Fatalf("[-] Write output: %v", err)
	}

	if monitor != nil {
		report := monitor.Stop(rec.Captured(), len(out.Data))
		report.Build = buildVersion
		report.Input = cfg.Scene.Input
		if report.Input == "" {
			report.Input = cfg.Scene.Kind
		}
		fmt.Print(report)
		if err := report.AppendLog("benchmark.log", time.Now()); err != nil {
			fmt.Printf("[!] Could not write benchmark.log: %v\n", err)
		}
	}

	fmt.Printf("[+++] Done! %d frames, %s: %s\n", rec.Captured(), out.MimeType, output)
}

// buildScene returns the configured scene and its natural length. With
// scenarioOut set it writes the slideshow's camera scenario there instead of
// returning a scene.
func buildScene(ctx context.Context, cfg config.Config, scenarioOut string) (scene.Scene, float64, func(), error) {
	noop := func() {}
	if cfg.Scene.Kind == config.SceneBall {
		return wrapStamp(scene.NewBouncingBall(), cfg), config.DefaultBallDuration, noop, nil
	}

	src, err := source.Open(cfg.Scene.Input)
	if err != nil {
		return nil, 0, noop, err
	}
	closeSrc := func() { src.Close() }
	zoom, err := scene.ParseZoomMode(cfg.Scene.Zoom)
	if err != nil {
		closeSrc()
		return nil, 0, noop, err
	}

	var scenario *scene.Scenario
	switch {
	case cfg.Scene.Scenario != "":
		if scenario, err = scene.ReadScenario(cfg.Scene.Scenario); err != nil {
			closeSrc()
			return nil, 0, noop, err
		}
		fmt.Printf("[*] Scenario: %s (%d slides)\n", cfg.Scene.Scenario, len(scenario.Slides))
	case zoom == scene.ZoomSmart:
		fmt.Printf("[*] Analyzing %d pages...\n", src.PageCount())
		scenario, err = scene.SmartScenario(ctx, src, cfg.Scene.DPI, cfg.Scene.PageDuration, cfg.Scene.ZoomPeak, cfg.Scene.Outro, nil)
		if err != nil {
			closeSrc()
			return nil, 0, noop, err
		}
	}

	if scenarioOut != "" {
		if scenario == nil {
			scenario = scene.GenerateScenario(src.PageCount(), cfg.Scene.PageDuration, zoom, cfg.Scene.ZoomPeak, cfg.Scene.Outro)
		}
		closeSrc()
		return nil, 0, noop, scene.WriteScenario(scenario, scenarioOut)
	}

	show, err := scene.NewSlideshow(src, scene.SlideshowOptions{
		DPI:          cfg.Scene.DPI,
		PageDuration: cfg.Scene.PageDuration,
		Fade:         cfg.Scene.Fade,
		Scenario:     scenario,
		Zoom:         zoom,
		ZoomPeak:     cfg.Scene.ZoomPeak,
		Outro:        cfg.Scene.Outro,
		Loop:         cfg.Scene.Loop,
		Background:   gg.Hex("#000000"),
	})
	if err != nil {
		closeSrc()
		return nil, 0, noop, err
	}
	fmt.Printf("[*] Rendering %d pages at %d DPI...\n", src.PageCount(), cfg.Scene.DPI)
	if err := show.Preload(ctx, runtime.NumCPU()); err != nil {
		closeSrc()
		return nil, 0, noop, err
	}
	return wrapStamp(show, cfg), show.Duration(), closeSrc, nil
}

func wrapStamp(sc scene.Scene, cfg config.Config) scene.Scene {
	if !cfg.Scene.Stamp {
		return sc
	}
	return scene.NewStamp(sc)
}
