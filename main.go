package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"standmask/config"
	"standmask/metrics"
	"standmask/util"
	"standmask/video"
	"standmask/video/process"
	"standmask/video/sink"
	"standmask/video/source"
)

var (
	configPath  = flag.String("config", "", "JSON or YAML configuration file.")
	input       = flag.String("input", "", "Input video file.")
	output      = flag.String("output", "", "Output video file. With -watch, the directory results are written to.")
	frames      = flag.String("frames", "", "Directory for the individual redacted frames.")
	weights     = flag.String("weights", "", "Model weights (.pb for opencv, .onnx for onnx).")
	graph       = flag.String("graph", "", "Text graph for the opencv backend.")
	backend     = flag.String("backend", "", "Inference backend, opencv or onnx.")
	classes     = flag.Int("classes", 0, "Number of classes the model was trained with.")
	classNames  = flag.String("class_names", "", "Comma separated class names, in model order.")
	threshold   = flag.Float64("threshold", 0, "Minimum detection confidence.")
	masked      = flag.String("masked_class", "", "Class to black out.")
	encoder     = flag.String("encoder", "", "Video encoder, opencv or ffmpeg.")
	preview     = flag.Bool("preview", false, "Show processed frames in a window. Press q to stop.")
	previewPort = flag.Int("preview_port", 0, "Serve an MJPEG preview and /metrics on this port.")
	metricsFile = flag.String("metrics_file", "", "Write metrics in textfile format here on exit.")
	watch       = flag.String("watch", "", "Process every video that appears in this directory until interrupted.")
	logLevel    = flag.String("log_level", "", "Log level (debug, info, warn, error).")
)

var watchExts = []string{".mp4", ".avi", ".mov", ".mkv"}

const previewStream = "default"

// loadConfig reads -config and applies every flag that was set explicitly.
func loadConfig() (config.Config, error) {
	c, err := config.Load(*configPath)
	if err != nil {
		return c, err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["input"] {
		c.InputVideo = *input
	}
	if set["output"] && *watch == "" {
		c.OutputVideo = *output
	}
	if set["frames"] {
		c.OutputFrameDir = *frames
	}
	if set["weights"] {
		c.ModelWeights = *weights
	}
	if set["graph"] {
		c.ModelConfig = *graph
	}
	if set["backend"] {
		c.Backend = *backend
	}
	if set["class_names"] {
		c.ClassNames = strings.Split(*classNames, ",")
		c.NumClasses = len(c.ClassNames)
	}
	if set["classes"] {
		c.NumClasses = *classes
	}
	if set["threshold"] {
		c.ConfidenceThreshold = float32(*threshold)
	}
	if set["masked_class"] {
		c.MaskedClass = *masked
	}
	if set["encoder"] {
		c.Encoder = *encoder
	}
	if set["metrics_file"] {
		c.MetricsFile = *metricsFile
	}
	if set["log_level"] {
		c.LogLevel = *logLevel
	}
	return c, nil
}

type app struct {
	engine  process.Engine
	metrics *metrics.Metrics
	mjpeg   *sink.MJPEGServer
	window  *sink.Window
	ffmpeg  string
	root    string
	// cancel stops everything, used when the preview window is quit.
	cancel context.CancelFunc
}

func (a *app) sinks(c config.Config, outs *video.Outputs, fps float64) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	switch c.Encoder {
	case config.EncoderFFmpeg:
		s, err := sink.NewFFmpeg(outs.VideoPath, sink.FFmpegOptions{
			Binary: a.ffmpeg,
			FPS:    fps,
			Size:   c.TargetSize(),
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	default:
		s, err := sink.NewVideo(outs.VideoPath, c.Codec, fps, c.TargetSize())
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, s)
	}

	fd, err := sink.NewFrameDir(outs.FrameDir, c.ImageFormat)
	if err != nil {
		return fail(err)
	}
	sinks = append(sinks, fd)

	if a.mjpeg != nil {
		st, err := a.mjpeg.NewStream(previewStream)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, st)
	}
	return sinks, nil
}

// processFile redacts a single video as described by c.
func (a *app) processFile(ctx context.Context, c config.Config) (video.Summary, error) {
	outs, err := video.ResolveOutputs(c, a.root)
	if err != nil {
		return video.Summary{}, err
	}
	log.Infof("Processing %v", outs)

	src, err := source.OpenVideoFile(c.InputVideo)
	if err != nil {
		return video.Summary{}, err
	}
	p, err := video.NewPipeline(c, a.engine, a.metrics)
	if err != nil {
		src.Close()
		return video.Summary{}, err
	}
	defer p.Close()

	fps := src.FPS()
	if fps <= 0 {
		log.Warnf("%v reports %v fps, assuming 25", c.InputVideo, fps)
		fps = 25
	}
	sinks, err := a.sinks(c, outs, fps)
	if err != nil {
		src.Close()
		return video.Summary{}, err
	}

	var opts video.RunOptions
	if a.window != nil {
		opts.OnFrame = func(img source.Image) bool {
			shown := img.Clone()
			defer shown.Close()
			process.DrawLabel(&shown.Mat, fmt.Sprintf("frame %d", img.Index))
			if a.window.Show(shown) {
				log.Infof("Preview closed, stopping")
				a.cancel()
				return true
			}
			return false
		}
	}

	sum, err := p.Run(ctx, src, sinks, opts)
	if err != nil {
		return sum, err
	}
	if d, err := outs.VideoDuration(); err != nil {
		log.Warnf("Unable to read output duration: %v", err)
	} else {
		log.Infof("Wrote %v (%v, %d frames)", outs.VideoPath, d, sum.Frames)
	}
	return sum, nil
}

func (a *app) watchDir(ctx context.Context, c config.Config, dir string) error {
	files, err := source.WatchDir(ctx, dir, watchExts)
	if err != nil {
		return &util.ConfigurationError{Op: "watch", Err: err}
	}
	for f := range files {
		if strings.HasSuffix(f, video.ExtVideo) {
			continue
		}
		fc := c
		fc.InputVideo = f
		fc.OutputVideo = ""
		fc.OutputFrameDir = ""

		outs, err := video.ResolveOutputs(fc, a.root)
		if err != nil {
			return err
		}
		if outs.Done() {
			log.Infof("Skipping %v, already processed", f)
			continue
		}
		if _, err := a.processFile(ctx, fc); err != nil {
			var cerr *util.ConfigurationError
			if errors.As(err, &cerr) && cerr.Op != "input_video" {
				return err
			}
			log.Errorf("Failed to process %v: %v", f, err)
		}
	}
	return nil
}

func servePreview(port int, m *sink.MJPEGServer, reg *metrics.Metrics) *http.Server {
	r := mux.NewRouter()
	r.Handle("/mjpeg", m).Methods(http.MethodGet)
	r.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handlers.LoggingHandler(log.StandardLogger().WriterLevel(log.DebugLevel), r),
	}
	go func() {
		log.Infof("Hosting preview on port %d, watch /mjpeg?name=%s", port, previewStream)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Preview server failed: %v", err)
		}
	}()
	return srv
}

func main() {
	flag.Parse()

	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level %q: %v", c.LogLevel, err)
	}
	log.SetLevel(lvl)

	if *watch == "" && c.InputVideo == "" {
		fmt.Println("How to run:\n\tstandmask -weights [model] -input [video]\n\tstandmask -weights [model] -watch [directory]")
		os.Exit(1)
	}
	if err := c.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	c.Dump()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		log.Infof("Caught signal %v, stopping", sig)
		cancel()
	}()

	a := &app{
		metrics: metrics.New(),
		cancel:  cancel,
	}
	if c.Encoder == config.EncoderFFmpeg {
		a.ffmpeg = util.LocateFFmpegOrDie()
		log.Infof("Located ffmpeg binary, %v", a.ffmpeg)
	}

	engine, err := process.OpenEngine(c.Backend, process.EngineOptionsFromConfig(c))
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer engine.Close()
	a.engine = engine

	if *previewPort > 0 {
		a.mjpeg = sink.NewMJPEGServer()
		srv := servePreview(*previewPort, a.mjpeg, a.metrics)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
		}()
	}
	if *preview {
		a.window = sink.NewWindow("Processed Frame")
		defer a.window.Close()
	}

	if *watch != "" {
		a.root = *output
		if a.root == "" {
			a.root = filepath.Join(*watch, "redacted")
		}
		err = a.watchDir(ctx, c, *watch)
	} else {
		_, err = a.processFile(ctx, c)
	}

	if c.MetricsFile != "" {
		if werr := a.metrics.WriteFile(c.MetricsFile); werr != nil {
			log.Errorf("Failed to write metrics to %v: %v", c.MetricsFile, werr)
		}
	}
	if err != nil {
		log.Fatalf("Redaction failed: %v", err)
	}
}
