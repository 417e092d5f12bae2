package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"standmask/config"
	"standmask/metrics"
	"standmask/util"
	"standmask/video/process"
	"standmask/video/sink"
	"standmask/video/source"
)

type State int

const (
	Idle State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Summary describes a finished run.
type Summary struct {
	RunID string
	// Frames counts frames written to every sink.
	Frames int
	// Detections counts instances of any class, Redacted those of the masked
	// class.
	Detections int
	Redacted   int

	State State
	// Interrupted is set when the run stopped before the end of the source.
	Interrupted bool
	Elapsed     time.Duration
}

type RunOptions struct {
	// OnFrame, if set, is called with every processed frame after all sinks
	// have it. Returning true ends the run early. The image is closed once
	// OnFrame returns.
	OnFrame func(source.Image) bool
}

// Pipeline resizes each frame, runs instance segmentation on it and blacks
// out the masked class before handing the frame to the sinks. A Pipeline
// runs at most once.
type Pipeline struct {
	cfg        config.Config
	engine     process.Engine
	ownsEngine bool
	catalog    *process.ClassCatalog
	masked     int
	size       image.Point
	metrics    *metrics.Metrics

	id  string
	log *log.Entry

	state State
	l     sync.Mutex
}

// Open validates cfg and loads the model it names. m may be nil.
func Open(cfg config.Config, m *metrics.Metrics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := process.OpenEngine(cfg.Backend, process.EngineOptionsFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	p, err := NewPipeline(cfg, engine, m)
	if err != nil {
		engine.Close()
		return nil, err
	}
	p.ownsEngine = true
	return p, nil
}

// NewPipeline builds a pipeline around an already loaded engine, which the
// caller keeps ownership of. m may be nil.
func NewPipeline(cfg config.Config, engine process.Engine, m *metrics.Metrics) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, util.ConfigErrorf("engine", "no inference engine")
	}
	catalog, err := process.NewClassCatalog(cfg.ClassNames)
	if err != nil {
		return nil, &util.ConfigurationError{Op: "class_names", Err: err}
	}
	masked, ok := catalog.Index(cfg.MaskedClass)
	if !ok {
		return nil, util.ConfigErrorf("masked_class", "%q is not in the class catalog", cfg.MaskedClass)
	}
	if m == nil {
		m = metrics.New()
	}

	id := uuid.NewString()
	return &Pipeline{
		cfg:     cfg,
		engine:  engine,
		catalog: catalog,
		masked:  masked,
		size:    cfg.TargetSize(),
		metrics: m,
		id:      id,
		log: log.WithFields(log.Fields{
			"run":   id,
			"input": cfg.InputVideo,
		}),
	}, nil
}

func (p *Pipeline) RunID() string {
	return p.id
}

func (p *Pipeline) State() State {
	p.l.Lock()
	defer p.l.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.l.Lock()
	defer p.l.Unlock()
	p.state = s
}

type frameStats struct {
	detections int
	redacted   int
	pixels     int
}

// ProcessFrame returns a resized, redacted copy of frame. The caller must
// Close the result. Engine failures are reported as *util.InferenceError
// with Frame set to -1.
func (p *Pipeline) ProcessFrame(frame gocv.Mat) (gocv.Mat, error) {
	out, _, err := p.processFrame(frame, -1)
	return out, err
}

func (p *Pipeline) processFrame(frame gocv.Mat, index int) (gocv.Mat, frameStats, error) {
	var st frameStats

	start := time.Now()
	out, err := process.Preprocess(frame, p.size)
	if err != nil {
		return gocv.Mat{}, st, &util.IOError{Op: fmt.Sprintf("resize frame %d", index), Err: err}
	}
	p.metrics.ObserveStage(metrics.StageResize, start)

	fail := func(err error) (gocv.Mat, frameStats, error) {
		out.Close()
		return gocv.Mat{}, st, &util.InferenceError{Frame: index, Err: err}
	}

	start = time.Now()
	instances, err := p.engine.Infer(out)
	if err != nil {
		return fail(err)
	}
	p.metrics.ObserveStage(metrics.StageInfer, start)

	start = time.Now()
	for _, in := range instances {
		name, err := p.catalog.Name(in.Class)
		if err != nil {
			return fail(err)
		}
		p.metrics.Instances.WithLabelValues(name).Inc()
		st.detections++

		if in.Class != p.masked {
			continue
		}
		if in.Mask == nil {
			return fail(fmt.Errorf("%s instance at %v has no mask", name, in.Box))
		}
		if err := process.Redact(&out, in.Mask); err != nil {
			return fail(err)
		}
		st.redacted++
		st.pixels += in.Mask.Count()
	}
	p.metrics.ObserveStage(metrics.StageRedact, start)

	p.log.Debugf("Frame %d: %d instances, %d redacted", index, st.detections, st.redacted)
	return out, st, nil
}

// Run processes src until it is exhausted, ctx is cancelled, OnFrame asks to
// stop or any error occurs. Frames reach the sinks in source order and are
// numbered from 0. Run closes src and every sink before returning, whatever
// the outcome.
func (p *Pipeline) Run(ctx context.Context, src source.Source, sinks []sink.Sink, opts RunOptions) (Summary, error) {
	sum := Summary{RunID: p.id}

	p.l.Lock()
	if p.state != Idle {
		st := p.state
		p.l.Unlock()
		sum.State = st
		err := fmt.Errorf("pipeline %v already %v", p.id, st)
		if cerr := closeAll(src, sinks); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return sum, err
	}
	p.state = Running
	p.l.Unlock()

	start := time.Now()
	p.log.Infof("Run started, target %dx%d, redacting %q", p.size.X, p.size.Y, p.cfg.MaskedClass)

	runErr := p.loop(ctx, src, sinks, opts, &sum)
	closeErr := closeAll(src, sinks)

	sum.Elapsed = time.Since(start)
	err := runErr
	if closeErr != nil {
		err = errors.Join(runErr, closeErr)
	}
	if err != nil {
		sum.State = Failed
	} else {
		sum.State = Completed
	}
	p.setState(sum.State)
	p.metrics.Runs.WithLabelValues(sum.State.String()).Inc()

	l := p.log.WithFields(log.Fields{
		"frames":   sum.Frames,
		"redacted": sum.Redacted,
		"elapsed":  sum.Elapsed.Round(time.Millisecond),
	})
	switch {
	case err != nil:
		l.Errorf("Run failed: %v", err)
	case sum.Interrupted:
		l.Infof("Run stopped early")
	default:
		l.Infof("Run completed")
	}
	return sum, err
}

func (p *Pipeline) loop(ctx context.Context, src source.Source, sinks []sink.Sink, opts RunOptions, sum *Summary) error {
	for index := 0; ; index++ {
		if ctx.Err() != nil {
			sum.Interrupted = true
			return nil
		}

		in, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &util.IOError{Op: fmt.Sprintf("read frame %d", index), Err: err}
		}

		mat, st, err := p.processFrame(in.Mat, index)
		in.Close()
		if err != nil {
			return err
		}
		out := source.Image{Mat: mat, Index: index}

		start := time.Now()
		for i, s := range sinks {
			if err := s.Put(out); err != nil {
				out.Close()
				return &util.IOError{Op: fmt.Sprintf("write frame %d to sink %d", index, i), Err: err}
			}
		}
		p.metrics.ObserveStage(metrics.StageWrite, start)

		sum.Frames++
		sum.Detections += st.detections
		sum.Redacted += st.redacted
		p.metrics.Frames.Inc()
		p.metrics.RedactedInstances.Add(float64(st.redacted))
		p.metrics.RedactedPixels.Add(float64(st.pixels))

		stop := opts.OnFrame != nil && opts.OnFrame(out)
		out.Close()
		if stop {
			sum.Interrupted = true
			return nil
		}
	}
}

// closeAll closes the source and every sink, collecting their errors.
func closeAll(src source.Source, sinks []sink.Sink) error {
	var errs []string
	var wrapped []error
	if err := src.Close(); err != nil {
		errs = append(errs, "source")
		wrapped = append(wrapped, fmt.Errorf("closing source: %w", err))
	}
	for i, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("sink %d", i))
			wrapped = append(wrapped, fmt.Errorf("closing sink %d: %w", i, err))
		}
	}
	if len(wrapped) == 0 {
		return nil
	}
	return &util.IOError{Op: "close " + strings.Join(errs, ", "), Err: errors.Join(wrapped...)}
}

// Close releases the engine if Open loaded it.
func (p *Pipeline) Close() error {
	if !p.ownsEngine {
		return nil
	}
	return p.engine.Close()
}
