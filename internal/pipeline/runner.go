// Package pipeline runs the modelling workflow: read the variable table,
// build the occurrence vector, fit and predict every configured model, then
// write and persist the similarity layers.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sdm-cli/internal/config"
	"github.com/sells-group/sdm-cli/internal/distance"
	"github.com/sells-group/sdm-cli/internal/fetcher"
	"github.com/sells-group/sdm-cli/internal/geo"
	"github.com/sells-group/sdm-cli/internal/model"
	"github.com/sells-group/sdm-cli/internal/resilience"
	"github.com/sells-group/sdm-cli/internal/sdm"
	"github.com/sells-group/sdm-cli/internal/store"
	"github.com/sells-group/sdm-cli/internal/table"
	"github.com/sells-group/sdm-cli/internal/tableio"
)

// Runner executes modelling runs.
type Runner struct {
	cfg   *config.Config
	store store.Store
	http  fetcher.Fetcher
	ftp   fetcher.Fetcher
	retry resilience.RetryConfig
}

// NewRunner creates a Runner. st may be nil to skip persistence.
func NewRunner(cfg *config.Config, st store.Store) *Runner {
	retry := cfg.Store.Retry.Policy()
	retry.OnRetry = resilience.RetryLogger("pipeline: save layer")
	timeout := time.Duration(cfg.Fetch.TimeoutSecs) * time.Second
	fetchRetry := resilience.FromRetryConfig(cfg.Fetch.MaxAttempts, 500, 30000)
	return &Runner{
		cfg:   cfg,
		store: st,
		http: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   timeout,
			RateLimit: cfg.Fetch.RateLimit,
			Retry:     fetchRetry,
		}),
		ftp:   fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout, Retry: fetchRetry}),
		retry: retry,
	}
}

// Request names the inputs of one run. Each path may also be an http(s) or
// ftp URL, or a zip archive holding the table.
type Request struct {
	VarsPath    string // variable table used for fitting
	PointsPath  string // optional occurrence points; replaces the occurrence column
	PredictPath string // optional projection table; defaults to the fit table
	Species     string // overrides run.species
}

// LayerResult describes one produced layer.
type LayerResult struct {
	model.LayerMeta `yaml:",inline"`
	Path            string `yaml:"path,omitempty"`
	DurationMS      int64  `yaml:"duration_ms"`
}

// Result is the outcome of a run. It is also the YAML run report.
type Result struct {
	Run         model.Run      `yaml:"run"`
	Specs       []sdm.Spec     `yaml:"specs"`
	Rows        int            `yaml:"rows"`
	Dropped     int            `yaml:"dropped"`
	Occurrences int            `yaml:"occurrences"`
	Snap        *geo.SnapStats `yaml:"snap,omitempty"`
	Layers      []LayerResult  `yaml:"layers"`
	ReportPath  string         `yaml:"-"`
}

// Run fits every configured model on the request's data and produces one
// similarity layer per model. The run record and report are written even when
// the run fails.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	specs, err := sdm.Specs(r.cfg.Model.Kinds, r.cfg.Model.K, r.cfg.Model.Metric)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: model specs")
	}

	species := req.Species
	if species == "" {
		species = r.cfg.Run.Species
	}
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = LayerName(species, s)
	}

	log := zap.L().With(zap.String("input", req.VarsPath), zap.String("species", species))
	log.Info("pipeline: starting run", zap.Strings("layers", names))

	now := time.Now().UTC()
	res := &Result{
		Specs: specs,
		Run: model.Run{
			Species:   species,
			Input:     req.VarsPath,
			Models:    names,
			Status:    model.RunStatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if r.store != nil {
		run, err := r.store.CreateRun(ctx, res.Run)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		res.Run = *run
	} else {
		res.Run.ID = uuid.New().String()
	}
	log = log.With(zap.String("run_id", res.Run.ID))

	runErr := r.execute(ctx, req, specs, names, res, log)
	r.finish(ctx, res, runErr, log)
	return res, runErr
}

func (r *Runner) execute(ctx context.Context, req Request, specs []sdm.Spec, names []string, res *Result, log *zap.Logger) error {
	in, err := r.loadInputs(ctx, req, res, log)
	if err != nil {
		return err
	}
	res.Occurrences = in.occurrences

	layers := make([]*model.Layer, len(specs))
	results := make([]LayerResult, len(specs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.cfg.Run.Workers, 1))
	for i, spec := range specs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			start := time.Now()
			layer, path, err := r.runModel(spec, names[i], res.Run.ID, in)
			if err != nil {
				return eris.Wrapf(err, "pipeline: %s", names[i])
			}
			layers[i] = layer
			results[i] = LayerResult{LayerMeta: layer.LayerMeta, Path: path, DurationMS: time.Since(start).Milliseconds()}
			log.Debug("pipeline: layer complete",
				zap.String("layer", names[i]),
				zap.Int64("duration_ms", results[i].DurationMS),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Layers are saved one at a time; SQLite has a single writer.
	if r.store != nil {
		for i, layer := range layers {
			err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
				return r.store.SaveLayer(ctx, layer)
			})
			if err != nil {
				return eris.Wrapf(err, "pipeline: save %s", layer.Name)
			}
			results[i].LayerMeta = layer.LayerMeta
		}
	}
	res.Layers = results
	return nil
}

// runModel fits and predicts one model and writes its layer file.
func (r *Runner) runModel(spec sdm.Spec, name, runID string, in *inputs) (*model.Layer, string, error) {
	m, err := sdm.New(spec)
	if err != nil {
		return nil, "", err
	}
	if err := m.Fit(in.fit, in.y); err != nil {
		return nil, "", err
	}
	sim, err := m.Predict(in.target)
	if err != nil {
		return nil, "", err
	}

	metric, err := distance.Parse(spec.Metric)
	if err != nil {
		return nil, "", err
	}
	meta := model.LayerMeta{
		Name:        name,
		RunID:       runID,
		Model:       m.Name(),
		Metric:      metric.String(),
		K:           spec.K,
		Columns:     in.fit.Columns(),
		Occurrences: in.occurrences,
	}
	Summarize(&meta, sim.Values())
	if rr, ok := m.(sdm.RangeReporter); ok {
		rep, err := rr.Range(in.target)
		if err != nil {
			return nil, "", err
		}
		meta.OutOfRange = rep.Cells
	}

	path, err := r.writeLayer(name, sim)
	if err != nil {
		return nil, "", err
	}
	return NewLayer(meta, sim), path, nil
}

// writeLayer writes sim to <output.dir>/<name>.<format>. Returns "" when
// output is disabled.
func (r *Runner) writeLayer(name string, sim *table.Table) (string, error) {
	format := r.cfg.Output.Format
	if format == "" || format == "none" {
		return "", nil
	}
	if err := os.MkdirAll(r.cfg.Output.Dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "pipeline: create %s", r.cfg.Output.Dir)
	}
	path := filepath.Join(r.cfg.Output.Dir, name+"."+format)
	opts := tableio.Options{
		IDColumn: r.cfg.Input.IDColumn,
		XColumn:  r.cfg.Input.XColumn,
		YColumn:  r.cfg.Input.YColumn,
	}
	if err := tableio.WriteFile(path, sim, opts); err != nil {
		return "", eris.Wrapf(err, "pipeline: write %s", path)
	}
	return path, nil
}

// finish records the terminal status and writes the YAML report.
func (r *Runner) finish(ctx context.Context, res *Result, runErr error, log *zap.Logger) {
	res.Run.Status = model.RunStatusComplete
	if runErr != nil {
		res.Run.Status = model.RunStatusFailed
		res.Run.Error = runErr.Error()
	}
	res.Run.UpdatedAt = time.Now().UTC()

	if r.store != nil {
		// The run context may already be cancelled; the status update should still land.
		if err := r.store.FinishRun(context.WithoutCancel(ctx), res.Run.ID, res.Run.Status, res.Run.Error); err != nil {
			log.Warn("pipeline: failed to update run status", zap.Error(err))
		}
	}

	if r.cfg.Output.Format != "none" && r.cfg.Output.Dir != "" {
		path, err := WriteReport(r.cfg.Output.Dir, res)
		if err != nil {
			log.Warn("pipeline: failed to write report", zap.Error(err))
		} else {
			res.ReportPath = path
		}
	}

	if runErr != nil {
		log.Error("pipeline: run failed", zap.Error(runErr))
		return
	}
	log.Info("pipeline: run complete",
		zap.Int("layers", len(res.Layers)),
		zap.Int("occurrences", res.Occurrences),
		zap.Int("dropped", res.Dropped),
	)
}

// LayerName is the stored name of a spec's layer, prefixed with the species
// when one is set.
func LayerName(species string, spec sdm.Spec) string {
	if species == "" {
		return spec.String()
	}
	return species + "_" + spec.String()
}

// WriteReport writes res as YAML to <dir>/<run-id>.report.yaml.
func WriteReport(dir string, res *Result) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "pipeline: create %s", dir)
	}
	data, err := yaml.Marshal(res)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: marshal report")
	}
	path := filepath.Join(dir, res.Run.ID+".report.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "pipeline: write %s", path)
	}
	return path, nil
}
