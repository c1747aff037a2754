package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"buildgate/internal/build"
	"buildgate/internal/errors"
	"buildgate/internal/jobs"
	"buildgate/internal/paths"
	"buildgate/internal/storage"
)

// pipeline is one in-flight download, compile and assemble sequence for
// an artifact. Requests for the same artifact share it.
type pipeline struct {
	key    string
	ref    string
	commit string
	path   string
	done   chan struct{}
	err    error
}

// build resolves the ref, joins or starts the artifact's pipeline and
// waits for it up to the build wait. A finished pipeline retries the
// assembled output; one still running yields 201 or 202.
func (d *Dispatcher) build(ctx context.Context, req Request, artifact string) (*Response, error) {
	commit, err := d.resolve(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	if commit == "" {
		return notFound(fmt.Sprintf("ref %q not found", req.Ref)), nil
	}

	p, created := d.startPipeline(ctx, req.Ref, commit, artifact)

	timer := time.NewTimer(d.buildWait)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		return inProgress(created, commit), nil
	case <-ctx.Done():
		return inProgress(created, commit), nil
	}

	if p.err != nil {
		switch errors.CodeOf(p.err) {
		case errors.BuildFailure, errors.NoExportablePaths, errors.NotFound:
			d.logger.Warn("Build failed",
				"ref", req.Ref,
				"commit", commit,
				"path", artifact,
				"error", p.err.Error(),
			)
			return nil, nil
		default:
			return nil, p.err
		}
	}

	resp, err := d.serveAssembled(ctx, req, artifact)
	if resp != nil {
		resp.Commit = commit
	}
	return resp, err
}

func inProgress(created bool, commit string) *Response {
	if created {
		return &Response{Status: http.StatusCreated, Message: "Build started. Retry shortly.", Commit: commit}
	}
	return &Response{Status: http.StatusAccepted, Message: "Build in progress. Retry shortly.", Commit: commit}
}

// startPipeline returns the running pipeline for the artifact, starting one
// if none exists. created reports whether this call started it.
func (d *Dispatcher) startPipeline(ctx context.Context, ref, commit, artifact string) (*pipeline, bool) {
	key := buildKey(ref, artifact)

	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pipelines[key]; ok {
		return p, false
	}

	p := &pipeline{
		key:    key,
		ref:    ref,
		commit: commit,
		path:   artifact,
		done:   make(chan struct{}),
	}
	d.pipelines[key] = p

	go d.runPipeline(context.WithoutCancel(ctx), p)
	return p, true
}

// InFlight returns the number of running pipelines
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pipelines)
}

func (d *Dispatcher) runPipeline(ctx context.Context, p *pipeline) {
	defer func() {
		if r := recover(); r != nil {
			p.err = fmt.Errorf("build pipeline panicked: %v", r)
		}
		d.mu.Lock()
		delete(d.pipelines, p.key)
		d.mu.Unlock()
		close(p.done)
	}()

	p.err = d.runSteps(ctx, p)
}

func (d *Dispatcher) runSteps(ctx context.Context, p *pipeline) error {
	sourceDir, err := d.layout.SourceDir(p.ref)
	if err != nil {
		return errors.New(errors.NotFound, "invalid ref", err)
	}
	compiledDir, _ := d.layout.CompiledDir(p.ref)
	buildDir, _ := d.layout.BuildDir(p.ref)
	assembledDir, _ := d.layout.AssembledDir(p.ref)

	if !exists(sourceDir) {
		err := d.runStep(ctx, p, jobs.LaneDownload, p.ref, "download", func(ctx context.Context) error {
			return d.export(ctx, p.commit, sourceDir)
		})
		if err != nil {
			return err
		}
	}

	target := build.Target{
		SourceDir: sourceDir,
		OutputDir: compiledDir,
		BuildDir:  buildDir,
		RefName:   p.ref,
		FilePath:  p.path,
	}

	if !isFile(paths.JoinRepoPath(compiledDir, p.path)) {
		err := d.runStep(ctx, p, jobs.LaneCompile, p.key, "compile", func(ctx context.Context) error {
			return d.compiler.Compile(ctx, target)
		})
		if err != nil {
			return err
		}
	}

	assembleTarget := target
	assembleTarget.OutputDir = assembledDir

	if !isFile(paths.JoinRepoPath(assembledDir, p.path)) {
		err := d.runStep(ctx, p, jobs.LaneCompile, p.key, "assemble", func(ctx context.Context) error {
			return d.assembler.Assemble(ctx, assembleTarget)
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// runStep admits op to lane under key and waits for it. Only the admitting
// pipeline records the step.
func (d *Dispatcher) runStep(ctx context.Context, p *pipeline, lane, key, step string, op jobs.Operation) error {
	job, created, err := d.queue.AddJob(lane, key, op)
	if err != nil {
		return err
	}

	err = job.Wait(ctx)
	if created {
		d.record(ctx, job, p, step)
	}
	return err
}

// export writes the source tree for commit beside sourceDir and moves it
// into place, so a failed export never leaves a partial tree behind.
func (d *Dispatcher) export(ctx context.Context, commit, sourceDir string) error {
	if exists(sourceDir) {
		return nil
	}

	partial := sourceDir + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return errors.New(errors.InternalError, "failed to clear partial export", err)
	}

	if _, err := d.source.ExportTree(ctx, commit, partial); err != nil {
		_ = os.RemoveAll(partial)
		return err
	}

	if err := os.Rename(partial, sourceDir); err != nil {
		_ = os.RemoveAll(partial)
		return errors.New(errors.InternalError, "failed to move exported source into place", err)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, job *jobs.Job, p *pipeline, step string) {
	if d.recorder == nil {
		return
	}

	snap := job.Snapshot()
	startedAt := snap.CreatedAt
	if snap.StartedAt != nil {
		startedAt = *snap.StartedAt
	}
	status := storage.StatusSucceeded
	if snap.Status == jobs.JobFailed {
		status = storage.StatusFailed
	}

	rec := storage.BuildRecord{
		JobID:      snap.ID,
		Ref:        p.ref,
		Commit:     p.commit,
		Path:       p.path,
		Step:       step,
		Status:     status,
		Error:      snap.Error,
		StartedAt:  startedAt,
		DurationMs: job.Duration().Milliseconds(),
	}
	if step == "download" {
		rec.Path = ""
	}

	if err := d.recorder.RecordBuild(ctx, rec); err != nil {
		d.logger.Warn("Failed to record build step",
			"step", step,
			"ref", p.ref,
			"error", err.Error(),
		)
	}
}
