// Package executor runs a single stage's command and ingests its
// outputs, per spec.md §4.9: spawn the resolved command in its working
// directory, watch an optional checkpoint file while it runs, and on a
// non-zero exit report StageFailed without writing anything to the
// lockfile — only a successful run may update the stage's recorded
// state.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flowcache/flowdag/internal/cmdutil"
	"github.com/flowcache/flowdag/internal/hash"
	"github.com/flowcache/flowdag/internal/ignore"
	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
	"github.com/flowcache/flowdag/internal/pipeline"
)

// StageFailed wraps a non-zero exit from a stage's command, carrying
// enough of exec.ExitError to report a useful exit code without forcing
// callers to import os/exec themselves.
type StageFailed struct {
	Addr     string
	ExitCode int
	Err      error
}

func (e *StageFailed) Error() string {
	return fmt.Sprintf("executor: stage %s failed (exit %d): %v", e.Addr, e.ExitCode, e.Err)
}

func (e *StageFailed) Unwrap() error { return e.Err }

// checkpointPollInterval is how often the checkpoint monitor goroutine
// re-stats the checkpoint file while a stage's command is running.
const checkpointPollInterval = 2 * time.Second

// OnCheckpoint is called, at most once per distinct mtime observed, when
// a running stage touches its declared checkpoint file.
type OnCheckpoint func(addr string, mtime time.Time)

// Executor runs stages and ingests their outputs into store.
type Executor struct {
	store  *odb.ODB
	ignore *ignore.Matcher
	log    *logger.Logger

	OnCheckpoint OnCheckpoint
}

// New builds an Executor. ign may be nil to include everything when
// hashing directory outputs.
func New(store *odb.ODB, ign *ignore.Matcher, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Executor{store: store, ignore: ign, log: log}
}

// Result is what a successful Run produces: the stage's deps and outs,
// now carrying their observed content hashes.
type Result struct {
	Cmd  string
	Deps []model.Dependency
	Outs []model.Output
}

// Run executes st's command, then hashes and ingests every declared
// output. Outputs declared but absent after a successful exit are
// reported as an error rather than silently skipped, since a stage that
// claims an output it didn't produce is a stage whose lockfile entry
// would otherwise lie.
func (e *Executor) Run(ctx context.Context, st *pipeline.Stage, hashDep func(path string) (model.Hash, *model.Meta, error)) (*Result, error) {
	cmdStr, err := st.ResolvedCommand()
	if err != nil {
		return nil, err
	}

	for _, o := range st.Outs {
		if o.Persist {
			continue
		}
		if err := os.RemoveAll(o.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("executor: stage %s: clear output %s: %w", st.Addr(), o.Path, err)
		}
	}

	builder := cmdutil.ShellCommandBuilder{Command: cmdStr, Dir: st.AbsWorkingDir()}
	cmd, err := builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: stage %s: %w", st.Addr(), err)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	stopCheckpoint := e.watchCheckpoint(ctx, st)
	runErr := cmd.Run()
	stopCheckpoint()

	if runErr != nil {
		var exitErr *exec.ExitError
		code := -1
		if ok := asExitError(runErr, &exitErr); ok {
			code = exitErr.ExitCode()
		}
		return nil, &StageFailed{Addr: st.Addr(), ExitCode: code, Err: runErr}
	}

	res := &Result{Cmd: cmdStr}

	for _, d := range st.Deps {
		if d.IsParams() {
			res.Deps = append(res.Deps, d)
			continue
		}
		h, meta, err := hashDep(d.Path)
		if err != nil {
			return nil, fmt.Errorf("executor: stage %s: hash dep %s: %w", st.Addr(), d.Path, err)
		}
		nd := d
		nd.Hash = &h
		nd.Meta = meta
		res.Deps = append(res.Deps, nd)
	}

	for _, o := range st.Outs {
		info, statErr := os.Stat(o.Path)
		if statErr != nil {
			return nil, fmt.Errorf("executor: stage %s: declared output %s was not produced: %w", st.Addr(), o.Path, statErr)
		}

		no := o
		if !o.Cache {
			res.Outs = append(res.Outs, no)
			continue
		}

		var h model.Hash
		var meta model.Meta
		if info.IsDir() {
			ctxHash, hmeta, _, herr := hash.HashDir(ctx, o.Path, e.ignore)
			if herr != nil {
				return nil, fmt.Errorf("executor: stage %s: hash output %s: %w", st.Addr(), o.Path, herr)
			}
			h, meta = ctxHash, hmeta
			if err := e.ingestTree(ctx, o.Path); err != nil {
				return nil, err
			}
		} else {
			var herr error
			h, meta, herr = e.store.PutFile(ctx, o.Path)
			if herr != nil {
				return nil, fmt.Errorf("executor: stage %s: ingest output %s: %w", st.Addr(), o.Path, herr)
			}
		}
		no.Hash = &h
		no.Meta = &meta
		res.Outs = append(res.Outs, no)
	}

	return res, nil
}

// ingestTree hashes and ingests every file under dir individually, so the
// ODB has each blob even though the caller only asked for the tree hash.
func (e *Executor) ingestTree(ctx context.Context, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		if e.ignore != nil && !e.ignore.Match(filepath.ToSlash(rel), false) {
			return nil
		}
		_, _, err = e.store.PutFile(ctx, path)
		return err
	})
}

// watchCheckpoint starts a goroutine polling st.Checkpoint's mtime (when
// declared) and invokes e.OnCheckpoint on each change; it returns a
// function to stop the goroutine once the command exits.
func (e *Executor) watchCheckpoint(ctx context.Context, st *pipeline.Stage) func() {
	if st.Checkpoint == "" || e.OnCheckpoint == nil {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		var lastMtime time.Time
		ticker := time.NewTicker(checkpointPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(st.Checkpoint)
				if err != nil {
					continue
				}
				if info.ModTime().After(lastMtime) {
					lastMtime = info.ModTime()
					e.OnCheckpoint(st.Addr(), lastMtime)
				}
			}
		}
	}()
	return func() { close(done) }
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}
