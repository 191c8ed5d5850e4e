// Package repo wires the engine's components into the façade a thin CLI
// (or embedding Go program) calls: discover pipelines, build the graph,
// decide what's stale, run it, and persist the result. Every component it
// wires is independently testable; this package's own tests exercise the
// wiring, not the components' internals a second time.
package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flowcache/flowdag/internal/blobstore"
	"github.com/flowcache/flowdag/internal/config"
	"github.com/flowcache/flowdag/internal/executor"
	"github.com/flowcache/flowdag/internal/graph"
	"github.com/flowcache/flowdag/internal/hash"
	"github.com/flowcache/flowdag/internal/ignore"
	"github.com/flowcache/flowdag/internal/index"
	"github.com/flowcache/flowdag/internal/linker"
	"github.com/flowcache/flowdag/internal/lock"
	"github.com/flowcache/flowdag/internal/lockfile"
	"github.com/flowcache/flowdag/internal/logger"
	"github.com/flowcache/flowdag/internal/model"
	"github.com/flowcache/flowdag/internal/odb"
	"github.com/flowcache/flowdag/internal/pipeline"
	"github.com/flowcache/flowdag/internal/rerun"
	"github.com/flowcache/flowdag/internal/runcache"
	"github.com/flowcache/flowdag/internal/scm"
	"github.com/flowcache/flowdag/internal/stateindex"
	"github.com/flowcache/flowdag/internal/transfer"
)

// PipelineFileName is the default pipeline file discovered at a
// workspace root, and recursively in subdirectories, matching DVC's own
// "dvc.yaml" convention.
const PipelineFileName = "flowdag.yaml"

// Repo is an opened workspace: its pipelines, object database, and the
// supporting indexes needed to decide what to run and to run it.
type Repo struct {
	Root string
	Cfg  *config.Config
	Log  *logger.Logger

	ODB        *odb.ODB
	StateIndex *stateindex.Index
	Linker     *linker.Linker
	Ignore     *ignore.Matcher
	SCM        scm.SCM
	RunCache   *runcache.Cache
	Refs       *index.Refs

	pipelines []*pipeline.Pipeline
	graph     *graph.Graph
	locks     map[string]*lockfile.File // keyed by pipeline file path
}

// Open discovers every PipelineFileName under root, loads configuration
// and every supporting index, and builds the dependency graph. A
// workspace with zero pipeline files is not an error — it simply has an
// empty graph.
func Open(ctx context.Context, root string) (*Repo, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("repo: load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel(), "")
	if err != nil {
		return nil, fmt.Errorf("repo: init logger: %w", err)
	}

	cacheDir := cfg.CacheDir(root)
	store, err := odb.New(cacheDir, log)
	if err != nil {
		return nil, fmt.Errorf("repo: init object database: %w", err)
	}

	si, err := stateindex.Open(filepath.Join(cacheDir, "state.db"), log)
	if err != nil {
		return nil, fmt.Errorf("repo: init state index: %w", err)
	}

	order, err := parseLinkOrder(cfg.LinkOrder())
	if err != nil {
		si.Close()
		return nil, err
	}
	lnk := linker.New(order, cfg.SlowLinkWarning(), log)

	trie, err := ignore.Build(root)
	if err != nil {
		si.Close()
		return nil, fmt.Errorf("repo: build ignore rules: %w", err)
	}

	rc, err := runcache.New(store, filepath.Join(cacheDir, "runs"))
	if err != nil {
		si.Close()
		return nil, fmt.Errorf("repo: init run cache: %w", err)
	}

	refs, err := index.LoadRefs(cacheDir)
	if err != nil {
		si.Close()
		return nil, fmt.Errorf("repo: load refs: %w", err)
	}

	var vcs scm.SCM = scm.NoSCM{}
	if g, gerr := scm.OpenGit(root); gerr == nil {
		vcs = g
	}

	r := &Repo{
		Root:       root,
		Cfg:        cfg,
		Log:        log,
		ODB:        store,
		StateIndex: si,
		Linker:     lnk,
		Ignore:     trie.Matcher(),
		SCM:        vcs,
		RunCache:   rc,
		Refs:       refs,
		locks:      map[string]*lockfile.File{},
	}

	if err := r.reload(ctx); err != nil {
		si.Close()
		return nil, err
	}
	return r, nil
}

// Close releases resources the Repo holds open (currently only the
// state index's database handle).
func (r *Repo) Close() error {
	return r.StateIndex.Close()
}

func parseLinkOrder(names []string) ([]linker.Kind, error) {
	var out []linker.Kind
	for _, n := range names {
		switch strings.ToLower(n) {
		case "reflink":
			out = append(out, linker.Reflink)
		case "hardlink":
			out = append(out, linker.Hardlink)
		case "symlink":
			out = append(out, linker.Symlink)
		case "copy":
			out = append(out, linker.Copy)
		default:
			return nil, fmt.Errorf("repo: unknown cache.type entry %q", n)
		}
	}
	return out, nil
}

// reload re-discovers pipeline files, reloads params, rebuilds the graph,
// and reloads every lockfile; called once at Open and again after a
// successful Repro.
func (r *Repo) reload(_ context.Context) error {
	paths, err := discoverPipelines(r.Root)
	if err != nil {
		return fmt.Errorf("repo: discover pipelines: %w", err)
	}

	params, err := pipeline.LoadParams(filepath.Join(r.Root, "params.yaml"))
	if err != nil {
		return fmt.Errorf("repo: load params: %w", err)
	}

	r.pipelines = nil
	r.locks = map[string]*lockfile.File{}
	for _, p := range paths {
		pl, err := pipeline.Load(p, params)
		if err != nil {
			return fmt.Errorf("repo: load %s: %w", p, err)
		}
		r.pipelines = append(r.pipelines, pl)

		lf, err := lockfile.Load(lockfile.PathFor(p))
		if err != nil {
			return fmt.Errorf("repo: load lockfile for %s: %w", p, err)
		}
		r.locks[p] = lf
	}

	g, err := graph.Build(r.pipelines)
	if err != nil {
		return fmt.Errorf("repo: build graph: %w", err)
	}
	r.graph = g
	return nil
}

func discoverPipelines(root string) ([]string, error) {
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".flowdag" || info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Name() == PipelineFileName {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Graph exposes the built dependency graph for read-only inspection
// (status reporting, `dag` visualization).
func (r *Repo) Graph() *graph.Graph { return r.graph }

// hashOf is the rerun.HashFunc this repo uses: a directory is hashed via
// hash.HashDir with the workspace's ignore rules, a file goes through the
// state index's fast path.
func (r *Repo) hashOf(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		h, _, _, err := hash.HashDir(context.Background(), path, r.Ignore)
		if err != nil {
			return "", err
		}
		return h.String(), nil
	}
	h, _, err := r.StateIndex.HashFileCached(path)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// Status reports every stage's up-to-date verdict without running
// anything.
func (r *Repo) Status(ctx context.Context) ([]index.StageStatus, error) {
	_ = ctx
	return index.Status(r.graph, r.locks, r.hashOf)
}

// ReproOptions configures a Repro run.
type ReproOptions struct {
	// Force reruns every stage regardless of its up-to-date verdict
	// (frozen stages are still skipped, per spec.md's override).
	Force bool
}

// ReproResult reports what Repro actually did for one stage.
type ReproResult struct {
	Addr       string
	Ran        bool
	FromCache  bool
	Skipped    bool
}

// Repro runs every stale stage (or every stage, with Force) in
// topological order, updating the lockfile after each successful run so
// a crash partway through a multi-stage plan leaves every completed
// stage's state durable.
func (r *Repo) Repro(ctx context.Context, opts ReproOptions) ([]ReproResult, error) {
	decisions, err := rerun.Plan(r.graph, r.locks, r.hashOf)
	if err != nil {
		return nil, err
	}

	ex := executor.New(r.ODB, r.Ignore, r.Log)
	var results []ReproResult

	for _, d := range decisions {
		n, _ := r.graph.Node(d.Addr)
		st := n.Stage

		if !d.Stale && !opts.Force {
			results = append(results, ReproResult{Addr: d.Addr, Skipped: true})
			continue
		}
		if st.Frozen {
			results = append(results, ReproResult{Addr: d.Addr, Skipped: true})
			continue
		}

		fl := lock.New(st.File)
		if err := fl.TryLock(); err != nil {
			return results, fmt.Errorf("repo: stage %s: %w", d.Addr, err)
		}

		res, cacheHit, err := r.runStage(ctx, ex, st)
		unlockErr := fl.Unlock()
		if err != nil {
			return results, err
		}
		if unlockErr != nil {
			r.Log.Warnw("repo: failed to release lock", "stage", d.Addr, "error", unlockErr)
		}

		if err := r.commitResult(st, res); err != nil {
			return results, err
		}

		results = append(results, ReproResult{Addr: d.Addr, Ran: true, FromCache: cacheHit})
	}

	if err := r.reload(ctx); err != nil {
		return results, err
	}
	return results, nil
}

// runStage consults the run cache first, only invoking the executor on a
// miss.
func (r *Repo) runStage(ctx context.Context, ex *executor.Executor, st *pipeline.Stage) (*executor.Result, bool, error) {
	cmd, err := st.ResolvedCommand()
	if err != nil {
		return nil, false, err
	}

	resolvedDeps := make([]model.Dependency, 0, len(st.Deps))
	for _, d := range st.Deps {
		if d.IsParams() {
			resolvedDeps = append(resolvedDeps, d)
			continue
		}
		hv, err := r.hashOf(d.Path)
		if err != nil {
			return nil, false, fmt.Errorf("repo: hash dep %s: %w", d.Path, err)
		}
		h := model.NewHash(hv)
		nd := d
		nd.Hash = &h
		resolvedDeps = append(resolvedDeps, nd)
	}

	key := runcache.Key{Cmd: cmd, Deps: resolvedDeps}
	if m, ok, err := r.RunCache.Lookup(key); err == nil && ok {
		res := manifestToResult(m)
		return res, true, nil
	}

	res, err := ex.Run(ctx, st, r.hashDepForExecutor)
	if err != nil {
		return nil, false, err
	}

	m := runcache.ManifestFromLockEntry(res.Cmd, res.Deps, res.Outs)
	if err := r.RunCache.Save(ctx, key, m); err != nil {
		r.Log.Warnw("repo: failed to save run cache entry", "stage", st.Addr(), "error", err)
	}
	return res, false, nil
}

// hashDepForExecutor adapts Repo's fast-path hashOf into the
// (model.Hash, *model.Meta, error) shape executor.Executor.Run expects
// for dependency hashing.
func (r *Repo) hashDepForExecutor(path string) (model.Hash, *model.Meta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Hash{}, nil, err
	}
	if info.IsDir() {
		h, meta, _, err := hash.HashDir(context.Background(), path, r.Ignore)
		if err != nil {
			return model.Hash{}, nil, err
		}
		return h, &meta, nil
	}
	h, meta, err := r.StateIndex.HashFileCached(path)
	if err != nil {
		return model.Hash{}, nil, err
	}
	return h, &meta, nil
}

func manifestToResult(m *runcache.Manifest) *executor.Result {
	res := &executor.Result{Cmd: m.Cmd}
	for _, d := range m.Deps {
		h := model.ParseHash(d.Hash)
		res.Deps = append(res.Deps, model.Dependency{Path: d.Path, Hash: &h})
	}
	for _, o := range m.Outs {
		h := model.ParseHash(o.Hash)
		res.Outs = append(res.Outs, model.Output{Path: o.Path, Hash: &h, Cache: true})
	}
	return res
}

// commitResult writes st's new deps/outs into its pipeline's lockfile.
func (r *Repo) commitResult(st *pipeline.Stage, res *executor.Result) error {
	lf, ok := r.locks[st.File]
	if !ok {
		lf = &lockfile.File{Stages: map[string]lockfile.StageEntry{}}
		r.locks[st.File] = lf
	}
	lf.Stages[st.Name] = lockfile.EntryFromDeps(res.Cmd, res.Deps, res.Outs)
	return lockfile.Save(lockfile.PathFor(st.File), lf)
}

// Push uploads every object referenced by the current lockfiles to the
// named remote.
func (r *Repo) Push(ctx context.Context, remoteName string) error {
	remote, err := r.openRemote(remoteName)
	if err != nil {
		return err
	}
	return transfer.Push(ctx, r.ODB, remote, r.lockedHashes(), transfer.Options{Jobs: r.Cfg.RemoteJobs(), Log: r.Log})
}

// Pull downloads every object referenced by the current lockfiles from
// the named remote, then checks each one out into the workspace.
func (r *Repo) Pull(ctx context.Context, remoteName string) error {
	remote, err := r.openRemote(remoteName)
	if err != nil {
		return err
	}
	hashes := r.lockedHashes()
	if err := transfer.Pull(ctx, r.ODB, remote, hashes, transfer.Options{Jobs: r.Cfg.RemoteJobs(), Log: r.Log}); err != nil {
		return err
	}
	return r.checkoutAll(ctx)
}

func (r *Repo) lockedHashes() []model.Hash {
	seen := map[string]bool{}
	var out []model.Hash
	for _, lf := range r.locks {
		for _, se := range lf.Stages {
			for _, d := range se.Deps {
				if d.Hash != "" && !seen[d.Hash] {
					seen[d.Hash] = true
					out = append(out, model.ParseHash(d.Hash))
				}
			}
			for _, o := range se.Outs {
				if o.Hash != "" && !seen[o.Hash] {
					seen[o.Hash] = true
					out = append(out, model.ParseHash(o.Hash))
				}
			}
		}
	}
	return out
}

func (r *Repo) checkoutAll(ctx context.Context) error {
	var targets []transfer.CheckoutTarget
	for file, lf := range r.locks {
		dir := filepath.Dir(file)
		for _, se := range lf.Stages {
			for _, o := range se.Outs {
				if o.Hash == "" {
					continue
				}
				targets = append(targets, transfer.CheckoutTarget{
					Path: filepath.Join(dir, o.Path),
					Hash: model.ParseHash(o.Hash),
				})
			}
		}
	}
	return transfer.Checkout(ctx, r.ODB, r.Linker, targets)
}

func (r *Repo) openRemote(name string) (blobstore.Store, error) {
	if name == "" {
		name = r.Cfg.DefaultRemote()
	}
	if name == "" {
		return nil, fmt.Errorf("repo: no remote configured")
	}
	url := r.Cfg.GetString(fmt.Sprintf("remote.%s.url", name))
	if url == "" {
		return nil, fmt.Errorf("repo: remote %q has no url configured", name)
	}
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return blobstore.NewHTTPStore(name, url), nil
	default:
		return nil, fmt.Errorf("repo: remote %q: unsupported url scheme in %q", name, url)
	}
}

// GC removes every object not referenced by a current lockfile or pinned
// ref.
func (r *Repo) GC() (int, error) {
	var locks []*lockfile.File
	for _, lf := range r.locks {
		locks = append(locks, lf)
	}
	live := index.LiveHashes(locks, r.Refs)
	return index.GC(r.ODB, live)
}
