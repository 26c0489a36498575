// Package pipeline wires the manifest resolver, branch policy, resume
// planner, artifact acquirer, mapping/merge-remap/decompile stages, the
// working-tree syncer, and the repository driver into the end-to-end run
// described by spec §2 and §5: MR -> BP -> RP -> AA -> (ME -> MRE -> DD)
// -> WTS -> RD, sequential per version.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/acquire"
	"github.com/dvh-project/historian/branchconfig"
	"github.com/dvh-project/historian/branchpolicy"
	"github.com/dvh-project/historian/config"
	"github.com/dvh-project/historian/decompile"
	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/fingerprint"
	"github.com/dvh-project/historian/manifest"
	"github.com/dvh-project/historian/mapping"
	"github.com/dvh-project/historian/mergeremap"
	"github.com/dvh-project/historian/node"
	"github.com/dvh-project/historian/reposync"
	"github.com/dvh-project/historian/resume"
	"github.com/dvh-project/historian/synctree"
	"github.com/dvh-project/historian/version"
)

// pushChunk mirrors reposync's batched push chunk size: push at least this
// often during a long run rather than only once at the end (spec §4.10).
const pushChunk = 10

// metadataFile is the initial-commit metadata file name (spec §6).
const metadataFile = "Snowblower.txt"

// Options gathers every CLI-surfaced and config-file-surfaced input a run
// needs.
type Options struct {
	OutputDir           string
	CacheDir            string
	ExtraMappingsDir    string
	StartVer            string
	TargetVer           string // version id, or "latest"
	Branch              string
	RemoteURL           string
	Checkout            bool
	Push                bool
	StartOver           bool
	StartOverIfRequired bool
	PartialCache        bool
	ReleasesOnly        bool
	Include             []string
	Exclude             []string
	CfgURIs             []string
	CatalogueURL        string

	App   config.Config
	Tools ToolPaths
}

// ToolPaths names the four external collaborator binaries (spec §9).
type ToolPaths struct {
	MergeTool          string
	RemapTool          string
	BundlerExtractTool string
	DecompilerTool     string
	ExtraRemapArgs     string
	DependencyNames    []string
}

// Pipeline drives one end-to-end run.
type Pipeline struct {
	logger *logrus.Logger
	opts   Options

	deps    fingerprint.DependencyTable
	details map[version.ID]version.Detail
}

// New constructs a Pipeline.
func New(logger *logrus.Logger, opts Options) *Pipeline {
	return &Pipeline{logger: logger, opts: opts}
}

// Run executes the full MR->BP->RP->AA->(ME->MRE->DD)->WTS->RD sequence.
func (p *Pipeline) Run(ctx context.Context) error {
	deps, err := fingerprint.LoadEmbeddedDependencyTable()
	if err != nil {
		return dvherr.Wrap(dvherr.ToolFailure, err, "loading embedded dependency hash table")
	}
	p.deps = deps

	resolver := manifest.NewResolver(p.logger, p.opts.CatalogueURL)
	infos, latest, err := resolver.Resolve()
	if err != nil {
		return err
	}

	spec, err := p.resolveBranchSpec()
	if err != nil {
		return err
	}

	bpResult, err := branchpolicy.Apply(infos, spec, latest)
	if err != nil {
		return err
	}
	if len(bpResult.Filtered) == 0 {
		p.logger.Infof("pipeline: filtered version list is empty, nothing to do")
		return nil
	}
	if err := validateKnown(infos, bpResult.Start, bpResult.End); err != nil {
		return err
	}
	if err := validateOrder(bpResult.Filtered, bpResult.Start, bpResult.End); err != nil {
		return err
	}

	driver, repoJustCreated, err := reposync.Open(p.logger, p.opts.OutputDir)
	if err != nil {
		return err
	}

	var remoteName string
	var remoteAdded bool
	if p.opts.RemoteURL != "" {
		remoteName, remoteAdded, err = driver.EnsureRemote(p.opts.RemoteURL)
		if err != nil {
			return err
		}
		if err := driver.FetchEager(remoteName); err != nil {
			p.logger.Warnf("pipeline: eager fetch failed: %v", err)
		}
		if remoteAdded {
			defer driver.RemoveRemote(remoteName)
		}
	}

	branchJustCreated, err := driver.Configure(p.opts.Branch, p.opts.StartOver, false, p.opts.Checkout, remoteName)
	if err != nil {
		return err
	}

	if err := p.reconcileMetadata(driver, branchJustCreated || repoJustCreated, bpResult.Start); err != nil {
		return err
	}

	toGenerate, err := p.planResume(driver, bpResult, infos)
	if err != nil {
		if _, ok := dvherr.KindOf(err); !ok || !p.opts.StartOverIfRequired {
			return err
		}
		if _, err := driver.Configure(p.opts.Branch, true, true, p.opts.Checkout, remoteName); err != nil {
			return err
		}
		if err := p.reconcileMetadata(driver, true, bpResult.Start); err != nil {
			return err
		}
		toGenerate = bpResult.Filtered
	}

	if len(toGenerate) == 0 {
		p.logger.Infof("pipeline: nothing to generate, already up to date")
		return p.finalPush(driver, remoteName)
	}

	if err := p.acquireAll(ctx, resolver, toGenerate); err != nil {
		return err
	}

	commitsSincePush := 0
	for _, info := range toGenerate {
		committed, err := p.processVersion(ctx, driver, info)
		if err != nil {
			return err
		}
		if committed {
			commitsSincePush++
			if p.opts.Push && remoteName != "" && commitsSincePush >= pushChunk {
				if err := driver.PushRemaining(remoteName, p.opts.Branch); err != nil {
					return err
				}
				commitsSincePush = 0
			}
		}
	}

	return p.finalPush(driver, remoteName)
}

// finalPush pushes whatever the remote still lacks via the common-ancestor,
// chunked procedure (spec §4.10, §5 P6) rather than a single whole-branch
// force-push.
func (p *Pipeline) finalPush(driver *reposync.Driver, remoteName string) error {
	if !p.opts.Push || remoteName == "" {
		return nil
	}
	return driver.PushRemaining(remoteName, p.opts.Branch)
}

func (p *Pipeline) resolveBranchSpec() (branchconfig.BranchSpec, error) {
	var spec branchconfig.BranchSpec
	if len(p.opts.CfgURIs) > 0 {
		set, err := branchconfig.Load(p.logger, p.opts.CfgURIs)
		if err != nil {
			return spec, err
		}
		if s, ok := set[p.opts.Branch]; ok {
			spec = s
		}
	}
	if spec.Type == "" {
		spec.Type = branchconfig.Dev
		if p.opts.ReleasesOnly {
			spec.Type = branchconfig.Release
		}
	}
	if p.opts.StartVer != "" {
		id := version.ID(p.opts.StartVer)
		spec.Start = &id
	}
	if p.opts.TargetVer != "" && p.opts.TargetVer != "latest" {
		id := version.ID(p.opts.TargetVer)
		spec.End = &id
	}
	return spec, nil
}

func validateKnown(infos []version.Info, start, end version.ID) error {
	if !containsID(infos, start) {
		return dvherr.New(dvherr.UnknownVersion, "start version "+string(start)+" not in catalogue")
	}
	if !containsID(infos, end) {
		return dvherr.New(dvherr.UnknownVersion, "end version "+string(end)+" not in catalogue")
	}
	return nil
}

func containsID(infos []version.Info, id version.ID) bool {
	for _, i := range infos {
		if i.ID == id {
			return true
		}
	}
	return false
}

func validateOrder(filtered []version.Info, start, end version.ID) error {
	si, ei := -1, -1
	for idx, i := range filtered {
		if i.ID == start {
			si = idx
		}
		if i.ID == end {
			ei = idx
		}
	}
	if si < 0 || ei < 0 {
		return dvherr.New(dvherr.PolicyExcluded, "start or end version filtered out by branch policy")
	}
	if si > ei {
		return dvherr.New(dvherr.BranchMisordered, "start version is newer than end version")
	}
	return nil
}

// reconcileMetadata writes the initial-commit metadata file the first time
// the branch is created, or checks an existing one still agrees with the
// current schema version and derived start (spec §6, §4.10).
func (p *Pipeline) reconcileMetadata(driver *reposync.Driver, justCreated bool, start version.ID) error {
	path := filepath.Join(driver.Root(), metadataFile)
	want := fmt.Sprintf("VersionId=%d\nStart=%s\n", p.opts.App.SchemaVersion, start)

	if justCreated {
		if err := os.WriteFile(path, []byte(want), 0o644); err != nil {
			return err
		}
		wt, err := driver.Repo().Worktree()
		if err != nil {
			return err
		}
		if _, err := wt.Add(metadataFile); err != nil {
			return err
		}
		sig := &object.Signature{
			Name:  p.opts.App.Committer.Name,
			Email: p.opts.App.Committer.Email,
		}
		_, err = wt.Commit("Initial metadata commit", &git.CommitOptions{Author: sig, Committer: sig})
		return err
	}

	got, err := os.ReadFile(path)
	if err != nil || string(got) != want {
		return dvherr.New(dvherr.MetadataMismatch, "initial-commit metadata file disagrees with current schema/start")
	}
	return nil
}

// planResume finds the most recent commit authored by the configured
// identity and asks RP how many versions to skip.
func (p *Pipeline) planResume(driver *reposync.Driver, bp branchpolicy.Result, infos []version.Info) ([]version.Info, error) {
	branchRef := plumbing.NewBranchReferenceName(p.opts.Branch)
	_, err := driver.Repo().Reference(branchRef, true)
	justCreated := err != nil

	var lastMessage string
	if !justCreated {
		lastMessage, _, err = resume.FindLastMatchingCommit(driver.Repo(), branchRef, p.opts.App.Committer.Email, plumbing.ZeroHash)
		if err != nil {
			return nil, err
		}
		// The initial metadata commit (see reconcileMetadata) carries the
		// same identity; it counts as no prior version commit.
		if lastMessage == "Initial metadata commit" {
			lastMessage = ""
		}
	}

	planResult, err := resume.Plan(resume.Options{
		JustCreated:         justCreated,
		LastCommitMessage:   lastMessage,
		Manifest:            infos,
		ToGenerate:          bp.Filtered,
		Start:               bp.Start,
		End:                 bp.End,
		StartOverIfRequired: p.opts.StartOverIfRequired,
	})
	if err != nil {
		return nil, err
	}
	if planResult.Restart {
		return nil, dvherr.New(dvherr.ResumeMismatch, "restart required")
	}
	if planResult.SkipCount >= len(bp.Filtered) {
		return nil, nil
	}
	return bp.Filtered[planResult.SkipCount:], nil
}

func (p *Pipeline) acquireAll(ctx context.Context, resolver *manifest.Resolver, toGenerate []version.Info) error {
	a := acquire.New(p.logger)
	defer a.Stop()

	p.details = make(map[version.ID]version.Detail, len(toGenerate))

	jobs := make([]acquire.Job, 0, len(toGenerate))
	for _, info := range toGenerate {
		detail, err := resolver.FetchDetail(info)
		if err != nil {
			return err
		}
		p.details[info.ID] = detail
		jobs = append(jobs, acquire.Job{
			Info:             info,
			Detail:           detail,
			CacheDir:         p.versionCacheDir(info.ID),
			ExtraMappingsDir: p.opts.ExtraMappingsDir,
			LibraryCacheRoot: p.libraryCacheRoot(),
			PartialCache:     p.opts.PartialCache,
		})
	}
	results, err := a.Run(ctx, jobs)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (p *Pipeline) versionCacheDir(id version.ID) string {
	return filepath.Join(p.opts.CacheDir, string(id))
}

func (p *Pipeline) libraryCacheRoot() string {
	return filepath.Join(p.opts.CacheDir, "libraries")
}

// processVersion runs ME->MRE->DD->WTS for one version, returning whether
// a commit was produced. Each of ME/MRE/DD consults its own fingerprint
// before doing its expensive work, and writes a fresh one on success, so a
// re-run over unchanged inputs short-circuits every stage (spec §4.1).
func (p *Pipeline) processVersion(ctx context.Context, driver *reposync.Driver, info version.Info) (bool, error) {
	cacheDir := p.versionCacheDir(info.ID)
	obfuscated := !info.ID.IsUnobfuscatedVariant()

	detail := p.details[info.ID]
	clientSHA1 := detail.Downloads[version.DownloadClient].SHA1
	serverSHA1 := detail.Downloads[version.DownloadServer].SHA1

	var mappingsPath string
	if obfuscated {
		mappingsPath = filepath.Join(cacheDir, "moj_to_obf.tsrg")
	}

	joined, err := p.mergeRemapStage(ctx, cacheDir, mappingsPath, obfuscated, clientSHA1, serverSHA1, info)
	if err != nil {
		return false, err
	}
	if joined == "" {
		return false, nil
	}

	if p.opts.PartialCache {
		os.Remove(filepath.Join(cacheDir, "client.jar"))
		os.Remove(filepath.Join(cacheDir, "server.jar"))
		os.Remove(filepath.Join(cacheDir, "server-extracted.jar"))
	}

	decompiledJar, err := p.decompileStage(ctx, cacheDir, joined, obfuscated)
	if err != nil {
		return false, err
	}

	syncer := synctree.New(p.logger, driver.Repo(), driver.Root())
	tracked := node.NewNode("root", false)
	existing, err := listWorkTreeFiles(filepath.Join(driver.Root(), "src", "main"))
	if err != nil {
		return false, err
	}
	tracked.FileSet(existing)

	sig := object.Signature{Name: p.opts.App.Committer.Name, Email: p.opts.App.Committer.Email}
	created, err := syncer.Sync(decompiledJar, synctree.Filters{Include: p.opts.Include, Exclude: p.opts.Exclude},
		tracked, nil, string(info.ID), info.TimeReleased, sig)
	if err != nil {
		return false, err
	}
	return created, nil
}

// mergeRemapStage runs ME then MRE, short-circuiting each against its own
// fingerprint. It returns "" (with a nil error) when the version must be
// skipped because mappings are absent (spec §4.6).
func (p *Pipeline) mergeRemapStage(ctx context.Context, cacheDir, mappingsPath string, obfuscated bool,
	clientSHA1, serverSHA1 string, info version.Info) (string, error) {

	joinedPath := filepath.Join(cacheDir, "joined.jar")
	joinedCache := filepath.Join(cacheDir, "joined.jar.cache")

	// Check MRE's own fingerprint first: if it already matches and
	// joined.jar is on disk, ME never needs to re-parse or re-verify the
	// side mappings at all.
	if _, mappingsErr := os.Stat(mappingsPath); mappingsPath == "" || mappingsErr == nil {
		mreKey, err := mergeremap.BuildFingerprint(p.deps, mappingsPath, clientSHA1, serverSHA1, "")
		if err != nil {
			return "", err
		}
		if valid, _ := mreKey.IsValid(joinedCache, "merge-tool", "remap-tool", "mappings", "client.jar", "server.jar"); valid {
			if _, joinedErr := os.Stat(joinedPath); joinedErr == nil {
				return joinedPath, nil
			}
		}
	}

	var merged *mapping.Mapping
	var err error
	if obfuscated {
		merged, err = p.mappingEngineStage(cacheDir, mappingsPath)
		if err != nil {
			return "", err
		}
		if merged == nil {
			p.logger.Infof("pipeline: mappings missing for %s, skipping version", info.ID)
			return "", nil
		}
	}

	joined, err := mergeremap.Run(ctx, p.logger, mergeremap.Options{
		MergeToolPath:          p.opts.Tools.MergeTool,
		RemapToolPath:          p.opts.Tools.RemapTool,
		BundlerExtractToolPath: p.opts.Tools.BundlerExtractTool,
		ExtraRemapArgs:         p.opts.Tools.ExtraRemapArgs,
	}, filepath.Join(cacheDir, "client.jar"), filepath.Join(cacheDir, "server.jar"), merged, mappingsPath, cacheDir)
	if err != nil {
		return "", err
	}

	serverExtracted := filepath.Join(cacheDir, "server-extracted.jar")
	fullKey, err := mergeremap.BuildFingerprint(p.deps, mappingsPath, clientSHA1, serverSHA1, serverExtracted)
	if err != nil {
		return "", err
	}
	if err := fullKey.Write(joinedCache); err != nil {
		return "", err
	}
	return joined, nil
}

// mappingEngineStage runs ME: parses the client side mapping, and, unless
// its own fingerprint already validates against a moj_to_obf.tsrg already
// on disk, parses the server side too, verifies the superset invariant,
// and (re)writes moj_to_obf.tsrg (spec §4.6). Returns nil, nil when either
// side mapping is absent (signals "skip this version").
func (p *Pipeline) mappingEngineStage(cacheDir, mappingsPath string) (*mapping.Mapping, error) {
	clientMapPath := filepath.Join(cacheDir, "client_mappings.txt")
	serverMapPath := filepath.Join(cacheDir, "server_mappings.txt")
	meCache := filepath.Join(cacheDir, "moj_to_obf.tsrg.cache")

	client, err := mapping.ParseFile(clientMapPath)
	if err != nil {
		return nil, nil
	}

	meKey := fingerprint.NewKey(p.deps)
	meKey.Put("client_mappings.txt", fingerprint.PathValue(clientMapPath))
	meKey.Put("server_mappings.txt", fingerprint.PathValue(serverMapPath))

	if valid, _ := meKey.IsValid(meCache); valid {
		if _, err := os.Stat(mappingsPath); err == nil {
			return client, nil
		}
	}

	server, err := mapping.ParseFile(serverMapPath)
	if err != nil {
		return nil, nil
	}
	if err := mapping.VerifySuperset(client, server); err != nil {
		return nil, err
	}

	f, err := os.Create(mappingsPath)
	if err != nil {
		return nil, err
	}
	err = mapping.Write(f, client)
	f.Close()
	if err != nil {
		return nil, err
	}
	if err := meKey.Write(meCache); err != nil {
		return nil, err
	}
	return client, nil
}

// decompileStage runs DD, short-circuiting against its own fingerprint
// when joined-decompiled.jar is already on disk and matches (spec §4.8).
func (p *Pipeline) decompileStage(ctx context.Context, cacheDir, joined string, obfuscated bool) (string, error) {
	classpathFile := filepath.Join(cacheDir, "classpath.cfg")
	libPaths, err := collectLibraryPaths(p.libraryCacheRoot())
	if err != nil {
		return "", err
	}
	if err := decompile.WriteClasspathFile(classpathFile, libPaths); err != nil {
		return "", err
	}

	decompiledJar := filepath.Join(cacheDir, "joined-decompiled.jar")
	decompiledCache := filepath.Join(cacheDir, "joined-decompiled.jar.cache")
	args := decompile.Args(obfuscated)

	ddKey, err := decompile.BuildFingerprint(p.deps, p.opts.Tools.DependencyNames, joined, args, libPaths, p.libraryCacheRoot())
	if err != nil {
		return "", err
	}
	if valid, _ := ddKey.IsValid(decompiledCache); valid {
		if _, err := os.Stat(decompiledJar); err == nil {
			return decompiledJar, nil
		}
	}

	decompileOpts := decompile.Options{
		DecompilerToolPath: p.opts.Tools.DecompilerTool,
		DependencyNames:    p.opts.Tools.DependencyNames,
		LibraryCacheRoot:   p.libraryCacheRoot(),
	}
	if err := decompile.Run(ctx, p.logger, decompileOpts, joined, classpathFile, decompiledJar, obfuscated); err != nil {
		return "", err
	}
	if err := ddKey.Write(decompiledCache); err != nil {
		return "", err
	}
	return decompiledJar, nil
}

// collectLibraryPaths walks libDir and returns every regular file under it,
// forming the classpath DD writes (spec §4.8).
func collectLibraryPaths(libDir string) ([]string, error) {
	var out []string
	err := filepath.Walk(libDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// listWorkTreeFiles walks srcMain (the "src/main" directory) and returns
// every regular file's path relative to its parent, forward-slash
// normalized, matching the destination paths synctree.Sync produces.
func listWorkTreeFiles(srcMain string) ([]string, error) {
	parent := filepath.Dir(srcMain)
	var out []string
	err := filepath.Walk(srcMain, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// cachePairs names ME/MRE/DD's cache-file/artifact pairs, in stage order
// (spec §6 "Persistent on-disk layout").
var cachePairs = [][2]string{
	{"moj_to_obf.tsrg.cache", "moj_to_obf.tsrg"},
	{"joined.jar.cache", "joined.jar"},
	{"joined-decompiled.jar.cache", "joined-decompiled.jar"},
}

// VerifyCache walks an existing cache directory and reports version
// directories where a stage's recorded fingerprint exists but the artifact
// it describes does not, without regenerating anything (supplemented
// --verify-cache operation, SPEC_FULL.md §4).
func VerifyCache(cacheDir string) ([]string, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		verDir := filepath.Join(cacheDir, e.Name())
		isStale := false
		for _, pair := range cachePairs {
			if _, err := os.Stat(filepath.Join(verDir, pair[0])); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			if _, err := os.Stat(filepath.Join(verDir, pair[1])); err != nil {
				isStale = true
				break
			}
		}
		if isStale {
			stale = append(stale, e.Name())
		}
	}
	return stale, nil
}
