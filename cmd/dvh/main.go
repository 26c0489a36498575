// Command dvh drives one end-to-end decompiled-version-history run: it
// resolves the upstream version catalogue, applies branch policy, resumes
// from wherever the target branch last left off, acquires artifacts,
// merges/remaps/decompiles each pending version, and syncs the result into
// a git working tree.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dvh-project/historian/buildinfo"
	"github.com/dvh-project/historian/config"
	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/pipeline"
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Application defaults file (committer identity, cache/output roots, schema version).",
		).Default("dvh.yaml").String()
		output = kingpin.Flag(
			"output",
			"Output repository directory.",
		).Required().String()
		cache = kingpin.Flag(
			"cache",
			"Artifact cache directory.",
		).Default(config.DefaultCacheDir).String()
		extraMappings = kingpin.Flag(
			"extra-mappings",
			"Directory of user-supplied side mappings, tried before the upstream download.",
		).String()
		startVer = kingpin.Flag(
			"start-ver",
			"First version id to process (default: the first floor version the branch policy derives).",
		).String()
		targetVer = kingpin.Flag(
			"target-ver",
			"Last version id to process, or the literal 'latest'.",
		).Default("latest").String()
		branch = kingpin.Flag(
			"branch",
			"Target branch name.",
		).Default(config.DefaultBranch).String()
		remote = kingpin.Flag(
			"remote",
			"Remote repository URL.",
		).String()
		checkout = kingpin.Flag(
			"checkout",
			"Check out the remote-tracking branch before resuming, if present.",
		).Bool()
		push = kingpin.Flag(
			"push",
			"Push the branch to --remote, in batches during the run and once at the end.",
		).Bool()
		startOver = kingpin.Flag(
			"start-over",
			"Recreate the branch as an orphan and regenerate from the derived start.",
		).Bool()
		startOverIfRequired = kingpin.Flag(
			"start-over-if-required",
			"Recreate the branch automatically if resume detects a mismatch, instead of failing.",
		).Bool()
		partialCache = kingpin.Flag(
			"partial-cache",
			"Discard client/server/extracted jars as soon as each version's joined archive is produced.",
		).Bool()
		releasesOnly = kingpin.Flag(
			"releases-only",
			"Restrict the branch policy to release versions only.",
		).Bool()
		includeGlobs = kingpin.Flag(
			"include",
			"Glob of archive-relative paths to include in the working tree (repeatable).",
		).Strings()
		excludeGlobs = kingpin.Flag(
			"exclude",
			"Glob of archive-relative paths to exclude from the working tree (repeatable).",
		).Strings()
		cfgURIs = kingpin.Flag(
			"cfg",
			"Branch config source, file:// or https:// (repeatable, last-wins per branch name).",
		).Strings()
		catalogueURL = kingpin.Flag(
			"catalogue",
			"Root URL of the upstream version catalogue.",
		).Required().String()
		mergeTool = kingpin.Flag(
			"merge-tool",
			"Path to the client/server jar merge tool.",
		).String()
		remapTool = kingpin.Flag(
			"remap-tool",
			"Path to the remap tool.",
		).String()
		bundlerExtractTool = kingpin.Flag(
			"bundler-extract-tool",
			"Path to the bundler-extract tool.",
		).String()
		decompilerTool = kingpin.Flag(
			"decompiler-tool",
			"Path to the decompiler tool.",
		).String()
		remapExtraArgs = kingpin.Flag(
			"remap-extra-args",
			"Extra arguments appended to every remap invocation.",
		).String()
		verifyCache = kingpin.Flag(
			"verify-cache",
			"Walk --cache reporting versions that have a stage fingerprint file but are missing its artifact; fingerprint contents are not re-validated and nothing is regenerated.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debug-level logging.",
		).Bool()
	)

	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(buildinfo.Print("dvh")).Author("DVH project")
	kingpin.CommandLine.Help = "Regenerates a version-by-version decompiled source history into a git repository.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	appCfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		appCfg, err = config.Unmarshal(nil)
	}
	if err != nil {
		logger.Errorf("error loading config: %v", err)
		os.Exit(dvherr.ExitCode(dvherr.Wrap(dvherr.ArgumentError, err, "loading application config")))
	}

	if *verifyCache {
		stale, err := pipeline.VerifyCache(*cache)
		if err != nil {
			logger.Errorf("verify-cache failed: %v", err)
			os.Exit(dvherr.ExitCode(err))
		}
		if len(stale) == 0 {
			fmt.Println("cache is fully valid")
			return
		}
		fmt.Println("stale cache entries:")
		for _, s := range stale {
			fmt.Println("  " + s)
		}
		return
	}

	startTime := time.Now()
	logger.Infof("%v", buildinfo.Print("dvh"))
	logger.Infof("starting %s, output: %s, branch: %s", startTime, *output, *branch)

	opts := pipeline.Options{
		OutputDir:           *output,
		CacheDir:            *cache,
		ExtraMappingsDir:    *extraMappings,
		StartVer:            *startVer,
		TargetVer:           *targetVer,
		Branch:              *branch,
		RemoteURL:           *remote,
		Checkout:            *checkout,
		Push:                *push,
		StartOver:           *startOver,
		StartOverIfRequired: *startOverIfRequired,
		PartialCache:        *partialCache,
		ReleasesOnly:        *releasesOnly,
		Include:             *includeGlobs,
		Exclude:             *excludeGlobs,
		CfgURIs:             *cfgURIs,
		CatalogueURL:        *catalogueURL,
		App:                 *appCfg,
		Tools: pipeline.ToolPaths{
			MergeTool:          *mergeTool,
			RemapTool:          *remapTool,
			BundlerExtractTool: *bundlerExtractTool,
			DecompilerTool:     *decompilerTool,
			ExtraRemapArgs:     *remapExtraArgs,
			DependencyNames:    []string{"merge-tool", "remap-tool", "bundler-extract-tool", "decompiler", "decompiler-plugin-common"},
		},
	}

	p := pipeline.New(logger, opts)
	if err := p.Run(context.Background()); err != nil {
		logger.Errorf("run failed: %v", err)
		os.Exit(dvherr.ExitCode(err))
	}
	logger.Infof("completed in %s", time.Since(startTime))
}
