// Package acquire implements the artifact acquirer (AA, spec §4.5): a
// bounded worker pool that downloads, per version, the version descriptor,
// side mappings, and library dependencies, de-duplicating concurrent
// library downloads by destination path.
package acquire

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/toolrunner"
	"github.com/dvh-project/historian/version"
)

// runTimeout bounds the worker pool's total completion time (spec §5).
const runTimeout = 10 * time.Minute

// Job is one version's acquisition request.
type Job struct {
	Info             version.Info
	Detail           version.Detail
	CacheDir         string // <cache>/<version-id>
	ExtraMappingsDir string // sibling "extra mappings" root, may be empty
	LibraryCacheRoot string
	PartialCache     bool
}

// Result reports one job's outcome.
type Result struct {
	Job Job
	Err error
}

// Acquirer runs jobs over a pond worker pool sized to hardware
// parallelism (spec §4.5, §5), exactly the teacher's `GitBlob.SaveBlob`
// pool-sizing idiom.
type Acquirer struct {
	logger *logrus.Logger
	client *retryablehttp.Client
	pool   *pond.WorkerPool

	inProgressMu sync.Mutex
	inProgress   map[string]struct{}
}

// New constructs an Acquirer.
func New(logger *logrus.Logger) *Acquirer {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 5
	client.HTTPClient.Timeout = 2 * time.Minute

	return &Acquirer{
		logger:     logger,
		client:     client,
		pool:       pond.New(runtime.NumCPU(), 0, pond.MinWorkers(10)),
		inProgress: make(map[string]struct{}),
	}
}

// Run submits every job to the pool and blocks until all complete or
// runTimeout elapses.
func (a *Acquirer) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))

	for i, job := range jobs {
		i, job := i, job
		a.pool.Submit(func() {
			defer wg.Done()
			results[i] = Result{Job: job, Err: a.acquireOne(ctx, job)}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, nil
	case <-time.After(runTimeout):
		return results, dvherr.New(dvherr.ToolFailure, "artifact acquisition exceeded the per-run timeout")
	}
}

// Stop releases the worker pool. Call once after Run.
func (a *Acquirer) Stop() {
	a.pool.StopAndWait()
}

func (a *Acquirer) acquireOne(ctx context.Context, job Job) error {
	versionJSON := filepath.Join(job.CacheDir, "version.json")
	if err := a.ensureFile(ctx, versionJSON, job.Info.ManifestURL, job.Info.ManifestHash); err != nil {
		return dvherr.Wrap(dvherr.ManifestUnavailable, err, "acquiring version.json for "+string(job.Info.ID))
	}

	for _, side := range []string{"client", "server"} {
		dlKey := side + "_mappings"
		dl, ok := job.Detail.Downloads[dlKey]
		if !ok {
			continue
		}
		dest := filepath.Join(job.CacheDir, side+"_mappings.txt")
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		extra := filepath.Join(job.ExtraMappingsDir, side+".txt")
		if job.ExtraMappingsDir != "" {
			if _, err := os.Stat(extra); err == nil {
				if err := copyFile(extra, dest); err == nil {
					continue
				}
			}
		}
		if err := a.ensureFile(ctx, dest, dl.URL, dl.SHA1); err != nil {
			a.logger.Debugf("acquire: mapping %s unavailable for %s: %v", side, job.Info.ID, err)
		}
	}

	for _, lib := range job.Detail.Libraries {
		if !lib.IsArtifact {
			continue
		}
		if err := validateLibraryPath(lib.Path); err != nil {
			return dvherr.Wrap(dvherr.ToolFailure, err, "validating library path")
		}
		dest := filepath.Join(job.LibraryCacheRoot, lib.Path)
		if err := a.acquireLibrary(ctx, dest, lib.URL, lib.SHA1); err != nil {
			return err
		}
	}

	if !job.PartialCache {
		for _, kind := range []string{version.DownloadClient, version.DownloadServer} {
			dl, ok := job.Detail.Downloads[kind]
			if !ok {
				continue
			}
			dest := filepath.Join(job.CacheDir, kind+".jar")
			if err := a.ensureFile(ctx, dest, dl.URL, dl.SHA1); err != nil {
				return dvherr.Wrap(dvherr.ToolFailure, err, "downloading "+kind+".jar")
			}
		}
	}
	return nil
}

// validateLibraryPath rejects any path component that could escape the
// library cache root (spec §4.5).
func validateLibraryPath(path string) error {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("library path %q contains a traversal segment", path)
		}
	}
	return nil
}

// acquireLibrary de-duplicates concurrent downloads of the same
// destination path under a single mutex-guarded in-progress set (spec
// §4.5, §9 "global mutable state").
func (a *Acquirer) acquireLibrary(ctx context.Context, dest, url, sha1Hex string) error {
	a.inProgressMu.Lock()
	if _, busy := a.inProgress[dest]; busy {
		a.inProgressMu.Unlock()
		return a.waitForLibrary(dest)
	}
	a.inProgress[dest] = struct{}{}
	a.inProgressMu.Unlock()

	defer func() {
		a.inProgressMu.Lock()
		delete(a.inProgress, dest)
		a.inProgressMu.Unlock()
	}()

	return a.ensureFile(ctx, dest, url, sha1Hex)
}

func (a *Acquirer) waitForLibrary(dest string) error {
	for {
		a.inProgressMu.Lock()
		_, busy := a.inProgress[dest]
		a.inProgressMu.Unlock()
		if !busy {
			if _, err := os.Stat(dest); err != nil {
				return err
			}
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// ensureFile downloads url to dest if dest is absent or fails SHA-1
// verification against expectedSHA1 (when non-empty). Archive entries are
// sniffed with h2non/filetype after download to catch truncated transfers.
func (a *Acquirer) ensureFile(ctx context.Context, dest, url, expectedSHA1 string) error {
	if expectedSHA1 != "" {
		if ok, _ := verifySHA1(dest, expectedSHA1); ok {
			return nil
		}
	} else if _, err := os.Stat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	h := sha1.New()
	written, err := io.Copy(f, io.TeeReader(resp.Body, h))
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	f.Close()
	a.logger.Debugf("acquire: downloaded %s (%s)", dest, toolrunner.Humanize(written))

	if expectedSHA1 != "" {
		got := fmt.Sprintf("%x", h.Sum(nil))
		if got != expectedSHA1 {
			os.Remove(tmp)
			return fmt.Errorf("sha1 mismatch for %s: want %s got %s", url, expectedSHA1, got)
		}
	}

	if strings.HasSuffix(dest, ".jar") || strings.HasSuffix(dest, ".zip") {
		if err := sniffArchive(tmp); err != nil {
			os.Remove(tmp)
			return err
		}
	}

	return os.Rename(tmp, dest)
}

func sniffArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 261)
	n, _ := f.Read(head)
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return err
	}
	if kind == filetype.Unknown || kind.Extension != "zip" {
		return fmt.Errorf("downloaded archive %s does not look like a zip/jar", path)
	}
	return nil
}

func verifySHA1(path, expected string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)) == expected, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
