// Package manifest implements the manifest resolver (MR, spec §4.2):
// fetches the upstream version catalogue and splices in synthetic
// "unobfuscated" variants from JSON files embedded in the program image.
package manifest

import (
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/version"
)

//go:embed unobfuscated/*.json
var unobfuscatedFS embed.FS

// rawEntry mirrors one element of the catalogue's "versions" array.
type rawEntry struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Time        string `json:"time"`
	ReleaseTime string `json:"releaseTime"`
	SHA1        string `json:"sha1"`
}

type rawCatalogue struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []rawEntry `json:"versions"`
}

// unobfuscatedVariant is the on-disk shape of an embedded synthetic-variant
// descriptor: everything needed to insert an Info immediately after its
// base version.
type unobfuscatedVariant struct {
	Base        string `json:"base"`
	ManifestURL string `json:"manifestUrl"`
	SHA1        string `json:"manifestSha1"`
}

// Latest carries the catalogue's two named pointers.
type Latest struct {
	Release  version.ID
	Snapshot version.ID
}

// Resolver fetches and assembles the resolved version list.
type Resolver struct {
	logger        *logrus.Logger
	client        *retryablehttp.Client
	catalogueURL  string
}

// NewResolver constructs a Resolver against catalogueURL, the root of the
// upstream version catalogue (spec §6 "no hard-coded endpoints other than
// the catalogue root").
func NewResolver(logger *logrus.Logger, catalogueURL string) *Resolver {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	client.HTTPClient.Timeout = 30 * time.Second
	return &Resolver{logger: logger, client: client, catalogueURL: catalogueURL}
}

// Resolve fetches the catalogue, sorts by release time ascending, and
// splices in every embedded unobfuscated variant immediately after its
// base version.
func (r *Resolver) Resolve() ([]version.Info, Latest, error) {
	raw, err := r.fetchCatalogue()
	if err != nil {
		return nil, Latest{}, dvherr.Wrap(dvherr.ManifestUnavailable, err, "fetching version catalogue")
	}
	if len(raw.Versions) == 0 {
		return nil, Latest{}, dvherr.New(dvherr.ManifestUnavailable, "catalogue has no versions")
	}

	infos := make([]version.Info, 0, len(raw.Versions))
	for _, e := range raw.Versions {
		created, _ := time.Parse(time.RFC3339, e.Time)
		released, _ := time.Parse(time.RFC3339, e.ReleaseTime)
		infos = append(infos, version.Info{
			ID:           version.ID(e.ID),
			Kind:         version.KindOf(version.ID(e.ID)),
			ManifestURL:  e.URL,
			TimeCreated:  created,
			TimeReleased: released,
			ManifestHash: e.SHA1,
		})
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].TimeReleased.Before(infos[j].TimeReleased)
	})

	variants, err := r.loadUnobfuscatedVariants()
	if err != nil {
		return nil, Latest{}, dvherr.Wrap(dvherr.ManifestUnavailable, err, "loading embedded unobfuscated variants")
	}
	infos = spliceVariants(infos, variants)

	latest := Latest{Release: version.ID(raw.Latest.Release), Snapshot: version.ID(raw.Latest.Snapshot)}
	return infos, latest, nil
}

func (r *Resolver) fetchCatalogue() (*rawCatalogue, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, r.catalogueURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{url: r.catalogueURL, status: resp.StatusCode}
	}
	var raw rawCatalogue
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

type httpStatusError struct {
	url    string
	status int
}

func (e *httpStatusError) Error() string {
	return "GET " + e.url + ": unexpected status " + http.StatusText(e.status)
}

func (r *Resolver) loadUnobfuscatedVariants() ([]unobfuscatedVariant, error) {
	entries, err := fs.ReadDir(unobfuscatedFS, "unobfuscated")
	if err != nil {
		return nil, err
	}
	var out []unobfuscatedVariant
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		data, err := fs.ReadFile(unobfuscatedFS, "unobfuscated/"+ent.Name())
		if err != nil {
			return nil, err
		}
		var v unobfuscatedVariant
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// rawDownload mirrors one entry of a version descriptor's "downloads" map.
type rawDownload struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// rawLibrary mirrors one entry of a version descriptor's "libraries" array;
// only the downloadable artifact form is modeled, per spec §3.
type rawLibrary struct {
	Name      string `json:"name"`
	Downloads struct {
		Artifact *rawArtifact `json:"artifact"`
	} `json:"downloads"`
}

type rawArtifact struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

type rawDetail struct {
	Downloads map[string]rawDownload `json:"downloads"`
	Libraries []rawLibrary           `json:"libraries"`
}

// FetchDetail downloads and parses the per-version descriptor at
// info.ManifestURL into a version.Detail.
func (r *Resolver) FetchDetail(info version.Info) (version.Detail, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, info.ManifestURL, nil)
	if err != nil {
		return version.Detail{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return version.Detail{}, dvherr.Wrap(dvherr.ManifestUnavailable, err, "fetching version descriptor for "+string(info.ID))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return version.Detail{}, dvherr.New(dvherr.ManifestUnavailable, "version descriptor for "+string(info.ID)+" returned HTTP "+http.StatusText(resp.StatusCode))
	}

	var raw rawDetail
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return version.Detail{}, dvherr.Wrap(dvherr.ManifestUnavailable, err, "parsing version descriptor for "+string(info.ID))
	}

	downloads := make(map[string]version.DownloadDescriptor, len(raw.Downloads))
	for k, d := range raw.Downloads {
		downloads[k] = version.DownloadDescriptor{URL: d.URL, SHA1: d.SHA1, Size: d.Size}
	}

	libs := make([]version.LibraryDescriptor, 0, len(raw.Libraries))
	for _, l := range raw.Libraries {
		if l.Downloads.Artifact == nil {
			continue
		}
		libs = append(libs, version.LibraryDescriptor{
			Name:       l.Name,
			Path:       l.Downloads.Artifact.Path,
			URL:        l.Downloads.Artifact.URL,
			SHA1:       l.Downloads.Artifact.SHA1,
			Size:       l.Downloads.Artifact.Size,
			IsArtifact: true,
		})
	}

	return version.Detail{Downloads: downloads, Libraries: libs, IsUnobfuscated: info.ID.IsUnobfuscatedVariant()}, nil
}

// spliceVariants inserts one synthetic Info immediately after its base
// version for every variant whose base is present in infos (spec §4.2).
func spliceVariants(infos []version.Info, variants []unobfuscatedVariant) []version.Info {
	if len(variants) == 0 {
		return infos
	}
	byBase := make(map[version.ID][]unobfuscatedVariant)
	for _, v := range variants {
		byBase[version.ID(v.Base)] = append(byBase[version.ID(v.Base)], v)
	}

	out := make([]version.Info, 0, len(infos)+len(variants))
	for _, base := range infos {
		out = append(out, base)
		for i, v := range byBase[base.ID] {
			out = append(out, version.Info{
				ID:           version.ID(base.ID) + "_unobfuscated",
				Kind:         base.Kind,
				ManifestURL:  v.ManifestURL,
				TimeCreated:  base.TimeCreated,
				TimeReleased: base.TimeReleased,
				ManifestHash: v.SHA1,
				Priority:     i + 1,
			})
		}
	}
	return out
}
