// Package version implements the VersionId/VersionInfo/VersionDetail data
// model from spec §3: version-kind classification, synthetic unobfuscated
// variant handling, and the download/library descriptors making up a
// per-version manifest record.
package version

import (
	"regexp"
	"strings"
	"time"
)

// Kind classifies a VersionId by its lexical form.
type Kind int

const (
	Release Kind = iota
	Snapshot
	Special
)

func (k Kind) String() string {
	return [...]string{"Release", "Snapshot", "Special"}[k]
}

var (
	releaseRe  = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)
	snapshotRes = []*regexp.Regexp{
		regexp.MustCompile(`^\d\dw\d\d[a-z]$`),
		regexp.MustCompile(`^\d+\.\d+(\.\d+)? Pre-Release \d+$`),
		regexp.MustCompile(`^\d+\.\d+(\.\d+)?-rc\d+$`),
		regexp.MustCompile(`^\d+\.\d+(\.\d+)?-pre\d+$`),
		regexp.MustCompile(`^\d+\.\d+(\.\d+)?-snapshot-\d+$`),
	}
	unobfuscatedSuffix = "_unobfuscated"
)

// ID is an opaque version identifier. Equality and hashing are over the raw
// string, exactly per spec §3.
type ID string

// IsUnobfuscatedVariant reports whether this id is a synthetic
// "_unobfuscated" variant of some base id.
func (v ID) IsUnobfuscatedVariant() bool {
	return strings.HasSuffix(string(v), unobfuscatedSuffix)
}

// Base strips the "_unobfuscated" suffix, returning the id unchanged if it
// has none.
func (v ID) Base() ID {
	return ID(strings.TrimSuffix(string(v), unobfuscatedSuffix))
}

// KindOf classifies an id using the canonical regex set from spec §3.
func KindOf(v ID) Kind {
	s := string(v)
	if releaseRe.MatchString(s) {
		return Release
	}
	for _, re := range snapshotRes {
		if re.MatchString(s) {
			return Snapshot
		}
	}
	return Special
}

// Info is the per-version catalogue record (spec §3 VersionInfo).
type Info struct {
	ID            ID
	Kind          Kind
	ManifestURL   string
	TimeCreated   time.Time
	TimeReleased  time.Time
	ManifestHash  string
	Priority      int
}

// DownloadDescriptor describes one downloadable artifact for a version.
type DownloadDescriptor struct {
	URL          string
	SHA1         string
	Size         int64
	OptionalPath string
}

// LibraryDescriptor describes one classpath dependency jar.
type LibraryDescriptor struct {
	Name     string // maven-style group:artifact:version
	Path     string // relative path under the shared library cache
	URL      string
	SHA1     string
	Size     int64
	IsArtifact bool // true when this descriptor carries a downloadable "artifact" entry
}

// Detail is the per-version JSON-shaped record (spec §3 VersionDetail).
type Detail struct {
	Downloads       map[string]DownloadDescriptor // keys: client, server, client_mappings, server_mappings
	Libraries       []LibraryDescriptor
	IsUnobfuscated  bool
}

const (
	DownloadClient         = "client"
	DownloadServer         = "server"
	DownloadClientMappings = "client_mappings"
	DownloadServerMappings = "server_mappings"
)
