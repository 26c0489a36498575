// Package buildinfo prints the version banner the teacher sourced from
// github.com/perforce/p4prometheus/version, reimplemented locally since
// that dependency has no role outside its Perforce branding.
package buildinfo

import "fmt"

// Version is the build-time version string, overridable via
// -ldflags="-X github.com/dvh-project/historian/buildinfo.Version=...".
var Version = "dev"

// Print renders the standard "<name> version <version>" banner.
func Print(name string) string {
	return fmt.Sprintf("%s version %s", name, Version)
}
