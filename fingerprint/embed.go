package fingerprint

import (
	_ "embed"
	"strings"
)

//go:embed dependency_hashes.txt
var embeddedDependencyHashes []byte

// LoadEmbeddedDependencyTable parses the dependency_hashes.txt shipped
// inside the program image (spec §6 "Embedded resources").
func LoadEmbeddedDependencyTable() (DependencyTable, error) {
	return LoadDependencyTable(strings.NewReader(string(embeddedDependencyHashes)))
}
