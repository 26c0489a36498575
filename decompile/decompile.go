// Package decompile implements the decompiler driver (DD, spec §4.8):
// invokes the decompiler over joined.jar with a fixed argument set and a
// generated library-classpath file, and builds the stage's fingerprint.
package decompile

import (
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/fingerprint"
	"github.com/dvh-project/historian/toolrunner"
)

// universalArgs is the fixed argument set applied to every version (spec
// §4.8).
var universalArgs = []string{
	"--decompile-inner",
	"--remove-bridge",
	"--decompile-generics",
	"--ascii-strings",
	"--remove-synthetic",
	"--include-classpath",
	"--ignore-invalid-bytecode",
	"--bytecode-source-mapping",
	"--indent=4",
	"--dump-code-lines",
}

// obfuscatedArgs is appended for obfuscated versions only.
var obfuscatedArgs = []string{
	"--jad-style-variable-naming",
	"--rename-parameters",
	"--disable-method-parameter-names",
}

// Args returns the full ordered argument list for a version, used both to
// invoke the tool and as part of its fingerprint.
func Args(obfuscated bool) []string {
	args := append([]string{}, universalArgs...)
	if obfuscated {
		args = append(args, obfuscatedArgs...)
	}
	return args
}

// Options names the decompiler binary, its declared dependency names for
// fingerprinting, and the library cache root whose files form the
// classpath.
type Options struct {
	DecompilerToolPath string
	DependencyNames    []string // e.g. "decompiler", "decompiler-plugin-common"
	LibraryCacheRoot   string
}

// WriteClasspathFile writes one "-e=<path>" line per library path,
// alongside the decompiler invocation (spec §4.8).
func WriteClasspathFile(path string, libraryPaths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, lib := range libraryPaths {
		if _, err := w.WriteString("-e=" + lib + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// BuildFingerprint assembles the stage fingerprint: declared hashes of the
// decompiler and its plugins, joined.jar's content hash, the argument
// list, and the content hash of every library file labelled by its path
// relative to the library cache.
func BuildFingerprint(deps fingerprint.DependencyTable, dependencyNames []string, joinedJar string, args []string, libraryPaths []string, libraryCacheRoot string) (*fingerprint.Key, error) {
	k := fingerprint.NewKey(deps)
	for _, name := range dependencyNames {
		k.Put(name, fingerprint.DependencyValue(name))
	}
	k.Put("joined.jar", fingerprint.PathValue(joinedJar))
	for i, a := range args {
		k.Put("arg."+itoa(i), fingerprint.LiteralValue(a))
	}
	for _, lib := range libraryPaths {
		rel, err := filepath.Rel(libraryCacheRoot, lib)
		if err != nil {
			return nil, err
		}
		k.Put("lib:"+rel, fingerprint.PathValue(lib))
	}
	if err := k.ResolveAll(); err != nil {
		return nil, err
	}
	return k, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// Run invokes the decompiler over joinedJar, writing its output to
// outputJar. classpathFile must already exist (see WriteClasspathFile).
// The decompiler's stdout is silenced per spec §4.8; severity is fixed at
// ERROR.
func Run(ctx context.Context, logger *logrus.Logger, opts Options, joinedJar, classpathFile, outputJar string, obfuscated bool) error {
	args := append(Args(obfuscated),
		"--log-level=ERROR",
		"-cfg="+classpathFile,
		joinedJar,
		outputJar,
	)
	logger.Debugf("decompile: invoking decompiler for %s", joinedJar)
	return toolrunner.Run(ctx, logger, opts.DecompilerToolPath, args, toolrunner.Options{})
}
