// Package mergeremap implements the merge-remap engine (MRE, spec §4.7):
// bundler detection via the server jar's manifest, server-side filtering
// against the obfuscated mapping side, side-merge with dist annotations,
// and the final remap invocation producing joined.jar.
package mergeremap

import (
	"archive/zip"
	"context"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/dvherr"
	"github.com/dvh-project/historian/fingerprint"
	"github.com/dvh-project/historian/mapping"
	"github.com/dvh-project/historian/toolrunner"
)

// bundlerMainClass is the manifest Main-Class header value that marks a
// server jar as a bundler archive wrapping a thin launcher plus a real
// server jar in a nested "versions/" entry.
const bundlerMainClass = "net.minecraft.bundler.Main"

// Options names the three external collaborator binaries and any
// free-form extra arguments to append to the remap invocation.
type Options struct {
	MergeToolPath          string
	RemapToolPath          string
	BundlerExtractToolPath string
	ExtraRemapArgs         string
}

// IsBundlerArchive reports whether jarPath's manifest declares the bundler
// main class, read RFC822-style from META-INF/MANIFEST.MF exactly as a
// jar-manifest scanner would.
func IsBundlerArchive(jarPath string) (bool, error) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return false, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "META-INF/MANIFEST.MF" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return false, err
		}
		defer rc.Close()
		msg, err := mail.ReadMessage(rc)
		if err != nil {
			return false, err
		}
		return msg.Header.Get("Main-Class") == bundlerMainClass, nil
	}
	return false, nil
}

// classNameFromEntry converts a zip entry path like "a/b/C.class" to a
// binary class name "a.b.C", or "" for non-class entries.
func classNameFromEntry(name string) string {
	if !strings.HasSuffix(name, ".class") || strings.Contains(name, "META-INF") {
		return ""
	}
	trimmed := strings.TrimSuffix(name, ".class")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// filterServerEntries copies from src into dst only entries whose class
// name appears as an obfuscated class in m, stripping shaded libraries and
// resources (spec §4.7.1.b).
func filterServerEntries(src, dst string, m *mapping.Mapping) error {
	obfClasses := make(map[string]struct{}, len(m.ByDeobfClass))
	for _, c := range m.ByDeobfClass {
		obfClasses[strings.ReplaceAll(c.ObfName, "/", ".")] = struct{}{}
	}

	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	zw := zip.NewWriter(out)

	for _, f := range zr.File {
		cls := classNameFromEntry(f.Name)
		if cls == "" {
			continue
		}
		if _, ok := obfClasses[cls]; !ok {
			continue
		}
		if err := copyZipEntry(zw, f); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func copyZipEntry(zw *zip.Writer, f *zip.File) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.CreateHeader(&f.FileHeader)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// BuildFingerprint assembles the stage fingerprint: declared hashes of the
// merge and remap tools, the content hash of the merged-mappings file (a
// literal sentinel for unobfuscated versions, which carry none), the
// manifest-declared SHA-1 of client.jar and server.jar, and the content
// hash of the extracted server file once one has been produced (spec
// §4.7).
func BuildFingerprint(deps fingerprint.DependencyTable, mappingsPath, clientSHA1, serverSHA1, serverExtracted string) (*fingerprint.Key, error) {
	k := fingerprint.NewKey(deps)
	k.Put("merge-tool", fingerprint.DependencyValue("merge-tool"))
	k.Put("remap-tool", fingerprint.DependencyValue("remap-tool"))
	if mappingsPath != "" {
		k.Put("mappings", fingerprint.PathValue(mappingsPath))
	} else {
		k.Put("mappings", fingerprint.LiteralValue("none"))
	}
	k.Put("client.jar", fingerprint.HashValue(clientSHA1))
	k.Put("server.jar", fingerprint.HashValue(serverSHA1))
	if serverExtracted != "" {
		if _, err := os.Stat(serverExtracted); err == nil {
			k.Put("server-extracted.jar", fingerprint.PathValue(serverExtracted))
		}
	}
	if err := k.ResolveAll(); err != nil {
		return nil, err
	}
	return k, nil
}

// Run produces joined.jar under outDir from clientJar and serverJar,
// following spec §4.7's bundler/superset/side-merge decision tree.
// mappings is nil for unobfuscated versions. mappingsPath is the merged
// TSRG2 file path, required when mappings is non-nil.
func Run(ctx context.Context, logger *logrus.Logger, opts Options, clientJar, serverJar string,
	mappings *mapping.Mapping, mappingsPath string, outDir string) (joinedPath string, err error) {

	serverExtracted := filepath.Join(outDir, "server-extracted.jar")
	isBundler, err := IsBundlerArchive(serverJar)
	if err != nil {
		return "", dvherr.Wrap(dvherr.ToolFailure, err, "reading server jar manifest")
	}

	serverForMerge := serverJar
	switch {
	case isBundler:
		logger.Debugf("mergeremap: server jar is a bundler archive, extracting")
		if err := toolrunner.Run(ctx, logger, opts.BundlerExtractToolPath,
			[]string{serverJar, serverExtracted}, toolrunner.Options{}); err != nil {
			return "", err
		}
		serverForMerge = serverExtracted
	case mappings == nil:
		serverForMerge = serverJar
	default:
		if err := filterServerEntries(serverJar, serverExtracted, mappings); err != nil {
			return "", dvherr.Wrap(dvherr.ToolFailure, err, "filtering server jar entries")
		}
		serverForMerge = serverExtracted
	}

	joined := filepath.Join(outDir, "joined.jar")

	if mappings == nil {
		args := []string{"--no-mod-manifest",
			"--input-client", clientJar,
			"--input-server", serverForMerge,
			"--output", joined}
		if err := toolrunner.Run(ctx, logger, opts.RemapToolPath, args,
			toolrunner.Options{ExtraArgs: opts.ExtraRemapArgs}); err != nil {
			return "", err
		}
		return joined, nil
	}

	objJoined := filepath.Join(outDir, "joined-obf.jar")
	defer os.Remove(objJoined)

	if err := toolrunner.Run(ctx, logger, opts.MergeToolPath,
		[]string{clientJar, serverForMerge, objJoined}, toolrunner.Options{}); err != nil {
		return "", err
	}

	args := []string{"--no-dist-annotations",
		"--input", objJoined,
		"--mappings", mappingsPath,
		"--output", joined}
	if err := toolrunner.Run(ctx, logger, opts.RemapToolPath, args,
		toolrunner.Options{ExtraArgs: opts.ExtraRemapArgs}); err != nil {
		return "", err
	}

	return joined, nil
}
