// Package toolrunner invokes the external collaborator tools (decompiler,
// remap tool, merge tool, bundler-extract tool) as black-box processes,
// per spec §9 "External tools": each invocation's argument list is part of
// its stage's fingerprint, and its stdout is suppressed while the driver's
// own stdout is preserved.
package toolrunner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/dvherr"
)

// Humanize renders a byte count in human-readable binary units (B, KiB,
// MiB, GiB, ...), used for download-size logging.
func Humanize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// Options configures one external invocation.
type Options struct {
	// Dir is the working directory for the subprocess.
	Dir string
	// ExtraArgs is a free-form string from config, split via shlex and
	// appended after the fixed argument set.
	ExtraArgs string
	// Stdout, when non-nil, receives captured stdout; otherwise stdout is
	// discarded (spec §4.8 "stdout is silenced (redirected to a sink)").
	Stdout io.Writer
}

// Run invokes name with args (plus any shlex-split ExtraArgs), wrapping a
// non-zero exit or spawn failure as dvherr.ToolFailure.
func Run(ctx context.Context, logger *logrus.Logger, name string, args []string, opts Options) error {
	fullArgs := append([]string{}, args...)
	if opts.ExtraArgs != "" {
		extra, err := shlex.Split(opts.ExtraArgs)
		if err != nil {
			return dvherr.Wrap(dvherr.ToolFailure, err, "splitting extra arguments for "+name)
		}
		fullArgs = append(fullArgs, extra...)
	}

	logger.Debugf("toolrunner: invoking %s %v", name, fullArgs)

	cmd := exec.CommandContext(ctx, name, fullArgs...)
	cmd.Dir = opts.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if opts.Stdout != nil {
		cmd.Stdout = opts.Stdout
	} else {
		cmd.Stdout = io.Discard
	}

	if err := cmd.Run(); err != nil {
		return dvherr.Wrap(dvherr.ToolFailure, errors.Wrap(err, stderr.String()),
			name+" invocation failed")
	}
	return nil
}
