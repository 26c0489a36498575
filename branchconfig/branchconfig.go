// Package branchconfig loads the branch config file (spec §6): a JSON
// object mapping branch name to BranchSpec, sourced from one or more
// file:// or https:// URIs composed last-wins over branch name.
package branchconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dvh-project/historian/version"
)

// SpecType is the BranchSpec.type enum of spec §3.
type SpecType string

const (
	Release SpecType = "release"
	Dev      SpecType = "dev"
	Custom   SpecType = "custom"
)

// BranchSpec is the declarative per-branch policy of spec §3.
type BranchSpec struct {
	Type     SpecType     `json:"type"`
	Start    *version.ID  `json:"start,omitempty"`
	End      *version.ID  `json:"end,omitempty"`
	Versions []version.ID `json:"versions,omitempty"`
	Include  []version.ID `json:"include,omitempty"`
	Exclude  []version.ID `json:"exclude,omitempty"`
}

// document is the on-the-wire shape: {"branches": {name: BranchSpec}}.
type document struct {
	Branches map[string]BranchSpec `json:"branches"`
}

// Set is the fully composed branch-name -> BranchSpec table.
type Set map[string]BranchSpec

// Load fetches and composes every uri in order, last-wins per branch name.
// Each uri must be file:// or https://.
func Load(logger *logrus.Logger, uris []string) (Set, error) {
	out := make(Set)
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 3
	client.HTTPClient.Timeout = 30 * time.Second

	for _, uri := range uris {
		doc, err := fetchOne(client, uri)
		if err != nil {
			return nil, errors.Wrapf(err, "branchconfig: loading %s", uri)
		}
		for name, spec := range doc.Branches {
			if _, exists := out[name]; exists {
				logger.Debugf("branchconfig: %s overrides prior definition of branch %q", uri, name)
			}
			out[name] = spec
		}
	}
	return out, nil
}

func fetchOne(client *retryablehttp.Client, uri string) (*document, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid URI %q", uri)
	}

	var r io.ReadCloser
	switch u.Scheme {
	case "file":
		path := u.Path
		if path == "" {
			path = strings.TrimPrefix(uri, "file://")
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		r = f
	case "https":
		req, err := retryablehttp.NewRequest("GET", uri, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != 200 {
			resp.Body.Close()
			return nil, fmt.Errorf("fetching %s: HTTP %d", uri, resp.StatusCode)
		}
		r = resp.Body
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %q, must be file:// or https://", u.Scheme, uri)
	}
	defer r.Close()

	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrapf(err, "parsing branch config at %s", uri)
	}
	return &doc, nil
}
