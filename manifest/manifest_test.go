package manifest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSortsAndSplicesVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"latest": {"release": "1.19", "snapshot": "23w13a"},
			"versions": [
				{"id": "1.19", "type": "release", "url": "https://x/1.19.json", "time": "2022-06-07T10:00:00+00:00", "releaseTime": "2022-06-07T10:00:00+00:00", "sha1": "aaaa"},
				{"id": "rd-132211", "type": "old_alpha", "url": "https://x/rd.json", "time": "2009-05-13T10:00:00+00:00", "releaseTime": "2009-05-13T10:00:00+00:00", "sha1": "bbbb"}
			]
		}`))
	}))
	defer srv.Close()

	r := NewResolver(logrus.New(), srv.URL)
	infos, latest, err := r.Resolve()
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	assert.Equal(t, "rd-132211", string(infos[0].ID))
	assert.Equal(t, "1.19", string(latest.Release))

	var foundVariant bool
	for _, info := range infos {
		if string(info.ID) == "rd-132211_unobfuscated" {
			foundVariant = true
			assert.Equal(t, 1, info.Priority)
		}
	}
	assert.True(t, foundVariant, "expected rd-132211_unobfuscated to be spliced in")
}

func TestResolveFailsOnEmptyVersions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"latest": {"release": "", "snapshot": ""}, "versions": []}`))
	}))
	defer srv.Close()

	r := NewResolver(logrus.New(), srv.URL)
	_, _, err := r.Resolve()
	assert.Error(t, err)
}

func TestResolveFailsOnUnreachable(t *testing.T) {
	r := NewResolver(logrus.New(), "http://127.0.0.1:1")
	r.client.RetryMax = 0
	_, _, err := r.Resolve()
	assert.Error(t, err)
}
