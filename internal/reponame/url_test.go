package reponame

import (
	"testing"

	"github.com/sapcc/go-bits/assert"
)

func TestRewriteLocationAbsolute(t *testing.T) {
	rewritten, err := RewriteLocation(
		"https://up/registry/alice/alpine/blobs/uploads/1234",
		"https", "proxy.example.org", "registry",
	)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "rewritten Location", rewritten, "https://proxy.example.org/v2/alice/alpine/blobs/uploads/1234")
}

func TestRewriteLocationNoPrefix(t *testing.T) {
	rewritten, err := RewriteLocation(
		"https://up/v2/alice/alpine/blobs/uploads/1234",
		"https", "proxy.example.org", "",
	)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "rewritten Location", rewritten, "https://proxy.example.org/v2/alice/alpine/blobs/uploads/1234")
}

func TestRewriteLinkHeader(t *testing.T) {
	rewritten, err := RewriteLinkHeader(
		`<https://up/v2/_catalog?n=2&last=alpine>; rel="next"`,
		"https", "proxy.example.org",
	)
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "rewritten Link", rewritten, `<https://proxy.example.org/v2/_catalog?n=2&last=alpine>; rel="next"`)
}
