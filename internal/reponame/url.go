/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package reponame

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Reference is a reference to a manifest as encountered in a URL on the
// Registry v2 API (the `<ref>` in `/v2/<name>/manifests/<ref>`). Exactly one
// of the two fields is non-empty.
type Reference struct {
	Digest digest.Digest
	Tag    string
}

// ParseReference parses a manifest reference. If it parses as a digest, it is
// interpreted as a digest; otherwise it is taken to be a tag name.
func ParseReference(raw string) Reference {
	d, err := digest.Parse(raw)
	if err == nil {
		return Reference{Digest: d}
	}
	return Reference{Tag: raw}
}

// String returns the original string representation of this reference.
func (r Reference) String() string {
	if r.Digest != "" {
		return r.Digest.String()
	}
	return r.Tag
}

// RewriteLocation rewrites an upstream `Location` response header (as seen on
// upload-session creation and cross-repository blob mounts) so that its
// authority is the proxy's own and its path is back in tenant space. `raw`
// may be an absolute or a registry-relative URL, mirroring what real
// upstreams send in practice. Its path may be rooted at "/v2/" or directly at
// the upstream repository name (e.g. "/<prefix>/alice/alpine/blobs/uploads/1234").
func RewriteLocation(raw string, proxyScheme, proxyHost, upstreamPrefix string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	path := u.Path
	const marker = "/v2/"
	rest := strings.TrimPrefix(path, "/")
	if idx := strings.Index(path, marker); idx >= 0 {
		rest = path[idx+len(marker):]
	}

	// rest looks like "<upstream-name>/blobs/uploads/<uuid>" etc.; only the
	// repository-name portion (everything up to the next known sub-resource
	// keyword) needs prefix stripping, so split off the tail at the first
	// occurrence of one of the well-known sub-resource segments.
	repoPart, tail, ok := splitAtSubResource(rest)
	if !ok {
		return "", ErrNameInvalid
	}

	name, err := ParseUpstreamPath(repoPart, upstreamPrefix)
	if err != nil {
		return "", err
	}

	rewritten := url.URL{
		Scheme:   proxyScheme,
		Host:     proxyHost,
		Path:     marker + name.TenantPath() + tail,
		RawQuery: u.RawQuery,
	}
	return rewritten.String(), nil
}

var subResourceRx = regexp.MustCompile(`/(manifests|blobs|tags)(/.*)?$`)

// splitAtSubResource splits "<name>/blobs/uploads/<uuid>" into
// ("<name>", "/blobs/uploads/<uuid>").
func splitAtSubResource(path string) (namePart, tail string, ok bool) {
	loc := subResourceRx.FindStringSubmatchIndex(path)
	if loc == nil {
		return "", "", false
	}
	return path[:loc[0]], path[loc[0]:], true
}

// RewriteLinkHeader rewrites the `Link: <...>; rel="next"` pagination header
// used by `_catalog`: it replaces the scheme and host with the proxy's and
// carries the path and query (including the `last` cursor) over unchanged;
// the path is not rewritten into tenant space (catalog pagination carries a
// cursor, not a repository path).
func RewriteLinkHeader(raw, proxyScheme, proxyHost string) (string, error) {
	linkURLStart := strings.Index(raw, "<")
	linkURLEnd := strings.Index(raw, ">")
	if linkURLStart < 0 || linkURLEnd < 0 || linkURLEnd < linkURLStart {
		return "", ErrNameInvalid
	}
	rawURL := raw[linkURLStart+1 : linkURLEnd]
	suffix := raw[linkURLEnd+1:]

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	u.Scheme = proxyScheme
	u.Host = proxyHost

	return "<" + u.String() + ">" + suffix, nil
}
