// SPDX-License-Identifier: MPL-2.0

package pkgref

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	// KindPath is a package in a local directory.
	KindPath Kind = "path"
	// KindGit is a package in a git repository reachable by URL.
	KindGit Kind = "git"
	// KindGitHub is a package hosted on GitHub, fetched over HTTPS.
	KindGitHub Kind = "github"
	// KindIndirect is a bare name resolved through the registry.
	KindIndirect Kind = "indirect"
)

// ErrInvalidRef is the sentinel error wrapped by InvalidRefError.
var ErrInvalidRef = errors.New("invalid package reference")

var indirectIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

type (
	// Kind identifies the scheme of a Ref.
	Kind string

	// Ref is a parsed package reference.
	Ref struct {
		Kind Kind
		// Path is the absolute directory of a KindPath ref.
		Path string
		// URL is the clone URL of a KindGit or KindGitHub ref.
		URL string
		// Owner and Repo are set for KindGitHub refs.
		Owner string
		Repo  string
		// ID is the registry name of a KindIndirect ref.
		ID string
		// GitRef is a branch or tag name.
		GitRef string
		// Rev is a commit hash.
		Rev string
		// Dir is a subdirectory of the fetched tree holding the package.
		Dir string
	}

	// InvalidRefError is returned when a reference string cannot be parsed.
	// It wraps ErrInvalidRef for errors.Is() compatibility.
	InvalidRefError struct {
		Input  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidRefError) Error() string {
	return fmt.Sprintf("invalid package reference %q: %s", e.Input, e.Reason)
}

// Unwrap returns ErrInvalidRef for errors.Is() compatibility.
func (e *InvalidRefError) Unwrap() error { return ErrInvalidRef }

// IsRemote reports whether fetching the ref requires a git clone.
func (r Ref) IsRemote() bool { return r.Kind == KindGit || r.Kind == KindGitHub }

// String returns the canonical form of the reference. Parse(r.String())
// yields an equal Ref.
func (r Ref) String() string {
	q := url.Values{}
	if r.Dir != "" {
		q.Set("dir", r.Dir)
	}
	if r.Rev != "" {
		q.Set("rev", r.Rev)
	}

	var s string
	switch r.Kind {
	case KindPath:
		s = "path:" + r.Path
	case KindGitHub:
		s = "github:" + r.Owner + "/" + r.Repo
		if r.GitRef != "" {
			s += "/" + r.GitRef
		}
	case KindGit:
		if r.GitRef != "" {
			q.Set("ref", r.GitRef)
		}
		s = "git+" + r.URL
	case KindIndirect:
		s = r.ID
	}

	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

// ParseWithFragment splits s at the first '#' and parses the reference part.
// The fragment is returned unescaped; it is empty when s has none.
func ParseWithFragment(s, baseDir string) (Ref, string, error) {
	base, frag, _ := strings.Cut(s, "#")
	fragment, err := url.PathUnescape(frag)
	if err != nil {
		return Ref{}, "", &InvalidRefError{Input: s, Reason: "malformed fragment"}
	}
	ref, err := Parse(base, baseDir)
	if err != nil {
		return Ref{}, "", err
	}
	return ref, fragment, nil
}

// Parse parses a reference without a fragment. Relative paths are resolved
// against baseDir.
func Parse(s, baseDir string) (Ref, error) {
	if s == "" {
		return Ref{}, &InvalidRefError{Input: s, Reason: "empty reference"}
	}
	if strings.Contains(s, "#") {
		return Ref{}, &InvalidRefError{Input: s, Reason: "unexpected fragment"}
	}

	body, rawQuery, _ := strings.Cut(s, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Ref{}, &InvalidRefError{Input: s, Reason: "malformed query: " + err.Error()}
	}

	var ref Ref
	switch {
	case strings.HasPrefix(body, "path:"):
		ref, err = parsePath(s, strings.TrimPrefix(body, "path:"), baseDir)
	case strings.HasPrefix(body, "github:"):
		ref, err = parseGitHub(s, strings.TrimPrefix(body, "github:"))
	case strings.HasPrefix(body, "git+"):
		ref, err = parseGit(s, strings.TrimPrefix(body, "git+"), query)
	case body == "." || body == ".." || strings.HasPrefix(body, "/") ||
		strings.HasPrefix(body, "./") || strings.HasPrefix(body, "../"):
		ref, err = parsePath(s, body, baseDir)
	case indirectIDPattern.MatchString(body):
		ref = Ref{Kind: KindIndirect, ID: body}
	default:
		err = &InvalidRefError{Input: s, Reason: "unrecognised scheme"}
	}
	if err != nil {
		return Ref{}, err
	}

	ref.Dir = strings.Trim(query.Get("dir"), "/")
	ref.Rev = query.Get("rev")
	if ref.Dir != "" && strings.Contains(ref.Dir, "..") {
		return Ref{}, &InvalidRefError{Input: s, Reason: "dir must not escape the package root"}
	}
	if ref.Rev != "" && !ref.IsRemote() {
		return Ref{}, &InvalidRefError{Input: s, Reason: "rev is only valid for git references"}
	}
	return ref, nil
}

func parsePath(input, p, baseDir string) (Ref, error) {
	if p == "" {
		return Ref{}, &InvalidRefError{Input: input, Reason: "empty path"}
	}
	if !filepath.IsAbs(p) {
		if baseDir == "" {
			return Ref{}, &InvalidRefError{Input: input, Reason: "relative path without a base directory"}
		}
		p = filepath.Join(baseDir, p)
	}
	return Ref{Kind: KindPath, Path: filepath.Clean(p)}, nil
}

func parseGitHub(input, rest string) (Ref, error) {
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Ref{}, &InvalidRefError{Input: input, Reason: "expected github:owner/repo[/ref]"}
	}
	ref := Ref{
		Kind:  KindGitHub,
		Owner: parts[0],
		Repo:  parts[1],
		URL:   "https://github.com/" + parts[0] + "/" + parts[1] + ".git",
	}
	if len(parts) == 3 {
		ref.GitRef = parts[2]
	}
	return ref, nil
}

func parseGit(input, rest string, query url.Values) (Ref, error) {
	u, err := url.Parse(rest)
	if err != nil {
		return Ref{}, &InvalidRefError{Input: input, Reason: err.Error()}
	}
	switch u.Scheme {
	case "https", "http", "ssh", "file":
	default:
		return Ref{}, &InvalidRefError{Input: input, Reason: "unsupported git transport " + u.Scheme}
	}
	return Ref{Kind: KindGit, URL: u.String(), GitRef: query.Get("ref")}, nil
}
