// ABOUTME: Cluster scope for container record sources: which images are actually running.
// ABOUTME: Parses workload image references and answers whether a registry image is deployed.

package cluster

import (
	"context"
	"sort"
	"strings"
)

// Image is one container image referenced by a cluster workload
type Image struct {
	URI          string
	Registry     string // registry host, empty for Docker Hub short names
	Repository   string
	Tag          string
	Digest       string
	Namespace    string
	Workload     string
	WorkloadType string
}

// Discoverer lists the images referenced by running workloads
type Discoverer interface {
	Name() string
	DiscoverImages(ctx context.Context) ([]Image, error)
}

// ParseImage splits registry/repository:tag@digest. A reference without tag or digest is tagged latest.
func ParseImage(uri string) Image {
	img := Image{URI: uri}
	rest := uri
	if i := strings.Index(rest, "@"); i >= 0 {
		img.Digest = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		host := rest[:i]
		if strings.ContainsAny(host, ".:") || host == "localhost" {
			img.Registry = host
			rest = rest[i+1:]
		}
	}
	if i := strings.LastIndex(rest, ":"); i > strings.LastIndex(rest, "/") {
		img.Tag = rest[i+1:]
		rest = rest[:i]
	}
	img.Repository = rest
	if img.Tag == "" && img.Digest == "" {
		img.Tag = "latest"
	}
	return img
}

type refs struct {
	tags    map[string]struct{}
	digests map[string]struct{}
}

// Scope is the set of running image references grouped by repository
type Scope struct {
	repos map[string]*refs
}

// NewScope indexes images by repository
func NewScope(images []Image) *Scope {
	s := &Scope{repos: make(map[string]*refs)}
	for _, img := range images {
		r, ok := s.repos[img.Repository]
		if !ok {
			r = &refs{tags: make(map[string]struct{}), digests: make(map[string]struct{})}
			s.repos[img.Repository] = r
		}
		if img.Tag != "" {
			r.tags[img.Tag] = struct{}{}
		}
		if img.Digest != "" {
			r.digests[img.Digest] = struct{}{}
		}
	}
	return s
}

// Repositories returns the running repositories in sorted order
func (s *Scope) Repositories() []string {
	out := make([]string, 0, len(s.repos))
	for name := range s.repos {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasRepository reports whether any workload runs an image of repo
func (s *Scope) HasRepository(repo string) bool {
	_, ok := s.repos[repo]
	return ok
}

// Running reports whether an image of repo with one of tags or the digest is deployed
func (s *Scope) Running(repo string, tags []string, digest string) bool {
	r, ok := s.repos[repo]
	if !ok {
		return false
	}
	if _, ok := r.digests[digest]; ok && digest != "" {
		return true
	}
	for _, tag := range tags {
		if _, ok := r.tags[tag]; ok {
			return true
		}
	}
	return false
}
