// Package scm pins the revision checked out by a build.
package scm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
)

// DefaultRevision is resolved when a job names none
const DefaultRevision = "HEAD"

// ErrRevisionNotFound is returned when the repository has no such revision
var ErrRevisionNotFound = errors.New("revision not found")

var fullHash = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ResolveRevision resolves revision (a branch, tag, HEAD or commit hash) of
// repository to a full commit hash. Local paths are opened directly; remote
// URLs are queried with a ref listing, which only resolves branch and tag
// names and HEAD.
func ResolveRevision(ctx context.Context, repository, revision string) (string, error) {
	if revision == "" {
		revision = DefaultRevision
	}
	if fullHash.MatchString(revision) {
		return revision, nil
	}

	if isLocal(repository) {
		return resolveLocal(repository, revision)
	}
	return resolveRemote(ctx, repository, revision)
}

func isLocal(repository string) bool {
	if strings.Contains(repository, "://") || strings.HasPrefix(repository, "git@") {
		return false
	}
	_, err := os.Stat(repository)
	return err == nil
}

func resolveLocal(path, revision string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", path, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", fmt.Errorf("%w: %s in %s", ErrRevisionNotFound, revision, path)
		}
		return "", fmt.Errorf("resolve %s in %s: %w", revision, path, err)
	}
	return hash.String(), nil
}

func resolveRemote(ctx context.Context, url, revision string) (string, error) {
	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list refs of %s: %w", url, err)
	}

	hash, ok := matchRef(refs, revision)
	if !ok {
		return "", fmt.Errorf("%w: %s in %s", ErrRevisionNotFound, revision, url)
	}
	return hash.String(), nil
}

// matchRef finds revision among advertised refs. HEAD may be advertised as a
// symbolic reference and is followed to its target.
func matchRef(refs []*plumbing.Reference, revision string) (plumbing.Hash, bool) {
	byName := make(map[plumbing.ReferenceName]*plumbing.Reference, len(refs))
	for _, ref := range refs {
		byName[ref.Name()] = ref
	}

	candidates := []plumbing.ReferenceName{plumbing.ReferenceName(revision)}
	if revision != DefaultRevision {
		candidates = append(candidates,
			plumbing.NewBranchReferenceName(revision),
			plumbing.NewTagReferenceName(revision),
		)
	}

	for _, name := range candidates {
		ref, ok := byName[name]
		// symbolic refs chain at most a few levels
		for i := 0; ok && ref.Type() == plumbing.SymbolicReference && i < 5; i++ {
			ref, ok = byName[ref.Target()]
		}
		if ok && ref.Type() == plumbing.HashReference {
			return ref.Hash(), true
		}
	}
	return plumbing.ZeroHash, false
}
