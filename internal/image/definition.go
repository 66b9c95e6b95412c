package image

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
)

// Definition declares how to obtain the image of a container. It is one of
// Reference or Dockerfile.
type Definition interface {
	fmt.Stringer
	definition()
}

// Reference is an image obtained by reference from the local cache or a
// registry.
type Reference struct {
	image  string
	policy PullPolicy
}

// NewReference validates image and returns an immutable Reference.
func NewReference(image string, policy PullPolicy) (Reference, error) {
	if image == "" {
		return Reference{}, errors.New("image reference is required")
	}
	if _, err := name.ParseReference(image); err != nil {
		return Reference{}, fmt.Errorf("invalid image reference %q: %w", image, err)
	}
	if policy == "" {
		policy = PullIfMissing
	}
	if _, err := ParsePullPolicy(string(policy)); err != nil {
		return Reference{}, err
	}
	return Reference{image: image, policy: policy}, nil
}

// Image returns the reference exactly as configured.
func (r Reference) Image() string { return r.image }

// Policy returns the pull policy.
func (r Reference) Policy() PullPolicy { return r.policy }

func (r Reference) String() string {
	return fmt.Sprintf("%s (pull %s)", r.image, r.policy)
}

func (Reference) definition() {}

// Dockerfile is an image built locally from a Dockerfile and tagged.
type Dockerfile struct {
	contextDir string
	dockerfile string
	tag        string
}

// NewDockerfile returns a Dockerfile definition. dockerfile is relative to
// contextDir and defaults to "Dockerfile".
func NewDockerfile(contextDir, dockerfile, tag string) (Dockerfile, error) {
	if contextDir == "" {
		return Dockerfile{}, errors.New("build context directory is required")
	}
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if filepath.IsAbs(dockerfile) {
		return Dockerfile{}, fmt.Errorf("dockerfile %q must be relative to the build context", dockerfile)
	}
	if _, err := name.NewTag(tag); err != nil {
		return Dockerfile{}, fmt.Errorf("invalid image tag %q: %w", tag, err)
	}
	return Dockerfile{contextDir: contextDir, dockerfile: dockerfile, tag: tag}, nil
}

// ContextDir returns the build context directory.
func (d Dockerfile) ContextDir() string { return d.contextDir }

// Path returns the Dockerfile path relative to the context.
func (d Dockerfile) Path() string { return d.dockerfile }

// Tag returns the tag applied to the built image.
func (d Dockerfile) Tag() string { return d.tag }

func (d Dockerfile) String() string {
	return fmt.Sprintf("%s (built from %s)", d.tag, filepath.Join(d.contextDir, d.dockerfile))
}

func (Dockerfile) definition() {}
