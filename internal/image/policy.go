package image

import (
	"fmt"
	"strings"
)

// PullPolicy governs when an image is fetched from its registry instead of
// being reused from the local image cache.
type PullPolicy string

const (
	// PullNever only uses images already present locally
	PullNever PullPolicy = "never"

	// PullIfMissing pulls when the local inspect fails
	PullIfMissing PullPolicy = "if-missing"

	// PullAlways pulls on every resolution
	PullAlways PullPolicy = "always"
)

// ParsePullPolicy parses a policy name. The empty string selects PullIfMissing.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch PullPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PullIfMissing:
		return PullIfMissing, nil
	case PullNever:
		return PullNever, nil
	case PullAlways:
		return PullAlways, nil
	}
	return "", fmt.Errorf("invalid pull policy %q (must be never, if-missing or always)", s)
}

func (p PullPolicy) String() string {
	return string(p)
}
