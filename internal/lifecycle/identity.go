package lifecycle

import (
	"fmt"
	"strconv"
	"strings"
)

// JobIdentity names the job a node is requested for.
type JobIdentity struct {
	Name string
}

func (j JobIdentity) String() string {
	return j.Name
}

// BuildIdentity names one build of a job.
type BuildIdentity struct {
	Job    string
	Number int
}

// String returns "job#number".
func (b BuildIdentity) String() string {
	return fmt.Sprintf("%s#%d", b.Job, b.Number)
}

// ParseBuildIdentity parses the form returned by BuildIdentity.String.
func ParseBuildIdentity(s string) (BuildIdentity, error) {
	i := strings.LastIndex(s, "#")
	if i <= 0 || i == len(s)-1 {
		return BuildIdentity{}, fmt.Errorf("invalid build identity %q (want job#number)", s)
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 1 {
		return BuildIdentity{}, fmt.Errorf("invalid build number in %q", s)
	}
	return BuildIdentity{Job: s[:i], Number: n}, nil
}
