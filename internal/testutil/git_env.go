// Package testutil holds helpers shared by tests.
package testutil

import (
	"os"
	"testing"
)

// gitEnvVars redirect the repository a git process operates on. An outer
// git hook or CI job may set them; a test talking to git-upload-pack must
// not inherit them.
var gitEnvVars = []string{
	"GIT_DIR",
	"GIT_WORK_TREE",
	"GIT_INDEX_FILE",
	"GIT_COMMON_DIR",
	"GIT_PREFIX",
	"GIT_OBJECT_DIRECTORY",
	"GIT_ALTERNATE_OBJECT_DIRECTORIES",
	"GIT_CEILING_DIRECTORIES",
}

// IsolateGit unsets the git environment for the rest of the test and
// restores it on cleanup.
func IsolateGit(t testing.TB) {
	t.Helper()
	for _, key := range gitEnvVars {
		old, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		_ = os.Unsetenv(key)
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	}
}
