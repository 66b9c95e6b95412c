package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePullPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    PullPolicy
		wantErr bool
	}{
		{"", PullIfMissing, false},
		{"if-missing", PullIfMissing, false},
		{"Always", PullAlways, false},
		{" never ", PullNever, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePullPolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestNewReference(t *testing.T) {
	ref, err := NewReference("agent:latest", "")
	require.NoError(t, err)
	assert.Equal(t, "agent:latest", ref.Image())
	assert.Equal(t, PullIfMissing, ref.Policy())
	assert.Equal(t, "agent:latest (pull if-missing)", ref.String())

	_, err = NewReference("", PullAlways)
	assert.Error(t, err)

	_, err = NewReference("not a valid ref!", PullAlways)
	assert.Error(t, err)

	_, err = NewReference("alpine", PullPolicy("weekly"))
	assert.Error(t, err)
}

func TestNewDockerfile(t *testing.T) {
	d, err := NewDockerfile("/src", "", "app:ci")
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", d.Path())
	assert.Equal(t, "/src", d.ContextDir())
	assert.Equal(t, "app:ci", d.Tag())

	_, err = NewDockerfile("", "Dockerfile", "app:ci")
	assert.Error(t, err)

	_, err = NewDockerfile("/src", "/abs/Dockerfile", "app:ci")
	assert.Error(t, err)

	_, err = NewDockerfile("/src", "Dockerfile", "Bad Tag")
	assert.Error(t, err)
}

func TestDefinition_IsSumType(t *testing.T) {
	var defs []Definition
	ref, _ := NewReference("alpine", PullNever)
	df, _ := NewDockerfile("/src", "", "app:ci")
	defs = append(defs, ref, df)

	kinds := make([]string, 0, len(defs))
	for _, d := range defs {
		switch d.(type) {
		case Reference:
			kinds = append(kinds, "reference")
		case Dockerfile:
			kinds = append(kinds, "dockerfile")
		}
	}
	assert.Equal(t, []string{"reference", "dockerfile"}, kinds)
}
