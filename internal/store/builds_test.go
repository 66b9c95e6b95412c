package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateBuild(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "app", t0))

	b, err := db.GetBuild("p1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "app", b.Job)
	assert.Nil(t, b.Build)
	assert.Equal(t, "provisioning-remoting", b.Phase)
	assert.Equal(t, BuildStatusRunning, b.Status)
	assert.True(t, b.StartedAt.Equal(t0))
	assert.Nil(t, b.FinishedAt)
	assert.Equal(t, "app", b.Identity())
}

func TestCreateBuild_DuplicateIsNoop(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "app", t0))
	require.NoError(t, db.UpdateBuildPhase("p1", "scm-running"))
	require.NoError(t, db.CreateBuild("p1", "other", t0.Add(time.Minute)))

	b, err := db.GetBuild("p1")
	require.NoError(t, err)
	assert.Equal(t, "app", b.Job)
	assert.Equal(t, "scm-running", b.Phase)
}

func TestGetBuild_NotFound(t *testing.T) {
	db := openTestDB(t)

	b, err := db.GetBuild("missing")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestBuildUpdates_UnknownProvisioning(t *testing.T) {
	db := openTestDB(t)

	assert.Error(t, db.SetBuildIdentity("missing", "app#1"))
	assert.Error(t, db.UpdateBuildPhase("missing", "awaiting-scm"))
	assert.Error(t, db.MarkBuildFailed("missing", "boom"))
	assert.Error(t, db.FinishBuild("missing", t0))
}

func TestBuildLifecycle(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "app", t0))
	require.NoError(t, db.SetBuildIdentity("p1", "app#7"))
	require.NoError(t, db.UpdateBuildPhase("p1", "build-running"))
	require.NoError(t, db.FinishBuild("p1", t0.Add(time.Minute)))

	b, err := db.GetBuild("p1")
	require.NoError(t, err)
	require.NotNil(t, b.Build)
	assert.Equal(t, "app#7", *b.Build)
	assert.Equal(t, "app#7", b.Identity())
	assert.Equal(t, "terminated", b.Phase)
	assert.Equal(t, BuildStatusTerminated, b.Status)
	require.NotNil(t, b.FinishedAt)
	assert.True(t, b.FinishedAt.Equal(t0.Add(time.Minute)))
}

func TestFinishBuild_KeepsFailedStatus(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "app", t0))
	require.NoError(t, db.MarkBuildFailed("p1", "could not provision scm container"))
	require.NoError(t, db.FinishBuild("p1", t0.Add(time.Second)))

	b, err := db.GetBuild("p1")
	require.NoError(t, err)
	assert.Equal(t, BuildStatusFailed, b.Status)
	require.NotNil(t, b.Error)
	assert.Equal(t, "could not provision scm container", *b.Error)
}

func TestFindBuild(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "app", t0))
	require.NoError(t, db.SetBuildIdentity("p1", "app#1"))
	require.NoError(t, db.CreateBuild("p2", "app", t0.Add(time.Hour)))
	require.NoError(t, db.SetBuildIdentity("p2", "app#1"))

	b, err := db.FindBuild("app#1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "p2", b.Provisioning)

	b, err = db.FindBuild("app#2")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestListBuilds_NewestFirst(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "a", t0))
	require.NoError(t, db.CreateBuild("p2", "b", t0.Add(time.Minute)))
	require.NoError(t, db.CreateBuild("p3", "c", t0.Add(2*time.Minute)))

	all, err := db.ListBuilds(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "p3", all[0].Provisioning)
	assert.Equal(t, "p1", all[2].Provisioning)

	limited, err := db.ListBuilds(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "p2", limited[1].Provisioning)
}

func TestListBuildsByStatus(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateBuild("p1", "a", t0))
	require.NoError(t, db.CreateBuild("p2", "b", t0.Add(time.Minute)))
	require.NoError(t, db.FinishBuild("p1", t0.Add(time.Hour)))

	running, err := db.ListBuildsByStatus(BuildStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "p2", running[0].Provisioning)
}

func TestNextBuildNumber(t *testing.T) {
	db := openTestDB(t)

	n, err := db.NextBuildNumber("app")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, db.CreateBuild("p1", "app", t0))
	require.NoError(t, db.SetBuildIdentity("p1", "app#1"))
	// a node that never got a build does not take a number
	require.NoError(t, db.CreateBuild("p2", "app", t0))
	require.NoError(t, db.CreateBuild("p3", "lib", t0))
	require.NoError(t, db.SetBuildIdentity("p3", "lib#1"))

	n, err = db.NextBuildNumber("app")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
