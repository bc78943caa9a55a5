package result

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAction struct {
	name        string
	dupOf       string
	conflictsWith string
	executed    *bool
	finished    *bool
	suppresses  bool
	execErr     error
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) CheckDuplicate(other Action) bool {
	o, ok := other.(*fakeAction)
	return ok && o.dupOf != "" && o.dupOf == a.name
}

func (a *fakeAction) CheckConflict(other Action) (string, bool) {
	o, ok := other.(*fakeAction)
	if ok && a.conflictsWith != "" && a.conflictsWith == o.name {
		return "conflicts by design", true
	}
	return "", false
}

func (a *fakeAction) Execute(interface{}) error {
	if a.executed != nil {
		*a.executed = true
	}
	return a.execErr
}

func (a *fakeAction) Finish(policy interface{}, outcome error) {
	if a.finished != nil {
		*a.finished = true
	}
}

func (a *fakeAction) SuppressesImplicitKeep() bool { return a.suppresses }

func TestImplicitKeepDefaultsTrue(t *testing.T) {
	r := New()
	require.True(t, r.ImplicitKeep())
	require.Empty(t, r.Actions())
}

func TestAddSuppressesImplicitKeep(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&fakeAction{name: "fileinto", suppresses: true}))
	require.False(t, r.ImplicitKeep())
}

func TestAddCoalescesDuplicates(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&fakeAction{name: "keep1", dupOf: ""}))
	second := &fakeAction{name: "keep1", dupOf: "keep1"}
	require.NoError(t, r.Add(second))
	require.Len(t, r.Actions(), 1)
	require.Same(t, second, r.Actions()[0])
}

func TestAddDetectsConflict(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&fakeAction{name: "vacation"}))
	err := r.Add(&fakeAction{name: "vacation2", conflictsWith: "vacation"})
	require.Error(t, err)
	require.Len(t, r.Actions(), 1, "a conflicting action must not be queued")
}

func TestAddDetectsConflictSymmetrically(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(&fakeAction{name: "vacation", conflictsWith: "vacation2"}))
	err := r.Add(&fakeAction{name: "vacation2"})
	require.Error(t, err)
}

func TestCommitExecutesAllThenFinishesAll(t *testing.T) {
	r := New()
	var exec1, exec2, fin1, fin2 bool
	require.NoError(t, r.Add(&fakeAction{name: "a", executed: &exec1, finished: &fin1}))
	require.NoError(t, r.Add(&fakeAction{name: "b", executed: &exec2, finished: &fin2}))

	err := r.Commit(nil)
	require.NoError(t, err)
	require.True(t, exec1)
	require.True(t, exec2)
	require.True(t, fin1)
	require.True(t, fin2)
}

func TestCommitStopsExecutingOnFirstErrorButStillFinishes(t *testing.T) {
	r := New()
	var exec2, fin1, fin2 bool
	boom := require.AnError
	require.NoError(t, r.Add(&fakeAction{name: "a", execErr: boom}))
	require.NoError(t, r.Add(&fakeAction{name: "b", executed: &exec2, finished: &fin2}))
	_ = fin1

	err := r.Commit(nil)
	require.Error(t, err)
	require.False(t, exec2, "actions after the first failure must not execute")
	require.True(t, fin2, "finish still runs for every action regardless of outcome")
}
