package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroledger/aeroledger/pkg/types"
)

var baseTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newService() *Service {
	s := New(nil)
	s.now = func() time.Time { return baseTime }
	return s
}

func TestApply_RecordsCommand(t *testing.T) {
	s := newService()
	cmd := types.ControlCommand{On: true, Intensity: 75, Timestamp: baseTime}
	assert.Equal(t, cmd, s.Apply("dev", cmd))

	st, err := s.Status("dev")
	require.NoError(t, err)
	assert.True(t, st.On)
	assert.Equal(t, 75, st.Intensity)
	assert.False(t, st.OverrideActive)
	assert.Nil(t, st.Override)
}

func TestOverride_WinsUntilCleared(t *testing.T) {
	s := newService()
	forced := s.SetOverride("dev", true, 60)
	assert.Equal(t, 50, forced.Intensity, "snapped to a level")

	got := s.Apply("dev", types.ControlCommand{On: false, Intensity: 0})
	assert.Equal(t, forced, got)

	st, err := s.Status("dev")
	require.NoError(t, err)
	assert.True(t, st.OverrideActive)
	require.NotNil(t, st.Override)
	assert.Equal(t, baseTime, st.Override.SetAt)

	assert.True(t, s.ClearOverride("dev"))
	assert.False(t, s.ClearOverride("dev"))

	auto := types.ControlCommand{On: false, Intensity: 0}
	assert.Equal(t, auto, s.Apply("dev", auto))
}

func TestApplyAuto_ReportsOverride(t *testing.T) {
	s := newService()
	auto := types.ControlCommand{On: true, Intensity: 75}

	got, overridden := s.ApplyAuto("dev", auto)
	assert.False(t, overridden)
	assert.Equal(t, auto, got)

	forced := s.SetOverride("dev", false, 0)
	got, overridden = s.ApplyAuto("dev", auto)
	assert.True(t, overridden)
	assert.Equal(t, forced, got)
}

func TestStatus_Unknown(t *testing.T) {
	_, err := newService().Status("ghost")
	assert.ErrorIs(t, err, ErrNoState)
}

func TestForget(t *testing.T) {
	s := newService()
	s.SetOverride("dev", true, 100)
	s.Forget("dev")
	_, err := s.Status("dev")
	assert.ErrorIs(t, err, ErrNoState)
}
