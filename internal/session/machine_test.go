package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noticebot/internal/waha"
)

func TestMachineEntryTransitions(t *testing.T) {
	m := Machine{MaxAttempts: 5}
	cases := []struct {
		status waha.Status
		phase  Phase
		action Action
	}{
		{waha.StatusWorking, PhaseDone, ActionSucceed},
		{waha.StatusScanQR, PhaseChallenge, ActionIssueChallenge},
		{waha.StatusStarting, PhaseStarting, ActionPoll},
		{waha.StatusFailed, PhaseFailed, ActionFail},
		{waha.Status("SOMETHING_NEW"), PhaseFailed, ActionFail},
	}
	for _, tc := range cases {
		st, act := m.Next(State{}, Observed(tc.status, false))
		assert.Equal(t, tc.phase, st.Phase, tc.status)
		assert.Equal(t, tc.action, act, tc.status)
	}
}

func TestMachineUnexpectedStatusIsAuthFailure(t *testing.T) {
	st, act := Machine{}.Next(State{}, Observed(waha.StatusFailed, false))
	require.Equal(t, ActionFail, act)
	assert.ErrorIs(t, st.Failure, ErrAuthenticationFailed)
}

func TestMachineTransportErrorOutsideChallengePropagates(t *testing.T) {
	boom := errors.New("connection refused")
	st, act := Machine{}.Next(State{Phase: PhaseStarting}, Failed(boom))
	require.Equal(t, ActionFail, act)
	assert.ErrorIs(t, st.Failure, boom)
	assert.NotErrorIs(t, st.Failure, ErrAuthenticationFailed)
}

func TestMachineStartingExpires(t *testing.T) {
	m := Machine{}
	st, act := m.Next(State{Phase: PhaseStarting}, Observed(waha.StatusStarting, false))
	assert.Equal(t, ActionPoll, act)

	st, act = m.Next(st, Observed(waha.StatusStarting, true))
	require.Equal(t, ActionFail, act)
	assert.ErrorIs(t, st.Failure, ErrTimeout)
}

func TestMachineStartingLeavesToChallengeEvenWhenExpired(t *testing.T) {
	st, act := Machine{}.Next(State{Phase: PhaseStarting}, Observed(waha.StatusScanQR, true))
	assert.Equal(t, ActionIssueChallenge, act)
	assert.Equal(t, 1, st.Attempt)
}

func TestMachineChallengeKeepsPollingWithinWindow(t *testing.T) {
	s := State{Phase: PhaseChallenge, Attempt: 2}
	for _, status := range []waha.Status{waha.StatusScanQR, waha.StatusStarting, waha.StatusFailed} {
		st, act := Machine{}.Next(s, Observed(status, false))
		assert.Equal(t, ActionPoll, act)
		assert.Equal(t, s, st)
	}
}

func TestMachineQRAttemptsAreCapped(t *testing.T) {
	m := Machine{MaxAttempts: 3}
	st := State{Phase: PhaseChallenge, Attempt: 1}
	issued := 1

	for i := 0; i < 10; i++ {
		var act Action
		st, act = m.Next(st, Observed(waha.StatusScanQR, true))
		if act == ActionFail {
			break
		}
		require.Equal(t, ActionIssueChallenge, act)
		issued++
	}

	assert.Equal(t, 3, issued)
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.ErrorIs(t, st.Failure, ErrAuthenticationFailed)
}

func TestMachineChallengeErrorCountsAsAttempt(t *testing.T) {
	boom := errors.New("qr fetch 502")
	st, act := Machine{MaxAttempts: 2}.Next(State{Phase: PhaseChallenge, Attempt: 1}, Failed(boom))
	assert.Equal(t, ActionIssueChallenge, act)
	assert.Equal(t, 2, st.Attempt)

	st, act = Machine{MaxAttempts: 2}.Next(st, Failed(boom))
	require.Equal(t, ActionFail, act)
	assert.ErrorIs(t, st.Failure, ErrAuthenticationFailed)
	assert.ErrorIs(t, st.Failure, boom)
}

func TestMachineTerminalStatesAreSticky(t *testing.T) {
	done := State{Phase: PhaseDone}
	st, act := Machine{}.Next(done, Failed(errors.New("late")))
	assert.Equal(t, done, st)
	assert.Equal(t, ActionSucceed, act)

	failed := State{Phase: PhaseFailed, Failure: ErrTimeout}
	st, act = Machine{}.Next(failed, Observed(waha.StatusWorking, false))
	assert.Equal(t, failed, st)
	assert.Equal(t, ActionFail, act)
}
