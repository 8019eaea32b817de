package spawn_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/spawn"
)

func waitExit(t *testing.T, s *spawn.Spawn) spawn.Exit {
	t.Helper()
	select {
	case exit := <-s.Exited():
		return exit
	case <-time.After(5 * time.Second):
		t.Fatal("child never exited")
	}
	return spawn.Exit{}
}

func TestLinesAndExitSuccess(t *testing.T) {
	s := spawn.New()
	require.NoError(t, s.Start(
		[]string{"/bin/sh", "-c", "echo one; echo two"}, nil, ""))

	var lines []string
	deadline := time.After(5 * time.Second)
	for len(lines) < 2 {
		select {
		case l := <-s.Lines():
			lines = append(lines, l)
		case <-deadline:
			t.Fatal("missing output lines")
		}
	}
	assert.Equal(t, []string{"one", "two"}, lines)
	exit := waitExit(t, s)
	assert.Equal(t, spawn.ExitSuccess, exit.Kind)
	assert.False(t, s.IsRunning())
}

func TestExitFailedCarriesCode(t *testing.T) {
	s := spawn.New()
	require.NoError(t, s.Start([]string{"/bin/sh", "-c", "exit 3"}, nil, ""))
	exit := waitExit(t, s)
	assert.Equal(t, spawn.ExitFailed, exit.Kind)
	assert.Equal(t, 3, exit.Code)
}

func TestStdinRoundTrip(t *testing.T) {
	s := spawn.New()
	require.NoError(t, s.Start([]string{"/bin/cat"}, nil, ""))
	require.NoError(t, s.SendStdin("hello"))
	select {
	case l := <-s.Lines():
		assert.Equal(t, "hello", l)
	case <-time.After(5 * time.Second):
		t.Fatal("cat never echoed")
	}
	require.NoError(t, s.Signal(syscall.SIGKILL))
	exit := waitExit(t, s)
	assert.Equal(t, spawn.ExitSigkill, exit.Kind)
}

func TestSigquitClassified(t *testing.T) {
	s := spawn.New()
	require.NoError(t, s.Start([]string{"/bin/cat"}, nil, ""))
	require.NoError(t, s.Signal(syscall.SIGQUIT))
	exit := waitExit(t, s)
	assert.Equal(t, spawn.ExitSigquit, exit.Kind)
}

func TestDoubleStartRejected(t *testing.T) {
	s := spawn.New()
	require.NoError(t, s.Start([]string{"/bin/cat"}, nil, ""))
	err := s.Start([]string{"/bin/cat"}, nil, "")
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.Internal))
	require.NoError(t, s.Signal(syscall.SIGKILL))
	waitExit(t, s)
}

func TestSendStdinWithoutChild(t *testing.T) {
	s := spawn.New()
	err := s.SendStdin("nope")
	require.Error(t, err)
}
