package alert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureNotifier struct {
	sent    []string
	sendErr error
	closed  bool
}

func (c *captureNotifier) Send(severity Severity, message string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, string(severity)+": "+message)
	return nil
}

func (c *captureNotifier) Close() error {
	c.closed = true
	return nil
}

func TestNoOpNotifier(t *testing.T) {
	n := NewNoOpNotifier()
	assert.NoError(t, n.Send(SeverityCritical, "ignored"))
	assert.NoError(t, n.Close())
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	assert.NoError(t, n.Send(SeverityInfo, "info message"))
	assert.NoError(t, n.Send(SeverityWarning, "warning message"))
	assert.NoError(t, n.Send(SeverityCritical, "critical message"))
	assert.NoError(t, n.Close())
}

func TestFanout_SendsToAll(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	f := Fanout{a, b}

	require.NoError(t, f.Send(SeverityWarning, "degraded"))

	assert.Equal(t, []string{"warning: degraded"}, a.sent)
	assert.Equal(t, []string{"warning: degraded"}, b.sent)
}

func TestFanout_FirstErrorWinsButAllReceive(t *testing.T) {
	boom := errors.New("boom")
	a := &captureNotifier{sendErr: boom}
	b := &captureNotifier{}
	f := Fanout{a, b}

	err := f.Send(SeverityCritical, "unprotected")
	assert.ErrorIs(t, err, boom)
	// The failing notifier never blocks delivery to the rest.
	assert.Equal(t, []string{"critical: unprotected"}, b.sent)
}

func TestFanout_Close(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	f := Fanout{a, b}

	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
