package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRecoverable struct {
	called bool
	err    error
}

func (m *mockRecoverable) RecoverState(ctx context.Context) error {
	m.called = true
	return m.err
}

func TestRecoverAllSuccess(t *testing.T) {
	m := NewManager()
	a, b := &mockRecoverable{}, &mockRecoverable{}
	m.Register("a", a)
	m.Register("b", b)
	require.Equal(t, 2, m.Len())

	require.NoError(t, m.RecoverAll(context.Background()))
	assert.True(t, a.called)
	assert.True(t, b.called)
}

func TestRecoverAllContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	m := NewManager()
	a := &mockRecoverable{err: boom}
	var order []string
	m.Register("outbox", a)
	m.Register("outcomes", Func(func(ctx context.Context) error {
		order = append(order, "outcomes")
		return nil
	}))

	err := m.RecoverAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "outbox: boom")
	assert.Equal(t, []string{"outcomes"}, order)
}

func TestRecoverAllStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &mockRecoverable{}
	m := NewManager()
	m.Register("a", a)

	err := m.RecoverAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, a.called)
}
