package crosswire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapperConnectsEveryEmitterToEveryDetector(t *testing.T) {
	t.Parallel()

	var sigA, sigB Signal[int]
	recvX := &testPlainModule{}
	recvY := &testPlainModule{}
	var gotX, gotY []int

	m := NewMapper[int]()
	require.NoError(t, m.AppendEmitter(&sigA))
	require.NoError(t, m.AppendEmitter(&sigB))
	require.NoError(t, m.AppendDetector(recvX, func(v int) { gotX = append(gotX, v) }))
	require.NoError(t, m.AppendDetector(recvY, func(v int) { gotY = append(gotY, v) }))

	m.ConnectAll()
	sigA.Emit(1)
	sigB.Emit(2)

	assert.Equal(t, []int{1, 2}, gotX)
	assert.Equal(t, []int{1, 2}, gotY)

	m.DisconnectAll()
	sigA.Emit(3)
	assert.Equal(t, []int{1, 2}, gotX)
	assert.Zero(t, recvX.slots().SenderCount())
}

func TestMapperRejectsMismatchedEmitter(t *testing.T) {
	t.Parallel()

	var wrong Signal[string]
	m := NewMapper[int]()

	err := m.AppendEmitter(&wrong)
	assert.ErrorIs(t, err, ErrEmitterTypeMismatch)
}

func TestMapperRejectsMismatchedDetector(t *testing.T) {
	t.Parallel()

	m := NewMapper[int]()
	err := m.AppendDetector(&testPlainModule{}, func(string) {})
	assert.ErrorIs(t, err, ErrDetectorTypeMismatch)
}

func TestMapperNoopWithoutBothSides(t *testing.T) {
	t.Parallel()

	var sig Signal[int]
	m := NewMapper[int]()
	require.NoError(t, m.AppendEmitter(&sig))

	// No detectors: connect_all does nothing.
	m.ConnectAll()
	assert.False(t, sig.IsConnected())
}

func TestNewAPIPoint(t *testing.T) {
	t.Parallel()

	p := NewAPIPoint[string](7, "free-text channel")
	assert.Equal(t, 7, p.ID)
	assert.Equal(t, "free-text channel", p.Description)
	require.NotNil(t, p.Mapper)

	var sig Signal[string]
	assert.NoError(t, p.Mapper.AppendEmitter(&sig))
}
