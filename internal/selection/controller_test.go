package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmap/internal/domain"
)

func TestInitialStateIsNone(t *testing.T) {
	c := New(nil)
	assert.Equal(t, domain.NoSelection, c.State())
}

func TestLastClickWins(t *testing.T) {
	var changes []domain.Selection
	c := New(func(s domain.Selection) { changes = append(changes, s) })
	c.Reset(3)

	require.NoError(t, c.HandleClick(ClickTarget{Kind: TargetStation, Index: 0}))
	require.NoError(t, c.HandleClick(ClickTarget{Kind: TargetStation, Index: 2}))

	assert.Equal(t, domain.Selected(2), c.State())
	assert.Equal(t, []domain.Selection{domain.Selected(0), domain.Selected(2)}, changes)
}

func TestReselectSameStationIsQuiet(t *testing.T) {
	changes := 0
	c := New(func(domain.Selection) { changes++ })
	c.Reset(2)

	require.NoError(t, c.Select(1))
	require.NoError(t, c.Select(1))
	assert.Equal(t, 1, changes)
}

func TestOutsideClickDismisses(t *testing.T) {
	c := New(nil)
	c.Reset(2)
	require.NoError(t, c.Select(1))

	require.NoError(t, c.HandleClick(ClickTarget{Kind: TargetCard}))
	assert.Equal(t, domain.Selected(1), c.State())

	require.NoError(t, c.HandleClick(ClickTarget{Kind: TargetMap}))
	assert.Equal(t, domain.NoSelection, c.State())
}

func TestResetClearsSelection(t *testing.T) {
	c := New(nil)
	c.Reset(4)
	require.NoError(t, c.Select(3))

	c.Reset(2)
	assert.Equal(t, domain.NoSelection, c.State())
	assert.ErrorIs(t, c.Select(3), domain.ErrInvariantViolation)
}

func TestSelectOutOfRange(t *testing.T) {
	c := New(nil)
	c.Reset(1)
	assert.ErrorIs(t, c.Select(-1), domain.ErrInvariantViolation)
	assert.ErrorIs(t, c.Select(1), domain.ErrInvariantViolation)
	assert.Equal(t, domain.NoSelection, c.State())
}
