package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierNextCycles(t *testing.T) {
	tier := TierMainRefresh
	var seen []Tier
	for i := 0; i < 6; i++ {
		tier = tier.Next()
		seen = append(seen, tier)
	}
	assert.Equal(t, []Tier{TierSixty, TierThirty, TierMainRefresh, TierSixty, TierThirty, TierMainRefresh}, seen)
}

func TestTierNextResetsUnknown(t *testing.T) {
	assert.Equal(t, TierMainRefresh, Tier(0).Next())
	assert.Equal(t, TierMainRefresh, Tier(9).Next())
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{"1": TierMainRefresh, "2": TierSixty, " 3 ": TierThirty} {
		got, err := ParseTier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, in := range []string{"0", "4", "-1", "x", ""} {
		_, err := ParseTier(in)
		assert.ErrorIs(t, err, ErrInvalidTier, in)
	}
}

func TestFileStoreMissingFileYieldsDefaults(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"), Defaults())
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), got)
}

func TestFileStoreRoundTripKeepsLastUserCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewFileStore(path, Defaults())

	userCap := uint(7)
	in := Settings{Enabled: false, CombatCap: TierMainRefresh, OutOfCombatCap: TierSixty, LastUserCap: &userCap}
	require.NoError(t, store.Save(in))

	got, err := store.Load()
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, TierMainRefresh, got.CombatCap)
	assert.Equal(t, TierSixty, got.OutOfCombatCap)
	require.NotNil(t, got.LastUserCap)
	assert.Equal(t, uint(7), *got.LastUserCap)
	assert.Equal(t, currentVersion, got.Version)
}

func TestFileStoreRejectsUnknownTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: true\ncombat_cap: 5\nout_of_combat_cap: 3\n"), 0o644))

	_, err := NewFileStore(path, Defaults()).Load()
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestFileStoreSaveRejectsUnknownTier(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"), Defaults())
	err := store.Save(Settings{CombatCap: 4, OutOfCombatCap: TierThirty})
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestCloneDoesNotAlias(t *testing.T) {
	v := uint(5)
	s := Settings{LastUserCap: &v}
	c := s.Clone()
	*c.LastUserCap = 9
	assert.Equal(t, uint(5), *s.LastUserCap)
}
