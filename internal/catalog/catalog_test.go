package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "proofgate/pkg/domain-errors"
)

func TestDescribe(t *testing.T) {
	cat := New(map[Channel][]TierSpec{
		ChannelPhone: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 100, PassingCutoff: 50, Expiry: time.Hour, MaxAttempts: 3},
			{Tier: 2, ScoreMin: 0, ScoreMax: 150, PassingCutoff: 80, Expiry: time.Hour, RequiredPriorTier: 1, MaxAttempts: 3},
		},
	})

	t.Run("known channel and tier", func(t *testing.T) {
		spec, err := cat.Describe(ChannelPhone, 2)
		require.NoError(t, err)
		assert.Equal(t, 150, spec.ScoreMax)
		assert.Equal(t, 1, spec.RequiredPriorTier)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := cat.Describe(Channel("carrier-pigeon"), 1)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnknownChannel))
	})

	t.Run("unknown tier on known channel", func(t *testing.T) {
		_, err := cat.Describe(ChannelPhone, 9)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnknownChannel))
	})
}

func TestParseChannel(t *testing.T) {
	cat := Default()

	ch, err := cat.ParseChannel("kyc")
	require.NoError(t, err)
	assert.Equal(t, ChannelKYC, ch)

	_, err = cat.ParseChannel("smoke-signal")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnknownChannel))
}

func TestList_SortedAndStable(t *testing.T) {
	cat := Default()
	listing := cat.List()

	require.NotEmpty(t, listing)
	for i := 1; i < len(listing); i++ {
		assert.Less(t, listing[i-1].Channel, listing[i].Channel, "channels must list in sorted order")
	}
	for _, entry := range listing {
		for i := 1; i < len(entry.Tiers); i++ {
			assert.Less(t, entry.Tiers[i-1].Tier, entry.Tiers[i].Tier, "tiers must list in ascending order")
		}
	}
}

// TestDefault_SpecSanity pins the structural rules every production entry
// must satisfy: score ranges are well formed, cutoffs sit inside the range,
// prerequisites point at an existing lower tier, and every tier allows at
// least one attempt.
func TestDefault_SpecSanity(t *testing.T) {
	cat := Default()

	for _, entry := range cat.List() {
		tiersByLevel := make(map[int]bool, len(entry.Tiers))
		for _, spec := range entry.Tiers {
			tiersByLevel[spec.Tier] = true
		}

		for _, spec := range entry.Tiers {
			name := string(entry.Channel)

			assert.LessOrEqual(t, spec.ScoreMin, spec.ScoreMax, "%s tier %d range", name, spec.Tier)
			assert.GreaterOrEqual(t, spec.PassingCutoff, spec.ScoreMin, "%s tier %d cutoff floor", name, spec.Tier)
			assert.LessOrEqual(t, spec.PassingCutoff, spec.ScoreMax, "%s tier %d cutoff ceiling", name, spec.Tier)
			assert.Positive(t, spec.Expiry, "%s tier %d expiry", name, spec.Tier)
			assert.Positive(t, spec.MaxAttempts, "%s tier %d attempts", name, spec.Tier)

			if spec.RequiredPriorTier != 0 {
				assert.Less(t, spec.RequiredPriorTier, spec.Tier, "%s tier %d prerequisite must be lower", name, spec.Tier)
				assert.True(t, tiersByLevel[spec.RequiredPriorTier], "%s tier %d prerequisite must exist", name, spec.Tier)
			}
		}
	}
}

// TestNew_CopiesInput guards the immutability promise: mutating the map the
// caller passed in must not change the catalog.
func TestNew_CopiesInput(t *testing.T) {
	tiers := []TierSpec{{Tier: 1, ScoreMax: 100, PassingCutoff: 50, Expiry: time.Hour, MaxAttempts: 1}}
	cat := New(map[Channel][]TierSpec{ChannelEmail: tiers})

	tiers[0].PassingCutoff = 99

	spec, err := cat.Describe(ChannelEmail, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, spec.PassingCutoff)
}
