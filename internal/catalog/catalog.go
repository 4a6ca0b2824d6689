// Package catalog is the static registry of proofing channels. It declares,
// per channel and tier: the raw score range the external verifier may report,
// the passing cutoff, how long an unattended session stays open, the
// prerequisite tier, and the retry budget.
//
// The catalog is read-only after construction; the orchestrator consults it
// before every session creation and the scoring engine uses its ranges to
// clamp raw scores.
package catalog

import (
	"sort"
	"time"

	dErrors "proofgate/pkg/domain-errors"
)

// Channel is an independent proofing method.
type Channel string

const (
	ChannelCaptcha Channel = "captcha"
	ChannelPhone   Channel = "phone"
	ChannelEmail   Channel = "email"
	ChannelOAuth   Channel = "oauth"
	ChannelGitHub  Channel = "github"
	ChannelKYC     Channel = "kyc"
)

// TierSpec describes one difficulty level within a channel.
type TierSpec struct {
	Tier          int
	ScoreMin      int
	ScoreMax      int
	PassingCutoff int
	Expiry        time.Duration
	// RequiredPriorTier is the tier of the same channel that must be
	// Completed before this one may start. Zero means no prerequisite.
	RequiredPriorTier int
	MaxAttempts       int
}

// ChannelInfo is the public listing projection for one channel.
type ChannelInfo struct {
	Channel Channel
	Tiers   []TierSpec
}

// Catalog is an immutable channel registry.
type Catalog struct {
	channels map[Channel][]TierSpec
}

const defaultMaxAttempts = 3

// Default builds the production catalog. Expiry durations mirror how long a
// user realistically needs per proof: automated checks are short-lived,
// document-based KYC stays open for a week.
func Default() *Catalog {
	return New(map[Channel][]TierSpec{
		ChannelCaptcha: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 80, PassingCutoff: 40, Expiry: 30 * time.Minute, MaxAttempts: defaultMaxAttempts},
		},
		ChannelPhone: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 100, PassingCutoff: 50, Expiry: time.Hour, MaxAttempts: defaultMaxAttempts},
			{Tier: 2, ScoreMin: 0, ScoreMax: 150, PassingCutoff: 80, Expiry: time.Hour, RequiredPriorTier: 1, MaxAttempts: defaultMaxAttempts},
		},
		ChannelEmail: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 60, PassingCutoff: 30, Expiry: time.Hour, MaxAttempts: defaultMaxAttempts},
		},
		ChannelOAuth: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 200, PassingCutoff: 120, Expiry: 24 * time.Hour, MaxAttempts: defaultMaxAttempts},
		},
		ChannelGitHub: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 120, PassingCutoff: 60, Expiry: 48 * time.Hour, MaxAttempts: defaultMaxAttempts},
			{Tier: 2, ScoreMin: 0, ScoreMax: 160, PassingCutoff: 90, Expiry: 48 * time.Hour, RequiredPriorTier: 1, MaxAttempts: defaultMaxAttempts},
		},
		ChannelKYC: {
			{Tier: 1, ScoreMin: 0, ScoreMax: 200, PassingCutoff: 100, Expiry: 168 * time.Hour, MaxAttempts: 2},
			{Tier: 2, ScoreMin: 0, ScoreMax: 230, PassingCutoff: 130, Expiry: 168 * time.Hour, RequiredPriorTier: 1, MaxAttempts: 2},
			{Tier: 3, ScoreMin: 0, ScoreMax: 255, PassingCutoff: 160, Expiry: 168 * time.Hour, RequiredPriorTier: 2, MaxAttempts: 2},
		},
	})
}

// New builds a catalog from an explicit channel map. Tests use this to
// construct small catalogs with known numbers.
func New(channels map[Channel][]TierSpec) *Catalog {
	copied := make(map[Channel][]TierSpec, len(channels))
	for ch, tiers := range channels {
		ts := make([]TierSpec, len(tiers))
		copy(ts, tiers)
		sort.Slice(ts, func(i, j int) bool { return ts[i].Tier < ts[j].Tier })
		copied[ch] = ts
	}
	return &Catalog{channels: copied}
}

// Describe returns the spec for a (channel, tier) pair.
func (c *Catalog) Describe(channel Channel, tier int) (TierSpec, error) {
	tiers, ok := c.channels[channel]
	if !ok {
		return TierSpec{}, dErrors.New(dErrors.CodeUnknownChannel, "unknown channel "+string(channel))
	}
	for _, spec := range tiers {
		if spec.Tier == tier {
			return spec, nil
		}
	}
	return TierSpec{}, dErrors.New(dErrors.CodeUnknownChannel, "channel "+string(channel)+" has no such tier")
}

// List returns every channel with its tiers, sorted by channel name for
// stable listing responses.
func (c *Catalog) List() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(c.channels))
	for ch, tiers := range c.channels {
		ts := make([]TierSpec, len(tiers))
		copy(ts, tiers)
		out = append(out, ChannelInfo{Channel: ch, Tiers: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// ParseChannel validates an external channel string against the catalog.
func (c *Catalog) ParseChannel(raw string) (Channel, error) {
	ch := Channel(raw)
	if _, ok := c.channels[ch]; !ok {
		return "", dErrors.New(dErrors.CodeUnknownChannel, "unknown channel "+raw)
	}
	return ch, nil
}
