package applications

import "github.com/slipstream/indexarr/internal/indexer/types"

// ConsensusPolicy folds the votes of every profile linking an indexer to an
// application into one flag.
type ConsensusPolicy func(votes []bool) bool

// AnyEnabled keeps a feature on unless some profile disables it and none
// enables it. With no votes the feature stays on.
func AnyEnabled(votes []bool) bool {
	sawDisabled := false
	for _, v := range votes {
		if v {
			return true
		}
		sawDisabled = true
	}
	return !sawDisabled
}

// Unanimous requires every profile to enable the feature. With no votes the
// feature stays on.
func Unanimous(votes []bool) bool {
	for _, v := range votes {
		if !v {
			return false
		}
	}
	return true
}

// EnableFlags are the per-feature switches written to a remote indexer.
type EnableFlags struct {
	Rss               bool
	AutomaticSearch   bool
	InteractiveSearch bool
}

// ResolveFlags applies policy to the profiles of def that link appID. A
// disabled indexer is never enabled remotely.
func ResolveFlags(def *types.IndexerDefinition, appID int64, policy ConsensusPolicy) EnableFlags {
	profiles := def.ProfilesFor(appID)
	rss := make([]bool, 0, len(profiles))
	auto := make([]bool, 0, len(profiles))
	interactive := make([]bool, 0, len(profiles))
	for _, p := range profiles {
		rss = append(rss, p.EnableRss)
		auto = append(auto, p.EnableAutomaticSearch)
		interactive = append(interactive, p.EnableInteractiveSearch)
	}
	return EnableFlags{
		Rss:               def.Enabled && policy(rss),
		AutomaticSearch:   def.Enabled && policy(auto),
		InteractiveSearch: def.Enabled && policy(interactive),
	}
}

// linked reports whether def should be mirrored into appID at all: either a
// profile names the application or the indexer has no profiles.
func linked(def *types.IndexerDefinition, appID int64) bool {
	if len(def.AppProfiles) == 0 {
		return true
	}
	return len(def.ProfilesFor(appID)) > 0
}
