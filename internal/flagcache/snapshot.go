package flagcache

// Snapshot is the denormalized subset of a flag needed for evaluation.
// It is always re-derivable from the flag repository and never
// authoritative on its own.
type Snapshot struct {
	Key               string `json:"key"`
	RolloutPercentage int    `json:"rollout_percentage"`
	IsEnabled         bool   `json:"is_enabled"`
	Status            string `json:"status"`
}
