package replay

import (
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/scenario-miner/internal/results"
	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// #region export
// RunConfig is the configuration recorded in a run's config_json.
type RunConfig struct {
	Config FixtureConfig `json:"config"`
	Lanes  *FixtureLanes `json:"lanes,omitempty"`
}

// EncodeRunConfig renders rc for RunRecord.ConfigJSON.
func EncodeRunConfig(rc RunConfig) (string, error) {
	data, err := json.Marshal(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromRun builds a fixture from a stored run: its seeds, every scenario
// recorded as a collision, and the configuration it ran with. The run's
// config_json must hold a RunConfig.
func FromRun(s *store.Store, runID string) (*Fixture, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	var rc RunConfig
	if err := json.Unmarshal([]byte(run.ConfigJSON), &rc); err != nil {
		return nil, fmt.Errorf("run %s config: %w", runID, err)
	}
	seeds, err := s.Seeds(runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.Outcomes(runID)
	if err != nil {
		return nil, err
	}

	seen := map[scenario.Fingerprint]bool{}
	var collisions []scenario.Params
	for _, o := range outcomes {
		if !results.IsCollisionType(o.ResultType) || seen[o.Fingerprint] {
			continue
		}
		seen[o.Fingerprint] = true
		collisions = append(collisions, o.Params)
	}
	// seeds were collisions in the run that produced them
	for _, p := range seeds {
		if fp := p.Fingerprint(); !seen[fp] {
			seen[fp] = true
			collisions = append(collisions, p)
		}
	}

	return &Fixture{
		Description: fmt.Sprintf("exported from run %s (%d seeds, %d outcomes)", runID, len(seeds), len(outcomes)),
		SourceRun:   runID,
		Config:      rc.Config,
		Lanes:       rc.Lanes,
		Seeds:       seeds,
		Collisions:  collisions,
	}, nil
}

// #endregion export
