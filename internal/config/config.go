package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"opulence/internal/domain"
)

// GameData bundles the static catalog and the fixed initial gem supply.
type GameData struct {
	Catalog map[domain.Category][]domain.Card
	Supply  domain.GemSet
}

var (
	data     *GameData
	loadOnce sync.Once
	loadErr  error
)

// LoadGameData reads cards.json and gems.json from the given directory.
// Subsequent calls are no-ops and return the first result.
func LoadGameData(dir string) error {
	loadOnce.Do(func() {
		data, loadErr = ReadGameData(dir)
	})
	return loadErr
}

// GetGameData returns the loaded static data, or nil before LoadGameData.
func GetGameData() *GameData {
	return data
}

// ReadGameData loads and validates the static game data without touching
// the package-level cache. Used directly by tests.
func ReadGameData(dir string) (*GameData, error) {
	cardBytes, err := os.ReadFile(filepath.Join(dir, "cards.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read card catalog: %w", err)
	}

	catalog := map[domain.Category][]domain.Card{}
	if err := json.Unmarshal(cardBytes, &catalog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal card catalog: %w", err)
	}

	gemBytes, err := os.ReadFile(filepath.Join(dir, "gems.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read gem supply: %w", err)
	}

	var supply domain.GemSet
	if err := json.Unmarshal(gemBytes, &supply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gem supply: %w", err)
	}

	gd := &GameData{Catalog: catalog, Supply: supply}
	if err := gd.validate(); err != nil {
		return nil, err
	}
	return gd, nil
}

func (gd *GameData) validate() error {
	seen := map[string]bool{}
	for _, cat := range domain.AllCategories {
		cards := gd.Catalog[cat]
		if len(cards) == 0 {
			return fmt.Errorf("card catalog missing category %q", cat)
		}
		for _, c := range cards {
			if c.ID == "" {
				return fmt.Errorf("card without id in category %q", cat)
			}
			if seen[c.ID] {
				return fmt.Errorf("duplicate card id %q", c.ID)
			}
			seen[c.ID] = true
			if c.Category != cat {
				return fmt.Errorf("card %q listed under %q but tagged %q", c.ID, cat, c.Category)
			}
			if !c.IsNoble() && c.GemType == "" {
				return fmt.Errorf("card %q has no gem type", c.ID)
			}
		}
	}

	for _, c := range domain.BasicColors {
		if gd.Supply.Get(c) <= 0 {
			return fmt.Errorf("gem supply for %q must be positive", c)
		}
	}
	return nil
}
