package config

import (
	"fmt"
	"os"
	"strings"

	"signal_bot/internal/helper"
	"signal_bot/internal/models"

	"gopkg.in/yaml.v2"
)

type instrumentsFile struct {
	Instruments []struct {
		ID         string   `yaml:"id"`
		Timeframes []string `yaml:"timeframes"`
		TPPercent  float64  `yaml:"tp_percent"`
		SLPercent  float64  `yaml:"sl_percent"`
		Leverage   int      `yaml:"leverage"`
	} `yaml:"instruments"`
}

// LoadInstruments decodes and validates the static instrument mapping.
func LoadInstruments(path, confirmTF string) (models.Instruments, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Instruments{}, fmt.Errorf("open instruments file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var raw instrumentsFile
	if err := yaml.NewDecoder(file).Decode(&raw); err != nil {
		return models.Instruments{}, fmt.Errorf("decode instruments file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(raw.Instruments))
	list := make([]models.InstrumentConfig, 0, len(raw.Instruments))
	for _, r := range raw.Instruments {
		c := models.InstrumentConfig{
			ID:        strings.ToUpper(strings.TrimSpace(r.ID)),
			TPPercent: r.TPPercent,
			SLPercent: r.SLPercent,
			Leverage:  r.Leverage,
		}
		for _, tf := range r.Timeframes {
			c.Timeframes = append(c.Timeframes, helper.NormTF(tf))
		}
		if err := validateInstrument(c, confirmTF); err != nil {
			return models.Instruments{}, err
		}
		if _, dup := seen[c.ID]; dup {
			return models.Instruments{}, fmt.Errorf("instrument %s listed twice", c.ID)
		}
		seen[c.ID] = struct{}{}
		list = append(list, c)
	}
	if len(list) == 0 {
		return models.Instruments{}, fmt.Errorf("no instruments in %s", path)
	}

	return models.NewInstruments(list), nil
}

func validateInstrument(c models.InstrumentConfig, confirmTF string) error {
	if c.ID == "" {
		return fmt.Errorf("instrument without id")
	}
	if len(c.Timeframes) < 2 {
		return fmt.Errorf("%s: at least 2 timeframes required, got %d", c.ID, len(c.Timeframes))
	}
	tfs := make(map[string]struct{}, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		if !helper.KnownTF(tf) {
			return fmt.Errorf("%s: unknown timeframe %q", c.ID, tf)
		}
		if tf == confirmTF {
			return fmt.Errorf("%s: timeframe %s collides with the confirmation timeframe", c.ID, tf)
		}
		if _, dup := tfs[tf]; dup {
			return fmt.Errorf("%s: duplicate timeframe %s", c.ID, tf)
		}
		tfs[tf] = struct{}{}
	}
	if c.TPPercent <= 0 {
		return fmt.Errorf("%s: tp_percent must be positive", c.ID)
	}
	if c.SLPercent <= 0 || c.SLPercent >= 100 {
		return fmt.Errorf("%s: sl_percent must be in (0, 100)", c.ID)
	}
	if c.Leverage < 1 {
		return fmt.Errorf("%s: leverage must be >= 1", c.ID)
	}
	return nil
}
