package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	SearchTimeoutTicks  uint64  `yaml:"search_timeout_ticks"`
	GridSearchInterval  uint64  `yaml:"grid_search_interval"`
	BlockSearchInterval uint64  `yaml:"block_search_interval"`
	RecentTicks         uint64  `yaml:"recent_ticks"`
	MaxTargetRange      float64 `yaml:"max_target_range"`

	DefaultDestinationRadius float64 `yaml:"default_destination_radius"`
	DefaultSpeed             float64 `yaml:"default_speed"`
	LockAttemptInterval      uint64  `yaml:"lock_attempt_interval"`

	FullnessCheckInterval uint64  `yaml:"fullness_check_interval"`
	MinerReturnFullness   float64 `yaml:"miner_return_fullness"`
	GrinderFullFraction   float64 `yaml:"grinder_full_fraction"`

	Weld    Weld    `yaml:"weld"`
	Shopper Shopper `yaml:"shopper"`

	StatusEveryTicks uint64 `yaml:"status_every_ticks"`
}

type Weld struct {
	OffsetAdd       float64 `yaml:"offset_add"`
	StartTimeout    uint64  `yaml:"start_timeout"`
	NoProgressTicks uint64  `yaml:"no_progress_ticks"`
	FinishDelay     uint64  `yaml:"finish_delay"`
}

type Shopper struct {
	Interval   uint64 `yaml:"interval"`
	StartDelay uint64 `yaml:"start_delay"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:               60,
		SearchTimeoutTicks:       3600,
		GridSearchInterval:       100,
		BlockSearchInterval:      1000,
		RecentTicks:              600,
		MaxTargetRange:           10000,
		DefaultDestinationRadius: 100,
		DefaultSpeed:             100,
		LockAttemptInterval:      20,
		FullnessCheckInterval:    100,
		MinerReturnFullness:      0.95,
		GrinderFullFraction:      0.9,
		Weld: Weld{
			OffsetAdd:       5,
			StartTimeout:    3600,
			NoProgressTicks: 1200,
			FinishDelay:     120,
		},
		Shopper: Shopper{
			Interval:   100,
			StartDelay: 200,
		},
		StatusEveryTicks: 30,
	}
}

// Load reads path on top of Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("%w: tick_rate_hz must be positive", ErrInvalid)
	case t.GridSearchInterval == 0 || t.BlockSearchInterval == 0:
		return fmt.Errorf("%w: search intervals must be positive", ErrInvalid)
	case t.DefaultDestinationRadius <= 0 || t.DefaultSpeed <= 0:
		return fmt.Errorf("%w: default radius and speed must be positive", ErrInvalid)
	case t.MinerReturnFullness <= 0 || t.MinerReturnFullness > 1:
		return fmt.Errorf("%w: miner_return_fullness must be in (0,1]", ErrInvalid)
	case t.GrinderFullFraction <= 0 || t.GrinderFullFraction > 1:
		return fmt.Errorf("%w: grinder_full_fraction must be in (0,1]", ErrInvalid)
	}
	return nil
}
