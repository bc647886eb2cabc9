package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"simtrader/internal/domain"
)

// RunFile is the on-disk layout of a backtest run file (YAML, JSON or TOML).
// Values under defaults apply to every run that leaves them unset.
type RunFile struct {
	Defaults RunSpec   `mapstructure:"defaults"`
	Runs     []RunSpec `mapstructure:"runs"`
}

// RunSpec describes one backtest. Money and rates are strings so they are
// parsed as decimals; dates are YYYY-MM-DD.
type RunSpec struct {
	Name           string                 `mapstructure:"name"`
	Strategy       string                 `mapstructure:"strategy"`
	Params         map[string]interface{} `mapstructure:"params"`
	Symbols        []string               `mapstructure:"symbols"`
	StartDate      string                 `mapstructure:"start_date"`
	EndDate        string                 `mapstructure:"end_date"`
	InitialCapital string                 `mapstructure:"initial_capital"`
	Costs          CostSpec               `mapstructure:"costs"`
}

// CostSpec overrides individual cost model fields.
type CostSpec struct {
	CommissionRate string `mapstructure:"commission_rate"`
	MinCommission  string `mapstructure:"min_commission"`
	StampDutyRate  string `mapstructure:"stamp_duty_rate"`
	Slippage       string `mapstructure:"slippage"`
	SlippagePolicy string `mapstructure:"slippage_policy"`
	LotSize        int64  `mapstructure:"lot_size"`
}

// LoadRuns reads a run file and returns one validated config per run.
func LoadRuns(path string) ([]domain.BacktestConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read run file: %w", err)
	}

	var file RunFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("decode run file: %w", err)
	}
	if len(file.Runs) == 0 {
		return nil, fmt.Errorf("run file %s has no runs", path)
	}

	configs := make([]domain.BacktestConfig, 0, len(file.Runs))
	for i, run := range file.Runs {
		cfg, err := run.withDefaults(file.Defaults).toConfig()
		if err != nil {
			return nil, fmt.Errorf("run[%d] (%s): %w", i, run.Name, err)
		}
		if cfg.Name == "" {
			cfg.Name = fmt.Sprintf("%s-%d", cfg.Strategy, i+1)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (r RunSpec) withDefaults(d RunSpec) RunSpec {
	pick := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	r.Strategy = pick(r.Strategy, d.Strategy)
	r.StartDate = pick(r.StartDate, d.StartDate)
	r.EndDate = pick(r.EndDate, d.EndDate)
	r.InitialCapital = pick(r.InitialCapital, d.InitialCapital)
	if len(r.Symbols) == 0 {
		r.Symbols = d.Symbols
	}
	if r.Params == nil {
		r.Params = d.Params
	}
	r.Costs.CommissionRate = pick(r.Costs.CommissionRate, d.Costs.CommissionRate)
	r.Costs.MinCommission = pick(r.Costs.MinCommission, d.Costs.MinCommission)
	r.Costs.StampDutyRate = pick(r.Costs.StampDutyRate, d.Costs.StampDutyRate)
	r.Costs.Slippage = pick(r.Costs.Slippage, d.Costs.Slippage)
	r.Costs.SlippagePolicy = pick(r.Costs.SlippagePolicy, d.Costs.SlippagePolicy)
	if r.Costs.LotSize == 0 {
		r.Costs.LotSize = d.Costs.LotSize
	}
	return r
}

func (r RunSpec) toConfig() (domain.BacktestConfig, error) {
	cfg := domain.BacktestConfig{
		Name:      r.Name,
		Strategy:  r.Strategy,
		Params:    r.Params,
		Symbols:   r.Symbols,
		CostModel: domain.DefaultCostModel(),
	}
	if cfg.Strategy == "" {
		return cfg, fmt.Errorf("strategy is required")
	}

	var err error
	if cfg.StartDate, err = time.Parse(time.DateOnly, r.StartDate); err != nil {
		return cfg, fmt.Errorf("invalid start_date: %w", err)
	}
	if cfg.EndDate, err = time.Parse(time.DateOnly, r.EndDate); err != nil {
		return cfg, fmt.Errorf("invalid end_date: %w", err)
	}
	if cfg.InitialCapital, err = decimal.NewFromString(r.InitialCapital); err != nil {
		return cfg, fmt.Errorf("invalid initial_capital: %w", err)
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"commission_rate", r.Costs.CommissionRate, &cfg.CommissionRate},
		{"min_commission", r.Costs.MinCommission, &cfg.MinCommission},
		{"stamp_duty_rate", r.Costs.StampDutyRate, &cfg.StampDutyRate},
		{"slippage", r.Costs.Slippage, &cfg.Slippage},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}
	if r.Costs.SlippagePolicy != "" {
		cfg.SlippagePolicy = domain.SlippagePolicy(r.Costs.SlippagePolicy)
	}
	if r.Costs.LotSize != 0 {
		cfg.LotSize = r.Costs.LotSize
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
