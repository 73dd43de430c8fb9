package models

// LineConfig is the per-beamline configuration file (e.g. LFE_config.yml).
type LineConfig struct {
	Name                  string            `json:"name" yaml:"-"`
	LineArbiterPrefix     string            `json:"lineArbiterPrefix" yaml:"line_arbiter_prefix"`
	UndulatorKickerRatePV string            `json:"undulatorKickerRatePv,omitempty" yaml:"undulator_kicker_rate_pv"`
	AcceleratorModePV     string            `json:"acceleratorModePv,omitempty" yaml:"accelerator_mode_pv"`
	// AcceleratorModeEnums names the mode PV states when the gateway does
	// not relay them.
	AcceleratorModeEnums []string `json:"acceleratorModeEnums,omitempty" yaml:"accelerator_mode_enums"`
	ArbiterTimePV         string            `json:"arbiterTimePv,omitempty" yaml:"arbiter_time_pv"`
	DashboardURL          string            `json:"dashboardUrl,omitempty" yaml:"dashboard_url"`
	FastFaults            []FastFaultGroup  `json:"fastfaults" yaml:"fastfaults"`
	PreemptiveRequests    []PreemptiveGroup `json:"preemptiveRequests" yaml:"preemptive_requests"`
}

// FastFaultGroup is one PLC's block of fast fault outputs.
// FFO and FF ranges are inclusive.
type FastFaultGroup struct {
	Name     string   `json:"name" yaml:"name"`
	Prefix   string   `json:"prefix" yaml:"prefix"`
	FFOStart int      `json:"ffoStart" yaml:"ffo_start"`
	FFOEnd   int      `json:"ffoEnd" yaml:"ffo_end"`
	FFStart  int      `json:"ffStart" yaml:"ff_start"`
	FFEnd    int      `json:"ffEnd" yaml:"ff_end"`
	FFODesc  []string `json:"ffoDesc,omitempty" yaml:"ffo_desc"`
	FFOVeto  []string `json:"ffoVeto,omitempty" yaml:"ffo_veto"`
}

// PreemptiveGroup is one arbiter instance's block of assertion pool entries.
type PreemptiveGroup struct {
	Prefix          string `json:"prefix" yaml:"prefix"`
	ArbiterInstance string `json:"arbiterInstance" yaml:"arbiter_instance"`
	PoolStart       int    `json:"poolStart" yaml:"assertion_pool_start"`
	PoolEnd         int    `json:"poolEnd" yaml:"assertion_pool_end"`
}
