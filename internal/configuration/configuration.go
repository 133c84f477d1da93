// Package configuration loads and validates the per-cover automation
// configuration. The configuration is replaced wholesale on update and is
// read-only during evaluation.
package configuration

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/covercontrol/covercontrol/internal/controller/condition"
	"github.com/covercontrol/covercontrol/internal/controller/schedule"
)

// Manual-override reset modes.
const (
	ResetNone    = "none"
	ResetTime    = "time"
	ResetTimeout = "timeout"
)

// Weather forecast source kinds.
const (
	ForecastFromAttributes = "weather_attributes"
	ForecastFromForecast   = "forecast"
)

// DefaultManualOverrideMinutes is the timeout applied when no duration is configured.
const DefaultManualOverrideMinutes = 60

// ErrInvalidConfiguration indicates a malformed cover configuration.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Configuration is the full covers configuration document.
type Configuration struct {
	Covers []CoverConfiguration `yaml:"covers"`
}

// CoverConfiguration carries all automation parameters for a single cover.
type CoverConfiguration struct {
	Cover          string                      `yaml:"cover"`
	Positions      PositionsConfiguration      `yaml:"positions"`
	Schedule       ScheduleConfiguration       `yaml:"schedule"`
	Sun            SunConfiguration            `yaml:"sun"`
	Brightness     BrightnessConfiguration     `yaml:"brightness"`
	Shading        ShadingConfiguration        `yaml:"shading"`
	Temperature    TemperatureConfiguration    `yaml:"temperature"`
	Contacts       ContactsConfiguration       `yaml:"contacts"`
	ManualOverride ManualOverrideConfiguration `yaml:"manual_override"`
	Automation     AutomationConfiguration     `yaml:"automation"`
	Conditions     ConditionsConfiguration     `yaml:"conditions"`
	WorkdaySensor  string                      `yaml:"workday_sensor"`
	ResidentSensor string                      `yaml:"resident_sensor"`
}

// PositionsConfiguration holds the position setpoints (0-100) and the tolerance
// used for idempotence and manual-movement detection.
type PositionsConfiguration struct {
	Open      float64 `yaml:"open"`
	Close     float64 `yaml:"close"`
	Ventilate float64 `yaml:"ventilate"`
	Shading   float64 `yaml:"shading"`
	Tolerance float64 `yaml:"tolerance"`
}

// DayTimes is one early/late pair of up/down points.
type DayTimes struct {
	UpEarly   schedule.TimeOfDay `yaml:"up_early"`
	UpLate    schedule.TimeOfDay `yaml:"up_late"`
	DownEarly schedule.TimeOfDay `yaml:"down_early"`
	DownLate  schedule.TimeOfDay `yaml:"down_late"`
}

// ScheduleConfiguration holds the eight time-of-day points.
type ScheduleConfiguration struct {
	Workday    DayTimes `yaml:"workday"`
	NonWorkday DayTimes `yaml:"non_workday"`
}

// Times returns the early/late pair for the given day type and direction.
func (s ScheduleConfiguration) Times(workday, up bool) (early, late schedule.TimeOfDay) {
	day := s.NonWorkday
	if workday {
		day = s.Workday
	}
	if up {
		return day.UpEarly, day.UpLate
	}
	return day.DownEarly, day.DownLate
}

// SunConfiguration holds the sun-automation thresholds.
type SunConfiguration struct {
	ElevationOpen  float64 `yaml:"elevation_open"`
	ElevationClose float64 `yaml:"elevation_close"`
	Entity         string  `yaml:"entity"`
}

// BrightnessConfiguration holds the brightness thresholds and sensor.
type BrightnessConfiguration struct {
	Sensor     string  `yaml:"sensor"`
	OpenAbove  float64 `yaml:"open_above"`
	CloseBelow float64 `yaml:"close_below"`
}

// ShadingConfiguration holds the sun-window, brightness band and weather filter
// for shading.
type ShadingConfiguration struct {
	AzimuthStart      float64  `yaml:"azimuth_start"`
	AzimuthEnd        float64  `yaml:"azimuth_end"`
	ElevationMin      float64  `yaml:"elevation_min"`
	ElevationMax      float64  `yaml:"elevation_max"`
	BrightnessStart   float64  `yaml:"brightness_start"`
	BrightnessEnd     float64  `yaml:"brightness_end"`
	ForecastSensor    string   `yaml:"forecast_sensor"`
	ForecastType      string   `yaml:"forecast_type"`
	WeatherConditions []string `yaml:"weather_conditions"`
}

// TemperatureConfiguration holds the temperature gate for shading.
type TemperatureConfiguration struct {
	IndoorSensor      string  `yaml:"indoor_sensor"`
	OutdoorSensor     string  `yaml:"outdoor_sensor"`
	Threshold         float64 `yaml:"threshold"`
	ForecastThreshold float64 `yaml:"forecast_threshold"`
}

// ContactsConfiguration maps the cover's window contacts and their behavior.
type ContactsConfiguration struct {
	FullOpenSensors     []string `yaml:"full_open_sensors"`
	TiltSensors         []string `yaml:"tilt_sensors"`
	TriggerDelaySeconds int      `yaml:"trigger_delay_seconds"`
	StatusDelaySeconds  int      `yaml:"status_delay_seconds"`
	DelayAfterClose     int      `yaml:"delay_after_close_seconds"`
	AllowHigherPosition bool     `yaml:"allow_higher_position"`
	UseAfterShading     bool     `yaml:"use_after_shading"`
	LockoutTiltClose    bool     `yaml:"lockout_tilt_close"`
	LockoutShadingStart bool     `yaml:"lockout_tilt_shading_start"`
	LockoutShadingEnd   bool     `yaml:"lockout_tilt_shading_end"`
}

// ManualOverrideConfiguration holds the override reset policy and per-action
// block flags.
type ManualOverrideConfiguration struct {
	ResetMode      string             `yaml:"reset_mode"`
	ResetTime      schedule.TimeOfDay `yaml:"reset_time"`
	Minutes        int                `yaml:"minutes"`
	BlockOpen      bool               `yaml:"block_open"`
	BlockClose     bool               `yaml:"block_close"`
	BlockVentilate bool               `yaml:"block_ventilate"`
	BlockShading   bool               `yaml:"block_shading"`
}

// Flag is an automation toggle: a static boolean, optionally overridden by a
// live switch entity when one is configured.
type Flag struct {
	Enabled bool   `yaml:"enabled"`
	Entity  string `yaml:"entity"`
}

// UnmarshalYAML accepts either a bare boolean or an {enabled, entity} mapping.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&f.Enabled)
	}
	type raw Flag
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*f = Flag(r)
	return nil
}

// AutomationConfiguration holds the six automation toggles and the master switch.
type AutomationConfiguration struct {
	Master     Flag `yaml:"master"`
	Up         Flag `yaml:"up"`
	Down       Flag `yaml:"down"`
	Sun        Flag `yaml:"sun"`
	Brightness Flag `yaml:"brightness"`
	Ventilate  Flag `yaml:"ventilate"`
	Shading    Flag `yaml:"shading"`
}

// ConditionsConfiguration holds the eight additional-condition slots.
type ConditionsConfiguration struct {
	Global         condition.Spec `yaml:"global"`
	Open           condition.Spec `yaml:"open"`
	Close          condition.Spec `yaml:"close"`
	VentilateStart condition.Spec `yaml:"ventilate_start"`
	VentilateEnd   condition.Spec `yaml:"ventilate_end"`
	ShadingStart   condition.Spec `yaml:"shading_start"`
	ShadingTilt    condition.Spec `yaml:"shading_tilt"`
	ShadingEnd     condition.Spec `yaml:"shading_end"`
}

// DefaultCoverConfiguration returns a CoverConfiguration with all defaults applied.
func DefaultCoverConfiguration() CoverConfiguration {
	return CoverConfiguration{
		Positions: PositionsConfiguration{
			Open:      100,
			Close:     0,
			Ventilate: 50,
			Shading:   25,
			Tolerance: 2,
		},
		Schedule: ScheduleConfiguration{
			Workday: DayTimes{
				UpEarly:   schedule.MustTimeOfDay("07:00"),
				UpLate:    schedule.MustTimeOfDay("09:00"),
				DownEarly: schedule.MustTimeOfDay("17:00"),
				DownLate:  schedule.MustTimeOfDay("22:30"),
			},
			NonWorkday: DayTimes{
				UpEarly:   schedule.MustTimeOfDay("08:00"),
				UpLate:    schedule.MustTimeOfDay("10:00"),
				DownEarly: schedule.MustTimeOfDay("17:00"),
				DownLate:  schedule.MustTimeOfDay("23:00"),
			},
		},
		Sun: SunConfiguration{
			ElevationOpen:  0,
			ElevationClose: -3,
			Entity:         "sun.sun",
		},
		Brightness: BrightnessConfiguration{
			OpenAbove:  400,
			CloseBelow: 10,
		},
		Shading: ShadingConfiguration{
			AzimuthStart:    90,
			AzimuthEnd:      290,
			ElevationMin:    15,
			ElevationMax:    90,
			BrightnessStart: 45000,
			BrightnessEnd:   20000,
			ForecastType:    ForecastFromAttributes,
		},
		Temperature: TemperatureConfiguration{
			Threshold: 26,
		},
		Contacts: ContactsConfiguration{
			TriggerDelaySeconds: 2,
			StatusDelaySeconds:  2,
		},
		ManualOverride: ManualOverrideConfiguration{
			ResetMode: ResetTimeout,
			ResetTime: schedule.MustTimeOfDay("05:00"),
			Minutes:   DefaultManualOverrideMinutes,
		},
		Automation: AutomationConfiguration{
			Master: Flag{Enabled: true},
			Up:     Flag{Enabled: true},
			Down:   Flag{Enabled: true},
		},
	}
}

// UnmarshalYAML decodes a cover block on top of the defaults.
func (c *CoverConfiguration) UnmarshalYAML(node *yaml.Node) error {
	type raw CoverConfiguration
	r := raw(DefaultCoverConfiguration())
	if err := node.Decode(&r); err != nil {
		return err
	}
	*c = CoverConfiguration(r)
	return nil
}

// Load reads and validates a covers configuration document.
func Load(r io.Reader) (Configuration, error) {
	var cfg Configuration
	body, err := io.ReadAll(r)
	if err != nil {
		return Configuration{}, err
	}
	if err = yaml.Unmarshal(body, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err = cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// LoadFile reads and validates a covers configuration file.
func LoadFile(path string) (Configuration, error) {
	f, err := os.Open(path)
	if err != nil {
		return Configuration{}, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate checks the whole document.
func (c Configuration) Validate() error {
	if len(c.Covers) == 0 {
		return fmt.Errorf("%w: no covers configured", ErrInvalidConfiguration)
	}
	for i, cover := range c.Covers {
		if err := cover.Validate(); err != nil {
			return fmt.Errorf("cover %d: %w", i+1, err)
		}
	}
	return nil
}

// Validate checks a single cover block.
func (c CoverConfiguration) Validate() error {
	if c.Cover == "" {
		return fmt.Errorf("%w: missing cover id", ErrInvalidConfiguration)
	}
	for name, position := range map[string]float64{
		"open":      c.Positions.Open,
		"close":     c.Positions.Close,
		"ventilate": c.Positions.Ventilate,
		"shading":   c.Positions.Shading,
	} {
		if position < 0 || position > 100 {
			return fmt.Errorf("%w: %s position %.1f out of range 0-100", ErrInvalidConfiguration, name, position)
		}
	}
	if c.Positions.Tolerance < 0 {
		return fmt.Errorf("%w: negative tolerance", ErrInvalidConfiguration)
	}
	switch c.ManualOverride.ResetMode {
	case ResetNone, ResetTime, ResetTimeout:
	default:
		return fmt.Errorf("%w: unknown manual-override reset mode %q", ErrInvalidConfiguration, c.ManualOverride.ResetMode)
	}
	if c.ManualOverride.Minutes <= 0 {
		return fmt.Errorf("%w: manual-override minutes must be positive", ErrInvalidConfiguration)
	}
	switch c.Shading.ForecastType {
	case "", ForecastFromAttributes, ForecastFromForecast:
	default:
		return fmt.Errorf("%w: unknown forecast type %q", ErrInvalidConfiguration, c.Shading.ForecastType)
	}
	return nil
}
