package xrail

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

const (
	// ModelClockGranularity is the unit the real tick interval is configured in.
	ModelClockGranularity = 5 * time.Second
	// Week is the period of the simulated time-of-week counter.
	Week = 7 * 24 * time.Hour
)

// Theme is the colour scheme clients switch between at sunrise and sunset.
type Theme string

const (
	ThemeBright Theme = "BRIGHT"
	ThemeDark   Theme = "DARK"
)

// ModelClockConfig configures the simulated time source.
type ModelClockConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	Multiplier            int           `mapstructure:"multiplier"`
	MultiplierGranularity int           `mapstructure:"multiplier_granularity"`
	MaxMultiplier         int           `mapstructure:"max_multiplier"`
	Sunrise               time.Duration `mapstructure:"sunrise"`
	Sunset                time.Duration `mapstructure:"sunset"`
	// Start is the time-of-week the clock begins at.
	Start time.Duration `mapstructure:"start"`
}

// DefaultModelClockConfig returns a 5 s tick at ×60 with sunrise 06:00 and sunset 20:00.
func DefaultModelClockConfig() ModelClockConfig {
	return ModelClockConfig{
		Interval:              ModelClockGranularity,
		Multiplier:            60,
		MultiplierGranularity: 5,
		MaxMultiplier:         600,
		Sunrise:               6 * time.Hour,
		Sunset:                20 * time.Hour,
	}
}

func (c ModelClockConfig) Validate() error {
	if c.Interval <= 0 || c.Interval%ModelClockGranularity != 0 {
		return fmt.Errorf("%w: model clock interval %v is not a positive multiple of %v", ErrInvalidArgument, c.Interval, ModelClockGranularity)
	}
	if c.MultiplierGranularity < 1 {
		return fmt.Errorf("%w: multiplier granularity must be >= 1, got %d", ErrInvalidArgument, c.MultiplierGranularity)
	}
	if c.Multiplier < 1 || c.Multiplier%c.MultiplierGranularity != 0 {
		return fmt.Errorf("%w: multiplier %d is not a positive multiple of %d", ErrInvalidArgument, c.Multiplier, c.MultiplierGranularity)
	}
	if c.MaxMultiplier > 0 && c.Multiplier > c.MaxMultiplier {
		return fmt.Errorf("%w: multiplier %d above maximum %d", ErrInvalidArgument, c.Multiplier, c.MaxMultiplier)
	}
	if c.Sunrise < 0 || c.Sunset > 24*time.Hour || c.Sunrise >= c.Sunset {
		return fmt.Errorf("%w: sunrise %v must precede sunset %v within one day", ErrInvalidArgument, c.Sunrise, c.Sunset)
	}
	if c.Start < 0 || c.Start >= Week {
		return fmt.Errorf("%w: start %v outside one week", ErrInvalidArgument, c.Start)
	}
	// A tick may cross at most one of sunrise and sunset, or theme events are lost.
	step := c.Interval * time.Duration(c.Multiplier)
	if span := c.shortestSpan(); span > 0 && step > span {
		return fmt.Errorf("%w: model step %v longer than the shortest day or night %v", ErrInvalidArgument, step, span)
	}
	return nil
}

// shortestSpan is the shorter of daylight and darkness, ignoring an empty one.
func (c ModelClockConfig) shortestSpan() time.Duration {
	day := c.Sunset - c.Sunrise
	night := 24*time.Hour - day
	if night > 0 && night < day {
		return night
	}
	return day
}

// ModelTime is the payload of timer events and timer query replies.
type ModelTime struct {
	Seconds    int64  `json:"seconds"`
	Weekday    int    `json:"weekday"`
	Hour       int    `json:"hour"`
	Minute     int    `json:"minute"`
	Multiplier int    `json:"multiplier"`
	Theme      Theme  `json:"theme"`
	Label      string `json:"label"`
}

// ThemeChange is the payload of the colour-theme event.
type ThemeChange struct {
	Theme Theme `json:"theme"`
}

// ModelClock advances a simulated time-of-week on a real-time interval and
// emits a timer event per tick plus a theme event at sunrise and sunset.
type ModelClock struct {
	*Ticker
	cfg     ModelClockConfig
	emitter Emitter
	logger  *xlog.Logger
	now     atomic.Int64 // nanoseconds into the week
}

// NewModelClock validates cfg and returns a stopped clock emitting into em.
func NewModelClock(cfg ModelClockConfig, em Emitter, opts ...WorkerOption) (*ModelClock, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if em == nil {
		return nil, fmt.Errorf("%w: model clock needs an emitter", ErrInvalidArgument)
	}
	mc := &ModelClock{cfg: cfg, emitter: em}
	mc.now.Store(int64(cfg.Start))
	mc.Ticker = NewTicker("model-clock", cfg.Interval, func(context.Context) { mc.tick() }, opts...)
	mc.logger = mc.Worker.logger
	return mc, nil
}

// Now returns the simulated time-of-week.
func (mc *ModelClock) Now() time.Duration { return time.Duration(mc.now.Load()) }

func (mc *ModelClock) Multiplier() int { return mc.cfg.Multiplier }

// Step is how far simulated time moves per tick.
func (mc *ModelClock) Step() time.Duration {
	return mc.cfg.Interval * time.Duration(mc.cfg.Multiplier)
}

// Reading returns the current simulated time as a payload.
func (mc *ModelClock) Reading() ModelTime { return mc.reading(mc.Now()) }

func (mc *ModelClock) theme(t time.Duration) Theme {
	tod := t % (24 * time.Hour)
	if tod >= mc.cfg.Sunrise && tod < mc.cfg.Sunset {
		return ThemeBright
	}
	return ThemeDark
}

func (mc *ModelClock) reading(t time.Duration) ModelTime {
	day := int(t / (24 * time.Hour))
	tod := t % (24 * time.Hour)
	h, m := int(tod/time.Hour), int(tod%time.Hour/time.Minute)
	return ModelTime{
		Seconds:    int64(t / time.Second),
		Weekday:    day,
		Hour:       h,
		Minute:     m,
		Multiplier: mc.cfg.Multiplier,
		Theme:      mc.theme(t),
		Label:      fmt.Sprintf("%s %02d:%02d", time.Weekday((day+1)%7), h, m),
	}
}

// tick advances simulated time by one step and emits the resulting events.
func (mc *ModelClock) tick() {
	prev := time.Duration(mc.now.Load())
	next := (prev + mc.Step()) % Week
	mc.now.Store(int64(next))

	if err := mc.emitter.Emit(KindTimerGlobalTimerEvent, mc.reading(next), NoEndpoint); err != nil {
		mc.logger.Error().Err(err).Msg("xrail: emit timer event")
	}
	if th := mc.theme(next); th != mc.theme(prev) {
		if err := mc.emitter.Emit(KindTimerColorTheme, ThemeChange{Theme: th}, NoEndpoint); err != nil {
			mc.logger.Error().Err(err).Msg("xrail: emit theme event")
		}
	}
}
