package model

// SettingsVersion is the current schema version of UserSettings.
const SettingsVersion = 1

// IndicatorToggles selects which indicators are shown by default.
type IndicatorToggles struct {
	EMA       bool `json:"ema"`
	VWAP      bool `json:"vwap"`
	RSI       bool `json:"rsi"`
	Bollinger bool `json:"bollinger"`
}

// UserSettings is the versioned user configuration blob.
type UserSettings struct {
	Theme              string           `json:"theme" validate:"oneof=light dark auto"`
	ChartTheme         string           `json:"chartTheme" validate:"oneof=default dark colorful"`
	DefaultInterval    string           `json:"defaultInterval" validate:"interval"`
	UpdateThrottle     int              `json:"updateThrottle" validate:"min=50,max=1000"`
	CacheSize          int              `json:"cacheSize" validate:"min=10,max=500"`
	DefaultIndicators  IndicatorToggles `json:"defaultIndicators"`
	OrderBookDepth     int              `json:"orderBookDepth" validate:"min=5,max=50"`
	TradesLimit        int              `json:"tradesLimit" validate:"min=10,max=1000"`
	AnimateGridUpdates bool             `json:"animateGridUpdates"`
	Version            int              `json:"version"`
	LastUpdated        int64            `json:"lastUpdated"`
}

// DefaultSettings returns the factory settings stamped with lastUpdated.
func DefaultSettings(now int64) UserSettings {
	return UserSettings{
		Theme:           "light",
		ChartTheme:      "default",
		DefaultInterval: "5m",
		UpdateThrottle:  80,
		CacheSize:       100,
		DefaultIndicators: IndicatorToggles{
			EMA:  true,
			VWAP: true,
		},
		OrderBookDepth:     20,
		TradesLimit:        100,
		AnimateGridUpdates: true,
		Version:            SettingsVersion,
		LastUpdated:        now,
	}
}

// Validate checks enums and numeric ranges, returning a ValidationError
// that lists every violation.
func (s UserSettings) Validate() error {
	if issues := structIssues(s); len(issues) > 0 {
		return &ValidationError{Entity: "settings", Issues: issues}
	}
	return nil
}
