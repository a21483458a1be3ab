package agent

import (
	"time"

	"github.com/hidbridge/hidbridge/internal/blesvc"
	"github.com/hidbridge/hidbridge/internal/ps2"
)

// Config points at the user-driven configuration file; live reload
// applies to that file, not to these settings.
type Config struct {
	BridgeConfig string `json:"bridgeConfig"`
	Simulate     bool   `json:"simulate"`
}

// BridgeConfig is the bridge.yml schema.
type BridgeConfig struct {
	DeviceName  string `json:"deviceName"`
	Description string `json:"description"`
	PowerLevel  int    `json:"powerLevel"`

	ConnectionUpdateIntervalMs int  `json:"connectionUpdateIntervalMs"`
	BatteryUpdateIntervalMs    int  `json:"batteryUpdateIntervalMs"`
	SampleBattery              bool `json:"sampleBattery"`
	ModeLEDs                   bool `json:"modeLeds"`

	Serial ps2.SerialConfig `json:"serial"`
}

func DefaultBridgeConfig() BridgeConfig {
	def := blesvc.DefaultConfig()
	return BridgeConfig{
		DeviceName:                 def.DeviceName,
		Description:                def.Description,
		PowerLevel:                 def.PowerLevel,
		ConnectionUpdateIntervalMs: int(def.ConnectionUpdateInterval.Milliseconds()),
		BatteryUpdateIntervalMs:    int(def.BatteryUpdateInterval.Milliseconds()),
		SampleBattery:              def.SampleBattery,
		ModeLEDs:                   true,
	}
}

func (c BridgeConfig) transportConfig() blesvc.Config {
	cfg := blesvc.DefaultConfig()
	if c.DeviceName != "" {
		cfg.DeviceName = c.DeviceName
	}
	if c.Description != "" {
		cfg.Description = c.Description
	}
	if c.PowerLevel != 0 {
		cfg.PowerLevel = c.PowerLevel
	}
	if c.ConnectionUpdateIntervalMs > 0 {
		cfg.ConnectionUpdateInterval = time.Duration(c.ConnectionUpdateIntervalMs) * time.Millisecond
	}
	if c.BatteryUpdateIntervalMs > 0 {
		cfg.BatteryUpdateInterval = time.Duration(c.BatteryUpdateIntervalMs) * time.Millisecond
	}
	cfg.SampleBattery = c.SampleBattery
	return cfg
}
