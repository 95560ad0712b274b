package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	Machine       MachineJSON `json:"machine"`
	Observers     int         `json:"observers"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Panel         *PanelJSON  `json:"panel,omitempty"`
	Config        *ConfigJSON `json:"config,omitempty"`
}

// MachineJSON is the machine part of the status.
type MachineJSON struct {
	Step            string  `json:"step"`
	Temperature     float64 `json:"temperature"`
	PoweredOn       bool    `json:"powered_on"`
	WaterOK         bool    `json:"water_ok"`
	GroundsOK       bool    `json:"grounds_ok"`
	WaterFlow       int     `json:"water_flow"`
	CupsSinceEmpty  int     `json:"cups_since_empty"`
	CupsSinceFilled int     `json:"cups_since_filled"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// PanelJSON is the seat-switch state.
type PanelJSON struct {
	Baselined     bool `json:"baselined"`
	TankSeated    bool `json:"tank_seated"`
	DrawerSeated  bool `json:"drawer_seated"`
	TankSeats     int  `json:"tank_seats"`
	TankRemovals  int  `json:"tank_removals"`
	DrawerSeats   int  `json:"drawer_seats"`
	DrawerRemoves int  `json:"drawer_removals"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs         int      `json:"tick_ms"`
	StandbyAfterS  int      `json:"standby_after_s"`
	CoolDownAfterS int      `json:"cooldown_after_s"`
	HeartbeatS     int      `json:"heartbeat_s"`
	Broker         string   `json:"broker"`
	HTTPAddr       string   `json:"http_addr"`
	DBPath         string   `json:"db_path"`
	Codecs         []string `json:"codecs"`
}

func buildInner(snap Snapshot) StatusInner {
	m := snap.Machine
	inner := StatusInner{
		Machine: MachineJSON{
			Step:            string(m.Step),
			Temperature:     m.Temperature,
			PoweredOn:       m.PoweredOn,
			WaterOK:         m.WaterOK,
			GroundsOK:       m.GroundsOK,
			WaterFlow:       m.WaterFlow,
			CupsSinceEmpty:  m.CupsSinceEmpty,
			CupsSinceFilled: m.CupsSinceFilled,
		},
		Observers:     snap.Observers,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
	}
	if snap.Config.GPIO {
		p := snap.Panel
		inner.Panel = &PanelJSON{
			Baselined:     p.Baselined,
			TankSeated:    p.TankSeated,
			DrawerSeated:  p.DrawerSeated,
			TankSeats:     p.Counts.TankSeated,
			TankRemovals:  p.Counts.TankRemoved,
			DrawerSeats:   p.Counts.DrawerSeated,
			DrawerRemoves: p.Counts.DrawerRemoved,
		}
	}
	return inner
}

func buildConfig(c Config) *ConfigJSON {
	codecs := c.Codecs
	if codecs == nil {
		codecs = []string{}
	}
	return &ConfigJSON{
		TickMs:         c.TickMs,
		StandbyAfterS:  c.StandbyAfterS,
		CoolDownAfterS: c.CoolDownAfterS,
		HeartbeatS:     c.HeartbeatS,
		Broker:         c.Broker,
		HTTPAddr:       c.HTTPAddr,
		DBPath:         c.DBPath,
		Codecs:         codecs,
	}
}

// FormatJSON returns the indented status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	inner.Config = buildConfig(snap.Config)
	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the compact status for an MQTT system event.
// Only STARTUP carries the config.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	if event == "STARTUP" {
		inner.Config = buildConfig(snap.Config)
	}
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
