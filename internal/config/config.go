package config

import "time"

type AppConfig struct {
	Port              int
	Endpoint          string
	Codec             string
	SettingsPath      string
	SettingsURL       string
	SettingsInterval  time.Duration
	CooldownTick      time.Duration
	Debug             bool
	DebugSources      int
	DebugFPS          float64
	RawLogEnabled     bool
	RawLogDir         string
	OutputDir         string
	SeriesEnabled     bool
	IngestLogEvery    int
	IngestFallback    bool
	MQTTBroker        string
	MQTTTopic         string
	HistoryDB         string
	HistoryRetainDays int
	LogLevel          string
}
