package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "")
	}
	if cfg.TickRate != 60 {
		t.Errorf("TickRate = %d, want 60", cfg.TickRate)
	}
	if cfg.RoomCapacity != 2 {
		t.Errorf("RoomCapacity = %d, want 2", cfg.RoomCapacity)
	}
	if cfg.WaitingTTL != 10*time.Minute {
		t.Errorf("WaitingTTL = %v, want 10m", cfg.WaitingTTL)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("PingInterval = %v, want 10s", cfg.PingInterval)
	}
	if got := cfg.MaxTicks(); got != 54000 {
		t.Errorf("MaxTicks() = %d, want 54000", got)
	}
	schema, err := cfg.Schema()
	if err != nil {
		t.Fatal(err)
	}
	if !schema.Has("fireWeapon") || !schema.Has("increaseThrust") {
		t.Error("default schema is missing flight controls")
	}
}

func TestLoadFrom_CustomValues(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PORT":               "3000",
		"DATABASE_URL":       "postgres://localhost/dogfight",
		"TICK_RATE":          "30",
		"MATCH_TIME_LIMIT":   "10s",
		"INPUT_LEVEL_FIELDS": "up, down",
		"INPUT_EDGE_FIELDS":  "shoot",
		"ALLOWED_ORIGINS":    "game.example.com,*.example.org",
	})
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.Port != "3000" {
		t.Errorf("Port = %q, want %q", cfg.Port, "3000")
	}
	if cfg.DatabaseURL != "postgres://localhost/dogfight" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if got := cfg.MaxTicks(); got != 300 {
		t.Errorf("MaxTicks() = %d, want 300", got)
	}
	if len(cfg.InputLevelFields) != 2 || cfg.InputLevelFields[1] != "down" {
		t.Errorf("InputLevelFields = %q", cfg.InputLevelFields)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"zero tick rate", map[string]string{"TICK_RATE": "0"}, "TICK_RATE"},
		{"no capacity", map[string]string{"ROOM_CAPACITY": "0"}, "ROOM_CAPACITY"},
		{"not a number", map[string]string{"SEND_BUFFER": "lots"}, "parse env"},
		{"overlapping fields", map[string]string{"INPUT_LEVEL_FIELDS": "fire", "INPUT_EDGE_FIELDS": "fire"}, "fire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.environ)
			if err == nil {
				t.Fatal("LoadFrom() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_ReadsProcessEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TICK_RATE", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != "9090" || cfg.TickRate != 20 {
		t.Errorf("Load() = port %q, rate %d", cfg.Port, cfg.TickRate)
	}
}
