package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"domator-go/internal/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "mqtt:\n  broker: tcp://broker:1883\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.TopicPrefix != "" {
		t.Errorf("topic prefix = %q, want empty", cfg.MQTT.TopicPrefix)
	}
	if cfg.Web.Listen != "127.0.0.1:8080" || cfg.Store.Path != "domator.db" || cfg.Web.QueueSize != 256 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if d := duration(cfg.Liveness.Timeout); d.Seconds() != 30 {
		t.Errorf("liveness timeout = %v", d)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad qos", "mqtt:\n  qos: 3\n", "mqtt.qos"},
		{"bad duration", "liveness:\n  timeout: soon\n", "liveness.timeout"},
		{"metrics without bucket", "metrics:\n  enabled: true\n  url: http://influx:8086\n", "metrics.bucket"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestListTopology(t *testing.T) {
	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.AddRelay(1074130365, "hall", 8)
	db.AddSwitch(5, "door", 3)
	db.AddConnection(store.Connection{SwitchID: 5, ButtonID: "a", Target: store.Target{RelayID: 1074130365, OutputID: "b"}})

	var buf bytes.Buffer
	if err := listTopology(&buf, db, false); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"relay", "1074130365", "hall", "8 outputs", "door", "3 buttons"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := listTopology(&buf, db, true); err != nil {
		t.Fatal(err)
	}
	var dump topologyDump
	if err := json.Unmarshal(buf.Bytes(), &dump); err != nil {
		t.Fatal(err)
	}
	if len(dump.Relays) != 1 || len(dump.Outputs) != 8 || len(dump.Connections) != 1 {
		t.Errorf("dump = %+v", dump)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{{"serve"}, {"topology", "list"}} {
		if cmd, _, err := root.Find(path); err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
