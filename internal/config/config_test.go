package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, configDirName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, name+configSuffix), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLookupChainPrefersMostSpecific(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{
		"defaults": {"retry_ms": 1000, "node": "default-node"},
		"devices": {"tstat1": {"retry_ms": 500, "type": "thermostat"}}
	}`)
	writeConfig(t, dir, "tstat1", `{"retry_ms": 250}`)

	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.LoadDevice("tstat1"); err != nil {
		t.Fatal(err)
	}

	if got := d.GetInt("tstat1", "retry_ms", -1); got != 250 {
		t.Fatalf("got %d, want 250 (device-specific override)", got)
	}
	if got := d.GetInt("tstat1", "retry_ms", -1); got == 1000 {
		t.Fatal("should not have fallen through to defaults")
	}
	if !d.CheckType("tstat1", "thermostat") {
		t.Fatal("expected type to resolve from the directory's devices entry")
	}
	if got := d.GetString("unknown-device", "node"); got != "default-node" {
		t.Fatalf("got %q, want fallback to defaults", got)
	}
}

func TestLoadDeviceMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{"defaults": {}}`)

	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.LoadDevice("no-such-device"); err != nil {
		t.Fatalf("missing per-device file should not be an error, got %v", err)
	}
}

func TestGetBoolCoercion(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{
		"defaults": {
			"a": true, "b": false, "c": "", "d": "x", "e": 0, "f": 1, "g": [], "h": [1], "i": null
		}
	}`)
	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]bool{"a": true, "b": false, "c": false, "d": true, "e": false, "f": true, "g": false, "h": true}
	for key, want := range cases {
		if got := d.GetBool("dev", key, false); got != want {
			t.Errorf("key %q: got %v, want %v", key, got, want)
		}
	}
	if got := d.GetBool("dev", "i", true); got != true {
		t.Errorf("null should fall back to def=true, got %v", got)
	}
	if got := d.GetBool("dev", "missing", true); got != true {
		t.Errorf("missing key should fall back to def=true, got %v", got)
	}
}

func TestBindReturnsAddressList(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{
		"defaults": {},
		"devices": {
			"relay1": {"servers": {"control": {"bind": ["tcp://*:2930", "ipc://relay.ipc"]}}}
		}
	}`)
	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := d.Bind("relay1", "control")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 2 || addrs[0] != "tcp://*:2930" {
		t.Fatalf("got %v", addrs)
	}
}

func TestConnectResolvesFabdURIAgainstServerBind(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{
		"defaults": {},
		"devices": {
			"relay1": {
				"node": "house1",
				"servers": {"control": {"bind": ["tcp://*:2930"]}}
			},
			"tstat1": {
				"node": "house1",
				"clients": {"hwctl": ["fabd:relay1/control"]}
			}
		}
	}`)
	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := d.Connect("tstat1", "hwctl")
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != "tcp://house1:2930" {
		t.Fatalf("got %v", addrs)
	}
}

func TestConnectPrefersExplicitConnectList(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "directory", `{
		"defaults": {},
		"devices": {
			"relay1": {
				"servers": {"control": {"bind": ["tcp://*:2930"], "connect": ["ipc://relay.ipc", "tcp://relay1.local:2930"]}}
			},
			"tstat1": {"clients": {"hwctl": ["fabd:relay1/control"]}}
		}
	}`)
	d, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	addrs, err := d.Connect("tstat1", "hwctl")
	if err != nil {
		t.Fatal(err)
	}
	// tstat1 and relay1 are not on the same node (neither declares one),
	// so the ipc: connect entry is skipped in favour of the tcp: one.
	if len(addrs) != 1 || addrs[0] != "tcp://relay1.local:2930" {
		t.Fatalf("got %v", addrs)
	}
}
