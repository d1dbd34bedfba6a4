// Package config implements the directory-driven JSON configuration
// loader (C9), a close translation of fabdcfg.c: a single "directory"
// document naming every device's defaults and per-device overrides, plus
// one optional JSON document per device loaded on demand, with a fixed
// lookup chain (device-specific config, then the directory's per-device
// entry, then the directory's defaults) and a small "fabd:devid/server"
// URI scheme for resolving one device's bind/connect addresses from
// another's perspective.
//
// No JSON configuration library appears anywhere in the example corpus
// this was grounded on (the original used jansson, a C library with no
// Go counterpart in scope here), so this package uses encoding/json
// directly — the same choice the Go standard library itself is built
// for, and the natural one when nothing in the ecosystem stack offers
// more for a small nested-lookup document like this.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	configDirName  = "fabd_cfg"
	configSuffix   = ".json"
	directoryKey   = "directory"
)

// Directory holds the loaded directory.json document plus every
// per-device document loaded so far via LoadDevice.
type Directory struct {
	dir      string
	root     map[string]any
	devices  map[string]map[string]any
}

// LoadDirectory reads <dir>/fabd_cfg/directory.json. It corresponds to
// fabdcfg_load_directory.
func LoadDirectory(dir string) (*Directory, error) {
	root, err := loadJSONFile(filepath.Join(dir, configDirName, directoryKey+configSuffix))
	if err != nil {
		return nil, fmt.Errorf("config: loading directory: %w", err)
	}
	return &Directory{dir: dir, root: root, devices: map[string]map[string]any{}}, nil
}

// LoadDevice reads <dir>/fabd_cfg/<devid>.json, if present, and merges
// it into the set of per-device overrides consulted by Get. A missing
// device file is not an error — plenty of devices rely entirely on the
// directory's defaults, matching fabdcfg_load_device's tolerance of a
// failed json_load_file.
func (d *Directory) LoadDevice(devid string) error {
	path := filepath.Join(d.dir, configDirName, devid+configSuffix)
	doc, err := loadJSONFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: loading device %q: %w", devid, err)
	}
	d.devices[devid] = doc
	return nil
}

func loadJSONFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Get looks up key for devid following fabdcfg_device_get's three-level
// chain: the device's own loaded config, then directory["devices"][devid],
// then directory["defaults"]. It returns (nil, false) if key is absent
// at every level.
func (d *Directory) Get(devid, key string) (any, bool) {
	if doc, ok := d.devices[devid]; ok {
		if v, ok := doc[key]; ok {
			return v, true
		}
	}
	if devices, ok := d.root["devices"].(map[string]any); ok {
		if dev, ok := devices[devid].(map[string]any); ok {
			if v, ok := dev[key]; ok {
				return v, true
			}
		}
	}
	if defaults, ok := d.root["defaults"].(map[string]any); ok {
		if v, ok := defaults[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// GetString returns key as a string, or "" if absent or not a string.
func (d *Directory) GetString(devid, key string) string {
	v, ok := d.Get(devid, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetInt returns key as an int, using def if absent or not numeric,
// matching fabdcfg_device_getint's fallback behaviour.
func (d *Directory) GetInt(devid, key string, def int) int {
	v, ok := d.Get(devid, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		return def
	default:
		return def
	}
}

// GetBool returns key coerced to bool the way fabdcfg_device_getbool
// coerces any JSON type: empty string/array/zero number/false/null are
// false (null falls back to def instead), anything else present is
// true.
func (d *Directory) GetBool(devid, key string, def bool) bool {
	v, ok := d.Get(devid, key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case nil:
		return def
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case []any:
		return len(x) != 0
	default:
		return true
	}
}

// CheckType reports whether devid's "type" key equals typ, matching
// fabdcfg_device_checktype.
func (d *Directory) CheckType(devid, typ string) bool {
	return d.GetString(devid, "type") == typ
}

func stringSlice(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Bind returns the list of addresses devid's servername server should
// listen on, i.e. the "bind" URIs from its servers config entry,
// matching fabdcfg_zmq_bind's address list (minus the actual zmq_bind
// call, left to the caller).
func (d *Directory) Bind(devid, servername string) ([]string, error) {
	servers, ok := d.Get(devid, "servers")
	if !ok {
		return nil, fmt.Errorf("config: %s has no servers entry", devid)
	}
	m, ok := servers.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config: %s servers entry is not an object", devid)
	}
	srv, ok := m[servername]
	if !ok {
		return nil, fmt.Errorf("config: %s has no server %q", devid, servername)
	}
	if obj, ok := srv.(map[string]any); ok {
		b, ok := obj["bind"]
		if !ok {
			return nil, fmt.Errorf("config: %s server %q has no bind addresses", devid, servername)
		}
		return stringSlice(b), nil
	}
	return stringSlice(srv), nil
}

// parseDevURI parses a "fabd:devid/servername" client URI, matching
// fabd_parse_devuri.
func parseDevURI(s string) (devid, servername string, ok bool) {
	const prefix = "fabd:"
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := strings.TrimLeft(s[len(prefix):], "/")
	parts := strings.SplitN(rest, "/", 2)
	devid = parts[0]
	if len(parts) == 2 {
		servername = parts[1]
	}
	return devid, servername, true
}

// serverConnect resolves one connect address for devid's servername
// server as seen from fromDevid, matching fabdcfg_server_get_connect:
// prefer an explicit "connect" list (skipping ipc: entries unless the
// two devices share a "node"), else derive one from "bind" entries
// (substituting '*' with the target's node name, or using the address
// verbatim if both devices are on the same node and it has no '*').
func (d *Directory) serverConnect(devid, servername, fromDevid string) (string, error) {
	node := d.GetString(devid, "node")
	fromNode := d.GetString(fromDevid, "node")
	isLocal := node != "" && node == fromNode

	servers, ok := d.Get(devid, "servers")
	if !ok {
		return "", fmt.Errorf("config: %s has no servers entry", devid)
	}
	m, ok := servers.(map[string]any)
	if !ok {
		return "", fmt.Errorf("config: %s servers entry is not an object", devid)
	}
	srv, ok := m[servername]
	if !ok {
		return "", fmt.Errorf("config: %s has no server %q", devid, servername)
	}

	if obj, ok := srv.(map[string]any); ok {
		if c, ok := obj["connect"]; ok {
			for _, s := range stringSlice(c) {
				if strings.HasPrefix(s, "ipc:") && !isLocal {
					continue
				}
				return s, nil
			}
			return "", fmt.Errorf("config: %s server %q has no applicable connect address", devid, servername)
		}
		b, ok := obj["bind"]
		if !ok {
			return "", fmt.Errorf("config: %s server %q has neither connect nor bind", devid, servername)
		}
		return connectFromBind(stringSlice(b), node, isLocal)
	}
	return connectFromBind(stringSlice(srv), node, isLocal)
}

func connectFromBind(binds []string, node string, isLocal bool) (string, error) {
	for _, s := range binds {
		idx := strings.IndexByte(s, '*')
		if idx < 0 {
			if isLocal {
				return s, nil
			}
			continue
		}
		if node != "" {
			return s[:idx] + node + s[idx+1:], nil
		}
	}
	return "", fmt.Errorf("config: no usable bind address to derive a connect address from")
}

// Connect resolves every address devid should connect to for
// clientname, matching fabdcfg_zmq_connect: each entry in the client's
// address list is either used verbatim, or — if it is a "fabd:" URI —
// resolved via serverConnect against the named device's server config.
func (d *Directory) Connect(devid, clientname string) ([]string, error) {
	clients, ok := d.Get(devid, "clients")
	if !ok {
		return nil, fmt.Errorf("config: %s has no clients entry", devid)
	}
	m, ok := clients.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config: %s clients entry is not an object", devid)
	}
	entry, ok := m[clientname]
	if !ok {
		return nil, fmt.Errorf("config: %s has no client %q", devid, clientname)
	}

	var out []string
	for _, s := range stringSlice(entry) {
		if destDevid, destServer, ok := parseDevURI(s); ok {
			resolved, err := d.serverConnect(destDevid, destServer, devid)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
