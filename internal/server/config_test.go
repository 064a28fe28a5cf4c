package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sealkms/seal/internal/master"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const permissionedYAML = `server_mode: Permissioned
sui_rpc_url: http://localhost:9000
supported_versions:
  min: 1.0.0
  max: 2.0.0
client_configs:
  - name: alice
    client_master_key:
      type: Derived
      derivation_index: 2
    key_server_object_id: "0x10"
    package_ids:
      - "0x1"
      - "0x2"
  - name: bob
    client_master_key:
      type: Imported
    key_server_object_id: "0x11"
    package_ids:
      - "0x3"
`

func TestLoadConfigPermissioned(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, permissionedYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 2024 || cfg.MetricsPort != 9184 {
		t.Fatalf("defaults not applied: %d %d", cfg.HTTPPort, cfg.MetricsPort)
	}
	if cfg.CacheTTLs.PolicySeconds != 5 {
		t.Fatalf("policy ttl default %d", cfg.CacheTTLs.PolicySeconds)
	}

	mcs, err := cfg.MasterClientConfigs()
	if err != nil {
		t.Fatalf("resolve clients: %v", err)
	}
	if len(mcs) != 2 {
		t.Fatalf("client count %d", len(mcs))
	}
	if mcs[0].Variant != master.VariantDerived || mcs[0].DerivationIndex != 2 {
		t.Fatalf("alice %+v", mcs[0])
	}
	// Imported keys default their env var to <name>_BLS_KEY.
	if mcs[1].EnvVar != "bob_BLS_KEY" {
		t.Fatalf("bob env var %q", mcs[1].EnvVar)
	}
	if len(mcs[0].PackageIDs) != 2 {
		t.Fatalf("alice packages %d", len(mcs[0].PackageIDs))
	}
}

func TestLoadConfigOpen(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `server_mode: Open
key_server_object_id: "0x5"
sui_rpc_url: http://localhost:9000
supported_versions:
  min: 1.0.0
  max: 2.0.0
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerMode != ModeOpen {
		t.Fatalf("mode %q", cfg.ServerMode)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown mode", "server_mode: Other\nsui_rpc_url: http://x\nsupported_versions: {min: 1.0.0, max: 2.0.0}\n"},
		{"open without object id", "server_mode: Open\nsui_rpc_url: http://x\nsupported_versions: {min: 1.0.0, max: 2.0.0}\n"},
		{"permissioned without clients", "server_mode: Permissioned\nsui_rpc_url: http://x\nsupported_versions: {min: 1.0.0, max: 2.0.0}\n"},
		{"missing rpc url", "server_mode: Open\nkey_server_object_id: \"0x5\"\nsupported_versions: {min: 1.0.0, max: 2.0.0}\n"},
		{"missing versions", "server_mode: Open\nkey_server_object_id: \"0x5\"\nsui_rpc_url: http://x\n"},
		{"unknown field", "server_mode: Open\nkey_server_object_id: \"0x5\"\nsui_rpc_url: http://x\nsupported_versions: {min: 1.0.0, max: 2.0.0}\nbogus: 1\n"},
	}
	for _, tc := range cases {
		if _, err := LoadConfig(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestPolicyTTLClamped(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `server_mode: Open
key_server_object_id: "0x5"
sui_rpc_url: http://localhost:9000
supported_versions:
  min: 1.0.0
  max: 2.0.0
cache_ttls:
  policy_seconds: 60
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTLs.PolicySeconds != 5 {
		t.Fatalf("policy ttl not clamped: %d", cfg.CacheTTLs.PolicySeconds)
	}
}
