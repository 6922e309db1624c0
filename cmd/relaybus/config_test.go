package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFlagsValidateRequiresConfig(t *testing.T) {
	f := &flags{HTTPAddr: ":8080"}
	if err := f.validateFlags(); err == nil {
		t.Fatal("expected error when --config is missing")
	}
}

func TestLoadShardConfigValidDocument(t *testing.T) {
	path := writeTempConfig(t, `{
		"backend": "rediqueue",
		"alias": "default",
		"hosts": [{"addr": "127.0.0.1:6379"}]
	}`)

	doc, err := loadShardConfig(path)
	if err != nil {
		t.Fatalf("loadShardConfig: %v", err)
	}
	if doc.Backend != "rediqueue" || doc.Alias != "default" || len(doc.Hosts) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestLoadShardConfigDefaultsAlias(t *testing.T) {
	path := writeTempConfig(t, `{
		"backend": "redispubsub",
		"hosts": [{"addr": "127.0.0.1:6379"}]
	}`)

	doc, err := loadShardConfig(path)
	if err != nil {
		t.Fatalf("loadShardConfig: %v", err)
	}
	if doc.Alias != "default" {
		t.Errorf("alias = %q, want default", doc.Alias)
	}
}

func TestLoadShardConfigRejectsInvalidDocument(t *testing.T) {
	path := writeTempConfig(t, `{"backend": "not-a-backend", "hosts": []}`)

	if _, err := loadShardConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadShardConfigParsesEncryptionKeys(t *testing.T) {
	path := writeTempConfig(t, `{
		"backend": "rediqueue",
		"hosts": [{"addr": "127.0.0.1:6379"}],
		"symmetric_encryption_keys": ["0123456789abcdef0123456789abcdef"]
	}`)

	doc, err := loadShardConfig(path)
	if err != nil {
		t.Fatalf("loadShardConfig: %v", err)
	}
	keys := doc.encryptionKeys()
	if len(keys) != 1 || string(keys[0]) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("encryptionKeys = %v, want one key matching the document", keys)
	}
}

func TestShardConfigDocEncryptionKeysEmptyWhenUnset(t *testing.T) {
	doc := &shardConfigDoc{}
	if keys := doc.encryptionKeys(); keys != nil {
		t.Fatalf("encryptionKeys = %v, want nil", keys)
	}
}

func TestBuildLayerUnknownBackend(t *testing.T) {
	doc := &shardConfigDoc{Backend: "bogus", Hosts: []hostDoc{{Addr: "x:1"}}}
	if _, err := doc.buildLayer(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "shard.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}
