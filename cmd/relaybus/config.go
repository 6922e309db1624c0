package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/layer/rediqueue"
	"github.com/relaybus/channels/internal/layer/redispubsub"
	"github.com/relaybus/channels/internal/layer/sentinel"
	"github.com/relaybus/channels/internal/validate"
)

// flags holds the command-line-configurable parameters. Everything about
// the channel layer itself lives in the JSON document at ConfigPath,
// validated separately (see loadShardConfig).
type flags struct {
	ConfigPath      string
	HTTPAddr        string
	DemoPath        string
	ShutdownTimeout time.Duration
}

// loadFlags parses command-line flags, mirroring orion-edge's
// config.LoadFromFlags shape: one flag per tunable, sane defaults, no
// environment-variable layer.
func loadFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.ConfigPath, "config", "", "path to shard-config JSON document (required)")
	flag.StringVar(&f.HTTPAddr, "http-addr", ":8080", "address for the /health and demo WebSocket endpoints")
	flag.StringVar(&f.DemoPath, "demo-path", "/ws/demo", "path the demo WebSocket endpoint is served on; empty disables it")
	flag.DurationVar(&f.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "bound on graceful shutdown cleanup")
	flag.Parse()
	return f
}

// validateFlags checks that all required flags are set.
func (f *flags) validateFlags() error {
	if f.ConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	if f.HTTPAddr == "" {
		return fmt.Errorf("--http-addr is required")
	}
	return nil
}

// hostDoc is one entry of the shard-config document's "hosts" array.
type hostDoc struct {
	Addr          string   `json:"addr"`
	MasterName    string   `json:"master_name"`
	SentinelAddrs []string `json:"sentinel_addrs"`
	Password      string   `json:"password"`
	DB            int      `json:"db"`
	PoolSize      int      `json:"pool_size"`
}

// shardConfigDoc is the on-disk shape cmd/relaybus reads, matching the
// schema validate.ShardConfig enforces.
type shardConfigDoc struct {
	Backend                 string    `json:"backend"`
	Alias                   string    `json:"alias"`
	ExpirySeconds           int       `json:"expiry_seconds"`
	GroupExpirySeconds      int       `json:"group_expiry_seconds"`
	Capacity                int       `json:"capacity"`
	SymmetricEncryptionKeys []string  `json:"symmetric_encryption_keys"`
	Hosts                   []hostDoc `json:"hosts"`
}

// loadShardConfig reads path, validates it against the shard-config JSON
// Schema (internal/validate, repurposed from bus/internal/validator), and
// decodes it into a shardConfigDoc. Validation runs before decode so a
// malformed document fails with a schema error rather than a confusing
// zero-value field.
func loadShardConfig(path string) (*shardConfigDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shard config: %w", err)
	}
	if _, err := validate.ShardConfigBytes(data); err != nil {
		return nil, err
	}
	var doc shardConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode shard config: %w", err)
	}
	if doc.Alias == "" {
		doc.Alias = "default"
	}
	return &doc, nil
}

// hostDescriptors converts the document's host entries into
// sentinel.HostDescriptor values.
func (d *shardConfigDoc) hostDescriptors() []sentinel.HostDescriptor {
	out := make([]sentinel.HostDescriptor, len(d.Hosts))
	for i, h := range d.Hosts {
		out[i] = sentinel.HostDescriptor{
			Addr:          h.Addr,
			MasterName:    h.MasterName,
			SentinelAddrs: h.SentinelAddrs,
			Password:      h.Password,
			DB:            h.DB,
			PoolSize:      h.PoolSize,
		}
	}
	return out
}

// layerConfig builds the shared layer.Config embedded in both backends'
// own Config types.
func (d *shardConfigDoc) layerConfig() layer.Config {
	cfg := layer.DefaultConfig()
	if d.ExpirySeconds > 0 {
		cfg.Expiry = d.ExpirySeconds
	}
	if d.GroupExpirySeconds > 0 {
		cfg.GroupExpiry = d.GroupExpirySeconds
	}
	if d.Capacity > 0 {
		cfg.Capacity = d.Capacity
	}
	return cfg
}

// encryptionKeys converts the document's base64-free raw key strings into
// the [][]byte form wire.Encrypt/Decrypt expect, in the order given so key
// rotation works by prepending the new key ahead of the retiring one.
func (d *shardConfigDoc) encryptionKeys() [][]byte {
	if len(d.SymmetricEncryptionKeys) == 0 {
		return nil
	}
	keys := make([][]byte, len(d.SymmetricEncryptionKeys))
	for i, k := range d.SymmetricEncryptionKeys {
		keys[i] = []byte(k)
	}
	return keys
}

// buildLayer constructs the backend named by d.Backend.
func (d *shardConfigDoc) buildLayer() (layer.Layer, error) {
	hosts := d.hostDescriptors()
	switch d.Backend {
	case "rediqueue":
		return rediqueue.New(rediqueue.Config{
			Config:                  d.layerConfig(),
			Hosts:                   hosts,
			SymmetricEncryptionKeys: d.encryptionKeys(),
		})
	case "redispubsub":
		return redispubsub.New(redispubsub.Config{
			Config: d.layerConfig(),
			Hosts:  hosts,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", d.Backend)
	}
}
