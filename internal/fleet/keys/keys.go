// Package keys loads the control-plane signing key material.
package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config defines key material for signing and trust verification. Keys are
// base64-encoded raw Ed25519 bytes. AllowUnsigned must be set explicitly for
// an empty trusted set to be accepted; it guards against a misconfigured key
// list silently disabling verification.
type Config struct {
	ControlPrivateKey string   `yaml:"control_private_key"`
	ControlPublicKey  string   `yaml:"control_public_key"`
	SafetyPrivateKey  string   `yaml:"safety_private_key"`
	SafetyPublicKey   string   `yaml:"safety_public_key"`
	ExtraTrustedKeys  []string `yaml:"extra_trusted_keys"`
	AllowUnsigned     bool     `yaml:"allow_unsigned"`
}

// Material is decoded key material ready for use.
type Material struct {
	ControlPrivateKey []byte
	SafetyPrivateKey  []byte
	TrustedKeys       [][]byte
}

// Load reads key configuration from a yaml file, falling back to env vars
// when path is empty.
func Load(path string) (Material, error) {
	cfg := Config{
		ControlPrivateKey: os.Getenv("CONTROL_PRIVATE_KEY_B64"),
		ControlPublicKey:  os.Getenv("CONTROL_PUBLIC_KEY_B64"),
		SafetyPrivateKey:  os.Getenv("SAFETY_PRIVATE_KEY_B64"),
		SafetyPublicKey:   os.Getenv("SAFETY_PUBLIC_KEY_B64"),
	}
	fromFile := false
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Material{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Material{}, err
		}
		fromFile = true
	}
	return cfg.Decode(fromFile)
}

// Decode validates and decodes the configuration. When strict is true an
// empty trusted key set is rejected unless AllowUnsigned is set.
func (c Config) Decode(strict bool) (Material, error) {
	material := Material{}

	var err error
	if material.ControlPrivateKey, err = decodeKey("control_private_key", c.ControlPrivateKey, ed25519.SeedSize); err != nil {
		return Material{}, err
	}
	if material.SafetyPrivateKey, err = decodeKey("safety_private_key", c.SafetyPrivateKey, ed25519.SeedSize); err != nil {
		return Material{}, err
	}

	publicKeys := append([]string{c.ControlPublicKey, c.SafetyPublicKey}, c.ExtraTrustedKeys...)
	names := []string{"control_public_key", "safety_public_key"}
	for i, encoded := range publicKeys {
		name := "extra_trusted_keys"
		if i < len(names) {
			name = names[i]
		}
		key, err := decodeKey(name, encoded, ed25519.PublicKeySize)
		if err != nil {
			return Material{}, err
		}
		if key != nil {
			material.TrustedKeys = append(material.TrustedKeys, key)
		}
	}

	if strict && len(material.TrustedKeys) == 0 && !c.AllowUnsigned {
		return Material{}, errors.New("keys: no trusted keys configured; set allow_unsigned to disable verification")
	}
	return material, nil
}

func decodeKey(name, encoded string, size int) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keys: decode %s: %w", name, err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("keys: %s must be %d bytes, got %d", name, size, len(key))
	}
	return key, nil
}
