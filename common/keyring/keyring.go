package keyring

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownKey is returned when a key id is not configured
var ErrUnknownKey = errors.New("unknown signing key")

// Key is the material needed to sign on behalf of one key id
type Key struct {
	ID          string
	Passphrase  string
	Fingerprint string
	Subkeys     []string
	// SecretKeyPath points to an armored secret key, used by the native backend
	SecretKeyPath string
}

// Authorizes reports whether signer is the key itself or one of its subkeys.
// Comparison is case-insensitive.
func (k *Key) Authorizes(signer string) bool {
	if signer == "" {
		return false
	}
	if strings.EqualFold(signer, k.ID) {
		return true
	}
	for _, sub := range k.Subkeys {
		if strings.EqualFold(signer, sub) {
			return true
		}
	}
	return false
}

// KeyRing resolves key ids to key material. Read-only after load.
type KeyRing struct {
	keys map[string]*Key
}

type fileFormat struct {
	Keys map[string]struct {
		Passphrase    string   `yaml:"passphrase"`
		PassphraseEnv string   `yaml:"passphrase_env"`
		Fingerprint   string   `yaml:"fingerprint"`
		Subkeys       []string `yaml:"subkeys"`
		SecretKeyPath string   `yaml:"secret_key_path"`
	} `yaml:"keys"`
}

// Load reads a YAML key ring file
//
//	keys:
//	  4D0A36B2E7B4A5F1:
//	    fingerprint: 0F1E...
//	    passphrase_env: SIGN_KEY_PASSPHRASE
//	    subkeys: [A1B2C3D4E5F60718]
func Load(path string) (*KeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key ring: %w", err)
	}
	return Parse(data)
}

// Parse decodes key ring YAML
func Parse(data []byte) (*KeyRing, error) {
	var raw fileFormat
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse key ring: %w", err)
	}

	keys := make([]*Key, 0, len(raw.Keys))
	for id, entry := range raw.Keys {
		passphrase := entry.Passphrase
		if entry.PassphraseEnv != "" {
			value, ok := os.LookupEnv(entry.PassphraseEnv)
			if !ok {
				return nil, fmt.Errorf("key %s: passphrase variable %s is not set", id, entry.PassphraseEnv)
			}
			passphrase = value
		}
		keys = append(keys, &Key{
			ID:            id,
			Passphrase:    passphrase,
			Fingerprint:   entry.Fingerprint,
			Subkeys:       entry.Subkeys,
			SecretKeyPath: entry.SecretKeyPath,
		})
	}
	return New(keys...), nil
}

// New builds a key ring from already resolved keys
func New(keys ...*Key) *KeyRing {
	kr := &KeyRing{keys: make(map[string]*Key, len(keys))}
	for _, k := range keys {
		kr.keys[strings.ToLower(k.ID)] = k
	}
	return kr
}

// Get resolves a key id
func (kr *KeyRing) Get(keyID string) (*Key, error) {
	k, ok := kr.keys[strings.ToLower(keyID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	return k, nil
}

// Len returns the number of configured keys
func (kr *KeyRing) Len() int {
	return len(kr.keys)
}
