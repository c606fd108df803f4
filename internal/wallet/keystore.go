package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"subnetctl/internal/domain"
)

// Signing-stage errors. Neither is ever retried.
var (
	// ErrKeyNotFound is returned when a key reference resolves to no
	// key file on disk.
	ErrKeyNotFound = errors.New("key not found")

	// ErrUserDeclined is returned when the user aborts a password
	// prompt.
	ErrUserDeclined = errors.New("user declined")
)

// keyFile is the on-disk JSON format for one key.
type keyFile struct {
	Version   int       `json:"version"`
	Address   string    `json:"address"`
	Encrypted bool      `json:"encrypted"`
	Seed      []byte    `json:"seed"` // raw 32-byte seed, or encrypted blob
	CreatedAt time.Time `json:"created_at"`
}

// Keystore manages key files under a wallet path root:
// <root>/<wallet>/coldkey.json and <root>/<wallet>/hotkeys/<name>.json.
// Coldkeys are password-encrypted; hotkeys are operational keys stored
// in the clear, matching their custody/operational split.
type Keystore struct {
	root string
}

// NewKeystore creates a keystore rooted at path, creating it if needed.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{root: path}, nil
}

func (ks *Keystore) coldkeyPath(wallet string) string {
	return filepath.Join(ks.root, wallet, "coldkey.json")
}

func (ks *Keystore) hotkeyPath(wallet, hotkey string) string {
	return filepath.Join(ks.root, wallet, "hotkeys", hotkey+".json")
}

// CreateColdkey derives a coldkey from the mnemonic and writes it
// encrypted under the wallet name. Fails if the wallet already exists.
func (ks *Keystore) CreateColdkey(wallet, mnemonic string, password []byte) (domain.Address, error) {
	path := ks.coldkeyPath(wallet)
	if _, err := os.Stat(path); err == nil {
		return domain.Address{}, fmt.Errorf("wallet %q already exists", wallet)
	}

	seed, err := keySeed(mnemonic, string(domain.KeyRoleColdkey))
	if err != nil {
		return domain.Address{}, err
	}
	addr := addressFromSeed(seed)

	blob, err := Encrypt(seed, password, DefaultEncryptionParams())
	if err != nil {
		return domain.Address{}, fmt.Errorf("encrypt coldkey: %w", err)
	}
	kf := keyFile{Version: 1, Address: addr.String(), Encrypted: true, Seed: blob, CreatedAt: time.Now().UTC()}
	if err := writeKeyFile(path, &kf); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// CreateHotkey derives a named hotkey from the mnemonic under an
// existing wallet. Fails if the hotkey already exists.
func (ks *Keystore) CreateHotkey(wallet, hotkey, mnemonic string) (domain.Address, error) {
	if _, err := os.Stat(ks.coldkeyPath(wallet)); err != nil {
		return domain.Address{}, fmt.Errorf("wallet %q: %w", wallet, ErrKeyNotFound)
	}
	path := ks.hotkeyPath(wallet, hotkey)
	if _, err := os.Stat(path); err == nil {
		return domain.Address{}, fmt.Errorf("hotkey %q already exists", hotkey)
	}

	seed, err := keySeed(mnemonic, string(domain.KeyRoleHotkey)+":"+hotkey)
	if err != nil {
		return domain.Address{}, err
	}
	addr := addressFromSeed(seed)
	kf := keyFile{Version: 1, Address: addr.String(), Encrypted: false, Seed: seed, CreatedAt: time.Now().UTC()}
	if err := writeKeyFile(path, &kf); err != nil {
		return domain.Address{}, err
	}
	return addr, nil
}

// Address resolves a key reference to its public address without
// touching secret material.
func (ks *Keystore) Address(key domain.KeyRef) (domain.Address, error) {
	kf, err := ks.read(key)
	if err != nil {
		return domain.Address{}, err
	}
	return domain.ParseAddress(kf.Address)
}

// Wallets lists wallet names under the root, sorted.
func (ks *Keystore) Wallets() ([]string, error) {
	entries, err := os.ReadDir(ks.root)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			if _, err := os.Stat(ks.coldkeyPath(e.Name())); err == nil {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Hotkeys lists hotkey names for a wallet, sorted.
func (ks *Keystore) Hotkeys(wallet string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(ks.root, wallet, "hotkeys"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read hotkeys dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name()[:len(e.Name())-len(".json")])
		}
	}
	sort.Strings(names)
	return names, nil
}

// read loads the key file a reference points at.
func (ks *Keystore) read(key domain.KeyRef) (*keyFile, error) {
	var path string
	switch key.Role {
	case domain.KeyRoleColdkey:
		path = ks.coldkeyPath(key.Wallet)
	case domain.KeyRoleHotkey:
		path = ks.hotkeyPath(key.Wallet, key.Hotkey)
	default:
		return nil, fmt.Errorf("key %s: invalid role %q", key, key.Role)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("key %s: %w", key, ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", key, err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse key file %s: %w", path, err)
	}
	return &kf, nil
}

func writeKeyFile(path string, kf *keyFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// keySeed derives a 32-byte signing seed from a mnemonic and a
// role-scoped derivation tag, so one mnemonic yields independent
// coldkey and hotkey material.
func keySeed(mnemonic, tag string) ([]byte, error) {
	seed, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		return nil, err
	}
	h, _ := blake2b.New256(nil)
	h.Write(seed)
	h.Write([]byte("/"))
	h.Write([]byte(tag))
	return h.Sum(nil), nil
}

func addressFromSeed(seed []byte) domain.Address {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	addr, _ := domain.AddressFromBytes(pub)
	return addr
}
