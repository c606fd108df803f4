package wallet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"subnetctl/internal/domain"
)

// PasswordPrompt asks the user for a password. Implementations return
// ErrUserDeclined when the user aborts.
type PasswordPrompt func(prompt string) ([]byte, error)

// Signer signs payloads with keystore keys. It implements the signing
// capability the transaction builder consumes. Unlocked coldkeys are
// held for the lifetime of one Signer, i.e. one command invocation.
type Signer struct {
	ks     *Keystore
	prompt PasswordPrompt

	mu       sync.Mutex
	unlocked map[string]ed25519.PrivateKey // wallet name -> coldkey
}

// NewSigner creates a Signer over the keystore. prompt is invoked at
// most once per wallet to unlock its coldkey.
func NewSigner(ks *Keystore, prompt PasswordPrompt) *Signer {
	return &Signer{ks: ks, prompt: prompt, unlocked: make(map[string]ed25519.PrivateKey)}
}

// Address resolves a key reference to its public address.
func (s *Signer) Address(key domain.KeyRef) (domain.Address, error) {
	return s.ks.Address(key)
}

// Sign signs message with the referenced key. Coldkeys are unlocked
// interactively on first use; hotkeys load directly.
func (s *Signer) Sign(ctx context.Context, key domain.KeyRef, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := s.privateKey(key)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, message), nil
}

func (s *Signer) privateKey(key domain.KeyRef) (ed25519.PrivateKey, error) {
	if key.Role == domain.KeyRoleColdkey {
		return s.unlockColdkey(key)
	}
	kf, err := s.ks.read(key)
	if err != nil {
		return nil, err
	}
	if kf.Encrypted {
		return nil, fmt.Errorf("hotkey %s is unexpectedly encrypted", key)
	}
	if len(kf.Seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key %s has invalid seed length %d", key, len(kf.Seed))
	}
	return ed25519.NewKeyFromSeed(kf.Seed), nil
}

func (s *Signer) unlockColdkey(key domain.KeyRef) (ed25519.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priv, ok := s.unlocked[key.Wallet]; ok {
		return priv, nil
	}

	kf, err := s.ks.read(key)
	if err != nil {
		return nil, err
	}
	seed := kf.Seed
	if kf.Encrypted {
		if s.prompt == nil {
			return nil, fmt.Errorf("coldkey %s is encrypted and no prompt is available: %w", key, ErrUserDeclined)
		}
		password, err := s.prompt(fmt.Sprintf("Password for wallet %q: ", key.Wallet))
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", key, err)
		}
		seed, err = Decrypt(kf.Seed, password)
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", key, err)
		}
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key %s has invalid seed length %d", key, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	s.unlocked[key.Wallet] = priv
	return priv, nil
}
