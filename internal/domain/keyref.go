package domain

import "fmt"

// KeyRole distinguishes custody keys from operational signing keys.
type KeyRole string

// Key roles.
const (
	KeyRoleColdkey KeyRole = "coldkey"
	KeyRoleHotkey  KeyRole = "hotkey"
)

// KeyRef is a logical reference to a wallet key: a wallet name plus a
// role (and hotkey name for hotkeys). It never carries secret material;
// the wallet store resolves it to signing capability.
type KeyRef struct {
	Wallet string
	Role   KeyRole
	Hotkey string // hotkey name, only set when Role == KeyRoleHotkey
}

// ColdkeyRef references a wallet's coldkey.
func ColdkeyRef(wallet string) KeyRef {
	return KeyRef{Wallet: wallet, Role: KeyRoleColdkey}
}

// HotkeyRef references a named hotkey under a wallet.
func HotkeyRef(wallet, hotkey string) KeyRef {
	return KeyRef{Wallet: wallet, Role: KeyRoleHotkey, Hotkey: hotkey}
}

func (k KeyRef) String() string {
	if k.Role == KeyRoleHotkey {
		return fmt.Sprintf("%s/%s", k.Wallet, k.Hotkey)
	}
	return k.Wallet
}
