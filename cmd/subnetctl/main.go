// Package main provides the subnetctl command-line client:
// - wallet management (new, regen, list)
// - balance and transfer with existential-deposit preflight
// - staking, registration and weight setting on subnets
// - metagraph inspection with a local snapshot archive
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"subnetctl/internal/chain"
	"subnetctl/internal/config"
	"subnetctl/internal/extrinsic"
	"subnetctl/internal/log"
	"subnetctl/internal/rpc"
	"subnetctl/internal/storage"
	"subnetctl/internal/wallet"
)

const usageText = `Usage: subnetctl <command> [flags]

Commands:
  wallet new       create a coldkey (and optional hotkey) from a fresh mnemonic
  wallet regen     recreate keys from an existing mnemonic
  wallet list      list wallets and hotkeys
  balance          show free and staked balance for a key or address
  transfer         send TAO to another coldkey
  stake add        stake TAO onto a hotkey
  stake remove     unstake TAO from a hotkey
  register         register a hotkey on a subnet
  weights set      set subnet weights for a hotkey
  metagraph        show a subnet's neuron table

Run "subnetctl <command> -h" for command flags.`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usageText)
		return 2
	}

	cmd, args := args[0], args[1:]
	// Two-word commands.
	switch cmd {
	case "wallet", "stake", "weights":
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "subnetctl %s: missing subcommand\n", cmd)
			return 2
		}
		cmd, args = cmd+" "+args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "wallet new":
		err = cmdWalletNew(ctx, args)
	case "wallet regen":
		err = cmdWalletRegen(ctx, args)
	case "wallet list":
		err = cmdWalletList(ctx, args)
	case "balance":
		err = cmdBalance(ctx, args)
	case "transfer":
		err = cmdTransfer(ctx, args)
	case "stake add":
		err = cmdStake(ctx, args, true)
	case "stake remove":
		err = cmdStake(ctx, args, false)
	case "register":
		err = cmdRegister(ctx, args)
	case "weights set":
		err = cmdWeightsSet(ctx, args)
	case "metagraph":
		err = cmdMetagraph(ctx, args)
	case "-h", "--help", "help":
		fmt.Println(usageText)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "subnetctl: unknown command %q\n%s\n", cmd, usageText)
		return 2
	}

	if err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "subnetctl: %v\n", err)
		return 1
	}
	return 0
}

// globalOpts are the flags every command accepts. Flag values override
// the config file, which overrides defaults.
type globalOpts struct {
	configPath string
	network    string
	endpoint   string
	walletPath string
	walletName string
	hotkeyName string
	noCache    bool
	logLevel   string
	logJSON    bool
}

func registerGlobal(fs *flag.FlagSet) *globalOpts {
	g := &globalOpts{}
	fs.StringVar(&g.configPath, "config", "", "config file path (default ~/.subnetctl/config.yaml)")
	fs.StringVar(&g.network, "network", "", "network preset: finney, test, local")
	fs.StringVar(&g.endpoint, "endpoint", "", "chain endpoint URL (overrides network preset)")
	fs.StringVar(&g.walletPath, "wallet.path", "", "wallet keystore directory")
	fs.StringVar(&g.walletName, "wallet.name", "", "wallet name")
	fs.StringVar(&g.hotkeyName, "wallet.hotkey", "", "hotkey name")
	fs.BoolVar(&g.noCache, "no-cache", false, "bypass the metagraph cache")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&g.logJSON, "log-json", false, "emit JSON log lines")
	return g
}

// resolve merges config file and flags into the final Config.
func (g *globalOpts) resolve() (config.Config, error) {
	path, explicit := config.DefaultPath(), false
	if g.configPath != "" {
		path, explicit = g.configPath, true
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return cfg, err
	}
	if g.network != "" {
		cfg.Network = g.network
	}
	if g.endpoint != "" {
		cfg.Endpoint = g.endpoint
	}
	if g.walletPath != "" {
		cfg.WalletPath = g.walletPath
	}
	if g.walletName != "" {
		cfg.WalletName = g.walletName
	}
	if g.hotkeyName != "" {
		cfg.WalletHotkey = g.hotkeyName
	}
	if g.noCache {
		cfg.NoCache = true
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logJSON {
		cfg.LogJSON = true
	}
	return cfg, cfg.Validate()
}

func (g *globalOpts) logger(cfg config.Config) zerolog.Logger {
	return log.New(os.Stderr, cfg.LogLevel, cfg.LogJSON)
}

// newChainClient builds the facade with all defaults wired. The signer
// may be nil for read-only commands and the archive for commands that
// never touch the metagraph.
func newChainClient(cfg config.Config, signer extrinsic.Signer, archive storage.SnapshotArchive, logger zerolog.Logger) (*chain.Client, error) {
	endpoint, err := cfg.ResolveEndpoint()
	if err != nil {
		return nil, err
	}
	return chain.NewClient(chain.Options{
		Endpoint: endpoint,
		Session:  rpc.DefaultConfig(),
		Retry:    extrinsic.DefaultRetryPolicy(),
		CacheTTL: cfg.CacheTTL,
		NoCache:  cfg.NoCache,
		Archive:  archive,
		Signer:   signer,
		Log:      logger,
	}), nil
}

func newKeystore(cfg config.Config) (*wallet.Keystore, error) {
	return wallet.NewKeystore(cfg.WalletPath)
}

// promptPassword reads a password without echo from the terminal.
func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return pw, nil
}

// promptNewPassword asks twice and requires the entries to match.
func promptNewPassword() ([]byte, error) {
	pw, err := promptPassword("New wallet password: ")
	if err != nil {
		return nil, err
	}
	again, err := promptPassword("Repeat password: ")
	if err != nil {
		return nil, err
	}
	if string(pw) != string(again) {
		return nil, fmt.Errorf("passwords do not match")
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("password must not be empty")
	}
	return pw, nil
}

// parseWait maps a --wait flag value to a submission status.
func parseWait(s string) (waitStatus, error) {
	switch s {
	case "none":
		return waitNone, nil
	case "inblock":
		return waitInBlock, nil
	case "finalized":
		return waitFinalized, nil
	}
	return waitFinalized, fmt.Errorf("invalid --wait %q (none, inblock, finalized)", s)
}

type waitStatus int

const (
	waitNone waitStatus = iota
	waitInBlock
	waitFinalized
)

func callTimeout(w waitStatus) time.Duration {
	switch w {
	case waitFinalized:
		return 5 * time.Minute
	case waitInBlock:
		return 2 * time.Minute
	default:
		return 30 * time.Second
	}
}
