package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"subnetctl/internal/chain"
	"subnetctl/internal/domain"
	"subnetctl/internal/extrinsic"
	"subnetctl/internal/metagraph"
	"subnetctl/internal/storage/pebblestore"
	"subnetctl/internal/wallet"
)

// existentialDepositRao is the minimum balance an account must retain
// to stay alive on chain.
const existentialDepositRao = 500

func cmdWalletNew(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("wallet new", flag.ContinueOnError)
	g := registerGlobal(fs)
	hotkeyOnly := fs.Bool("hotkey-only", false, "add a hotkey to an existing wallet")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return err
	}

	if !*hotkeyOnly {
		password, err := promptNewPassword()
		if err != nil {
			return err
		}
		addr, err := ks.CreateColdkey(cfg.WalletName, mnemonic, password)
		if err != nil {
			return err
		}
		fmt.Printf("Created wallet %q\n  coldkey: %s\n", cfg.WalletName, addr)
		fmt.Printf("\nMnemonic (write it down, it is shown once):\n  %s\n\n", mnemonic)
		// Hotkey gets its own mnemonic so the two custody domains do
		// not share recovery material.
		mnemonic, err = wallet.GenerateMnemonic()
		if err != nil {
			return err
		}
	}

	hkAddr, err := ks.CreateHotkey(cfg.WalletName, cfg.WalletHotkey, mnemonic)
	if err != nil {
		return err
	}
	fmt.Printf("Created hotkey %q\n  address: %s\n", cfg.WalletHotkey, hkAddr)
	if *hotkeyOnly {
		fmt.Printf("\nMnemonic (write it down, it is shown once):\n  %s\n", mnemonic)
	}
	return nil
}

func cmdWalletRegen(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("wallet regen", flag.ContinueOnError)
	g := registerGlobal(fs)
	mnemonic := fs.String("mnemonic", "", "24-word mnemonic to regenerate from (required)")
	hotkeyOnly := fs.Bool("hotkey-only", false, "regenerate a hotkey instead of the coldkey")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	if *mnemonic == "" {
		return fmt.Errorf("wallet regen: --mnemonic is required")
	}
	if !wallet.ValidateMnemonic(*mnemonic) {
		return fmt.Errorf("wallet regen: invalid mnemonic")
	}
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}

	if *hotkeyOnly {
		addr, err := ks.CreateHotkey(cfg.WalletName, cfg.WalletHotkey, *mnemonic)
		if err != nil {
			return err
		}
		fmt.Printf("Regenerated hotkey %q\n  address: %s\n", cfg.WalletHotkey, addr)
		return nil
	}

	password, err := promptNewPassword()
	if err != nil {
		return err
	}
	addr, err := ks.CreateColdkey(cfg.WalletName, *mnemonic, password)
	if err != nil {
		return err
	}
	fmt.Printf("Regenerated wallet %q\n  coldkey: %s\n", cfg.WalletName, addr)
	return nil
}

func cmdWalletList(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("wallet list", flag.ContinueOnError)
	g := registerGlobal(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}
	wallets, err := ks.Wallets()
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		fmt.Println("No wallets found.")
		return nil
	}
	for _, w := range wallets {
		addr, err := ks.Address(domain.ColdkeyRef(w))
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", w, addr)
		hotkeys, err := ks.Hotkeys(w)
		if err != nil {
			return err
		}
		for _, hk := range hotkeys {
			hkAddr, err := ks.Address(domain.HotkeyRef(w, hk))
			if err != nil {
				return err
			}
			fmt.Printf("  %s  %s\n", hk, hkAddr)
		}
	}
	return nil
}

func cmdBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	g := registerGlobal(fs)
	addressFlag := fs.String("address", "", "query a raw address instead of the configured wallet")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	logger := g.logger(cfg)

	var addr domain.Address
	if *addressFlag != "" {
		addr, err = domain.ParseAddress(*addressFlag)
		if err != nil {
			return err
		}
	} else {
		ks, err := newKeystore(cfg)
		if err != nil {
			return err
		}
		addr, err = ks.Address(domain.ColdkeyRef(cfg.WalletName))
		if err != nil {
			return err
		}
	}

	client, err := newChainClient(cfg, nil, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	state, err := client.GetAccountState(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Printf("Address: %s\n  free:   %s TAO\n  staked: %s TAO\n  nonce:  %d\n",
		state.Address, state.Free, state.Staked, state.Nonce)
	return nil
}

func cmdTransfer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	g := registerGlobal(fs)
	dest := fs.String("dest", "", "destination address (required)")
	amountStr := fs.String("amount", "", "amount in TAO (required)")
	allowDeath := fs.Bool("allow-death", false, "allow the transfer to drop the account below the existential deposit")
	waitFlag := fs.String("wait", "finalized", "wait for: none, inblock, finalized")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	wait, err := parseWait(*waitFlag)
	if err != nil {
		return err
	}
	if *dest == "" || *amountStr == "" {
		return fmt.Errorf("transfer: --dest and --amount are required")
	}
	destAddr, err := domain.ParseAddress(*dest)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	amount, err := domain.BalanceFromTaoString(*amountStr)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	logger := g.logger(cfg)
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}
	signer := wallet.NewSigner(ks, promptPassword)
	client, err := newChainClient(cfg, signer, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	coldkey := domain.ColdkeyRef(cfg.WalletName)
	source, err := signer.Address(coldkey)
	if err != nil {
		return err
	}
	state, err := client.GetAccountState(ctx, source)
	if err != nil {
		return err
	}
	if state.Free.Rao() < amount.Rao() {
		return fmt.Errorf("transfer: balance %s TAO is less than amount %s TAO", state.Free, amount)
	}
	remaining := state.Free.Rao() - amount.Rao()
	if remaining < existentialDepositRao && !*allowDeath {
		return fmt.Errorf("transfer would leave %d rao, below the existential deposit; pass --allow-death to proceed", remaining)
	}

	fmt.Printf("Transferring %s TAO\n  from: %s\n  to:   %s\n", amount, source, destAddr)
	call := domain.NewCall("Balances", "transfer",
		domain.Arg("dest", "accountid", destAddr),
		domain.Arg("amount", "u64", amount.Rao()),
	)
	return submitAndReport(ctx, client, call, coldkey, wait)
}

func cmdStake(ctx context.Context, args []string, add bool) error {
	name := "stake remove"
	if add {
		name = "stake add"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	g := registerGlobal(fs)
	amountStr := fs.String("amount", "", "amount in TAO (required)")
	waitFlag := fs.String("wait", "finalized", "wait for: none, inblock, finalized")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	wait, err := parseWait(*waitFlag)
	if err != nil {
		return err
	}
	if *amountStr == "" {
		return fmt.Errorf("%s: --amount is required", name)
	}
	amount, err := domain.BalanceFromTaoString(*amountStr)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	logger := g.logger(cfg)
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}
	signer := wallet.NewSigner(ks, promptPassword)
	client, err := newChainClient(cfg, signer, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	hotkeyAddr, err := ks.Address(domain.HotkeyRef(cfg.WalletName, cfg.WalletHotkey))
	if err != nil {
		return err
	}
	function := "remove_stake"
	if add {
		function = "add_stake"
	}
	fmt.Printf("%s: %s TAO on hotkey %s\n", name, amount, hotkeyAddr)
	call := domain.NewCall("SubtensorModule", function,
		domain.Arg("hotkey", "accountid", hotkeyAddr),
		domain.Arg("amount", "u64", amount.Rao()),
	)
	// Staking moves coldkey funds, so the coldkey signs.
	return submitAndReport(ctx, client, call, domain.ColdkeyRef(cfg.WalletName), wait)
}

func cmdRegister(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	g := registerGlobal(fs)
	netuid := fs.Uint("netuid", 0, "subnet to register on (required)")
	waitFlag := fs.String("wait", "finalized", "wait for: none, inblock, finalized")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	wait, err := parseWait(*waitFlag)
	if err != nil {
		return err
	}
	if *netuid > math.MaxUint16 {
		return fmt.Errorf("register: netuid %d out of range", *netuid)
	}

	logger := g.logger(cfg)
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}
	signer := wallet.NewSigner(ks, promptPassword)
	client, err := newChainClient(cfg, signer, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	hotkeyAddr, err := ks.Address(domain.HotkeyRef(cfg.WalletName, cfg.WalletHotkey))
	if err != nil {
		return err
	}
	fmt.Printf("Registering hotkey %s on subnet %d\n", hotkeyAddr, *netuid)
	call := domain.NewCall("SubtensorModule", "burned_register",
		domain.Arg("netuid", "u16", uint16(*netuid)),
		domain.Arg("hotkey", "accountid", hotkeyAddr),
	)
	return submitAndReport(ctx, client, call, domain.ColdkeyRef(cfg.WalletName), wait)
}

func cmdWeightsSet(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("weights set", flag.ContinueOnError)
	g := registerGlobal(fs)
	netuid := fs.Uint("netuid", 0, "subnet to set weights on (required)")
	uidsStr := fs.String("uids", "", "comma-separated neuron UIDs (required)")
	weightsStr := fs.String("weights", "", "comma-separated weights, normalized to the largest (required)")
	waitFlag := fs.String("wait", "finalized", "wait for: none, inblock, finalized")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	wait, err := parseWait(*waitFlag)
	if err != nil {
		return err
	}
	if *netuid > math.MaxUint16 {
		return fmt.Errorf("weights set: netuid %d out of range", *netuid)
	}
	entries, err := parseWeights(*uidsStr, *weightsStr)
	if err != nil {
		return fmt.Errorf("weights set: %w", err)
	}

	logger := g.logger(cfg)
	ks, err := newKeystore(cfg)
	if err != nil {
		return err
	}
	signer := wallet.NewSigner(ks, promptPassword)
	client, err := newChainClient(cfg, signer, nil, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Setting %d weights on subnet %d\n", len(entries), *netuid)
	call := domain.NewCall("SubtensorModule", "set_weights",
		domain.Arg("netuid", "u16", uint16(*netuid)),
		domain.Arg("weights", "vec<WeightEntry>", entries),
	)
	// Weights express the hotkey's scoring, so the hotkey signs.
	return submitAndReport(ctx, client, call, domain.HotkeyRef(cfg.WalletName, cfg.WalletHotkey), wait)
}

// parseWeights turns --uids/--weights into WeightEntry values. Input
// weights are scaled so the largest maps to the full u16 range; the
// integer entries are what gets signed and sent.
func parseWeights(uidsStr, weightsStr string) ([]any, error) {
	if uidsStr == "" || weightsStr == "" {
		return nil, fmt.Errorf("--uids and --weights are required")
	}
	uidParts := strings.Split(uidsStr, ",")
	weightParts := strings.Split(weightsStr, ",")
	if len(uidParts) != len(weightParts) {
		return nil, fmt.Errorf("got %d uids but %d weights", len(uidParts), len(weightParts))
	}

	uids := make([]uint16, len(uidParts))
	raw := make([]float64, len(weightParts))
	seen := make(map[uint16]bool, len(uidParts))
	var maxWeight float64
	for i := range uidParts {
		u, err := strconv.ParseUint(strings.TrimSpace(uidParts[i]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("uid %q: %w", uidParts[i], err)
		}
		if seen[uint16(u)] {
			return nil, fmt.Errorf("duplicate uid %d", u)
		}
		seen[uint16(u)] = true
		uids[i] = uint16(u)

		w, err := strconv.ParseFloat(strings.TrimSpace(weightParts[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("weight %q: %w", weightParts[i], err)
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight %q must be finite and non-negative", weightParts[i])
		}
		raw[i] = w
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		return nil, fmt.Errorf("at least one weight must be positive")
	}

	entries := make([]any, len(uids))
	for i := range uids {
		scaled := uint16(math.Round(raw[i] / maxWeight * float64(domain.U16Max)))
		entries[i] = map[string]any{
			"uid":    uids[i],
			"weight": scaled,
		}
	}
	return entries, nil
}

func cmdMetagraph(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("metagraph", flag.ContinueOnError)
	g := registerGlobal(fs)
	netuidStr := fs.String("netuid", "", "subnet(s) to inspect, comma-separated (required)")
	offline := fs.Bool("offline", false, "serve the latest archived snapshot without connecting")
	refresh := fs.Bool("refresh", false, "force a chain refresh, ignoring cached data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.resolve()
	if err != nil {
		return err
	}
	netuids, err := parseNetuids(*netuidStr)
	if err != nil {
		return fmt.Errorf("metagraph: %w", err)
	}
	logger := g.logger(cfg)

	archive, err := pebblestore.Open(cfg.ArchivePath)
	if err != nil {
		return fmt.Errorf("open snapshot archive: %w", err)
	}
	defer archive.Close()

	client, err := newChainClient(cfg, nil, archive, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	snaps := make([]*domain.MetagraphSnapshot, len(netuids))
	eg, ctx := errgroup.WithContext(ctx)
	for i, netuid := range netuids {
		i, netuid := i, netuid
		eg.Go(func() error {
			var err error
			if *offline {
				snaps[i], err = client.GetMetagraphOffline(ctx, netuid)
			} else {
				snaps[i], err = client.GetMetagraph(ctx, netuid, metagraph.GetOptions{ForceRefresh: *refresh})
			}
			if err != nil {
				return fmt.Errorf("subnet %d: %w", netuid, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, snap := range snaps {
		if i > 0 {
			fmt.Println()
		}
		printMetagraph(snap)
	}
	return nil
}

// parseNetuids parses the --netuid list, rejecting duplicates.
func parseNetuids(s string) ([]uint16, error) {
	if s == "" {
		return nil, fmt.Errorf("--netuid is required")
	}
	parts := strings.Split(s, ",")
	netuids := make([]uint16, 0, len(parts))
	seen := make(map[uint16]bool, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("netuid %q: %w", p, err)
		}
		if seen[uint16(n)] {
			return nil, fmt.Errorf("duplicate netuid %d", n)
		}
		seen[uint16(n)] = true
		netuids = append(netuids, uint16(n))
	}
	return netuids, nil
}

func printMetagraph(snap *domain.MetagraphSnapshot) {
	fmt.Printf("Subnet %d at block %d (%d neurons, %s TAO staked)\n",
		snap.NetUID, snap.BlockNumber, len(snap.Neurons), snap.TotalStake())
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tSTAKE\tRANK\tTRUST\tCONSENSUS\tINCENTIVE\tDIVIDENDS\tACTIVE\tHOTKEY")
	for _, n := range snap.Neurons {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
			n.UID, n.Stake, n.Rank, n.Trust, n.Consensus, n.Incentive, n.Dividends, n.Active, n.Hotkey)
	}
	w.Flush()
}

// submitAndReport drives a submission to its terminal state and prints
// the outcome.
func submitAndReport(ctx context.Context, client *chain.Client, call domain.Call, key domain.KeyRef, wait waitStatus) error {
	waitFor := domain.StatusPending
	switch wait {
	case waitInBlock:
		waitFor = domain.StatusInBlock
	case waitFinalized:
		waitFor = domain.StatusFinalized
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout(wait))
	defer cancel()

	res, err := client.Submit(ctx, call, key, waitFor, extrinsic.BuildOptions{})
	if err != nil {
		return err
	}
	switch res.Status {
	case domain.StatusFailed:
		detail := res.ErrorDetail
		if detail == "" {
			detail = "rejected by the chain"
		}
		return fmt.Errorf("submission failed: %s", detail)
	case domain.StatusDropped:
		return fmt.Errorf("extrinsic was dropped from the transaction pool; retry later")
	case domain.StatusUnknown:
		return fmt.Errorf("submission outcome unknown (connection lost after send); check the chain before retrying")
	}
	fmt.Printf("Status: %s", res.Status)
	if res.BlockHash != "" {
		fmt.Printf(" in block %s", res.BlockHash)
	}
	if res.Attempts > 1 {
		fmt.Printf(" (after %d attempts)", res.Attempts)
	}
	fmt.Println()
	return nil
}
