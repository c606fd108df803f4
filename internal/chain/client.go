// Package chain exposes the coarse operations the CLI calls: submit a
// signed call, read a metagraph, read account state. It owns the RPC
// session lifecycle: lazy connect on first use, one reconnect plus one
// retry when an operation finds the session down, explicit close.
package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"subnetctl/internal/codec"
	"subnetctl/internal/domain"
	"subnetctl/internal/extrinsic"
	"subnetctl/internal/metagraph"
	"subnetctl/internal/rpc"
	"subnetctl/internal/storage"
)

// RPC methods owned by the facade.
const (
	methodTypeRegistry   = "state_getTypeRegistry"
	methodRuntimeVersion = "state_getRuntimeVersion"
	methodGetBlockHash   = "chain_getBlockHash"
	methodGetHeader      = "chain_getHeader"
	methodAccountState   = "system_accountState"
	methodSubmitAndWatch = "author_submitAndWatchExtrinsic"
	methodUnwatch        = "author_unwatchExtrinsic"
)

// ErrSchemaMismatch is returned when a reconnected node reports a
// different chain-spec version than the one this client resolved at
// first connect. The command must be rerun against a fresh client.
var ErrSchemaMismatch = errors.New("chain-spec version changed across reconnect")

// Options configure a Client.
type Options struct {
	Endpoint string
	Session  rpc.Config
	Retry    extrinsic.RetryPolicy
	CacheTTL time.Duration
	NoCache  bool
	// Archive persists metagraph snapshots; nil disables.
	Archive storage.SnapshotArchive
	Signer  extrinsic.Signer
	Log     zerolog.Logger
}

// Client is the chain interaction facade. One Client owns one logical
// session; independent Clients (e.g. for different networks) coexist.
// Safe for concurrent use.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu          sync.Mutex
	session     *rpc.Session
	codec       *codec.Codec
	genesisHash []byte
	builder     *extrinsic.Builder
	submitter   *extrinsic.Submitter

	cacheOnce sync.Once
	cache     *metagraph.Cache
}

// NewClient creates a Client. No connection is made until first use.
func NewClient(opts Options) *Client {
	c := &Client{
		opts: opts,
		log:  opts.Log.With().Str("component", "chain").Logger(),
	}
	c.submitter = extrinsic.NewSubmitter(c, opts.Retry, opts.Log)
	return c
}

// metagraphCache lazily builds the cache; its fetcher reads through
// the client so cache refreshes get reconnect-on-demand too.
func (c *Client) metagraphCache() *metagraph.Cache {
	c.cacheOnce.Do(func() {
		c.cache = metagraph.NewCache(fetcherFunc(func(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
			cd, err := c.currentCodec(ctx)
			if err != nil {
				return nil, err
			}
			return metagraph.NewFetcher(c, cd).Fetch(ctx, netuid)
		}), c.opts.Archive, c.opts.CacheTTL, c.opts.NoCache, c.opts.Log)
	})
	return c.cache
}

type fetcherFunc func(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	return f(ctx, netuid)
}

// Submit builds, signs and submits a call, waiting for waitFor.
func (c *Client) Submit(ctx context.Context, call domain.Call, key domain.KeyRef, waitFor domain.SubmissionStatus, opts extrinsic.BuildOptions) (domain.SubmissionResult, error) {
	builder, err := c.currentBuilder(ctx)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	ext, err := builder.Build(ctx, call, key, opts)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	c.log.Debug().Str("call", call.Module+"."+call.Function).Str("hash", ext.Hash()).Msg("submitting extrinsic")
	return c.submitter.Submit(ctx, ext, waitFor)
}

// GetMetagraph returns the subnet snapshot per the cache policy.
func (c *Client) GetMetagraph(ctx context.Context, netuid uint16, opts metagraph.GetOptions) (*domain.MetagraphSnapshot, error) {
	return c.metagraphCache().Get(ctx, netuid, opts)
}

// GetMetagraphOffline serves the latest archived snapshot without a
// chain round trip.
func (c *Client) GetMetagraphOffline(ctx context.Context, netuid uint16) (*domain.MetagraphSnapshot, error) {
	return c.metagraphCache().Offline(ctx, netuid)
}

// GetAccountState reads nonce and balances for an address at the head.
func (c *Client) GetAccountState(ctx context.Context, addr domain.Address) (*domain.AccountState, error) {
	cd, err := c.currentCodec(ctx)
	if err != nil {
		return nil, err
	}
	var encoded string
	if err := c.Call(ctx, methodAccountState, []any{addr.String()}, &encoded); err != nil {
		return nil, fmt.Errorf("account state %s: %w", addr, err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("account state %s: decode hex: %w", addr, err)
	}
	value, err := cd.Decode("AccountInfo", raw)
	if err != nil {
		return nil, fmt.Errorf("account state %s: %w", addr, err)
	}
	fields := value.(map[string]any)
	state := &domain.AccountState{Address: addr}
	if v, ok := fields["nonce"].(uint32); ok {
		state.Nonce = v
	}
	if v, ok := fields["free"].(uint64); ok {
		state.Free = domain.Balance(v)
	}
	if v, ok := fields["staked"].(uint64); ok {
		state.Staked = domain.Balance(v)
	}
	return state, nil
}

// GetBlock returns the current head block header.
func (c *Client) GetBlock(ctx context.Context) (*domain.BlockHeader, error) {
	var header struct {
		Number     string `json:"number"`
		ParentHash string `json:"parentHash"`
	}
	if err := c.Call(ctx, methodGetHeader, nil, &header); err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	number, err := rpc.ParseHexNumber(header.Number)
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	var hash string
	if err := c.Call(ctx, methodGetBlockHash, []any{number}, &hash); err != nil {
		return nil, fmt.Errorf("get block hash: %w", err)
	}
	return &domain.BlockHeader{Number: number, Hash: hash, ParentHash: header.ParentHash}, nil
}

// Call issues one RPC call with reconnect-on-demand: a call that finds
// the session disconnected triggers exactly one reconnect attempt and
// one retry before the failure surfaces.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	err = s.Call(ctx, method, params, result)
	if !errors.Is(err, rpc.ErrDisconnected) {
		return err
	}
	s2, rerr := c.reconnect(ctx, s)
	if rerr != nil {
		return err
	}
	return s2.Call(ctx, method, params, result)
}

// SubmitAndWatch opens a submit-and-watch subscription, reconnecting
// once on demand. A successful return means the node accepted the
// extrinsic.
func (c *Client) SubmitAndWatch(ctx context.Context, extrinsicHex string) (extrinsic.Watch, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := s.Subscribe(ctx, methodSubmitAndWatch, []any{extrinsicHex}, methodUnwatch)
	if err == nil || !errors.Is(err, rpc.ErrDisconnected) {
		return sub, err
	}
	s2, rerr := c.reconnect(ctx, s)
	if rerr != nil {
		return nil, err
	}
	return s2.Subscribe(ctx, methodSubmitAndWatch, []any{extrinsicHex}, methodUnwatch)
}

// Close shuts the session down. The client may be reused; the next
// operation reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// ensureSession lazily connects on first use.
func (c *Client) ensureSession(ctx context.Context) (*rpc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.Alive() {
		return c.session, nil
	}
	return c.connectLocked(ctx)
}

// reconnect replaces a dead session with a fresh one, at most once per
// failed operation. Concurrent callers that lost the same session
// share the replacement.
func (c *Client) reconnect(ctx context.Context, old *rpc.Session) (*rpc.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session != old && c.session.Alive() {
		return c.session, nil
	}
	c.log.Info().Str("endpoint", c.opts.Endpoint).Msg("reconnecting")
	return c.connectLocked(ctx)
}

// connectLocked dials and resolves the connection-scoped schema.
// Callers hold c.mu.
func (c *Client) connectLocked(ctx context.Context) (*rpc.Session, error) {
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	s, err := rpc.Connect(ctx, c.opts.Endpoint, c.opts.Session, c.opts.Log)
	if err != nil {
		return nil, err
	}

	cd, err := resolveSchema(ctx, s)
	if err != nil {
		s.Close()
		return nil, err
	}
	if c.codec != nil && c.codec.SpecVersion() != cd.SpecVersion() {
		// A schema swap mid-invocation would invalidate cached nonces
		// and any encoding in flight.
		s.Close()
		return nil, fmt.Errorf("%w: %d then %d", ErrSchemaMismatch, c.codec.SpecVersion(), cd.SpecVersion())
	}

	if c.genesisHash == nil {
		var genesis string
		if err := s.Call(ctx, methodGetBlockHash, []any{0}, &genesis); err != nil {
			s.Close()
			return nil, fmt.Errorf("fetch genesis hash: %w", err)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(genesis, "0x"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("decode genesis hash: %w", err)
		}
		c.genesisHash = raw
	}

	c.codec = cd
	if c.builder == nil {
		c.builder = extrinsic.NewBuilder(c, cd, c.opts.Signer, c.genesisHash)
	}
	c.session = s
	return s, nil
}

func (c *Client) currentCodec(ctx context.Context) (*codec.Codec, error) {
	if _, err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec, nil
}

func (c *Client) currentBuilder(ctx context.Context) (*extrinsic.Builder, error) {
	if _, err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builder, nil
}

// resolveSchema fetches the node's type registry, falling back to the
// builtin table (tagged with the node's spec version) on nodes that
// predate the registry RPC.
func resolveSchema(ctx context.Context, s *rpc.Session) (*codec.Codec, error) {
	var doc json.RawMessage
	err := s.Call(ctx, methodTypeRegistry, nil, &doc)
	if err == nil {
		schema, perr := codec.ParseSchema(doc)
		if perr != nil {
			return nil, perr
		}
		return codec.New(schema), nil
	}

	var remote *rpc.RemoteError
	if !errors.As(err, &remote) {
		return nil, fmt.Errorf("fetch type registry: %w", err)
	}
	var version struct {
		SpecVersion uint32 `json:"specVersion"`
	}
	if err := s.Call(ctx, methodRuntimeVersion, nil, &version); err != nil {
		return nil, fmt.Errorf("fetch runtime version: %w", err)
	}
	return codec.New(codec.NewSchema(version.SpecVersion, codec.BuiltinTypes())), nil
}
