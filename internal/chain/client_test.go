package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subnetctl/internal/codec"
	"subnetctl/internal/domain"
	"subnetctl/internal/extrinsic"
	"subnetctl/internal/rpc"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type rpcRequest struct {
	ID     uint64            `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func reply(c *websocket.Conn, id uint64, result any) {
	c.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func replyErr(c *websocket.Conn, id uint64, code int, message string) {
	c.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

// startMockNode serves connections; serve returns false to drop the
// connection after the current request.
func startMockNode(t *testing.T, serve func(c *websocket.Conn, req rpcRequest) bool) (string, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		conns.Add(1)
		for {
			var req rpcRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if !serve(c, req) {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http"), &conns
}

const genesisHex = "0x9100000000000000000000000000000000000000000000000000000000000000"

// serveCommon answers the connection-scoped handshake plus basic reads
// using the builtin schema fallback.
func serveCommon(c *websocket.Conn, req rpcRequest) bool {
	switch req.Method {
	case methodTypeRegistry:
		replyErr(c, req.ID, -32601, "Method not found")
	case methodRuntimeVersion:
		reply(c, req.ID, map[string]any{"specVersion": 3})
	case methodGetBlockHash:
		var n uint64
		if len(req.Params) > 0 {
			json.Unmarshal(req.Params[0], &n)
		}
		if n == 0 {
			reply(c, req.ID, genesisHex)
		} else {
			reply(c, req.ID, "0xabcd000000000000000000000000000000000000000000000000000000000000")
		}
	case methodGetHeader:
		reply(c, req.ID, map[string]any{"number": "0x64", "parentHash": "0x00"})
	default:
		replyErr(c, req.ID, -32601, "Method not found")
	}
	return true
}

func testOptions(endpoint string) Options {
	cfg := rpc.DefaultConfig()
	cfg.CallTimeout = 2 * time.Second
	return Options{
		Endpoint: endpoint,
		Session:  cfg,
		Retry:    extrinsic.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		CacheTTL: time.Minute,
		Log:      zerolog.Nop(),
	}
}

func TestClientLazyConnect(t *testing.T) {
	url, conns := startMockNode(t, serveCommon)

	client := NewClient(testOptions(url))
	defer client.Close()

	// Construction alone does not dial.
	assert.Equal(t, int32(0), conns.Load())

	header, err := client.GetBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), header.Number)
	assert.NotEmpty(t, header.Hash)
	assert.Equal(t, int32(1), conns.Load())

	// Subsequent operations reuse the session.
	_, err = client.GetBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), conns.Load())
}

func TestClientAccountStateWithRegistrySchema(t *testing.T) {
	cd := codec.New(codec.NewSchema(9, codec.BuiltinTypes()))
	encoded, err := cd.Encode("AccountInfo", map[string]any{
		"nonce": uint32(11), "free": uint64(5_000_000_000), "staked": uint64(1_000_000_000),
	})
	require.NoError(t, err)
	accountHex := "0x" + hex.EncodeToString(encoded)

	registry := map[string]any{"specVersion": 9, "types": codec.BuiltinTypes()}

	url, _ := startMockNode(t, func(c *websocket.Conn, req rpcRequest) bool {
		switch req.Method {
		case methodTypeRegistry:
			reply(c, req.ID, registry)
		case methodAccountState:
			reply(c, req.ID, accountHex)
		default:
			return serveCommon(c, req)
		}
		return true
	})

	client := NewClient(testOptions(url))
	defer client.Close()

	var addr domain.Address
	addr[0] = 1
	state, err := client.GetAccountState(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, addr, state.Address)
	assert.Equal(t, uint32(11), state.Nonce)
	assert.Equal(t, domain.Balance(5_000_000_000), state.Free)
	assert.Equal(t, domain.Balance(1_000_000_000), state.Staked)
}

func TestClientReconnectsOnceOnDemand(t *testing.T) {
	var served atomic.Int32
	url, conns := startMockNode(t, func(c *websocket.Conn, req rpcRequest) bool {
		if req.Method == methodGetHeader && served.Add(1) == 1 {
			// Drop the first data request mid-flight.
			return false
		}
		return serveCommon(c, req)
	})

	client := NewClient(testOptions(url))
	defer client.Close()

	// First GetBlock loses its connection, reconnects, and retries the
	// failed call on the fresh session.
	header, err := client.GetBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), header.Number)
	assert.Equal(t, int32(2), conns.Load())
}

func TestClientSubmitEndToEnd(t *testing.T) {
	url, _ := startMockNode(t, func(c *websocket.Conn, req rpcRequest) bool {
		switch req.Method {
		case "system_accountNextIndex":
			reply(c, req.ID, 4)
		case methodSubmitAndWatch:
			var extHex string
			json.Unmarshal(req.Params[0], &extHex)
			if !strings.HasPrefix(extHex, "0x84") {
				replyErr(c, req.ID, -32602, "not a signed extrinsic")
				return true
			}
			reply(c, req.ID, "watch-1")
			for _, ev := range []string{`"ready"`, `{"inBlock":"0xb1"}`, `{"finalized":"0xb1"}`} {
				c.WriteJSON(map[string]any{
					"jsonrpc": "2.0",
					"method":  "author_extrinsicUpdate",
					"params":  map[string]any{"subscription": "watch-1", "result": json.RawMessage(ev)},
				})
			}
		case methodUnwatch:
			reply(c, req.ID, true)
		default:
			return serveCommon(c, req)
		}
		return true
	})

	opts := testOptions(url)
	opts.Signer = stubSigner{}
	client := NewClient(opts)
	defer client.Close()

	var dest domain.Address
	dest[3] = 9
	call := domain.NewCall("Balances", "transfer",
		domain.Arg("dest", "accountid", dest),
		domain.Arg("amount", "u64", uint64(1000)),
	)

	res, err := client.Submit(context.Background(), call, domain.ColdkeyRef("w"), domain.StatusFinalized, extrinsic.BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinalized, res.Status)
	assert.Equal(t, "0xb1", res.BlockHash)
	assert.Equal(t, 1, res.Attempts)
}

func TestClientCloseThenReuse(t *testing.T) {
	url, conns := startMockNode(t, serveCommon)

	client := NewClient(testOptions(url))
	_, err := client.GetBlock(context.Background())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	// A closed client may be used again; it dials a fresh session.
	_, err = client.GetBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), conns.Load())
	require.NoError(t, client.Close())
}

// stubSigner signs with a fixed pseudo-signature.
type stubSigner struct{}

func (stubSigner) Address(domain.KeyRef) (domain.Address, error) {
	var a domain.Address
	a[0] = 0xaa
	return a, nil
}

func (stubSigner) Sign(_ context.Context, _ domain.KeyRef, _ []byte) ([]byte, error) {
	return make([]byte, 64), nil
}
