package extrinsic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"subnetctl/internal/domain"
	"subnetctl/internal/rpc"
)

// Watch is a stream of status events for one submitted extrinsic.
type Watch interface {
	// Events yields raw status payloads until cancelled or the
	// connection drops, after which the channel closes.
	Events() <-chan json.RawMessage
	// Unsubscribe stops local observation. It retracts nothing from
	// the chain.
	Unsubscribe(ctx context.Context) error
}

// WatchSession is the submit-side RPC surface.
type WatchSession interface {
	// SubmitAndWatch submits the hex-encoded extrinsic and opens a
	// status subscription. A successful return means the node has
	// accepted the extrinsic into its pool.
	SubmitAndWatch(ctx context.Context, extrinsicHex string) (Watch, error)
}

// RetryPolicy bounds pre-acceptance resubmission.
type RetryPolicy struct {
	// MaxAttempts is the total number of submission attempts.
	MaxAttempts int
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns the default submission retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Submitter submits extrinsics and tracks their status. Network-level
// failures before the node acknowledges acceptance are retried with
// jittered exponential backoff by resubmitting the identical signed
// bytes; the chain rejects duplicates as already-known rather than
// applying them twice. Once acknowledged, no retry ever happens.
type Submitter struct {
	session WatchSession
	policy  RetryPolicy
	log     zerolog.Logger

	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSubmitter creates a Submitter over the given session.
func NewSubmitter(session WatchSession, policy RetryPolicy, log zerolog.Logger) *Submitter {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Submitter{
		session: session,
		policy:  policy,
		log:     log.With().Str("component", "submitter").Logger(),
		sleep:   sleepCtx,
	}
}

// Submit sends the extrinsic and waits until its status reaches
// waitFor (Pending, InBlock, or Finalized) or a terminal state.
//
// The returned result is authoritative: chain rejections surface as
// StatusFailed with the remote detail, an unobservable outcome as
// StatusUnknown. The error return is reserved for local failures and
// caller cancellation.
func (s *Submitter) Submit(ctx context.Context, ext *Extrinsic, waitFor domain.SubmissionStatus) (domain.SubmissionResult, error) {
	res := domain.SubmissionResult{Status: domain.StatusPending}
	delay := s.policy.BaseDelay

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		watch, err := s.session.SubmitAndWatch(ctx, ext.Hex())
		if err != nil {
			var remote *rpc.RemoteError
			switch {
			case errors.As(err, &remote):
				// Pool admission rejected the call (bad nonce,
				// insufficient balance). Never retried.
				res.Status = domain.StatusFailed
				res.ErrorDetail = remote.Error()
				return res, nil
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return res, err
			case rpc.IsTransient(err):
				if attempt >= s.policy.MaxAttempts {
					// Exhausted. A timed-out submit may still have
					// landed; report Unknown, never coerce.
					res.Status = domain.StatusUnknown
					res.ErrorDetail = err.Error()
					return res, nil
				}
				s.log.Warn().Err(err).Int("attempt", attempt).Msg("submit failed, backing off")
				if serr := s.sleep(ctx, jitter(delay)); serr != nil {
					return res, serr
				}
				delay = min(delay*2, s.policy.MaxDelay)
				continue
			default:
				return res, fmt.Errorf("submit: %w", err)
			}
		}

		// The node has acknowledged the extrinsic. From here on the
		// only legitimate outcomes come from the watch stream.
		if waitFor == domain.StatusPending {
			watch.Unsubscribe(ctx)
			return res, nil
		}
		return s.track(ctx, watch, res, waitFor)
	}
}

// track consumes status events until waitFor or a terminal state is
// reached. Status transitions apply in causal order and never regress.
func (s *Submitter) track(ctx context.Context, watch Watch, res domain.SubmissionResult, waitFor domain.SubmissionStatus) (domain.SubmissionResult, error) {
	for {
		select {
		case raw, ok := <-watch.Events():
			if !ok {
				// Stream ended (disconnect) before the requested
				// level. Post-acceptance, so no resubmission: the
				// outcome is unknown.
				if !res.Status.Terminal() {
					res.Status = domain.StatusUnknown
					res.ErrorDetail = "status stream ended before " + waitFor.String()
				}
				return res, nil
			}
			ev, err := decodeStatus(raw)
			if err != nil {
				s.log.Warn().Err(err).Msg("skipping unrecognized status event")
				continue
			}
			if res.Status.CanTransition(ev.status) {
				res.Status = ev.status
				if ev.blockHash != "" {
					res.BlockHash = ev.blockHash
				}
				if ev.detail != "" {
					res.ErrorDetail = ev.detail
				}
			}
			if res.Status.Terminal() || reached(res.Status, waitFor) {
				watch.Unsubscribe(ctx)
				return res, nil
			}
		case <-ctx.Done():
			// Cancellation stops observation only; the extrinsic is
			// already with the chain.
			watch.Unsubscribe(context.WithoutCancel(ctx))
			return res, ctx.Err()
		}
	}
}

// statusEvent is one decoded watch notification.
type statusEvent struct {
	status    domain.SubmissionStatus
	blockHash string
	detail    string
}

// decodeStatus parses a watch payload: either the bare string "ready"
// or a single-key object such as {"inBlock": "0x.."}.
func decodeStatus(raw json.RawMessage) (statusEvent, error) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		switch tag {
		case "ready", "broadcast":
			return statusEvent{status: domain.StatusPending}, nil
		case "dropped":
			return statusEvent{status: domain.StatusDropped}, nil
		}
		return statusEvent{}, fmt.Errorf("unknown status %q", tag)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return statusEvent{}, fmt.Errorf("parse status event: %w", err)
	}
	for key, val := range obj {
		var str string
		json.Unmarshal(val, &str)
		switch key {
		case "ready", "broadcast":
			return statusEvent{status: domain.StatusPending}, nil
		case "inBlock":
			return statusEvent{status: domain.StatusInBlock, blockHash: str}, nil
		case "finalized":
			return statusEvent{status: domain.StatusFinalized, blockHash: str}, nil
		case "dropped":
			return statusEvent{status: domain.StatusDropped, detail: str}, nil
		case "invalid", "error":
			return statusEvent{status: domain.StatusFailed, detail: str}, nil
		}
	}
	return statusEvent{}, fmt.Errorf("unknown status event %s", string(raw))
}

// reached reports whether st satisfies the caller's wait level.
func reached(st, want domain.SubmissionStatus) bool {
	switch want {
	case domain.StatusPending:
		return true
	case domain.StatusInBlock:
		return st == domain.StatusInBlock || st == domain.StatusFinalized
	case domain.StatusFinalized:
		return st == domain.StatusFinalized
	}
	return st.Terminal()
}

// jitter spreads a backoff delay over [d/2, d).
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
