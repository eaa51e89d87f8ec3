package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/metrics"
	"github.com/nspcc-dev/docstate/transition"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"go.uber.org/zap"
)

// DefaultWaitTimeout is a default limit of waiting for the transition result.
const DefaultWaitTimeout = 2 * time.Minute

// QuorumVerifier checks quorum signatures of the transition results.
type QuorumVerifier interface {
	VerifyQuorumSignature(ctx context.Context, quorumHash util.Uint256, data, sig []byte) error
}

// Confirmation describes accepted state transition.
type Confirmation struct {
	// Submission trace identifier, see logs.
	TraceID uuid.UUID

	Hash            util.Uint256
	BlockHeight     uint64
	CoreBlockHeight uint32

	// Time from broadcast to the confirmation.
	Elapsed time.Duration
}

// SubmitterPrm groups parameters of the Submitter.
type SubmitterPrm struct {
	// Writes progress into the log.
	Logger *zap.Logger

	// Platform to submit transitions to.
	Platform Platform

	// Optional transition metrics.
	Metrics *metrics.Metrics

	// Optional verifier of the result quorum signatures. Results without
	// signature are rejected when set.
	Verifier QuorumVerifier

	// Limit of waiting for the result after successful broadcast. Zero means
	// [DefaultWaitTimeout].
	WaitTimeout time.Duration
}

// Submitter signs, broadcasts and tracks state transitions. Submitter never
// retries: it is up to the caller to decide after re-querying the document.
// Submitter is safe for concurrent use.
type Submitter struct {
	log         *zap.Logger
	platform    Platform
	metrics     *metrics.Metrics
	verifier    QuorumVerifier
	waitTimeout time.Duration
}

// NewSubmitter constructs Submitter from the given parameters.
func NewSubmitter(prm SubmitterPrm) *Submitter {
	res := &Submitter{
		log:         prm.Logger,
		platform:    prm.Platform,
		metrics:     prm.Metrics,
		verifier:    prm.Verifier,
		waitTimeout: prm.WaitTimeout,
	}

	if res.log == nil {
		res.log = zap.NewNop()
	}

	if res.waitTimeout <= 0 {
		res.waitTimeout = DefaultWaitTimeout
	}

	return res
}

// SubmitAndAwait signs the transition by the key, broadcasts it and blocks
// until the platform executes or rejects it. On acceptance, resulting document
// is returned. Otherwise error is one of:
//   - [RejectedError] if platform rejected the transition;
//   - [NetworkError] on transport failure or result timeout;
//   - [ErrOutcomeUnknown] if ctx is done before the outcome is known;
//   - signing errors like [identity.ErrMissingPrivateKey].
func (x *Submitter) SubmitAndAwait(ctx context.Context, st *transition.StateTransition, key *identity.PublicKey, signer identity.Signer) (*document.Document, *Confirmation, error) {
	err := st.Sign(key, signer)
	if err != nil {
		return nil, nil, err
	}

	b, err := st.Bytes()
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s transition: %w", st.Kind, err)
	}

	stHash, err := st.Hash()
	if err != nil {
		return nil, nil, fmt.Errorf("calculate %s transition hash: %w", st.Kind, err)
	}

	kind := st.Kind.String()
	traceID := uuid.New()
	l := x.log.With(
		zap.Stringer("trace", traceID),
		zap.Stringer("kind", st.Kind),
		zap.Stringer("document", st.DocumentID),
		zap.Uint64("revision", st.Revision),
		zap.Stringer("hash", stHash),
	)

	l.Info("broadcasting state transition...")

	err = x.platform.BroadcastStateTransition(ctx, b)
	if err != nil {
		err = x.classify(ctx, kind, "broadcast", false, err)
		l.Info("state transition broadcast failed", zap.Error(err))
		return nil, nil, err
	}

	x.metrics.IncrementSubmitted(kind)

	start := time.Now()

	l.Debug("state transition broadcast, waiting for the result...")

	waitCtx, cancel := context.WithTimeout(ctx, x.waitTimeout)
	defer cancel()

	res, err := x.platform.WaitForStateTransitionResult(waitCtx, stHash)
	if err != nil {
		err = x.classify(ctx, kind, "wait for result", true, err)
		l.Info("state transition failed", zap.Error(err))
		return nil, nil, err
	}

	if res.Document == nil {
		return nil, nil, &NetworkError{Op: "wait for result", Err: errors.New("missing document in the result"), Delivered: true}
	}

	if x.verifier != nil {
		err = x.verifier.VerifyQuorumSignature(ctx, res.QuorumHash,
			QuorumSignedData(stHash, res.BlockHeight, res.CoreBlockHeight), res.QuorumSignature)
		if err != nil {
			return nil, nil, fmt.Errorf("verify quorum signature of the %s transition result: %w", st.Kind, err)
		}
	}

	elapsed := time.Since(start)

	x.metrics.ObserveConfirmed(kind, start)

	l.Info("state transition confirmed",
		zap.Uint64("height", res.BlockHeight),
		zap.Uint32("core height", res.CoreBlockHeight),
		zap.Duration("elapsed", elapsed))

	return res.Document, &Confirmation{
		TraceID:         traceID,
		Hash:            stHash,
		BlockHeight:     res.BlockHeight,
		CoreBlockHeight: res.CoreBlockHeight,
		Elapsed:         elapsed,
	}, nil
}

func (x *Submitter) classify(ctx context.Context, kind, op string, delivered bool, err error) error {
	var re *RejectedError
	if errors.As(err, &re) {
		x.metrics.IncrementRejected(kind, string(re.Reason))
		return err
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrOutcomeUnknown, ctxErr)
	}

	x.metrics.IncrementNetworkErrors(kind)

	var ne *NetworkError
	if errors.As(err, &ne) {
		if delivered && !ne.Delivered {
			return &NetworkError{Op: ne.Op, Err: ne.Err, Delivered: true}
		}
		return err
	}

	return &NetworkError{Op: op, Err: err, Delivered: delivered}
}
