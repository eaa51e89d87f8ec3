/*
Package lifecycle drives documents through their state transitions.

[Controller] creates documents, puts them on sale and purchases them. Every
operation validates its input and selects a signing key before touching the
network, then submits a single transition and waits for its outcome. Only
transport failures are retried: before resubmission the document is queried
back so that a transition executed despite the failure is never repeated.

Controller allows single transition of the document at a time, transitions of
different documents may run concurrently.
*/
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/metrics"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/docstate/transition"
	"go.uber.org/zap"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = time.Second
)

var (
	// ErrTransitionInProgress is returned on attempt to start transition of
	// the document while another one is not finished.
	ErrTransitionInProgress = errors.New("another transition of the document is in progress")

	// ErrNotConfirmed is returned on attempt to mutate document which has
	// never been confirmed by the platform.
	ErrNotConfirmed = fmt.Errorf("%w: document is not confirmed", schema.ErrValidation)

	// ErrStaleDocument is returned on attempt to mutate document older than
	// its last confirmed state.
	ErrStaleDocument = fmt.Errorf("%w: document is outdated", schema.ErrValidation)

	// ErrUnresolvedTransition is returned on attempt to mutate document whose
	// latest transition ended with unknown outcome. The document must be
	// fetched first.
	ErrUnresolvedTransition = fmt.Errorf("%w: latest transition of the document must be resolved by fetch", platform.ErrOutcomeUnknown)

	// ErrNotOwner is returned on attempt to set price of another's document.
	ErrNotOwner = fmt.Errorf("%w: identity does not own the document", schema.ErrValidation)
)

// KeyRequirements restrict identity keys allowed to sign transitions.
type KeyRequirements struct {
	Purpose        identity.Purpose
	SecurityLevels []identity.SecurityLevel
	KeyTypes       []identity.KeyType
}

// DefaultKeyRequirements returns requirements of the high level
// authentication key of ECDSA_SECP256K1 or BLS12_381 type.
func DefaultKeyRequirements() KeyRequirements {
	return KeyRequirements{
		Purpose:        identity.PurposeAuthentication,
		SecurityLevels: []identity.SecurityLevel{identity.SecurityLevelHigh},
		KeyTypes:       []identity.KeyType{identity.KeyTypeECDSASecp256k1, identity.KeyTypeBLS12381},
	}
}

// Prm groups parameters of the Controller.
type Prm struct {
	// Writes progress into the log.
	Logger *zap.Logger

	// Platform to submit transitions to.
	Platform platform.Platform

	// Signs transitions by the selected identity keys.
	Signer identity.Signer

	// Builds documents and their mutations.
	Builder document.Builder

	// Requirements of the signing keys. Zero value means
	// DefaultKeyRequirements.
	Keys KeyRequirements

	// Current time source. Defaults to time.Now.
	Clock func() time.Time

	// Optional transition metrics.
	Metrics *metrics.Metrics

	// Optional verifier of the quorum signatures.
	Verifier platform.QuorumVerifier

	// Limit of waiting for the single transition result.
	WaitTimeout time.Duration

	// Maximum number of submissions of the single transition including the
	// first one. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	// Initial delay between the submissions. Defaults to
	// DefaultRetryInterval.
	RetryInterval time.Duration
}

// Controller manages document lifecycles. Controller is safe for concurrent
// use.
type Controller struct {
	log           *zap.Logger
	platform      platform.Platform
	signer        identity.Signer
	builder       document.Builder
	keys          KeyRequirements
	clock         func() time.Time
	submitter     *platform.Submitter
	maxAttempts   int
	retryInterval time.Duration
	tracker       *Tracker
}

// New constructs Controller from the given parameters.
func New(prm Prm) *Controller {
	res := &Controller{
		log:           prm.Logger,
		platform:      prm.Platform,
		signer:        prm.Signer,
		builder:       prm.Builder,
		keys:          prm.Keys,
		clock:         prm.Clock,
		maxAttempts:   prm.MaxAttempts,
		retryInterval: prm.RetryInterval,
		tracker:       newTracker(),
	}

	if res.log == nil {
		res.log = zap.NewNop()
	}

	if res.keys.SecurityLevels == nil && res.keys.KeyTypes == nil {
		res.keys = DefaultKeyRequirements()
	}

	if res.clock == nil {
		res.clock = time.Now
	}

	if res.maxAttempts <= 0 {
		res.maxAttempts = DefaultMaxAttempts
	}

	if res.retryInterval <= 0 {
		res.retryInterval = DefaultRetryInterval
	}

	res.submitter = platform.NewSubmitter(platform.SubmitterPrm{
		Logger:      res.log,
		Platform:    prm.Platform,
		Metrics:     prm.Metrics,
		Verifier:    prm.Verifier,
		WaitTimeout: prm.WaitTimeout,
	})

	return res
}

// Tracker returns states of the documents processed by the Controller.
func (x *Controller) Tracker() *Tracker {
	return x.tracker
}

// DocumentType fetches data contract and returns its document type.
func (x *Controller) DocumentType(ctx context.Context, contract identifier.ID, name string) (*schema.DocumentType, error) {
	c, err := x.platform.FetchDataContract(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("fetch data contract %s: %w", contract, err)
	}

	return c.DocumentType(name)
}

// Fetch returns the latest confirmed state of the document.
func (x *Controller) Fetch(ctx context.Context, contract identifier.ID, typeName string, id identifier.ID) (*document.Document, error) {
	doc, err := x.platform.FetchDocument(ctx, contract, typeName, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", id, err)
	}

	x.tracker.observe(doc)

	return doc, nil
}

// Create builds new document of the given type owned by the identity and
// publishes it. Returns confirmed document.
func (x *Controller) Create(ctx context.Context, typ *schema.DocumentType, owner *identity.Identity, props map[string]any) (*document.Document, error) {
	key, err := x.selectKey(owner)
	if err != nil {
		return nil, err
	}

	doc, entropy, err := x.builder.Build(typ, owner.ID, props, x.clock())
	if err != nil {
		return nil, fmt.Errorf("build %s document: %w", typ.Name, err)
	}

	x.tracker.acquire(doc.ID, transition.KindCreate, nil)

	res, err := x.retry(ctx, transition.KindCreate, func(attempt int) (*document.Document, error) {
		if attempt > 0 {
			found, err := x.platform.FetchDocument(ctx, typ.ContractID, typ.Name, doc.ID)
			if err == nil {
				x.log.Info("document found after transport failure, considering it created",
					zap.Stringer("document", doc.ID))
				return found, nil
			}

			if !errors.Is(err, platform.ErrNotFound) {
				return nil, lookupFailure(err)
			}

			x.tracker.forget(doc.ID)

			doc, entropy, err = x.builder.Build(typ, owner.ID, props, x.clock())
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("rebuild %s document: %w", typ.Name, err))
			}

			x.tracker.acquire(doc.ID, transition.KindCreate, nil)
		}

		st, err := transition.NewCreate(typ, doc, entropy)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("make create transition: %w", err))
		}

		return x.submit(ctx, st, key)
	})

	x.finish(doc.ID, res, err)

	if err != nil {
		return nil, fmt.Errorf("create %s document: %w", typ.Name, err)
	}

	x.log.Info("document created", zap.String("type", typ.Name), zap.Stringer("document", res.ID))

	return res, nil
}

// UpdatePrice puts the confirmed document owned by the identity on sale for
// the given price in credits. Returns confirmed document.
func (x *Controller) UpdatePrice(ctx context.Context, typ *schema.DocumentType, owner *identity.Identity, doc *document.Document, price uint64) (*document.Document, error) {
	if doc.OwnerID != owner.ID {
		return nil, ErrNotOwner
	}

	key, err := x.selectKey(owner)
	if err != nil {
		return nil, err
	}

	err = x.checkConfirmed(doc)
	if err != nil {
		return nil, err
	}

	mutated, err := x.builder.WithPrice(typ, doc, price, x.clock())
	if err != nil {
		return nil, fmt.Errorf("set price of document %s: %w", doc.ID, err)
	}

	if !x.tracker.acquire(doc.ID, transition.KindUpdatePrice, doc) {
		return nil, ErrTransitionInProgress
	}

	res, err := x.retry(ctx, transition.KindUpdatePrice, func(attempt int) (*document.Document, error) {
		if attempt > 0 {
			found, err := x.reconcile(ctx, typ, mutated, func(found *document.Document) bool {
				p, ok := found.Price()
				return ok && p == price
			})
			if err != nil || found != nil {
				return found, err
			}

			mutated, err = x.builder.WithPrice(typ, doc, price, x.clock())
			if err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		st, err := transition.NewUpdatePrice(typ, mutated)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("make price update transition: %w", err))
		}

		return x.submit(ctx, st, key)
	})

	x.finish(doc.ID, res, err)

	if err != nil {
		return nil, fmt.Errorf("update price of document %s: %w", doc.ID, err)
	}

	x.log.Info("document price updated", zap.Stringer("document", doc.ID), zap.Uint64("price", price),
		zap.Uint64("revision", res.Revision))

	return res, nil
}

// Purchase buys the confirmed document on sale for the identity. The offered
// price must match the document price. Returns confirmed document.
func (x *Controller) Purchase(ctx context.Context, typ *schema.DocumentType, purchaser *identity.Identity, doc *document.Document, price uint64) (*document.Document, error) {
	key, err := x.selectKey(purchaser)
	if err != nil {
		return nil, err
	}

	err = x.checkConfirmed(doc)
	if err != nil {
		return nil, err
	}

	mutated, err := x.builder.Purchased(typ, doc, purchaser.ID, price, x.clock())
	if err != nil {
		return nil, fmt.Errorf("purchase document %s: %w", doc.ID, err)
	}

	if !x.tracker.acquire(doc.ID, transition.KindPurchase, doc) {
		return nil, ErrTransitionInProgress
	}

	res, err := x.retry(ctx, transition.KindPurchase, func(attempt int) (*document.Document, error) {
		if attempt > 0 {
			found, err := x.reconcile(ctx, typ, mutated, func(found *document.Document) bool {
				return found.OwnerID == purchaser.ID
			})
			if err != nil || found != nil {
				return found, err
			}

			mutated, err = x.builder.Purchased(typ, doc, purchaser.ID, price, x.clock())
			if err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		st, err := transition.NewPurchase(typ, mutated, price)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("make purchase transition: %w", err))
		}

		return x.submit(ctx, st, key)
	})

	x.finish(doc.ID, res, err)

	if err != nil {
		return nil, fmt.Errorf("purchase document %s: %w", doc.ID, err)
	}

	x.log.Info("document purchased", zap.Stringer("document", doc.ID), zap.Stringer("owner", purchaser.ID),
		zap.Uint64("revision", res.Revision))

	return res, nil
}

func (x *Controller) selectKey(id *identity.Identity) (*identity.PublicKey, error) {
	key, err := id.FirstPublicKeyMatching(x.keys.Purpose, x.keys.SecurityLevels, x.keys.KeyTypes)
	if err != nil {
		return nil, fmt.Errorf("select signing key: %w", err)
	}

	return key, nil
}

func (x *Controller) checkConfirmed(doc *document.Document) error {
	s, ok := x.tracker.Status(doc.ID)
	switch {
	case !ok:
		// documents executed by the platform always carry creation height
		if doc.CreatedAtBlockHeight == nil {
			return ErrNotConfirmed
		}
		return nil
	case s.Document == nil:
		return ErrNotConfirmed
	case s.State == StateBroadcasting && s.Err != nil:
		return fmt.Errorf("%w: %s transition failed: %v", ErrUnresolvedTransition, s.Kind, s.Err)
	case s.Document.Revision > doc.Revision:
		return fmt.Errorf("%w: revision %d, confirmed %d", ErrStaleDocument, doc.Revision, s.Document.Revision)
	default:
		return nil
	}
}

// submit makes single submission attempt. Only transport failures are
// retryable.
func (x *Controller) submit(ctx context.Context, st *transition.StateTransition, key *identity.PublicKey) (*document.Document, error) {
	x.tracker.setState(st.DocumentID, StateBroadcasting)

	doc, _, err := x.submitter.SubmitAndAwait(ctx, st, key, x.signer)
	if err != nil {
		if platform.IsNetworkError(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	return doc, nil
}

// reconcile checks whether the mutation failed on transport has been executed.
// Returns confirmed document if so, nil if the mutation should be resubmitted.
func (x *Controller) reconcile(ctx context.Context, typ *schema.DocumentType, submitted *document.Document,
	applied func(*document.Document) bool) (*document.Document, error) {
	found, err := x.platform.FetchDocument(ctx, typ.ContractID, typ.Name, submitted.ID)
	if err != nil {
		return nil, lookupFailure(err)
	}

	switch {
	case found.Revision == submitted.Revision && applied(found):
		x.log.Info("document found mutated after transport failure, considering transition confirmed",
			zap.Stringer("document", submitted.ID), zap.Uint64("revision", found.Revision))
		return found, nil
	case found.Revision >= submitted.Revision:
		return nil, backoff.Permanent(&platform.RejectedError{
			Reason:  platform.RejectStaleRevision,
			Message: fmt.Sprintf("document modified concurrently, revision %d", found.Revision),
		})
	default:
		return nil, nil
	}
}

func lookupFailure(err error) error {
	err = fmt.Errorf("re-query document: %w", err)
	if platform.IsNetworkError(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (x *Controller) retry(ctx context.Context, kind transition.Kind, op func(attempt int) (*document.Document, error)) (*document.Document, error) {
	var (
		attempt int
		lastErr error
	)

	b := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(x.retryInterval)),
		uint64(x.maxAttempts-1)), ctx)

	res, err := backoff.RetryNotifyWithData(func() (*document.Document, error) {
		res, err := op(attempt)
		attempt++
		lastErr = err
		return res, err
	}, b, func(err error, delay time.Duration) {
		x.log.Warn("transport failure, retrying...", zap.Stringer("kind", kind),
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, platform.ErrOutcomeUnknown) && platform.IsNetworkError(lastErr) {
		// interrupted between the attempts while the last one might be executed
		return nil, fmt.Errorf("%w: %w", platform.ErrOutcomeUnknown, ctx.Err())
	}

	return res, err
}

func (x *Controller) finish(id identifier.ID, res *document.Document, err error) {
	switch {
	case err == nil:
		x.tracker.confirm(res)
	case errors.Is(err, platform.ErrRejected):
		x.tracker.release(id, StateRejected, err)
	case platform.IsNetworkError(err), errors.Is(err, platform.ErrOutcomeUnknown):
		x.tracker.release(id, StateBroadcasting, err)
	default:
		x.tracker.release(id, StateUnsubmitted, err)
	}
}
