package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/internal/fakeplatform"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// spyPlatform counts calls of the underlying platform.
type spyPlatform struct {
	platform.Platform
	calls atomic.Int32
}

func (x *spyPlatform) FetchIdentity(ctx context.Context, id identifier.ID) (*identity.Identity, error) {
	x.calls.Add(1)
	return x.Platform.FetchIdentity(ctx, id)
}

func (x *spyPlatform) FetchDataContract(ctx context.Context, id identifier.ID) (*schema.DataContract, error) {
	x.calls.Add(1)
	return x.Platform.FetchDataContract(ctx, id)
}

func (x *spyPlatform) FetchDocument(ctx context.Context, contract identifier.ID, typeName string, id identifier.ID) (*document.Document, error) {
	x.calls.Add(1)
	return x.Platform.FetchDocument(ctx, contract, typeName, id)
}

func (x *spyPlatform) BroadcastStateTransition(ctx context.Context, st []byte) error {
	x.calls.Add(1)
	return x.Platform.BroadcastStateTransition(ctx, st)
}

func (x *spyPlatform) WaitForStateTransitionResult(ctx context.Context, h util.Uint256) (*platform.Result, error) {
	x.calls.Add(1)
	return x.Platform.WaitForStateTransitionResult(ctx, h)
}

type fixture struct {
	p         *fakeplatform.Platform
	spy       *spyPlatform
	seller    *fakeplatform.Account
	buyer     *fakeplatform.Account
	claim     *schema.DocumentType
	tasks     *schema.DocumentType
	ctrl      *Controller
	clockTick atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{p: fakeplatform.New(1, 1)}
	f.spy = &spyPlatform{Platform: f.p}
	f.seller = fakeplatform.NewAccount(t, f.p, 0)
	f.buyer = fakeplatform.NewAccount(t, f.p, 1000)

	c := fakeplatform.DeployClaims(t, f.p, f.seller)

	var err error
	f.claim, err = c.DocumentType("Claim")
	require.NoError(t, err)
	f.tasks, err = c.DocumentType("Tasks")
	require.NoError(t, err)

	// both accounts sign by key #0
	signers := &accountSigner{byKey: make(map[string]identity.Signer)}
	signers.add(f.seller)
	signers.add(f.buyer)

	f.ctrl = New(Prm{
		Logger:        zaptest.NewLogger(t),
		Platform:      f.spy,
		Signer:        signers,
		Clock:         f.clock,
		MaxAttempts:   3,
		RetryInterval: time.Millisecond,
	})

	return f
}

func (f *fixture) clock() time.Time {
	return time.UnixMilli(1_700_000_000_000 + f.clockTick.Add(1000))
}

// accountSigner dispatches signing by the public key data.
type accountSigner struct {
	byKey map[string]identity.Signer
}

func (x *accountSigner) add(acc *fakeplatform.Account) {
	x.byKey[string(acc.Key.Data)] = acc.Signer
}

func (x *accountSigner) Sign(key *identity.PublicKey, payload []byte) ([]byte, error) {
	s, ok := x.byKey[string(key.Data)]
	if !ok {
		return nil, identity.ErrMissingPrivateKey
	}
	return s.Sign(key, payload)
}

func claimProps() map[string]any {
	taskID := make([]byte, 32)
	taskID[0] = 1
	return map[string]any{"taskId": taskID, "amountCredits": 20, "amountUSD": 500}
}

func TestController_ClaimScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)
	require.EqualValues(t, 1, doc.Revision)
	require.Equal(t, f.seller.Identity.ID, doc.OwnerID)
	require.Nil(t, doc.TransferredAt)

	s, ok := f.ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateConfirmed, s.State)

	priced, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 200)
	require.NoError(t, err)
	require.EqualValues(t, 2, priced.Revision)
	price, ok := priced.Price()
	require.True(t, ok)
	require.EqualValues(t, 200, price)

	bought, err := f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, priced, 200)
	require.NoError(t, err)
	require.EqualValues(t, 3, bought.Revision)
	require.Equal(t, f.buyer.Identity.ID, bought.OwnerID)
	require.NotNil(t, bought.TransferredAt)
	require.Equal(t, doc.ID, bought.ID)

	fetched, err := f.ctrl.Fetch(ctx, f.claim.ContractID, f.claim.Name, doc.ID)
	require.NoError(t, err)
	require.Equal(t, bought, fetched)

	require.EqualValues(t, 800, f.p.Balance(f.buyer.Identity.ID))
	require.EqualValues(t, 200, f.p.Balance(f.seller.Identity.ID))

	s, ok = f.ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateConfirmed, s.State)
	require.EqualValues(t, 3, s.Document.Revision)
}

func TestController_ClientSideChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	claim, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)

	task, err := f.ctrl.Create(ctx, f.tasks, f.seller.Identity, map[string]any{
		"title":     "Fix it",
		"projectId": make([]byte, 32),
	})
	require.NoError(t, err)

	noKey := &identity.Identity{ID: fakeplatform.RandomID(t), PublicKeys: []identity.PublicKey{{
		ID:            0,
		Purpose:       identity.PurposeAuthentication,
		SecurityLevel: identity.SecurityLevelMedium,
		Type:          identity.KeyTypeECDSASecp256k1,
	}}}

	invalid := claimProps()
	invalid["taskId"] = make([]byte, 31)

	var b document.Builder
	local, _, err := b.Build(f.claim, f.seller.Identity.ID, claimProps(), f.clock())
	require.NoError(t, err)
	localPriced, err := b.WithPrice(f.claim, local, 10, f.clock())
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		err  error
		fn   func() error
	}{
		{name: "invalid properties", err: schema.ErrValidation, fn: func() error {
			_, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, invalid)
			return err
		}},
		{name: "unknown property", err: schema.ErrValidation, fn: func() error {
			props := claimProps()
			props["extra"] = 1
			_, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, props)
			return err
		}},
		{name: "no suitable key", err: identity.ErrKeyNotFound, fn: func() error {
			_, err := f.ctrl.Create(ctx, f.claim, noKey, claimProps())
			return err
		}},
		{name: "price of non-transferable", err: document.ErrNotTransferable, fn: func() error {
			_, err := f.ctrl.UpdatePrice(ctx, f.tasks, f.seller.Identity, task, 10)
			return err
		}},
		{name: "purchase of non-transferable", err: document.ErrNotTransferable, fn: func() error {
			_, err := f.ctrl.Purchase(ctx, f.tasks, f.buyer.Identity, task, 10)
			return err
		}},
		{name: "purchase without price", err: document.ErrNotPriced, fn: func() error {
			_, err := f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, claim, 10)
			return err
		}},
		{name: "zero price", err: document.ErrInvalidPrice, fn: func() error {
			_, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, claim, 0)
			return err
		}},
		{name: "price of unsubmitted document", err: ErrNotConfirmed, fn: func() error {
			_, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, local, 10)
			return err
		}},
		{name: "purchase of unsubmitted document", err: ErrNotConfirmed, fn: func() error {
			_, err := f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, localPriced, 10)
			return err
		}},
		{name: "price of foreign document", err: ErrNotOwner, fn: func() error {
			_, err := f.ctrl.UpdatePrice(ctx, f.claim, f.buyer.Identity, claim, 10)
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := f.spy.calls.Load()

			err := tc.fn()
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, before, f.spy.calls.Load(), "network must not be touched")
		})
	}
}

func TestController_PurchaseChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)
	priced, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 200)
	require.NoError(t, err)

	before := f.spy.calls.Load()

	_, err = f.ctrl.Purchase(ctx, f.claim, f.seller.Identity, priced, 200)
	require.ErrorIs(t, err, document.ErrPurchaserOwns)

	_, err = f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, priced, 199)
	require.ErrorIs(t, err, document.ErrPriceMismatch)

	// revision 1 is already superseded
	_, err = f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 300)
	require.ErrorIs(t, err, ErrStaleDocument)
	require.ErrorIs(t, err, schema.ErrValidation)

	require.Equal(t, before, f.spy.calls.Load())
}

func TestController_Rejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)
	priced, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 5000)
	require.NoError(t, err)

	broadcasts := f.p.Broadcasts()

	_, err = f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, priced, 5000)
	require.ErrorIs(t, err, platform.ErrRejected)
	reason, ok := platform.RejectionReason(err)
	require.True(t, ok)
	require.Equal(t, platform.RejectInsufficientBalance, reason)

	// rejections are never retried
	require.Equal(t, broadcasts+1, f.p.Broadcasts())

	s, ok := f.ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateRejected, s.State)
	require.ErrorIs(t, s.Err, platform.ErrRejected)
	require.EqualValues(t, 2, s.Document.Revision)
	require.Equal(t, f.seller.Identity.ID, s.Document.OwnerID)

	// document stays usable after rejection
	_, err = f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, priced, 100)
	require.NoError(t, err)
}

func TestController_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("create not delivered", func(t *testing.T) {
		f := newFixture(t)
		f.p.FailNextBroadcast(false)

		doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
		require.NoError(t, err)
		require.Equal(t, 2, f.p.Broadcasts())
		require.Equal(t, 1, f.p.Fetches())

		_, err = f.p.FetchDocument(ctx, f.claim.ContractID, f.claim.Name, doc.ID)
		require.NoError(t, err)
	})

	t.Run("create executed", func(t *testing.T) {
		f := newFixture(t)
		f.p.FailNextWaits(1)

		doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
		require.NoError(t, err)
		require.EqualValues(t, 1, doc.Revision)
		require.Equal(t, 1, f.p.Broadcasts())
		require.Equal(t, 1, f.p.Fetches())
	})

	t.Run("price executed", func(t *testing.T) {
		f := newFixture(t)

		doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
		require.NoError(t, err)

		f.p.FailNextBroadcast(true)

		priced, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 200)
		require.NoError(t, err)
		require.EqualValues(t, 2, priced.Revision)
		require.Equal(t, 2, f.p.Broadcasts())
	})

	t.Run("purchase not delivered", func(t *testing.T) {
		f := newFixture(t)

		doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
		require.NoError(t, err)
		priced, err := f.ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 200)
		require.NoError(t, err)

		f.p.FailNextBroadcast(false)

		bought, err := f.ctrl.Purchase(ctx, f.claim, f.buyer.Identity, priced, 200)
		require.NoError(t, err)
		require.EqualValues(t, 3, bought.Revision)
		require.Equal(t, 4, f.p.Broadcasts())
		require.EqualValues(t, 800, f.p.Balance(f.buyer.Identity.ID))
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		f := newFixture(t)
		for range 3 {
			f.p.FailNextBroadcast(false)
		}

		_, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
		require.True(t, platform.IsNetworkError(err))
		require.Equal(t, 3, f.p.Broadcasts())
	})
}

// blockingPlatform holds result waits until released.
type blockingPlatform struct {
	*fakeplatform.Platform
	waiting chan struct{}
	release chan struct{}
}

func (x *blockingPlatform) WaitForStateTransitionResult(ctx context.Context, h util.Uint256) (*platform.Result, error) {
	x.waiting <- struct{}{}
	select {
	case <-x.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return x.Platform.WaitForStateTransitionResult(ctx, h)
}

func TestController_Exclusivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)
	other, err := f.ctrl.Create(ctx, f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)

	bp := &blockingPlatform{Platform: f.p, waiting: make(chan struct{}, 2), release: make(chan struct{})}
	signer := &accountSigner{byKey: make(map[string]identity.Signer)}
	signer.add(f.seller)

	ctrl := New(Prm{
		Logger:   zaptest.NewLogger(t),
		Platform: bp,
		Signer:   signer,
	})

	var wg sync.WaitGroup
	results := make([]error, 2)

	for i, d := range []*document.Document{doc, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, d, 100)
		}()
	}

	// both documents are in flight concurrently
	<-bp.waiting
	<-bp.waiting

	s, ok := ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateBroadcasting, s.State)

	_, err = ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 300)
	require.ErrorIs(t, err, ErrTransitionInProgress)

	close(bp.release)
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])
}

func TestController_Interrupted(t *testing.T) {
	f := newFixture(t)

	doc, err := f.ctrl.Create(context.Background(), f.claim, f.seller.Identity, claimProps())
	require.NoError(t, err)

	bp := &blockingPlatform{Platform: f.p, waiting: make(chan struct{}, 1), release: make(chan struct{})}
	signer := &accountSigner{byKey: make(map[string]identity.Signer)}
	signer.add(f.seller)

	ctrl := New(Prm{Logger: zaptest.NewLogger(t), Platform: bp, Signer: signer})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-bp.waiting
		cancel()
	}()

	_, err = ctrl.UpdatePrice(ctx, f.claim, f.seller.Identity, doc, 100)
	require.ErrorIs(t, err, platform.ErrOutcomeUnknown)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, platform.ErrRejected)

	s, ok := ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateBroadcasting, s.State)

	broadcasts, fetches := f.p.Broadcasts(), f.p.Fetches()

	// the interrupted update might be executed, so nothing is resubmitted blindly
	_, err = ctrl.UpdatePrice(context.Background(), f.claim, f.seller.Identity, doc, 150)
	require.ErrorIs(t, err, ErrUnresolvedTransition)
	require.ErrorIs(t, err, platform.ErrOutcomeUnknown)
	require.False(t, platform.IsNetworkError(err))
	require.Equal(t, broadcasts, f.p.Broadcasts())
	require.Equal(t, fetches, f.p.Fetches())

	fetched, err := ctrl.Fetch(context.Background(), f.claim.ContractID, f.claim.Name, doc.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, fetched.Revision)

	s, ok = ctrl.Tracker().Status(doc.ID)
	require.True(t, ok)
	require.Equal(t, StateConfirmed, s.State)

	_, err = ctrl.UpdatePrice(context.Background(), f.claim, f.seller.Identity, doc, 150)
	require.ErrorIs(t, err, ErrStaleDocument)

	close(bp.release)

	priced, err := ctrl.UpdatePrice(context.Background(), f.claim, f.seller.Identity, fetched, 150)
	require.NoError(t, err)
	require.EqualValues(t, 3, priced.Revision)
}
