package platform_test

import (
	"context"
	"testing"
	"time"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/internal/fakeplatform"
	"github.com/nspcc-dev/docstate/metrics"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/docstate/transition"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type env struct {
	platform *fakeplatform.Platform
	owner    *fakeplatform.Account
	claim    *schema.DocumentType
	metrics  *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	p := fakeplatform.New(100, 1000)
	owner := fakeplatform.NewAccount(t, p, 0)
	c := fakeplatform.DeployClaims(t, p, owner)

	claim, err := c.DocumentType("Claim")
	require.NoError(t, err)

	return &env{
		platform: p,
		owner:    owner,
		claim:    claim,
		metrics:  metrics.New(nil),
	}
}

func (e *env) submitter(t *testing.T, p platform.Platform) *platform.Submitter {
	return platform.NewSubmitter(platform.SubmitterPrm{
		Logger:   zaptest.NewLogger(t),
		Platform: p,
		Metrics:  e.metrics,
	})
}

func (e *env) createTransition(t *testing.T) (*document.Document, *transition.StateTransition) {
	doc, entropy, err := document.Builder{}.Build(e.claim, e.owner.Identity.ID, map[string]any{
		"taskId":        make([]byte, 32),
		"amountCredits": 20,
		"amountUSD":     500,
	}, time.Now())
	require.NoError(t, err)

	st, err := transition.NewCreate(e.claim, doc, entropy)
	require.NoError(t, err)

	return doc, st
}

func TestSubmitter_Confirmed(t *testing.T) {
	e := newEnv(t)
	doc, st := e.createTransition(t)

	res, conf, err := e.submitter(t, e.platform).SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)
	require.NoError(t, err)
	require.Equal(t, doc.ID, res.ID)
	require.EqualValues(t, 1, res.Revision)
	require.EqualValues(t, 101, conf.BlockHeight)
	require.EqualValues(t, 1000, conf.CoreBlockHeight)
	require.NotNil(t, res.CreatedAtBlockHeight)
	require.EqualValues(t, 101, *res.CreatedAtBlockHeight)

	h, err := st.Hash()
	require.NoError(t, err)
	require.Equal(t, h, conf.Hash)

	require.EqualValues(t, 1, testutil.ToFloat64(e.metrics.Submitted.WithLabelValues("create")))
	require.EqualValues(t, 1, testutil.ToFloat64(e.metrics.Confirmed.WithLabelValues("create")))
}

func TestSubmitter_Rejected(t *testing.T) {
	e := newEnv(t)
	_, st := e.createTransition(t)
	st.Revision = 5

	_, _, err := e.submitter(t, e.platform).SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)
	require.ErrorIs(t, err, platform.ErrRejected)
	require.False(t, platform.IsNetworkError(err))

	reason, ok := platform.RejectionReason(err)
	require.True(t, ok)
	require.Equal(t, platform.RejectStaleRevision, reason)

	require.EqualValues(t, 1, testutil.ToFloat64(e.metrics.Rejected.WithLabelValues("create", "stale_revision")))
}

func TestSubmitter_NetworkErrors(t *testing.T) {
	t.Run("broadcast", func(t *testing.T) {
		e := newEnv(t)
		doc, st := e.createTransition(t)
		e.platform.FailNextBroadcast(false)

		_, _, err := e.submitter(t, e.platform).SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)
		require.True(t, platform.IsNetworkError(err))

		var ne *platform.NetworkError
		require.ErrorAs(t, err, &ne)
		require.False(t, ne.Delivered)

		_, err = e.platform.FetchDocument(context.Background(), e.claim.ContractID, "Claim", doc.ID)
		require.ErrorIs(t, err, platform.ErrNotFound)
		require.EqualValues(t, 1, testutil.ToFloat64(e.metrics.NetworkErrors.WithLabelValues("create")))
	})

	t.Run("wait", func(t *testing.T) {
		e := newEnv(t)
		doc, st := e.createTransition(t)
		e.platform.FailNextWaits(1)

		_, _, err := e.submitter(t, e.platform).SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)

		var ne *platform.NetworkError
		require.ErrorAs(t, err, &ne)
		require.True(t, ne.Delivered)

		// executed despite the failure
		_, err = e.platform.FetchDocument(context.Background(), e.claim.ContractID, "Claim", doc.ID)
		require.NoError(t, err)
	})
}

// lostPlatform accepts broadcasts but never executes them.
type lostPlatform struct {
	*fakeplatform.Platform
}

func (lostPlatform) BroadcastStateTransition(context.Context, []byte) error { return nil }

func TestSubmitter_Interrupted(t *testing.T) {
	e := newEnv(t)

	t.Run("context", func(t *testing.T) {
		_, st := e.createTransition(t)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, _, err := e.submitter(t, lostPlatform{e.platform}).SubmitAndAwait(ctx, st, e.owner.Key, e.owner.Signer)
		require.ErrorIs(t, err, platform.ErrOutcomeUnknown)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotErrorIs(t, err, platform.ErrRejected)
		require.False(t, platform.IsNetworkError(err))
	})

	t.Run("wait timeout", func(t *testing.T) {
		_, st := e.createTransition(t)

		s := platform.NewSubmitter(platform.SubmitterPrm{
			Logger:      zaptest.NewLogger(t),
			Platform:    lostPlatform{e.platform},
			WaitTimeout: 50 * time.Millisecond,
		})

		_, _, err := s.SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)
		require.True(t, platform.IsNetworkError(err))
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestSubmitter_MissingPrivateKey(t *testing.T) {
	e := newEnv(t)
	_, st := e.createTransition(t)

	signer := identity.KeyStoreSigner{Keys: identity.NewKeyStore()}

	_, _, err := e.submitter(t, e.platform).SubmitAndAwait(context.Background(), st, e.owner.Key, signer)
	require.ErrorIs(t, err, identity.ErrMissingPrivateKey)
	require.Zero(t, e.platform.Broadcasts())
}

type blsVerifier struct {
	pub []byte
}

func (x blsVerifier) VerifyQuorumSignature(_ context.Context, _ util.Uint256, data, sig []byte) error {
	return identity.VerifyBLS(x.pub, data, sig)
}

func TestSubmitter_QuorumVerification(t *testing.T) {
	e := newEnv(t)

	quorumKey := make([]byte, identity.PrivateKeySize)
	quorumKey[31] = 42
	quorumPub, err := identity.DerivePublicKeyData(identity.KeyTypeBLS12381, quorumKey)
	require.NoError(t, err)

	e.platform.SetQuorumKey(util.Uint256{1}, quorumKey)

	otherKey := make([]byte, identity.PrivateKeySize)
	otherKey[31] = 43
	otherPub, err := identity.DerivePublicKeyData(identity.KeyTypeBLS12381, otherKey)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		pub  []byte
		ok   bool
	}{
		{name: "valid", pub: quorumPub, ok: true},
		{name: "foreign quorum", pub: otherPub},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, st := e.createTransition(t)

			s := platform.NewSubmitter(platform.SubmitterPrm{
				Logger:   zaptest.NewLogger(t),
				Platform: e.platform,
				Verifier: blsVerifier{pub: tc.pub},
			})

			_, _, err := s.SubmitAndAwait(context.Background(), st, e.owner.Key, e.owner.Signer)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, identity.ErrInvalidSignature)
			}
		})
	}
}
