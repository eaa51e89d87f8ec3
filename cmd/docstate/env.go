package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nspcc-dev/docstate/config"
	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/lifecycle"
	"github.com/nspcc-dev/docstate/metrics"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/rpc/core"
	"github.com/nspcc-dev/docstate/rpc/dapi"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

var errMissingIdentity = errors.New("wallet identity is not configured")

// env groups components shared by the commands.
type env struct {
	cfg      config.Config
	log      *zap.Logger
	platform *dapi.Client
	core     *core.Client
	registry *prometheus.Registry

	metricsFile string
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Debug("configuration loaded", cfg.Fields()...)

	p, err := dapi.New(dapi.Prm{
		Logger:            log,
		Endpoint:          cfg.PlatformEndpoint(),
		ContractCacheSize: cfg.Platform.ContractCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init platform client: %w", err)
	}

	coreClient, err := core.New(core.Prm{
		Logger:          log,
		Endpoint:        cfg.CoreEndpoint(),
		User:            cfg.Core.User,
		Password:        cfg.Core.Password,
		QuorumType:      cfg.Core.QuorumType,
		QuorumCacheSize: cfg.Core.QuorumCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init core client: %w", err)
	}

	return &env{
		cfg:         cfg,
		log:         log,
		platform:    p,
		core:        coreClient,
		registry:    prometheus.NewRegistry(),
		metricsFile: c.GlobalString("metrics-file"),
	}, nil
}

// controller constructs lifecycle controller signing by the given keys. Must
// be called once per env.
func (x *env) controller(ks *identity.KeyStore) *lifecycle.Controller {
	var verifier platform.QuorumVerifier
	if x.cfg.Submission.VerifyQuorum {
		verifier = x.core
	}

	return lifecycle.New(lifecycle.Prm{
		Logger:        x.log,
		Platform:      x.platform,
		Signer:        identity.KeyStoreSigner{Keys: ks},
		Builder:       document.Builder{InitialRevision: x.cfg.Documents.InitialRevision},
		Metrics:       metrics.New(x.registry),
		Verifier:      verifier,
		WaitTimeout:   x.cfg.Submission.WaitTimeout,
		MaxAttempts:   x.cfg.Submission.MaxAttempts,
		RetryInterval: x.cfg.Submission.RetryInterval,
	})
}

// wallet fetches configured identity and loads private keys of its public
// keys.
func (x *env) wallet(ctx context.Context) (*identity.Identity, *identity.KeyStore, error) {
	id, ok := x.cfg.IdentityID()
	if !ok {
		return nil, nil, errMissingIdentity
	}

	ident, err := x.platform.FetchIdentity(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch wallet identity: %w", err)
	}

	ks := identity.NewKeyStore()

	for keyID, wif := range x.cfg.Wallet.Keys {
		pub, ok := ident.PublicKey(identity.KeyID(keyID))
		if !ok {
			return nil, nil, fmt.Errorf("identity %s has no key #%d", id, keyID)
		}

		err = ks.AddWIF(pub, wif, x.cfg.WIFVersion())
		if err != nil {
			return nil, nil, fmt.Errorf("load private key #%d: %w", keyID, err)
		}
	}

	x.log.Info("wallet loaded", zap.Stringer("identity", id), zap.Uint64("balance", ident.Balance),
		zap.Int("keys", ks.Len()))

	return ident, ks, nil
}

func (x *env) documentType(ctx context.Context, contract identifier.ID, name string) (*schema.DocumentType, error) {
	c, err := x.platform.FetchDataContract(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("fetch data contract: %w", err)
	}

	return c.DocumentType(name)
}

func (x *env) close() {
	if x.metricsFile != "" {
		err := prometheus.WriteToTextfile(x.metricsFile, x.registry)
		if err != nil {
			x.log.Warn("failed to write metrics", zap.String("file", x.metricsFile), zap.Error(err))
		}
	}

	_ = x.log.Sync()
}
