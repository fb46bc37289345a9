package veridrop

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/veridrop/veridrop/internal/archive"
	"github.com/veridrop/veridrop/internal/chain"
	"github.com/veridrop/veridrop/internal/config"
	"github.com/veridrop/veridrop/internal/identity"
	"github.com/veridrop/veridrop/internal/ledger"
	"github.com/veridrop/veridrop/internal/oracle"
	"github.com/veridrop/veridrop/internal/proof"
	"github.com/veridrop/veridrop/internal/reverify"
	"github.com/veridrop/veridrop/internal/store"
	"github.com/veridrop/veridrop/internal/submitter"
)

// pipeline is the fully wired proof core shared by the subcommands.
type pipeline struct {
	cfg      config.Config
	store    store.DeliveryStore
	archive  *archive.Adapter
	verifier proof.Verifier
	service  *proof.Service

	ledgerClient *ledger.Client
}

// buildPipeline wires configuration into the running components: signing
// identity, persistence, ledger transport (live mode only), off-chain store
// (unless disabled), oracle client and the proof service.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	cfg := config.FromViper()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id, err := identity.LoadOrCreate(cfg.KeysDir)
	if err != nil {
		return nil, err
	}
	slog.Info("Signing identity loaded", "address", id.Address())

	deliveries, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	p := &pipeline{cfg: cfg, store: deliveries}

	if !cfg.MockMode {
		client, err := ledger.Dial(ctx, ledger.Options{
			Endpoint:     cfg.LedgerEndpoint,
			Insecure:     cfg.LedgerInsecure,
			MaxRetries:   cfg.MaxRetries,
			Interceptors: []grpc.UnaryClientInterceptor{ledger.LoggingInterceptor()},
		})
		if err != nil {
			p.close()
			return nil, fmt.Errorf("failed to dial ledger: %w", err)
		}
		p.ledgerClient = client
	} else {
		slog.Warn("Mock mode enabled, proofs will not reach the ledger")
	}

	// Interface slots stay untyped-nil when a collaborator is disabled.
	var transport ledger.Transport
	if p.ledgerClient != nil {
		transport = p.ledgerClient
	}
	var archiveReader submitter.ArchiveReader
	var serviceArchive proof.Archive
	if !cfg.StoreDisabled {
		p.archive = archive.New(cfg.StoreURL, id, cfg.StoreTimeout)
		archiveReader = p.archive
		serviceArchive = p.archive
	}

	sub := submitter.New(transport, id, archiveReader, submitter.Options{
		BlockWindow:    cfg.BlockWindow,
		ConfirmTimeout: cfg.ConfirmTimeout,
		MockMode:       cfg.MockMode,
		MockPresetHash: cfg.MockPresetHash,
	})

	if cfg.OracleURL != "" {
		resolver := proof.NewArchiveResolver(deliveries, serviceArchive)
		p.verifier = oracle.New(cfg.OracleURL, resolver, cfg.OracleTimeout)
	}

	p.service = proof.NewService(deliveries, sub, chain.New(deliveries), serviceArchive, p.verifier, id.Address())
	return p, nil
}

// sweeper builds the reverify sweep over the pipeline's collaborators.
func (p *pipeline) sweeper() *reverify.Sweeper {
	var sweepArchive reverify.Archive
	if p.archive != nil {
		sweepArchive = p.archive
	}
	return reverify.New(p.store, sweepArchive, p.verifier, reverify.Options{
		MaxConcurrency: p.cfg.MaxConcurrency,
	})
}

func (p *pipeline) close() {
	if p.ledgerClient != nil {
		if err := p.ledgerClient.Close(); err != nil {
			slog.Warn("Failed to close ledger connection", "error", err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Warn("Failed to close database", "error", err)
		}
	}
}
