package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hypersettle/params"
	"github.com/uhyunpark/hypersettle/pkg/api"
	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/auth"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/exchange"
	"github.com/uhyunpark/hypersettle/pkg/ledger"
	"github.com/uhyunpark/hypersettle/pkg/mempool"
	"github.com/uhyunpark/hypersettle/pkg/metrics"
	"github.com/uhyunpark/hypersettle/pkg/p2p"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

// Node wires the settlement engine to its storage, sequencer, event sinks
// and API.
type Node struct {
	Config    params.Config
	Engine    *exchange.Engine
	Roles     *auth.Roles
	Nonces    *auth.Nonces
	Assets    *asset.World
	Ledger    *ledger.Ledger
	Pool      *mempool.Mempool
	Sequencer *Sequencer
	Bus       *events.Bus
	Metrics   *metrics.Collector
	API       *api.Server
	Gossip    *p2p.Gossip

	closers []io.Closer
	log     *zap.SugaredLogger
}

// New builds a node from cfg. Fills, asset balances, roles and caller
// nonces live in one pebble database under cfg.Node.DataDir; the genesis
// file only seeds an empty database. Kafka and gossip sinks are attached
// only when configured.
func New(ctx context.Context, cfg params.Config, logger *zap.SugaredLogger) (*Node, error) {
	log := util.OrNop(logger)
	n := &Node{Config: cfg, log: log}

	store, err := ledger.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "fills"), cfg.Ledger.CacheEntries)
	if err != nil {
		return nil, fmt.Errorf("open fill store: %w", err)
	}
	n.closers = append(n.closers, store)
	n.Ledger = ledger.New(store)

	if err := n.openWorld(store, cfg.Node.GenesisFile); err != nil {
		n.Close()
		return nil, err
	}
	if n.Roles, err = auth.LoadRoles(store, cfg.Access.Owner, cfg.Access.Executors...); err != nil {
		n.Close()
		return nil, err
	}
	if n.Nonces, err = auth.LoadNonces(store); err != nil {
		n.Close()
		return nil, err
	}
	n.Metrics = metrics.NewCollector()
	n.Pool = mempool.New()
	n.Sequencer = NewSequencer(n.Pool, util.RealClock{}, cfg.Node.SequencerInterval, log.Named("sequencer"))

	n.Bus = events.NewBus(cfg.Events.BusCapacity, log.Named("bus"),
		events.NewLogSink(log.Named("events")),
		n.Metrics,
	)
	n.Metrics.Gauge("mempool_pending", "Requests waiting for the sequencer.", func() float64 {
		return float64(n.Pool.Len())
	})
	n.Metrics.Gauge("events_dropped", "Events discarded on a full bus queue.", func() float64 {
		return float64(n.Bus.Dropped())
	})

	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		n.closers = append(n.closers, sink)
		n.Bus.Attach(sink)
		log.Infow("kafka_sink_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if cfg.P2P.Enabled {
		att, err := attestor(cfg.P2P.AttestationSeed)
		if err != nil {
			n.Close()
			return nil, err
		}
		g, err := p2p.NewGossip(ctx, p2p.GossipConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Topic:      cfg.P2P.Topic,
			Attestor:   att,
			Logger:     log.Named("p2p"),
		})
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("start gossip: %w", err)
		}
		g.Subscribe(func(r p2p.Remote) {
			log.Debugw("remote_settlement",
				"from", r.From.String(),
				"attestor", hexutil.Encode(r.Attestor),
				"id", r.Event.ID,
				"kind", r.Event.Kind,
				"lag_ms", time.Since(r.SentAt).Milliseconds())
		})
		n.Gossip = g
		n.closers = append(n.closers, g)
		n.Bus.Attach(g)
		log.Infow("gossip_enabled", "addrs", g.Addrs(), "topic", cfg.P2P.Topic, "attestor", hexutil.Encode(att.PublicKey()))
	}

	domain := cfg.Domain.CryptoDomain()
	n.Engine, err = exchange.New(exchange.Config{
		Domain:   domain,
		Gate:     n.Roles,
		Ledger:   n.Ledger,
		Assets:   n.Assets,
		Events:   n.Bus,
		Observer: n.Metrics,
		Logger:   log.Named("engine"),
	})
	if err != nil {
		n.Close()
		return nil, err
	}

	hub := api.NewHub(log.Named("ws"))
	n.Bus.Attach(hub)
	n.API, err = api.NewServer(api.Config{
		Engine:         n.Engine,
		Roles:          n.Roles,
		Nonces:         n.Nonces,
		Sequencer:      n.Sequencer,
		Hub:            hub,
		Metrics:        n.Metrics.Handler(),
		Pending:        n.Pool.Len,
		Dropped:        n.Bus.Dropped,
		AllowedOrigins: cfg.Node.AllowedOrigins,
		RequestTimeout: cfg.Node.RequestTimeout,
		Logger:         log.Named("api"),
	})
	if err != nil {
		n.Close()
		return nil, err
	}

	log.Infow("node_built",
		"engine", n.Engine.Address().Hex(),
		"chain_id", cfg.Domain.ChainID,
		"owner", cfg.Access.Owner.Hex(),
		"executors", len(cfg.Access.Executors))
	return n, nil
}

// openWorld restores the asset world from store, or seeds it from the
// genesis file and persists it when store holds none.
func (n *Node) openWorld(store *ledger.PebbleStore, genesisFile string) error {
	world, restored, err := asset.LoadWorld(store)
	if err != nil {
		return err
	}
	if restored {
		n.Assets = world
		if genesisFile != "" {
			n.log.Infow("genesis_ignored", "file", genesisFile, "reason", "asset state already persisted")
		}
		return nil
	}

	settled := false
	if err := store.ForEach(func(common.Hash, *big.Int) bool {
		settled = true
		return false
	}); err != nil {
		return err
	}
	if settled {
		return errors.New("fill store holds settlements but no asset state")
	}

	if genesisFile != "" {
		g, err := asset.LoadGenesis(genesisFile)
		if err != nil {
			return err
		}
		if world, err = g.Build(); err != nil {
			return fmt.Errorf("build genesis: %w", err)
		}
	} else {
		world = asset.NewWorld()
	}
	if err := store.PutState(world.Changes()); err != nil {
		return fmt.Errorf("persist genesis: %w", err)
	}
	world.Commit()
	n.Assets = world
	return nil
}

// Run starts the event bus, the websocket hub, the sequencer and the API
// server, and blocks until ctx is done or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.Bus.Run(ctx) })
	g.Go(func() error {
		n.API.Hub().Run(ctx)
		return nil
	})
	g.Go(func() error { return n.Sequencer.Run(ctx) })
	g.Go(func() error { return n.API.Start(ctx, n.Config.Node.APIAddr) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// attestor derives the gossip attestation key from a hex seed, or makes a
// fresh one when the seed is empty.
func attestor(seed string) (*crypto.Attestor, error) {
	if seed == "" {
		return crypto.GenerateAttestor()
	}
	b, err := hexutil.Decode(seed)
	if err != nil {
		return nil, fmt.Errorf("attestation seed: %w", err)
	}
	return crypto.NewAttestor(b)
}

// Close releases the stores and sinks in reverse order of creation.
func (n *Node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.closers = nil
	return errors.Join(errs...)
}
