package p2p

import (
	"context"
	"errors"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

// DefaultTopic carries committed settlement events between nodes and
// indexers.
const DefaultTopic = "hypersettle-events"

// Remote is an event published by another peer.
type Remote struct {
	From   peer.ID
	SentAt time.Time
	// Attestor is the sender's BLS public key, nil when the envelope was
	// not attested.
	Attestor []byte
	Event    events.Event
}

// Handler receives events published by other peers.
type Handler func(Remote)

type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	// Attestor signs every published envelope when set.
	Attestor *crypto.Attestor
	Logger   *zap.SugaredLogger
}

// Gossip publishes committed events on a gossipsub topic. It is an
// events.Sink; remote events are handed to subscribed handlers.
type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	att   *crypto.Attestor
	log   *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}

	muH      sync.RWMutex
	handlers []Handler
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(runCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	name := cfg.Topic
	if name == "" {
		name = DefaultTopic
	}
	topic, err := ps.Join(name)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		topic.Close()
		h.Close()
		return nil, err
	}

	g := &Gossip{
		h: h, ps: ps, topic: topic, sub: sub,
		att:    cfg.Attestor,
		log:    util.OrNop(cfg.Logger),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, bs := range cfg.Bootstrap {
		if err := g.Connect(ctx, bs); err != nil {
			g.log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	go g.receive(runCtx)

	g.log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", name)
	return g, nil
}

// Connect dials a peer given its full /p2p/ multiaddr.
func (g *Gossip) Connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return g.h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns the dialable multiaddrs of this node, peer id included.
func (g *Gossip) Addrs() []string {
	suffix, err := ma.NewMultiaddr("/p2p/" + g.h.ID().String())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, a.Encapsulate(suffix).String())
	}
	return out
}

// Peers lists the peers currently in the topic mesh.
func (g *Gossip) Peers() []peer.ID { return g.topic.ListPeers() }

// Subscribe registers fn for events published by other peers.
func (g *Gossip) Subscribe(fn Handler) {
	g.muH.Lock()
	g.handlers = append(g.handlers, fn)
	g.muH.Unlock()
}

func (g *Gossip) Publish(ctx context.Context, ev events.Event) error {
	data, err := encodeEvent(g.h.ID().String(), time.Now().UnixMilli(), ev, g.att)
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) Name() string { return "p2p" }

func (g *Gossip) Handle(ctx context.Context, ev events.Event) error {
	return g.Publish(ctx, ev)
}

// Close stops receiving and shuts the host down.
func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	<-g.done
	err := g.topic.Close()
	return errors.Join(err, g.h.Close())
}

func (g *Gossip) receive(ctx context.Context) {
	defer close(g.done)
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		w, ev, err := decodeEvent(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		g.muH.RLock()
		handlers := g.handlers
		g.muH.RUnlock()
		remote := Remote{From: msg.ReceivedFrom, SentAt: time.UnixMilli(w.SentAt), Attestor: w.Attestor, Event: ev}
		for _, h := range handlers {
			h(remote)
		}
	}
}
