// Command quorumnetd runs a standalone quorumnet service node against
// a static devnet roster: it joins the p2p network, participates in
// blink signature aggregation and relay, answers timestamp queries, and
// optionally serves its status over HTTP.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snblink"
	"github.com/quorumnet-engine/quorumnet/sn/sndebug"
	"github.com/quorumnet-engine/quorumnet/sn/snp2p"
	"github.com/quorumnet-engine/quorumnet/sn/snq"
	"github.com/quorumnet-engine/quorumnet/sn/snsubmit"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		rosterPath  string
		seedHex     string
		listenAddrs []string
		bootstrap   []string
		debugAddr   string
		debugSocket string
		moniker     string
		genesisUnix int64
		blockTime   time.Duration
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "quorumnetd",
		Short: "Runs a quorumnet service node",

		SilenceUsage: true,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), nodeConfig{
				RosterPath:  rosterPath,
				SeedHex:     seedHex,
				ListenAddrs: listenAddrs,
				Bootstrap:   bootstrap,
				DebugAddr:   debugAddr,
				DebugSocket: debugSocket,
				Moniker:     moniker,
				GenesisUnix: genesisUnix,
				BlockTime:   blockTime,
				LogLevel:    logLevel,
			})
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&rosterPath, "roster", "", "Path to the devnet roster JSON file")
	fs.StringVar(&seedHex, "seed", "", "Hex-encoded 32-byte ed25519 seed; generated if empty")
	fs.StringSliceVar(&listenAddrs, "listen", []string{"/ip4/0.0.0.0/tcp/0"}, "Multiaddrs to listen on")
	fs.StringSliceVar(&bootstrap, "bootstrap", nil, "Multiaddrs of bootstrap peers")
	fs.StringVar(&debugAddr, "debug-addr", "", "TCP address for the status server; disabled if empty")
	fs.StringVar(&debugSocket, "debug-socket", "", "Unix socket path for the status server; disabled if empty")
	fs.StringVar(&moniker, "moniker", petname.Generate(2, "-"), "Name for this node in log output")
	fs.Int64Var(&genesisUnix, "genesis-unix", 0, "Devnet genesis unix time; the height clock starts here (0 means now)")
	fs.DurationVar(&blockTime, "block-time", 2*time.Minute, "Devnet height clock interval")
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")

	_ = cmd.MarkFlagRequired("roster")

	return cmd
}

type nodeConfig struct {
	RosterPath  string
	SeedHex     string
	ListenAddrs []string
	Bootstrap   []string
	DebugAddr   string
	DebugSocket string
	Moniker     string
	GenesisUnix int64
	BlockTime   time.Duration
	LogLevel    string
}

func runNode(ctx context.Context, cfg nodeConfig) error {
	log, err := newLogger(cfg.LogLevel, cfg.Moniker)
	if err != nil {
		return err
	}

	r, err := loadRoster(cfg.RosterPath)
	if err != nil {
		return err
	}

	signer, err := newSigner(cfg.SeedHex)
	if err != nil {
		return err
	}
	log.Info("Service node key loaded",
		"pubkey", hex.EncodeToString(signer.PubKey().PubKeyBytes()))

	p2pCfg := snp2p.DefaultConfig()
	p2pCfg.ListenAddrs = cfg.ListenAddrs
	p2pCfg.BootstrapPeers = cfg.Bootstrap
	p2pCfg.Recognize = r.Recognize
	host, err := snp2p.NewHost(ctx, log.With("sys", "p2p"), p2pCfg)
	if err != nil {
		return fmt.Errorf("starting p2p host: %w", err)
	}
	defer host.Close()

	genesis := time.Unix(cfg.GenesisUnix, 0)
	if cfg.GenesisUnix == 0 {
		genesis = time.Now()
	}
	heights := &clockHeight{genesis: genesis, interval: cfg.BlockTime}

	qnet, err := snq.New(log, snq.Config{
		Signer:     signer,
		Height:     heights,
		Membership: r,
		Directory:  r,
		Mempool:    &logMempool{log: log.With("sys", "mempool")},
		Transport:  host,
		Announcer:  host,
	})
	if err != nil {
		return fmt.Errorf("assembling node: %w", err)
	}
	qnet.Register(host)
	qnet.Start(ctx)
	defer qnet.Stop()

	correlator := snsubmit.NewCorrelator(
		log.With("sys", "submit"), snsubmit.DefaultConfig(),
		heights, r, r, blinkSender{host: host},
	)
	qnet.SetCorrelator(correlator)

	if cfg.DebugAddr != "" || cfg.DebugSocket != "" {
		if err := startDebugServer(ctx, log, cfg, heights, qnet, correlator, host); err != nil {
			return err
		}
	}

	log.Info("Node running", "id", host.ID(), "addrs", host.Addrs())
	<-ctx.Done()
	log.Info("Shutting down")
	return nil
}

func newLogger(level, moniker string) (*slog.Logger, error) {
	var lv slog.Level
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "info":
		lv = slog.LevelInfo
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})
	return slog.New(h).With("moniker", moniker), nil
}

func newSigner(seedHex string) (qcrypto.Signer, error) {
	if seedHex == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generating key: %w", err)
		}
		return qcrypto.NewEd25519Signer(priv), nil
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed: got %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return qcrypto.NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

func startDebugServer(
	ctx context.Context,
	log *slog.Logger,
	cfg nodeConfig,
	heights *clockHeight,
	qnet *snq.QNet,
	correlator *snsubmit.Correlator,
	host *snp2p.Host,
) error {
	network, addr := "tcp", cfg.DebugAddr
	if cfg.DebugSocket != "" {
		network, addr = "unix", cfg.DebugSocket
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("starting debug listener: %w", err)
	}
	sndebug.NewServer(ctx, log.With("sys", "debug"), sndebug.Config{
		Listener: ln,
		Height:   heights,
		Blink:    qnet.Aggregator(),
		Submit:   correlator,
		Net:      host,
	})
	log.Info("Debug server listening", "addr", ln.Addr())
	return nil
}

// clockHeight derives a devnet block height from wall time, so nodes
// sharing a genesis time and block interval agree on the height
// without a blockchain.
type clockHeight struct {
	genesis  time.Time
	interval time.Duration
}

func (c *clockHeight) Height() uint64 {
	d := time.Since(c.genesis)
	if d < 0 {
		return 0
	}
	return uint64(d / c.interval)
}

// logMempool admits everything. A devnet node has no real mempool to
// consult; approved transactions are only logged.
type logMempool struct {
	log *slog.Logger
}

func (m *logMempool) EvaluateBlink(_ context.Context, height uint64, blob []byte) (bool, string) {
	m.log.Debug("Evaluating blink tx", "height", height, "size", len(blob))
	return true, ""
}

func (m *logMempool) AdmitApproved(_ context.Context, tx *snblink.Tx) {
	m.log.Info("Blink tx approved", "tx", tx.Hash(), "height", tx.Height())
}

// blinkSender adapts the p2p host to the correlator's submission
// interface.
type blinkSender struct {
	host *snp2p.Host
}

func (s blinkSender) SendBlinkSubmit(ctx context.Context, remote sntopo.Remote, msg snwire.BlinkSubmit) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return s.host.SendStrong(ctx, string(remote.NetID), remote.ConnectAddr, snwire.CmdBlinkSubmit, data)
}
