package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/ledger/app/services/node/handlers"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/blockchain/worker"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/logger"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:60s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			MinerName     string        `conf:"default:miner"`
			GenesisPath   string        `conf:"default:zblock/genesis.json"`
			DataDir       string        `conf:"default:zblock/data"`
			Persist       bool          `conf:"default:true"`
			MaxAttempts   uint64        `conf:"default:0"`
			HistoryDepth  uint64        `conf:"default:256"`
			CycleDuration time.Duration `conf:"default:12s"`
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "educational ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the zblock/accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for address, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "address", address)
	}

	// =========================================================================
	// Ledger Support

	// Need to load the private key file for the configured miner so the
	// account can get credited with rewards and fees.
	path := fmt.Sprintf("%s%s.ecdsa", cfg.NameService.Folder, cfg.State.MinerName)
	privateKey, err := crypto.LoadECDSA(path)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}
	minerAddress := signature.Address(privateKey.PublicKey)

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return err
	}

	consensus, err := gen.Consensus()
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	// The ledger packages accept a function of this signature to allow the
	// application to log. Messages with the viewer prefix are sent to any
	// websocket client that is connected into the system through the events
	// package.
	evts := events.New("viewer:")
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The state value represents the ledger and provides an API for
	// application support.
	st, err := state.New(state.Config{
		Consensus:     consensus,
		Difficulty:    gen.Difficulty,
		Reward:        gen.MiningReward,
		MinStake:      gen.MinStake,
		MaxValidators: gen.MaxValidators,
		MinerAddress:  minerAddress,
		MaxAttempts:   cfg.State.MaxAttempts,
		HistoryDepth:  cfg.State.HistoryDepth,
		EvHandler:     ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// Storage keeps a copy of the ledger on disk so the node can recover
	// it on restart.
	var store *storage.Store
	if cfg.State.Persist {
		store, err = storage.New(cfg.State.DataDir, ev)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	if err := startup(log, st, store, gen, minerAddress); err != nil {
		return err
	}

	// The worker package implements the block production and persistence
	// workflows. The worker will register itself with the state.
	var persister worker.Persister
	if store != nil {
		persister = store
	}
	worker.Run(st, persister, worker.Config{
		Beneficiary:   minerAddress,
		CycleDuration: cfg.State.CycleDuration,
	}, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Store:    store,
		Genesis:  gen,
		Miner:    minerAddress,
		NS:       ns,
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// startup recovers the ledger from storage when a copy exists. Otherwise the
// genesis validators are registered and the genesis balances are minted into
// the first block.
func startup(log *zap.SugaredLogger, st *state.State, store *storage.Store, gen genesis.Genesis, minerAddress string) error {
	if store != nil {
		meta, err := store.LoadMetadata()
		if err != nil {
			return err
		}

		if meta != nil && meta.BlockCount > 0 {
			data, err := store.LoadBlockchain()
			if err != nil {
				return err
			}

			if err := st.Import(data); err != nil {
				return fmt.Errorf("recovering ledger: %w", err)
			}

			log.Infow("startup", "status", "ledger recovered", "blocks", meta.BlockCount, "hash", meta.LastBlockHash)
			return nil
		}

		if meta == nil {
			if _, err := store.Initialize(st.ChainConfig()); err != nil {
				return err
			}
		}
	}

	if st.Consensus() == database.ConsensusPOS {
		for _, v := range gen.Validators {
			if err := st.RegisterValidator(v.ID, v.Address, v.Stake); err != nil {
				return fmt.Errorf("registering genesis validator %s: %w", v.ID, err)
			}
		}
	}

	balances := database.Balances(gen.Balances)
	for _, address := range balances.Addresses() {
		if _, err := st.AddTransaction(database.CoinbaseSender, address, balances[address], "genesis"); err != nil {
			return fmt.Errorf("minting genesis balance for %s: %w", address, err)
		}
	}

	if st.MempoolLength() > 0 && (st.Consensus() == database.ConsensusPOW || len(gen.Validators) > 0) {
		if _, err := st.MineBlock(context.Background(), minerAddress); err != nil {
			return fmt.Errorf("mining genesis balances: %w", err)
		}
	}

	if store != nil {
		if err := store.SaveBlockchain(st.Export()); err != nil {
			return err
		}
	}

	log.Infow("startup", "status", "ledger created", "consensus", st.Consensus(), "height", st.LatestBlock().Header.Index)

	return nil
}
