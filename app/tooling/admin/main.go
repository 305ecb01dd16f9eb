// This program performs offline administrative tasks against a node's
// ledger storage. The node must not be running while these are executed.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/ledger/app/tooling/admin/commands"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage"
	"github.com/ardanlabs/ledger/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		if !errors.Is(err, commands.ErrHelp) {
			log.Errorw("startup", "ERROR", err)
		}
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	cfg := struct {
		conf.Version
		Args    conf.Args
		DataDir string `conf:"default:zblock/data"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "ledger storage administration",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	ev := func(v string, args ...any) {
		log.Debugw(fmt.Sprintf(v, args...))
	}

	store, err := storage.New(cfg.DataDir, ev)
	if err != nil {
		return err
	}
	defer store.Close()

	return processCommands(cfg.Args, store)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args conf.Args, store *storage.Store) error {
	switch args.Num(0) {
	case "meta":
		if err := commands.Metadata(store); err != nil {
			return fmt.Errorf("getting metadata: %w", err)
		}

	case "bals":
		if err := commands.Balances(args.Num(1), store); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}

	case "blocks":
		if err := commands.Blocks(store); err != nil {
			return fmt.Errorf("getting blocks: %w", err)
		}

	case "integrity":
		if err := commands.Integrity(store); err != nil {
			return fmt.Errorf("checking integrity: %w", err)
		}

	case "health":
		if err := commands.Health(store); err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

	case "backup":
		if err := commands.Backup(args.Num(1), args.Num(2), store); err != nil {
			return fmt.Errorf("backup: %w", err)
		}

	default:
		fmt.Println("meta:      show the storage metadata")
		fmt.Println("bals:      show the balances, optionally for one address")
		fmt.Println("blocks:    show the stored blocks")
		fmt.Println("integrity: verify every stored block and transaction")
		fmt.Println("health:    report disk, memory and cache health")
		fmt.Println("backup:    create full|incremental, list, restore <id>, cleanup <keep>")
		return commands.ErrHelp
	}

	return nil
}
