package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"adregister/internal/config"
	"adregister/internal/logging"
	"adregister/internal/source"
	"adregister/internal/storage"
)

type app struct {
	cfg config.Config
	db  *storage.DB
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "adregister",
		Short:         "Extract airworthiness directives from the GFA AD register",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.Setup(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}

	root.AddCommand(
		a.extractCmd(),
		a.importCmd(),
		a.runsCmd(),
		a.listCmd(),
		a.exportCmd(),
		a.syncCmd(),
		a.mailCmd(),
		a.listenCmd(),
	)

	must(root.Execute())
}

func (a *app) openDB() (*storage.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := storage.Open(a.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// sourceArg maps the positional argument to a byte source; "-" is stdin.
func sourceArg(arg string) source.Source {
	if strings.TrimSpace(arg) == "-" {
		return source.Stream("stdin", os.Stdin)
	}
	return source.Path(arg)
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
