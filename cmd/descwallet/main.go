// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command descwallet creates and inspects a persisted descriptor wallet.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/davecgh/go-spew/spew"
	"github.com/jessevdk/go-flags"
)

func main() {
	if err := descwalletMain(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// descwalletMain is the real main function. It is necessary to work around
// the fact that deferred functions do not run when os.Exit() is called.
func descwalletMain() error {
	cfg, args, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() {
		if err := logWriter.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()

	log.Debugf("Loaded config: %v", newLogClosure(func() string {
		return spew.Sdump(cfg)
	}))

	if len(args) != 1 {
		return fmt.Errorf("expected one command %v, got %d arguments",
			commandUsage(), len(args))
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf("Unable to close database: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	return runCommand(ctx, os.Stdout, cfg, store, args[0])
}
