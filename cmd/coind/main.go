package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/node"
	"github.com/setavenger/coindb/internal/server"
	v2 "github.com/setavenger/coindb/internal/server/v2"
)

var (
	displayVersion bool
	Version        = "0.0.0"
)

func init() {
	flag.StringVar(
		&config.BaseDirectory,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for coind. Default directory is ~/.coindb",
	)
	flag.BoolVar(
		&displayVersion,
		"version",
		false,
		"show version of coind",
	)
	flag.Parse()

	if displayVersion {
		// we only need the version for this
		return
	}

	config.SetDirectories()

	err := os.MkdirAll(config.BaseDirectory, 0750)
	if err != nil && !errors.Is(err, os.ErrExist) {
		logging.L.Fatal().Err(err).Msg("error creating base directory")
	}

	logging.L.Info().Msgf("base directory %s", config.BaseDirectory)

	// load after loggers are instantiated
	config.LoadConfigs(path.Join(config.BaseDirectory, config.ConfigFileName))

	if err = config.LoadCookie(); err != nil {
		logging.L.Fatal().Err(err).Msg("error reading cookie file")
	}
	if config.BlockSource == config.SourceRPC && config.RpcUser == "" {
		logging.L.Fatal().Msg("rpc user not set")
	}

	if err = os.MkdirAll(config.DBPath, 0750); err != nil {
		logging.L.Fatal().Err(err).Msg("error creating db path")
	}

	if config.LogsPath != "" {
		if err := logging.SetLogOutput(config.LogsPath, "coind.log", config.LogToConsole); err != nil {
			logging.L.Warn().Err(err).Msg("Failed to initialize file logging")
		}
	}
}

func main() {
	if displayVersion {
		fmt.Println("coind version:", Version) // using fmt because loggers are not initialised
		os.Exit(0)
	}
	defer logging.Close()
	defer logging.L.Info().Msg("Program shut down")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	logging.L.Info().Msg("Program Started")

	n, err := node.Open(node.OptionsFromConfig())
	if err != nil {
		logging.L.Err(err).Msg("failed opening node")
		return
	}
	defer func() {
		if err := n.Close(); err != nil {
			logging.L.Err(err).Msg("node close failed")
			return
		}
		logging.L.Debug().Msg("node closed successfully")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)

	api := &server.ApiHandler{Network: config.ChainToString(config.Chain), Node: n}
	go func() {
		if err := server.RunServer(ctx, api); err != nil {
			errChan <- err
		}
	}()

	// keep it optional for now
	if config.GRPCHost != "" {
		go func() {
			if err := v2.RunGRPCServer(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		n.Syncer.Run(ctx, config.SyncInterval)
	}()

	select {
	case <-interrupt:
		logging.L.Info().Msg("Program interrupted")
	case err := <-errChan:
		logging.L.Err(err).Msg("program failed")
	}

	// the syncer finishes the block it is on before the cache is flushed
	cancel()
	<-syncDone
}
