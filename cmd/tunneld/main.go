// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// tunneld is a standalone demonstration of the tunnel engine: it runs a
// loopback echo relay, builds a single leg tunnel to it, and round
// trips one stream through the full cell/relay/congestion stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"

	"github.com/s7g4/arti-hs-keymgmt-sub001/config"
	"github.com/s7g4/arti-hs-keymgmt-sub001/core/log"
	"github.com/s7g4/arti-hs-keymgmt-sub001/core/paramcache"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/congestion"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/hopcrypto"
	"github.com/s7g4/arti-hs-keymgmt-sub001/transport"
)

type cliConfig struct {
	ConfigFile string
}

func newRootCommand() *cobra.Command {
	var cli cliConfig

	cmd := &cobra.Command{
		Use:     "tunneld",
		Short:   "Onion tunnel engine demo daemon",
		Version: versioninfo.Short(),
		Long: `tunneld exercises the client side tunnel engine against a local
loopback relay: cell framing, per hop crypto, stream multiplexing and
congestion control all run exactly as they would against a real relay.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cli)
		},
	}
	cmd.Flags().StringVarP(&cli.ConfigFile, "config", "c", "",
		"path to the configuration file (TOML format)")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadParams(cfg *config.Config) (*congestion.Params, error) {
	if cfg.Debug.ForceFixedWindow {
		return congestion.NewParams(congestion.Params{
			Alg: congestion.AlgorithmFixedWindow,
			FixedWindow: congestion.FixedWindowParams{
				CircWindowStart: 1000,
				CircWindowMin:   100,
				CircWindowMax:   1000,
			},
			RTT: congestion.RoundTripEstimatorParams{
				EwmaCwndPct: 50,
				EwmaMax:     10,
				EwmaSSMax:   2,
				RTTResetPct: 100,
			},
		})
	}
	if cfg.Tunnel.ParamCacheFile != "" {
		cache, err := paramcache.New(cfg.Tunnel.ParamCacheFile)
		if err != nil {
			return nil, err
		}
		defer cache.Close()
		if doc, err := cache.Latest(); err == nil {
			return doc.Validate()
		}
	}
	return congestion.DefaultParams(), nil
}

func run(cli cliConfig) error {
	cfg := new(config.Config)
	if cli.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(cli.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %v", err)
		}
	} else if err := cfg.FixupAndValidate(); err != nil {
		return err
	}

	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	logger := logBackend.GetLogger("tunneld")

	params, err := loadParams(cfg)
	if err != nil {
		return err
	}

	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	go func() {
		for range rotateCh {
			if err := logBackend.Rotate(); err != nil {
				logger.Errorf("failed to rotate log: %v", err)
			}
		}
	}()

	key := make([]byte, hopcrypto.KeyLen)

	echo, err := newEchoRelay(logBackend, key, cfg.Transport.LinkProtocol)
	if err != nil {
		return err
	}
	defer echo.Halt()
	logger.Noticef("echo relay listening on %v", echo.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, "tcp", echo.Addr().String())
	if err != nil {
		return err
	}
	ch, err := tunnel.NewConnChannel(conn, cfg.Transport.LinkProtocol)
	if err != nil {
		return err
	}
	cryptor, err := hopcrypto.NewChaChaCryptor(key)
	if err != nil {
		return err
	}

	tun, err := tunnel.New(&tunnel.Config{
		LogBackend:      logBackend,
		Params:          params,
		ReorderCapacity: cfg.Tunnel.ReorderCapacity,
		GapTimeout:      cfg.Tunnel.GapTimeout(),
		DrainTimeout:    cfg.Tunnel.DrainTimeout(),
	})
	if err != nil {
		return err
	}
	defer tun.Halt()

	go func() {
		<-haltCh
		cancel()
	}()

	if _, err = tun.AddLeg(ctx, ch, []hopcrypto.Cryptor{cryptor}); err != nil {
		return err
	}
	s, err := tun.OpenStream(ctx, "echo.invalid", 7)
	if err != nil {
		return err
	}
	if err = s.Send(ctx, []byte("hello, tunnel")); err != nil {
		return err
	}

	select {
	case ev := <-s.Recv():
		switch e := ev.(type) {
		case *tunnel.DataEvent:
			logger.Noticef("echoed: %q", e.Payload)
		case *tunnel.EndEvent:
			return fmt.Errorf("stream ended early: %v", e.Reason)
		case *tunnel.ErrorEvent:
			return e.Err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	_ = s.Close()
	return tun.Shutdown(ctx)
}
