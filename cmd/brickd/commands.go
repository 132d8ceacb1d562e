package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taoyao-code/brick-gateway/internal/app/bootstrap"
	"github.com/taoyao-code/brick-gateway/internal/control"
	"github.com/taoyao-code/brick-gateway/internal/decision"
)

// errDeliveryFailed send 子命令重试耗尽
var errDeliveryFailed = errors.New("instructions failed to send")

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Pair with the device, then deliver one command per input line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			sctx, cancel := signalContext()
			defer cancel()
			return bootstrap.Run(sctx, cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newPairCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Wait for a device broadcast, reply with the token and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			sctx, cancel := signalContext()
			defer cancel()
			peer, err := bootstrap.PairOnce(sctx, cfg, log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), peer.Host)
			return nil
		},
	}
}

func newSendCommand(ctx *commandContext) *cobra.Command {
	var (
		host      string
		primary   uint8
		secondary uint8
		choice    string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Deliver a single command packet to a known device address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := ctx.ensure()
			if err != nil {
				return err
			}
			pkt := control.Packet{Primary: primary, Secondary: secondary}
			if choice != "" {
				labels := decision.DefaultLabelMap()
				if cfg.Decision.LabelMapPath != "" {
					if labels, err = decision.LoadLabelMap(cfg.Decision.LabelMapPath); err != nil {
						return err
					}
				}
				d, err := decision.ParseLine(labels, choice)
				if err != nil {
					return err
				}
				pkt = d.Packet()
			}

			sctx, cancel := signalContext()
			defer cancel()
			res := bootstrap.SendOnce(sctx, cfg, log, host, pkt)
			if !res.OK {
				return fmt.Errorf("%w after %d attempts", errDeliveryFailed, res.Attempts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s in %d attempt(s)\n", pkt, host, res.Attempts)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Device IP address")
	cmd.Flags().Uint8Var(&primary, "primary", 0, "Primary class index")
	cmd.Flags().Uint8Var(&secondary, "secondary", 0, "Secondary class index")
	cmd.Flags().StringVar(&choice, "choice", "", `Labels instead of indices, e.g. "left, rock"`)
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
