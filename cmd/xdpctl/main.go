// File: cmd/xdpctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// xdpctl is the control tool named in the command surface: set-device-sddl,
// program create/delete, rss get/set/clear. Each invocation constructs its
// own facade.Service against the reference Loopback provider, performs the
// requested operation, and exits — matching the contract that all state is
// process-lived and reverted on handle close, there being nothing to
// persist between invocations. Command tree and viper-backed flag binding
// follow the cobra wiring shape used by proxy-egress/cmd/proxy.

package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xdpfabric/afxdp/core/offload"
	"github.com/xdpfabric/afxdp/core/program"
	"github.com/xdpfabric/afxdp/core/socket"
	"github.com/xdpfabric/afxdp/facade"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:     "xdpctl",
		Short:   "Control tool for the AF_XDP-style datapath framework",
		Version: version,
	}
	root.PersistentFlags().Int("if-index", 1, "target interface index")
	root.PersistentFlags().Int("queue", 0, "target queue id")
	_ = v.BindPFlag("if_index", root.PersistentFlags().Lookup("if-index"))
	_ = v.BindPFlag("queue", root.PersistentFlags().Lookup("queue"))

	root.AddCommand(newSetDeviceSDDLCmd(v))
	root.AddCommand(newProgramCmd(v))
	root.AddCommand(newRSSCmd(v))
	root.AddCommand(newDebugCmd(v))
	return root
}

func newService() (*facade.Service, error) {
	return facade.New(facade.DefaultConfig())
}

func newSetDeviceSDDLCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "set-device-sddl <sddl>",
		Short: "Set the access descriptor string for the control device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			svc.Config().SetConfig(map[string]any{"device_sddl": args[0]})
			fmt.Fprintf(cmd.OutOrStdout(), "device access descriptor set\n")
			return nil
		},
	}
}

func newProgramCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "Create or delete a filter program",
	}

	var hook string
	var match string
	var action string
	var port uint16

	create := &cobra.Command{
		Use:   "create",
		Short: "Compile and attach a single-rule filter program",
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex := v.GetInt("if_index")
			queue := v.GetInt("queue")

			svc, err := newService()
			if err != nil {
				return err
			}

			rule, err := parseRule(match, action, port)
			if err != nil {
				return err
			}

			key := program.Key{IfIndex: ifIndex, Hook: hook, Queue: queue}
			attached, err := svc.AttachProgram(key, []program.Rule{rule})
			if err != nil {
				return fmt.Errorf("program create: %w", err)
			}
			if attached {
				fmt.Fprintf(cmd.OutOrStdout(), "program attached at if_index=%d hook=%s queue=%d\n", ifIndex, hook, queue)
			}
			return nil
		},
	}
	create.Flags().StringVar(&hook, "hook", "ingress", "attach hook name")
	create.Flags().StringVar(&match, "match", "udp", "match predicate: udp, tcp, ipv4, ipv6, quic, portset")
	create.Flags().StringVar(&action, "action", "pass", "action: drop, pass, redirect, l2forward, ebpf")
	create.Flags().Uint16Var(&port, "port", 0, "port for the match predicate, if applicable")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Detach whatever filter program is attached at the given key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex := v.GetInt("if_index")
			queue := v.GetInt("queue")

			svc, err := newService()
			if err != nil {
				return err
			}
			key := program.Key{IfIndex: ifIndex, Hook: hook, Queue: queue}
			if !svc.DetachProgram(key) {
				return fmt.Errorf("program delete: nothing attached at if_index=%d hook=%s queue=%d", ifIndex, hook, queue)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "program detached\n")
			return nil
		},
	}
	del.Flags().StringVar(&hook, "hook", "ingress", "attach hook name")

	cmd.AddCommand(create, del)
	return cmd
}

func parseRule(match, action string, port uint16) (program.Rule, error) {
	r := program.Rule{Port: port}

	switch strings.ToLower(match) {
	case "udp":
		r.Match = program.MatchUDP
	case "tcp":
		r.Match = program.MatchTCP
	case "ipv4":
		r.Match = program.MatchIPv4
		r.IPv4 = net.IPv4zero
		r.IPv4Mask = net.CIDRMask(0, 32)
	case "ipv6":
		r.Match = program.MatchIPv6
		r.IPv6 = net.IPv6zero
		r.IPv6Mask = net.CIDRMask(0, 128)
	case "quic":
		r.Match = program.MatchQUICConnID
	case "portset":
		r.Match = program.MatchPortSet
		r.PortSet = []uint16{port}
	default:
		return r, fmt.Errorf("unknown match predicate %q", match)
	}

	switch strings.ToLower(action) {
	case "drop":
		r.Action = program.ActionDrop
	case "pass":
		r.Action = program.ActionPass
	case "redirect":
		r.Action = program.ActionRedirect
	case "l2forward":
		r.Action = program.ActionL2Forward
	case "ebpf":
		r.Action = program.ActionEBPF
	default:
		return r, fmt.Errorf("unknown action %q", action)
	}
	return r, nil
}

func newDebugCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Debug introspection commands",
	}

	pollInfo := &cobra.Command{
		Use:   "poll-info",
		Short: "Bind a scratch socket and report its current poll mode and NEED_POKE counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex := v.GetInt("if_index")
			queue := v.GetInt("queue")

			svc, err := newService()
			if err != nil {
				return err
			}
			u, err := svc.NewUmem()
			if err != nil {
				return fmt.Errorf("debug poll-info: %w", err)
			}
			h, _ := svc.NewSocket()
			if err := svc.BindSocket(h, ifIndex, queue, socket.BindRX|socket.BindTX, u); err != nil {
				return fmt.Errorf("debug poll-info: %w", err)
			}
			if err := svc.ActivateSocket(h); err != nil {
				return fmt.Errorf("debug poll-info: %w", err)
			}
			defer svc.CloseSocket(h)

			info, err := svc.PollInfo(h)
			if err != nil {
				return fmt.Errorf("debug poll-info: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "poll_mode=%v need_poke_events=%d\n", info.Mode, info.NeedPokeEvents)
			return nil
		},
	}

	cmd.AddCommand(pollInfo)
	return cmd
}

func newRSSCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rss",
		Short: "Get, set, or clear RSS offload settings on an interface",
	}

	get := &cobra.Command{
		Use:   "get <ifIndex>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("rss get: %w", err)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			set, ok := svc.CurrentOffload(ifIndex, offload.KindRSS)
			if !ok {
				return fmt.Errorf("rss get: no RSS settings installed on if_index=%d", ifIndex)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rss_hash_key=%x indirection_table=%v\n", set.RSSHashKey, set.RSSIndirTable)
			return nil
		},
	}

	var hashKeyHex string
	set := &cobra.Command{
		Use:   "set <ifIndex>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("rss set: %w", err)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			key := []byte(hashKeyHex)
			if err := svc.InstallOffload(ifIndex, offload.Settings{Kind: offload.KindRSS, RSSHashKey: key}); err != nil {
				return fmt.Errorf("rss set: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rss settings installed on if_index=%d\n", ifIndex)
			return nil
		},
	}
	set.Flags().StringVar(&hashKeyHex, "hash-key", "", "RSS hash key bytes")

	clear := &cobra.Command{
		Use:   "clear <ifIndex>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ifIndex, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("rss clear: %w", err)
			}
			svc, err := newService()
			if err != nil {
				return err
			}
			if err := svc.RevertOffload(ifIndex, offload.KindRSS); err != nil {
				return fmt.Errorf("rss clear: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rss settings cleared on if_index=%d\n", ifIndex)
			return nil
		},
	}

	cmd.AddCommand(get, set, clear)
	return cmd
}
