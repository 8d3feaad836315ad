package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/socknet"
	"github.com/opd-ai/socknet/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "socknet",
	Short: "Inspect and exercise raw TCP/UDP sockets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		levelName, _ := cmd.Flags().GetString("log-level")
		level, err := logrus.ParseLevel(levelName)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return nil
	},
	SilenceUsage: true,
}

// initNet loads --config (if given) and initializes the subsystem.
func initNet(cmd *cobra.Command) (*socknet.Net, error) {
	opts := socknet.NewOptions()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := socknet.LoadOptions(path)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}
	if cmd.Flags().Lookup("nameserver") != nil {
		if ns, _ := cmd.Flags().GetString("nameserver"); ns != "" {
			opts.Nameserver = ns
		}
	}
	return socknet.Init(opts)
}

// ─── interfaces ──────────────────────────────────────────────────────────────

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List local IPv4 addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := initNet(cmd)
		if err != nil {
			return err
		}
		defer n.Quit()

		addrs, err := n.LocalAddresses()
		if err != nil {
			return err
		}
		fmt.Printf("Found %d local addresses\n", len(addrs))
		for i, addr := range addrs {
			fmt.Printf("%d: %s\n", i+1, addr.IP())
		}
		return nil
	},
}

// ─── resolve ─────────────────────────────────────────────────────────────────

var resolveCmd = &cobra.Command{
	Use:   "resolve HOST",
	Short: "Resolve a host name (or reverse-resolve an address)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetUint16("port")
		reverse, _ := cmd.Flags().GetBool("reverse")

		n, err := initNet(cmd)
		if err != nil {
			return err
		}
		defer n.Quit()

		addr, err := n.Resolve(args[0], port)
		if err != nil {
			return err
		}
		fmt.Println(addr)

		if reverse {
			name, err := n.ResolveIP(addr)
			if err != nil {
				return err
			}
			fmt.Println(name)
		}
		return nil
	},
}

// ─── serve ───────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Echo TCP streams and log UDP datagrams until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		tcpPort, _ := cmd.Flags().GetUint16("tcp-port")
		udpPort, _ := cmd.Flags().GetUint16("udp-port")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		n, err := initNet(cmd)
		if err != nil {
			return err
		}
		defer n.Quit()

		srv, err := server.New(n, server.Config{TCPPort: tcpPort, UDPPort: udpPort})
		if err != nil {
			return err
		}
		defer srv.Close()

		tcpAddr, _ := srv.TCPAddress()
		udpAddr, _ := srv.UDPAddress()
		fmt.Printf("Listening on tcp %s, udp %s\n", tcpAddr, udpAddr)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// ActiveCount cannot be cancelled, so short timeouts bound the
		// latency of noticing a signal.
		for ctx.Err() == nil {
			if _, err := srv.Step(timeout); err != nil {
				return err
			}
		}

		stats := srv.Stats()
		fmt.Printf("\nAccepted %d, closed %d, echoed %d bytes, %d datagrams\n",
			stats.Accepted, stats.Closed, stats.Echoed, stats.Datagrams)
		return nil
	},
}

// ─── send ────────────────────────────────────────────────────────────────────

var sendCmd = &cobra.Command{
	Use:   "send HOST PORT MESSAGE",
	Short: "Send one message over TCP (or UDP with --udp)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		useUDP, _ := cmd.Flags().GetBool("udp")
		var port uint16
		if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}

		n, err := initNet(cmd)
		if err != nil {
			return err
		}
		defer n.Quit()

		addr, err := n.Resolve(args[0], port)
		if err != nil {
			return err
		}
		if addr.IsWildcard() {
			return errors.New("send needs a concrete destination host")
		}

		if useUDP {
			return sendUDP(n, addr, []byte(args[2]))
		}
		return sendTCP(n, addr, []byte(args[2]))
	},
}

func sendUDP(n *socknet.Net, addr socknet.Address, msg []byte) error {
	u, err := socknet.OpenUDP(n, 0)
	if err != nil {
		return err
	}
	defer u.Close()
	return u.SendTo(msg, addr)
}

func sendTCP(n *socknet.Net, addr socknet.Address, msg []byte) error {
	s, err := socknet.OpenTCP(n, addr)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.Write(msg); err != nil {
		return err
	}

	set, err := socknet.NewSocketSet(n)
	if err != nil {
		return err
	}
	defer set.Close()
	if err := set.Push(s); err != nil {
		return err
	}
	defer set.Remove(s)

	// Print whatever comes back within a second (the serve command echoes).
	if count, err := set.ActiveCount(time.Second); err != nil || count == 0 {
		return err
	}
	buf := make([]byte, 4096)
	nr, err := s.Read(buf)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", buf[:nr])
	return nil
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "TOML options file")
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	resolveCmd.Flags().Uint16("port", 0, "Port to attach to the resolved address")
	resolveCmd.Flags().String("nameserver", "", "Query this nameserver directly instead of the system resolver")
	resolveCmd.Flags().Bool("reverse", false, "Also reverse-resolve the address")

	serveCmd.Flags().Uint16("tcp-port", 7000, "TCP port to listen on (0 = ephemeral)")
	serveCmd.Flags().Uint16("udp-port", 7000, "UDP port to bind (0 = ephemeral)")
	serveCmd.Flags().Duration("timeout", 250*time.Millisecond, "Readiness wait per loop iteration")

	sendCmd.Flags().Bool("udp", false, "Send a datagram instead of a stream")

	rootCmd.AddCommand(interfacesCmd, resolveCmd, serveCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
