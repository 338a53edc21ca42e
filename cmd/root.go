package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kpelzel/sacnproxy/internal/admin"
	"github.com/kpelzel/sacnproxy/internal/config"
	"github.com/kpelzel/sacnproxy/internal/lights"
	"github.com/kpelzel/sacnproxy/internal/netif"
	"github.com/kpelzel/sacnproxy/internal/proxy"
	"github.com/kpelzel/sacnproxy/internal/sacn"
)

var (
	debug      bool
	configPath string

	iface      string
	port       int
	universe   uint16
	maxViewers int
	adminAddr  string

	RootCmd = &cobra.Command{
		Use:   "sacnproxy",
		Short: "relay sACN universes to remote viewers",
		Long: "sacnproxy receives sACN (E1.31) multicast on the local network and relays\n" +
			"whole universes to viewers connecting over TCP.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				log.SetLevel(log.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log.Debugf("config: %+v", conf)
			return serve(cmd.Context(), conf)
		},
	}
)

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Errorf("failed to execute command: %v", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debugging")
	RootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file location (.yaml or .toml)")
	RootCmd.Flags().StringVarP(&iface, "interface", "i", "", "network interface to receive sACN on")
	RootCmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "TCP port viewers connect to")
	RootCmd.Flags().Uint16VarP(&universe, "universe", "u", 0, "serve only this universe to every viewer")
	RootCmd.Flags().IntVar(&maxViewers, "max-viewers", config.DefaultMaxViewers, "maximum concurrent viewers")
	RootCmd.Flags().StringVar(&adminAddr, "admin", "", "address of the HTTP status and metrics api, e.g. :8080")
}

// loadConfig reads the config file, if any, and applies flags the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	conf := config.Default()
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		conf = c
	}

	flags := cmd.Flags()
	if flags.Changed("interface") {
		conf.Interface = iface
	}
	if flags.Changed("port") {
		conf.Listen.Port = port
	}
	if flags.Changed("universe") {
		conf.LockedUniverse = universe
	}
	if flags.Changed("max-viewers") {
		conf.Listen.MaxViewers = maxViewers
	}
	if flags.Changed("admin") {
		conf.Admin.Addr = adminAddr
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return conf, nil
}

func proxyOptions(conf *config.Config, ifi *net.Interface, metrics *proxy.Metrics) proxy.Options {
	opts := proxy.Options{
		Addr:             conf.Listen.Addr(),
		MaxClients:       conf.Listen.MaxViewers,
		MaxPendingWrites: conf.Listen.MaxPendingWrites,
		LockedUniverse:   conf.LockedUniverse,
		HelloTimeout:     conf.Listen.HelloTimeout,
		WriteTimeout:     conf.Listen.WriteTimeout,
		Interface:        ifi,
		Metrics:          metrics,
	}
	if conf.ReceiveBuffer > 0 {
		size := conf.ReceiveBuffer
		opts.NewSource = func() proxy.FrameSource {
			return sacn.NewReceiver(sacn.WithReadBuffer(size))
		}
	}
	return opts
}

func serve(ctx context.Context, conf *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ifi *net.Interface
	if conf.Interface != "" {
		i, err := netif.Lookup(conf.Interface)
		if err != nil {
			return err
		}
		if !i.Up || !i.Multicast {
			log.Warnf("interface %v may not receive multicast", i)
		}
		log.Infof("receiving sACN on %v", i)
		ifi = i.Net()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := proxy.Listen(ctx, proxyOptions(conf, ifi, proxy.NewMetrics(reg)))
	if err != nil {
		return err
	}
	defer srv.Close()

	if conf.Admin.Addr != "" {
		api := admin.New(srv, reg)
		go func() {
			if err := api.Serve(ctx, conf.Admin.Addr); err != nil {
				log.Errorf("admin api stopped: %v", err)
			}
		}()
	}

	if len(conf.Lights.Output) > 0 {
		out, err := lights.Connect(conf.Lights.Output)
		if err != nil {
			return fmt.Errorf("failed to connect to lights: %w", err)
		}
		defer out.Close()
		go out.Run(ctx)

		unsubscribe, err := srv.Subscribe(conf.Lights.Universe, "lights", out.HandleFrame)
		if err != nil {
			return fmt.Errorf("failed to subscribe lights to universe %v: %w", conf.Lights.Universe, err)
		}
		defer unsubscribe()
		log.Infof("driving %v light(s) from universe %v", len(conf.Lights.Output), conf.Lights.Universe)
	}

	<-srv.Done()
	log.Info("shutting down")
	return nil
}
