package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"blunav-go/binlog"
	"blunav-go/internal/config"
	"blunav-go/internal/logx"
	"blunav-go/metrics"
	"blunav-go/publish"
	"blunav-go/server"
	"blunav-go/store"
	"blunav-go/tracking"
	"blunav-go/web"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "positiond",
	Short: "BLE RSSI positioning daemon",
	Long: `positiond receives beacon RSSI reports from gateways over UDP, estimates
a position per tag on a fixed interval and publishes the fixes to UDP/TCP
consumers, MQTT, the websocket view and the sqlite result log.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	rootCmd.Flags().String("udp", ":44333", "UDP listen address")
	rootCmd.Flags().String("http", ":8080", "HTTP/websocket listen address")
	rootCmd.Flags().String("record", "", "pcap file or directory to record frames to")
	rootCmd.Flags().String("anchors-xml", "", "project.xml with a beaconlist")
	rootCmd.Flags().String("algorithm", "least_squares", "exact, weighted, least_squares or linear")
	rootCmd.Flags().String("db", "", "sqlite result log path")
	rootCmd.Flags().String("log-level", "info", "debug, info, warn or error")

	v.BindPFlag("server.udp_addr", rootCmd.Flags().Lookup("udp"))
	v.BindPFlag("web.addr", rootCmd.Flags().Lookup("http"))
	v.BindPFlag("server.record", rootCmd.Flags().Lookup("record"))
	v.BindPFlag("anchors_xml", rootCmd.Flags().Lookup("anchors-xml"))
	v.BindPFlag("estimator.algorithm", rootCmd.Flags().Lookup("algorithm"))
	v.BindPFlag("store.path", rootCmd.Flags().Lookup("db"))
	v.BindPFlag("logging.level", rootCmd.Flags().Lookup("log-level"))
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	log := logx.NewWithOptions(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	model, err := cfg.Model.Build()
	if err != nil {
		return err
	}
	if err := model.Validate(); err != nil {
		log.Warn("implausible distance model", "model", model.String(), "err", err)
	}
	reg, err := cfg.Registry(model.Unit)
	if err != nil {
		return err
	}
	if reg.Len() < 3 {
		log.Warn("fewer than three anchors configured", "anchors", reg.Len())
	}
	pipeline, err := cfg.Pipeline(model)
	if err != nil {
		return err
	}

	mgr := tracking.NewManager(reg, pipeline, log)
	ingest := server.NewIngest(mgr, log)
	ingest.SetVerifyCRC(cfg.Server.VerifyCRC)

	var sinks []tracking.Sink

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		mgr.SetRecorder(collector)
		ingest.SetObserver(collector)
		sinks = append(sinks, collector)
	}

	if cfg.Server.Record != "" {
		path := cfg.Server.Record
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			path = filepath.Join(path, fmt.Sprintf("BLUNAV_%s.pcap", time.Now().Format("20060102150405")))
		}
		pw, err := binlog.Create(path)
		if err != nil {
			return err
		}
		defer pw.Close()
		if err := pw.WriteAnchors(reg.All()); err != nil {
			return err
		}
		ingest.SetRecorder(pw)
		log.Info("recording frames", "path", path)
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, log)
		if err != nil {
			return err
		}
		defer st.Close()
		sinks = append(sinks, st)
	}

	if len(cfg.Publish.UDP)+len(cfg.Publish.TCP) > 0 {
		sender := publish.NewSender(log)
		sender.SetHeader(cfg.Publish.Header)
		for _, t := range cfg.Publish.UDP {
			if err := sender.AddUDPTarget(t.Addr, t.Mask); err != nil {
				return err
			}
		}
		for _, t := range cfg.Publish.TCP {
			sender.AddTCPTarget(t.Addr, t.Mask)
		}
		if err := sender.Start(); err != nil {
			return err
		}
		defer sender.Stop()
		sinks = append(sinks, sender)
	}

	if cfg.Publish.MQTT.Enabled {
		mq := publish.NewMQTTPublisher(cfg.Publish.MQTT, log)
		switch err := mq.Connect(); {
		case err == nil:
			defer mq.Disconnect()
			sinks = append(sinks, mq)
		case errors.Is(err, publish.ErrConnectPending):
			log.Warn("mqtt broker not reachable yet, retrying", "err", err)
			defer mq.Disconnect()
			sinks = append(sinks, mq)
		default:
			log.Warn("mqtt connect failed", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stop runs before the deferred closes of the store, sender and recorder.
	wk := newWorkers(ctx, 3)
	defer wk.Stop()

	if cfg.Web.Enabled {
		ws := web.NewServer(mgr, reg, log)
		if collector != nil {
			ws.SetMetricsHandler(collector.Handler())
		}
		sinks = append(sinks, ws)
		wk.Go(func(ctx context.Context) error { return ws.ListenAndServe(ctx, cfg.Web.Addr, cfg.Web.DistDir) })
	}

	udp, err := server.ListenUDP(cfg.Server.UDPAddr, ingest)
	if err != nil {
		return err
	}
	wk.Go(udp.Serve)
	wk.Go(func(ctx context.Context) error { return mgr.Run(ctx, cfg.Tracking.Interval, sinks...) })

	log.Info("positiond started", "anchors", reg.Len(), "algorithm", cfg.Estimator.Algorithm, "interval", cfg.Tracking.Interval)
	select {
	case <-ctx.Done():
	case err := <-wk.Err():
		if err != nil && ctx.Err() == nil {
			return err
		}
	}
	log.Info("shutting down")
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
