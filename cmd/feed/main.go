package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.bug.st/serial"

	"blunav-go/internal/config"
	"blunav-go/internal/logx"
	"blunav-go/positioning"
	"blunav-go/server"
)

var (
	cfgFile  string
	destAddr string
	tagHex   string
	gateway  uint32
	interval time.Duration
	v        = viper.New()

	portName string
	baudRate int

	simMode string
	sigma   float64
	seed    uint64
	count   int
)

var rootCmd = &cobra.Command{
	Use:          "feed",
	Short:        "Send RSSI report frames to positiond",
	SilenceUsage: true,
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Forward readings from a serial-attached BLE scanner",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSerial(cmd.Context())
	},
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Send simulated readings (demo sequences or a walk around the anchors)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSim(cmd.Context())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml) for anchors and model")
	pf.StringVar(&destAddr, "dest", "127.0.0.1:44333", "positiond UDP address")
	pf.StringVar(&tagHex, "tag", "0000A001", "tag address, hex")
	pf.Uint32Var(&gateway, "gateway", 0, "wrap frames in a gateway batch with this id (0 sends bare frames)")
	pf.DurationVar(&interval, "interval", 500*time.Millisecond, "send period")

	serialCmd.Flags().StringVar(&portName, "port", "/dev/ttyUSB0", "serial device")
	serialCmd.Flags().IntVar(&baudRate, "baud", 115200, "baud rate")

	simCmd.Flags().StringVar(&simMode, "mode", "demo", "demo or walk")
	simCmd.Flags().Float64Var(&sigma, "sigma", 2, "shadowing std-dev in dB (walk)")
	simCmd.Flags().Uint64Var(&seed, "seed", 1, "noise seed (walk)")
	simCmd.Flags().IntVar(&count, "count", 0, "frames to send, 0 for unlimited")

	rootCmd.AddCommand(serialCmd, simCmd)
}

type emitter struct {
	conn *net.UDPConn
	addr uint32
	seq  uint8
	log  *logx.Logger
}

func newEmitter(log *logx.Logger) (*emitter, error) {
	addr, err := strconv.ParseUint(tagHex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("bad --tag: %w", err)
	}
	raddr, err := net.ResolveUDPAddr("udp", destAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &emitter{conn: conn, addr: uint32(addr), log: log}, nil
}

func (e *emitter) send(samples []server.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	frame, err := server.EncodeReport(e.addr, e.seq, samples)
	if err != nil {
		return err
	}
	e.seq++
	if gateway != 0 {
		if frame, err = server.EncodeBatch(gateway, 0, frame); err != nil {
			return err
		}
	}
	_, err = e.conn.Write(frame)
	e.log.Debug("sent report", "tag", server.TagName(e.addr), "samples", len(samples))
	return err
}

func (e *emitter) Close() error { return e.conn.Close() }

func runSerial(ctx context.Context) error {
	log := logx.New("info")
	em, err := newEmitter(log)
	if err != nil {
		return err
	}
	defer em.Close()

	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}
	defer port.Close()
	log.Info("reading scanner", "port", portName, "baud", baudRate)

	readings := newLatest()
	done := make(chan error, 1)
	go func() {
		good, bad, err := readScanner(port, readings)
		log.Info("scanner closed", "lines", good, "rejected", bad)
		done <- err
	}()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case <-t.C:
			if err := em.send(readings.take(server.MaxSamples)); err != nil {
				log.Warn("send failed", "err", err)
			}
		}
	}
}

func runSim(ctx context.Context) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	log := logx.NewWithOptions(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	em, err := newEmitter(log)
	if err != nil {
		return err
	}
	defer em.Close()

	var next func(i int) []server.Sample
	switch simMode {
	case "demo":
		ids := []string{"20:A7:16:5E:C5:D6", "20:A7:16:61:0C:F1", "20:A7:16:60:FB:FC"}
		next = func(i int) []server.Sample {
			seq := demoSequences[i%len(demoSequences)]
			out := make([]server.Sample, len(ids))
			for j, id := range ids {
				out[j] = server.Sample{BeaconID: id, RSSI: seq[j]}
			}
			return out
		}
	case "walk":
		model, err := cfg.Model.Build()
		if err != nil {
			return err
		}
		reg, err := cfg.Registry(model.Unit)
		if err != nil {
			return err
		}
		if reg.Len() < positioning.MinAnchors {
			return fmt.Errorf("walk needs at least %d anchors in the config", positioning.MinAnchors)
		}
		w := newWalker(reg.All(), model, sigma, seed)
		next = func(i int) []server.Sample {
			p, s := w.at(float64(i) * interval.Seconds())
			log.Debug("true position", "x", p.X, "y", p.Y)
			return s
		}
	default:
		return fmt.Errorf("unknown mode %q", simMode)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; count == 0 || i < count; i++ {
		if err := em.send(next(i)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
