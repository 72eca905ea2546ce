package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Paippi/ruuviscanner/bridge"
	"github.com/Paippi/ruuviscanner/internal/gateway/goble"
	"github.com/Paippi/ruuviscanner/pkg/config"
	"github.com/Paippi/ruuviscanner/ruuvitag"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream sensor readings from RuuviTags",
	Long: `Subscribe to one or more RuuviTags and stream decoded sensor readings.

Tag addresses are colon-separated MACs, given with --tags or in a YAML
config file. Each received Data Format 5 advertisement is decoded and
printed; malformed advertisements are dropped without interrupting the
stream.

Examples:
  # Listen to a single tag until Ctrl+C
  ruuviscan listen --tags CC:6F:70:EE:4C:AD

  # Two tags, JSON output, stop after 10 readings
  ruuviscan listen -t CC:6F:70:EE:4C:AD,CB:B8:33:4C:88:4F -f json -n 10

  # Addresses and tuning from a config file, 30s session
  ruuviscan listen -c ruuviscan.yaml --duration 30s`,
	RunE: runListen,
}

var (
	listenTags       []string
	listenConfigPath string
	listenInterval   time.Duration
	listenCapacity   int
	listenFormat     string
	listenCount      int
	listenDuration   time.Duration
	listenStrict     bool
	listenVerbose    bool
)

func init() {
	listenCmd.Flags().StringSliceVarP(&listenTags, "tags", "t", nil, "Tag MAC addresses to watch")
	listenCmd.Flags().StringVarP(&listenConfigPath, "config", "c", "", "YAML config file")
	listenCmd.Flags().DurationVar(&listenInterval, "interval", 0, "Gateway poll interval (default 20ms)")
	listenCmd.Flags().IntVar(&listenCapacity, "capacity", 0, "Readings channel capacity (default 64)")
	listenCmd.Flags().StringVarP(&listenFormat, "format", "f", "", "Output format (table, json)")
	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "Stop after N readings (0 for unlimited)")
	listenCmd.Flags().DurationVar(&listenDuration, "duration", 0, "Stop after this long (0 for unlimited)")
	listenCmd.Flags().BoolVar(&listenStrict, "strict", false, "Reject frames whose format version is not 5")
	listenCmd.Flags().BoolVar(&listenVerbose, "verbose", false, "Enable debug logging")
}

// buildListenConfig merges the config file (if any) with command-line flags;
// flags win.
func buildListenConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if listenConfigPath != "" {
		var err error
		cfg, err = config.Load(listenConfigPath)
		if err != nil {
			return nil, err
		}
	}

	if len(listenTags) > 0 {
		cfg.Tags = listenTags
	}
	if listenInterval > 0 {
		cfg.PollInterval = listenInterval
	}
	if listenCapacity > 0 {
		cfg.ChannelCapacity = listenCapacity
	}
	if listenFormat != "" {
		cfg.OutputFormat = listenFormat
	}
	if listenStrict {
		cfg.StrictFormat = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Tags) == 0 {
		return nil, fmt.Errorf("no tags to watch: use --tags or a config file")
	}
	return cfg, nil
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := buildListenConfig()
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if listenDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, listenDuration)
		defer cancel()
	}

	gw := goble.NewGateway(logger)
	b, err := bridge.New(gw, &bridge.Options{
		Addresses:    cfg.Tags,
		PollInterval: cfg.PollInterval,
		Capacity:     cfg.ChannelCapacity,
		StrictFormat: cfg.StrictFormat,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	readings, err := b.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			logger.WithError(cerr).Warn("Bridge close reported an error")
		}
	}()

	return consumeReadings(ctx, readings, cfg.OutputFormat, listenCount, os.Stdout, logger)
}

// consumeReadings drains the stream until the context ends, the channel
// closes, or count readings have been printed.
func consumeReadings(
	ctx context.Context,
	readings <-chan *ruuvitag.SensorReading,
	format string,
	count int,
	out io.Writer,
	logger *logrus.Logger,
) error {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-readings:
			if !ok {
				logger.Info("Readings stream closed")
				return nil
			}
			if err := printReading(out, r, format); err != nil {
				return err
			}
			printed++
			if count > 0 && printed >= count {
				return nil
			}
		}
	}
}

// readingJSON is the wire shape for --format json output.
type readingJSON struct {
	MAC                 string  `json:"mac"`
	TemperatureCelsius  float64 `json:"temperature_celsius"`
	HumidityPercent     float64 `json:"humidity_percent"`
	PressurePascal      uint32  `json:"pressure_pascal"`
	AccelerationX       int16   `json:"acceleration_x_mg"`
	AccelerationY       int16   `json:"acceleration_y_mg"`
	AccelerationZ       int16   `json:"acceleration_z_mg"`
	BatteryMillivolts   uint16  `json:"battery_millivolts"`
	TxPowerDBm          int8    `json:"tx_power_dbm"`
	MovementCounter     uint8   `json:"movement_counter"`
	MeasurementSequence uint16  `json:"measurement_sequence"`
}

func printReading(out io.Writer, r *ruuvitag.SensorReading, format string) error {
	if format == "json" {
		acc := r.AccelerationMG()
		enc := json.NewEncoder(out)
		return enc.Encode(readingJSON{
			MAC:                 r.MACString(),
			TemperatureCelsius:  r.TemperatureCelsius(),
			HumidityPercent:     r.HumidityPercent(),
			PressurePascal:      r.PressurePascal(),
			AccelerationX:       acc.X,
			AccelerationY:       acc.Y,
			AccelerationZ:       acc.Z,
			BatteryMillivolts:   r.BatteryMillivolts(),
			TxPowerDBm:          r.TxPowerDBm(),
			MovementCounter:     r.MovementCounter(),
			MeasurementSequence: r.MeasurementSequence(),
		})
	}

	acc := r.AccelerationMG()
	_, err := fmt.Fprintf(out, "%s  %s  %s  %s  acc=(%d,%d,%d)mG  batt=%dmV  tx=%ddBm  mov=%d  seq=%d\n",
		color.CyanString(r.MACString()),
		color.GreenString("%.2f°C", r.TemperatureCelsius()),
		color.YellowString("%.2f%%", r.HumidityPercent()),
		color.MagentaString("%dPa", r.PressurePascal()),
		acc.X, acc.Y, acc.Z,
		r.BatteryMillivolts(),
		r.TxPowerDBm(),
		r.MovementCounter(),
		r.MeasurementSequence(),
	)
	return err
}
