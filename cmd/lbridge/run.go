package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/lbridge/bridge"
	"github.com/srg/lbridge/internal/cloud"
	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/persist"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/transport"
	"github.com/srg/lbridge/pkg/config"
)

// runCmd bridges one appliance until interrupted
var runCmd = &cobra.Command{
	Use:   "run [device-address]",
	Short: "Bridge an appliance to the console, local storage and the cloud mirror",
	Long: fmt.Sprintf(`Connects to an appliance, subscribes to its sensors and keeps a local property
table. Every change is printed, saved to the SQLite database (database.path) and
pushed to the MQTT broker (mqtt.broker) when those are configured. Writes published
to <prefix>/<device-id>/set/<property> are applied to the appliance.

Values saved by an earlier run are restored at start and shown as stale until the
appliance reports them again.

Examples:
  lbridge run %s
  lbridge run %s --db ./lbridge.db --broker tcp://localhost:1883
  lbridge run %s --set 00:grillrt:TARGET_TEMP=650 --set 00:grillrt:COOKING=on

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runBridge,
}

// newConnector opens the GATT link; tests replace it.
var newConnector = func(opts transport.Options, logger *logrus.Logger) bridge.Connector {
	return transport.NewGoBLE(opts, logger)
}

// newMQTTClient connects to the broker and returns the client with its disconnect
// function; tests replace it.
var newMQTTClient = connectMQTT

var (
	runDeviceID       string
	runDSN            string
	runDBPath         string
	runBroker         string
	runConnectTimeout time.Duration
	runFor            time.Duration
	runRead           bool
	runSet            []string
)

func init() {
	runCmd.Flags().StringVar(&runDeviceID, "device-id", "", "Device id used for storage and topics (default: the address)")
	runCmd.Flags().StringVar(&runDSN, "dsn", "", "Cloud-side device serial number")
	runCmd.Flags().StringVar(&runDBPath, "db", "", "SQLite database for last known values (overrides database.path)")
	runCmd.Flags().StringVar(&runBroker, "broker", "", "MQTT broker URL (overrides mqtt.broker)")
	runCmd.Flags().DurationVar(&runConnectTimeout, "connect-timeout", 0, "Connection timeout (overrides ble.connect_timeout)")
	runCmd.Flags().DurationVar(&runFor, "for", 0, "Stop after this long (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runRead, "read", false, "Read every sensor once after connecting")
	runCmd.Flags().StringArrayVar(&runSet, "set", nil, "Write <property>=<value> after connecting (repeatable)")
}

type assignment struct {
	name  property.Name
	value string
}

func parseAssignments(specs []string) ([]assignment, error) {
	out := make([]assignment, 0, len(specs))
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: expected <property>=<value>", spec)
		}
		n, err := property.ParseName(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", spec, err)
		}
		out = append(out, assignment{name: n, value: value})
	}
	return out, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cfg, args)
	if cfg.BLE.Address == "" {
		return fmt.Errorf("device address is required: pass it as an argument or set ble.address")
	}
	assignments, err := parseAssignments(runSet)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context(), cmd.ErrOrStderr(), "stopping bridge")
	defer cancel()

	console := newConsolePrinter(cmd.OutOrStdout())
	opts := &bridge.RunOptions{
		Address:        cfg.BLE.Address,
		Name:           cfg.BLE.Name,
		DeviceID:       cfg.BLE.DeviceID,
		DSN:            cfg.BLE.DSN,
		Listeners:      []notify.Listener{console},
		ConnectTimeout: cfg.BLE.ConnectTimeout,
		Logger:         logger,
	}

	if cfg.Database.Path != "" {
		db, err := persist.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Seeder = db
		opts.Listeners = append(opts.Listeners, persist.NewRecorder(db, logger))
	}

	var sink *cloud.MQTTSink
	if cfg.MQTT.Broker != "" {
		client, disconnect, err := newMQTTClient(cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer disconnect()
		sink = cloud.NewMQTTSink(client, cloud.MQTTOptions{
			Prefix:         cfg.MQTT.Prefix,
			QoS:            byte(cfg.MQTT.QoS),
			PublishTimeout: cfg.MQTT.PublishTimeout,
		}, logger)
		shim := cloud.NewShim(sink, cloud.Options{
			PushTimeout: cfg.Cloud.PushTimeout,
			MaxFailures: cfg.Cloud.MaxFailures,
			OpenTimeout: cfg.Cloud.OpenTimeout,
		}, logger)
		defer func() {
			if err := shim.Close(); err != nil {
				logger.WithError(err).Warn("Failed to flush cloud pushes")
			}
			logShimStats(logger, shim)
		}()
		opts.Listeners = append(opts.Listeners, shim)
	}

	conn := newConnector(transport.Options{ConnectTimeout: cfg.BLE.ConnectTimeout}, logger)
	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Bridging %s", cfg.BLE.Address), "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.RunDeviceBridge(ctx, conn, opts, progress.Callback(), func(s *bridge.Session) (struct{}, error) {
		progress.Stop()
		dev := s.Device
		logger.WithFields(logrus.Fields{
			"device_id": dev.ID(),
			"product":   s.Resolution.Identity.ProductName,
			"class":     s.Resolution.Class.String(),
		}).Info("Bridge running")

		if props, err := dev.Properties(ctx); err == nil {
			console.Snapshot(props)
		}

		if sink != nil {
			unsubscribe, err := sink.SubscribeWrites(ctx, dev.ID(), cloudWriteHandler(dev, logger))
			if err != nil {
				return struct{}{}, fmt.Errorf("failed to subscribe to cloud writes: %w", err)
			}
			defer func() {
				if err := unsubscribe(); err != nil {
					logger.WithError(err).Debug("Failed to unsubscribe from cloud writes")
				}
			}()
		}

		if runRead {
			for i := 0; i < dev.Class().Subdevices(); i++ {
				if _, err := dev.Read(ctx, i); err != nil {
					logger.WithError(err).WithField("subdevice", i).Warn("Sensor read failed")
				}
			}
		} else {
			// profile commands carry the whole profile, so it has to be known first
			for _, i := range profileSubdevices(dev.Class().Table, assignments) {
				if _, err := dev.Read(ctx, i); err != nil {
					return struct{}{}, fmt.Errorf("reading profile of sub-device %d: %w", i, err)
				}
			}
		}
		for _, a := range assignments {
			if err := applyAssignment(ctx, dev, a); err != nil {
				return struct{}{}, err
			}
		}

		return struct{}{}, waitForStop(ctx, s.Disconnected, runFor)
	})
	return err
}

func applyRunFlags(cfg *config.Config, args []string) {
	if len(args) > 0 {
		cfg.BLE.Address = args[0]
	}
	if runDeviceID != "" {
		cfg.BLE.DeviceID = runDeviceID
	}
	if runDSN != "" {
		cfg.BLE.DSN = runDSN
	}
	if runDBPath != "" {
		cfg.Database.Path = runDBPath
	}
	if runBroker != "" {
		cfg.MQTT.Broker = runBroker
	}
	if runConnectTimeout > 0 {
		cfg.BLE.ConnectTimeout = runConnectTimeout
	}
}

// profileSubdevices returns, once each and in order, the sub-devices that an
// assignment writes a profile field of.
func profileSubdevices(t *codec.Table, assignments []assignment) []int {
	var out []int
	seen := map[int]bool{}
	for _, a := range assignments {
		d, ok := t.Lookup(a.name.Field())
		if !ok || d.Command != codec.CommandProfile || seen[a.name.Index()] {
			continue
		}
		seen[a.name.Index()] = true
		out = append(out, a.name.Index())
	}
	return out
}

func applyAssignment(ctx context.Context, dev *bridge.Device, a assignment) error {
	v, err := dev.Class().Table.ParseValue(a.name.Field(), a.value)
	if err != nil {
		return fmt.Errorf("--set %s: %w", a.name, err)
	}
	if err := dev.WriteSync(ctx, bridge.WriteRequest{Name: a.name, Value: v, Source: property.Local}); err != nil {
		return fmt.Errorf("--set %s: %w", a.name, err)
	}
	return nil
}

// waitForStop blocks until the context ends, the link drops or limit elapses.
func waitForStop(ctx context.Context, disconnected <-chan struct{}, limit time.Duration) error {
	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return nil
	case <-disconnected:
		return ErrConnectionLost
	case <-timeout:
		return nil
	}
}

// cloudWriteHandler applies writes requested through the mirror. They carry the
// cloud source so the shim does not publish them back.
func cloudWriteHandler(dev *bridge.Device, logger *logrus.Logger) func(cloud.WriteRequest) {
	return func(req cloud.WriteRequest) {
		log := logger.WithFields(logrus.Fields{
			"device_id": req.DeviceID,
			"property":  req.Name.String(),
		})
		text, err := req.Text()
		if err != nil {
			log.WithError(err).Warn("Rejecting cloud write")
			return
		}
		v, err := dev.Class().Table.ParseValue(req.Name.Field(), text)
		if err != nil {
			log.WithError(err).Warn("Rejecting cloud write")
			return
		}
		dev.Write(bridge.WriteRequest{Name: req.Name, Value: v, Source: property.Cloud}, func(err error) {
			if err != nil {
				log.WithError(err).Warn("Cloud write failed")
				return
			}
			log.WithField("value", v.String()).Info("Cloud write applied")
		})
	}
}

func logShimStats(logger *logrus.Logger, shim *cloud.Shim) {
	for name, st := range shim.Stats() {
		logger.WithFields(logrus.Fields{
			"property": name,
			"pushed":   st.Pushed,
			"failed":   st.Failed,
			"rejected": st.Rejected,
		}).Debug("Cloud push statistics")
	}
}

func connectMQTT(c config.MQTTConfig, logger *logrus.Logger) (cloud.Publisher, func(), error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectTimeout(c.PublishTimeout)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.WithField("broker", c.Broker).Info("Connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).WithField("broker", c.Broker).Warn("MQTT connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.PublishTimeout) {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", c.Broker, transport.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", c.Broker, err)
	}
	return client, func() { client.Disconnect(250) }, nil
}
