package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	suitelib "github.com/stretchr/testify/suite"

	"github.com/srg/lbridge/bridge"
	"github.com/srg/lbridge/internal/cloud"
	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/device"
	"github.com/srg/lbridge/internal/persist"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/testutils"
	"github.com/srg/lbridge/internal/transport"
	"github.com/srg/lbridge/pkg/config"
)

// syncBuffer lets a test read command output while the command still runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// resetFlags puts every flag back to its default so commands can be executed
// repeatedly in one process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

type CommandsTestSuite struct {
	suitelib.Suite

	helper *testutils.TestHelper

	origScanner   func() (device.ScanningDevice, error)
	origConnector func(transport.Options, *logrus.Logger) bridge.Connector
	origMQTT      func(config.MQTTConfig, *logrus.Logger) (cloud.Publisher, func(), error)
	origNoColor   bool
}

func (suite *CommandsTestSuite) SetupSuite() {
	suite.origScanner = newScanningDevice
	suite.origConnector = newConnector
	suite.origMQTT = newMQTTClient
	suite.origNoColor = color.NoColor
	color.NoColor = true
}

func (suite *CommandsTestSuite) TearDownSuite() {
	newScanningDevice = suite.origScanner
	newConnector = suite.origConnector
	newMQTTClient = suite.origMQTT
	color.NoColor = suite.origNoColor
}

func (suite *CommandsTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	newScanningDevice = suite.origScanner
	newConnector = suite.origConnector
	newMQTTClient = func(config.MQTTConfig, *logrus.Logger) (cloud.Publisher, func(), error) {
		return nil, nil, errors.New("no broker in tests")
	}
}

func (suite *CommandsTestSuite) executeTo(out io.Writer, args ...string) error {
	resetFlags(rootCmd)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func (suite *CommandsTestSuite) execute(args ...string) (string, error) {
	out := &syncBuffer{}
	err := suite.executeTo(out, args...)
	return out.String(), err
}

func (suite *CommandsTestSuite) useGrill() *testutils.MockGATTClient {
	client, _ := testutils.CreateMockPeripheralDevice().
		WithService(devclass.GrillRightService).
		WithCharacteristic(devclass.GrillRightProbe1, "read,notify", testutils.NewGrillFrame().Build()).
		WithCharacteristic(devclass.GrillRightProbe2, "read,notify", testutils.NewGrillFrame().Build()).
		WithCharacteristic(devclass.GrillRightControl, "write", nil).
		Build()
	newConnector = func(opts transport.Options, logger *logrus.Logger) bridge.Connector {
		opts.Dial = client.Dialer()
		return transport.NewGoBLE(opts, logger)
	}
	return client
}

func (suite *CommandsTestSuite) TestResolveGrillRightJSON() {
	out, err := suite.execute("resolve", "AA:BB:CC:DD:EE:FF",
		"--service", devclass.GrillRightService, "--name", "GrillRight", "--format", "json")
	suite.Require().NoError(err)

	var res resolveResult
	suite.Require().NoError(json.Unmarshal([]byte(out), &res))
	suite.Equal("grillright", res.Class)
	suite.Equal("GrillRight", res.Model)
	suite.Len(res.SubdeviceKeys, 2)
	suite.Len(res.Properties, 20, "ten properties per probe")

	byName := map[string]resolvedProperty{}
	for _, p := range res.Properties {
		byName[p.Name] = p
	}
	cooking := byName["00:grillrt:COOKING"]
	suite.Equal("toDevice", cooking.Direction)
	suite.NotEmpty(cooking.Command)
	temp := byName["01:grillrt:TEMP"]
	suite.Equal("fromDevice", temp.Direction)
	suite.Empty(temp.Command)
}

func (suite *CommandsTestSuite) TestResolveGenericTable() {
	out, err := suite.execute("resolve", "--service", "180f", "--name", "Battery Tag")
	suite.Require().NoError(err)

	suite.Contains(out, "Class:    generic")
	suite.Contains(out, "Product:  Battery Tag")
	suite.Contains(out, "PROPERTY")
}

func (suite *CommandsTestSuite) TestResolveRejectsBadInput() {
	_, err := suite.execute("resolve", "--service", "zz")
	suite.ErrorContains(err, "invalid service UUID")

	_, err = suite.execute("resolve", "--format", "xml")
	suite.ErrorContains(err, "invalid format 'xml'")
}

func (suite *CommandsTestSuite) TestDecodeColdStart() {
	// GOAL: a first frame is compared against an empty state
	//
	// TEST SCENARIO: idle frame → mode, alarm and cooking change from unknown, sentinels stay unknown
	out, err := suite.execute("decode", "grillrt", "00ffffffffffffffff00ff8fff8fffff")
	suite.Require().NoError(err)

	testutils.NewTextAsserter(suite.T()).Assert(out, `
FIELD         OLD      NEW
CONTROL_MODE  unknown  none
ALARM         unknown  none
COOKING       unknown  false
`)
}

func (suite *CommandsTestSuite) TestDecodeAgainstPrevious() {
	out, err := suite.execute("decode", "grillrt", "110002002d00000c1e0076029c012800",
		"--previous", "00ffffffffffffffff00ff8fff8fffff", "--format", "json")
	suite.Require().NoError(err)

	var res decodeResult
	suite.Require().NoError(json.Unmarshal([]byte(out), &res))
	suite.Equal("63.0 °C", res.State[devclass.FieldTargetTemp])
	suite.Equal("41.2 °C", res.State[devclass.FieldTemp])
	suite.Equal("40 %", res.State[devclass.FieldPctDone])
	suite.Equal("true", res.State[devclass.FieldCooking])

	changed := map[string]decodedChange{}
	for _, c := range res.Changes {
		changed[c.Field] = c
	}
	suite.Equal("unknown", changed[devclass.FieldTargetTemp].Old)
	suite.Equal("false", changed[devclass.FieldCooking].Old)
	suite.Equal("true", changed[devclass.FieldCooking].New)
}

func (suite *CommandsTestSuite) TestDecodeErrors() {
	_, err := suite.execute("decode", "toaster", "00")
	suite.ErrorContains(err, `unknown model "toaster"`)

	_, err = suite.execute("decode", "grillrt", "0g")
	suite.ErrorContains(err, "invalid hex data")
}

func (suite *CommandsTestSuite) TestEncode() {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "start stop command",
			args:     []string{"encode", "00:grillrt:COOKING", "on"},
			expected: "010001",
		},
		{
			name:     "profile command keeps the current profile",
			args:     []string{"encode", "01:grillrt:TARGET_TEMP", "650", "--state", "11:00:02:00:2d:00:00:0c:1e:00:76:02:9c:01:28:00"},
			expected: "020100028a02002d00002d0001",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			out, err := suite.execute(tt.args...)
			suite.Require().NoError(err)
			suite.Equal(tt.expected+"\n", out)
		})
	}
}

func (suite *CommandsTestSuite) TestEncodeProfileWithoutState() {
	_, err := suite.execute("encode", "01:grillrt:TARGET_TEMP", "650")

	var validation *codec.ValidationError
	suite.Require().ErrorAs(err, &validation)
	suite.Equal(devclass.FieldControlMode, validation.Field)
	suite.Contains(FormatUserError(err), "invalid value for CONTROL_MODE")
}

func (suite *CommandsTestSuite) useScanner() *testutils.FakeScanner {
	fake := testutils.NewFakeScanner(
		testutils.CreateMockAdvertisement("Battery Tag", "11:22:33:44:55:66", -67).WithServices("180F").Build(),
		testutils.CreateMockAdvertisement("Beacon", "99:88:77:66:55:44", -80).Build(),
		testutils.CreateMockAdvertisement("GrillRight 1", "AA:BB:CC:DD:EE:FF", -45).
			WithServices(devclass.GrillRightService).
			Build(),
	)
	newScanningDevice = func() (device.ScanningDevice, error) { return fake, nil }
	return fake
}

func (suite *CommandsTestSuite) TestScanJSON() {
	// GOAL: supported appliances are listed first, the rest by signal strength
	//
	// TEST SCENARIO: one grill and two generic peripherals → grill, then -67 dBm, then -80 dBm
	fake := suite.useScanner()

	out, err := suite.execute("scan", "--duration", "50ms", "--format", "json")
	suite.Require().NoError(err)
	suite.Equal(1, fake.Calls())

	var entries []scanEntry
	suite.Require().NoError(json.Unmarshal([]byte(out), &entries))
	suite.Require().Len(entries, 3)
	suite.Equal("AA:BB:CC:DD:EE:FF", entries[0].Address)
	suite.Equal("grillright", entries[0].Class)
	suite.Equal("11:22:33:44:55:66", entries[1].Address)
	suite.Equal("99:88:77:66:55:44", entries[2].Address)
	suite.Equal("generic", entries[2].Class)
}

func (suite *CommandsTestSuite) TestScanTableKnownOnly() {
	suite.useScanner()

	out, err := suite.execute("scan", "--duration", "50ms", "--known")
	suite.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	suite.Require().Len(lines, 2)
	suite.Contains(lines[0], "NAME")
	suite.Contains(lines[1], "GrillRight 1")
	suite.Contains(lines[1], "-45 dBm")
}

func (suite *CommandsTestSuite) TestScanTableNamesServices() {
	// GOAL: the services column names known services
	//
	// TEST SCENARIO: battery tag advertises 180F, grill advertises its service → both shown by name
	suite.useScanner()

	out, err := suite.execute("scan", "--duration", "50ms")
	suite.Require().NoError(err)

	suite.Contains(out, "Battery Service")
	suite.Contains(out, "GrillRight Thermometer")
	suite.NotContains(out, "2899fe00")
}

func (suite *CommandsTestSuite) TestScanWatch() {
	suite.useScanner()

	out, err := suite.execute("scan", "--watch", "--duration", "50ms")
	suite.Require().NoError(err)

	suite.Contains(out, "AA:BB:CC:DD:EE:FF  GrillRight 1")
	suite.Contains(out, "11:22:33:44:55:66  Battery Tag")
}

func (suite *CommandsTestSuite) TestScanNoDevices() {
	newScanningDevice = func() (device.ScanningDevice, error) { return testutils.NewFakeScanner(), nil }

	out, err := suite.execute("scan", "--duration", "20ms")
	suite.Require().NoError(err)
	suite.Equal("No devices discovered\n", out)
}

func (suite *CommandsTestSuite) TestScanAdapterFailure() {
	newScanningDevice = func() (device.ScanningDevice, error) {
		return nil, fmt.Errorf("ble on plan9: %w", transport.ErrUnsupported)
	}

	_, err := suite.execute("scan", "--duration", "20ms")
	suite.ErrorIs(err, transport.ErrUnsupported)
}

func (suite *CommandsTestSuite) TestRunRequiresAddress() {
	_, err := suite.execute("run")
	suite.ErrorContains(err, "device address is required")

	_, err = suite.execute("run", "AA:BB:CC:DD:EE:FF", "--set", "COOKING")
	suite.ErrorContains(err, "expected <property>=<value>")
}

func (suite *CommandsTestSuite) TestRunPersistsChanges() {
	// GOAL: a bridge run prints and stores every change, the next run restores it as stale
	//
	// TEST SCENARIO: read both probes and start cooking → values in SQLite → second run prints them as stale
	suite.useGrill()
	dbPath := filepath.Join(suite.T().TempDir(), "lbridge.db")

	out, err := suite.execute("run", "AA:BB:CC:DD:EE:FF", "--device-id", "grill-1", "--db", dbPath,
		"--read", "--set", "00:grillrt:COOKING=on", "--for", "100ms")
	suite.Require().NoError(err)
	suite.Contains(out, "00:grillrt:CONTROL_MODE = none")
	suite.Contains(out, "00:grillrt:COOKING = true")

	db, err := persist.Open(dbPath)
	suite.Require().NoError(err)
	values, err := db.Load(context.Background(), "grill-1")
	suite.Require().NoError(db.Close())
	suite.Require().NoError(err)
	suite.Equal("true", values[property.MustName(0, "grillrt", devclass.FieldCooking)].String())

	suite.useGrill()
	out, err = suite.execute("run", "AA:BB:CC:DD:EE:FF", "--device-id", "grill-1", "--db", dbPath, "--for", "50ms")
	suite.Require().NoError(err)
	suite.Contains(out, "00:grillrt:COOKING = true (stale)")
}

func (suite *CommandsTestSuite) TestRunRestoresScaledValues() {
	suite.useGrill()
	dbPath := filepath.Join(suite.T().TempDir(), "lbridge.db")
	db, err := persist.Open(dbPath)
	suite.Require().NoError(err)
	suite.Require().NoError(db.SaveChanges(context.Background(), "grill-1", []property.Change{{
		Name:      property.MustName(1, "grillrt", devclass.FieldTargetTemp),
		Value:     codec.Int(codec.KindInt16, 650),
		Timestamp: time.Now(),
		Source:    property.Local,
	}}))
	suite.Require().NoError(db.Close())

	out, err := suite.execute("run", "AA:BB:CC:DD:EE:FF", "--device-id", "grill-1", "--db", dbPath, "--for", "50ms")
	suite.Require().NoError(err)
	suite.Contains(out, "01:grillrt:TARGET_TEMP = 65.0 °C (stale)")
}

func (suite *CommandsTestSuite) TestRunSetProfileFieldReadsProfileFirst() {
	// GOAL: a profile write works right after connecting, without --read
	//
	// TEST SCENARIO: --set TARGET_TEMP on sub-device 0 only → only it is read, the profile frame is written
	suite.useGrill()

	out, err := suite.execute("run", "AA:BB:CC:DD:EE:FF", "--set", "00:grillrt:TARGET_TEMP=650", "--for", "50ms")
	suite.Require().NoError(err)

	suite.Contains(out, "00:grillrt:CONTROL_MODE = none")
	suite.Contains(out, "00:grillrt:TARGET_TEMP = 65.0 °C")
	suite.NotContains(out, "01:grillrt:CONTROL_MODE", "only the written sub-device is read")
}

func (suite *CommandsTestSuite) TestProfileSubdevices() {
	assignments, err := parseAssignments([]string{
		"01:grillrt:TARGET_TEMP=650",
		"00:grillrt:COOKING=on",
		"01:grillrt:MEAT=pork",
		"00:grillrt:DONENESS=rare",
	})
	suite.Require().NoError(err)

	suite.Equal([]int{1, 0}, profileSubdevices(devclass.GrillRight.Table, assignments))
	suite.Empty(profileSubdevices(devclass.GrillRight.Table, assignments[1:2]), "start/stop needs no profile")
}

func (suite *CommandsTestSuite) TestRunMirrorsToMQTT() {
	// GOAL: local changes are published to the broker and broker writes reach the appliance
	//
	// TEST SCENARIO: read and start cooking → datapoints published → set message for TARGET_TEMP
	// → applied with the cloud source and not published back
	suite.useGrill()
	client := testutils.NewFakeMQTTClient()
	var disconnected bool
	newMQTTClient = func(c config.MQTTConfig, _ *logrus.Logger) (cloud.Publisher, func(), error) {
		suite.Equal("tcp://broker:1883", c.Broker)
		return client, func() { disconnected = true }, nil
	}
	dbPath := filepath.Join(suite.T().TempDir(), "lbridge.db")

	filter := "lbridge/grill-1/set/+"
	out := &syncBuffer{}
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if client.Subscribed(filter) && strings.Contains(out.String(), "00:grillrt:COOKING = true") {
				client.Deliver(filter, "lbridge/grill-1/set/00:grillrt:TARGET_TEMP", `{"value": 650}`)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	err := suite.executeTo(out, "run", "AA:BB:CC:DD:EE:FF", "--device-id", "grill-1", "--db", dbPath,
		"--broker", "tcp://broker:1883", "--read", "--set", "00:grillrt:COOKING=on", "--for", "500ms")
	<-delivered
	suite.Require().NoError(err)
	suite.True(disconnected)
	suite.Contains(client.Unsubscribed(), filter)

	suite.Contains(out.String(), "00:grillrt:TARGET_TEMP = 65.0 °C (cloud)")

	var topics []string
	for _, p := range client.Published() {
		topics = append(topics, p.Topic)
	}
	suite.Contains(topics, "lbridge/grill-1/datapoints/00:grillrt:COOKING")
	suite.NotContains(topics, "lbridge/grill-1/datapoints/00:grillrt:TARGET_TEMP", "cloud writes are not echoed")

	db, err := persist.Open(dbPath)
	suite.Require().NoError(err)
	defer db.Close()
	values, err := db.Load(context.Background(), "grill-1")
	suite.Require().NoError(err)
	suite.Equal("650", values[property.MustName(0, "grillrt", devclass.FieldTargetTemp)].String())
}

func (suite *CommandsTestSuite) TestRunBrokerFailure() {
	suite.useGrill()

	_, err := suite.execute("run", "AA:BB:CC:DD:EE:FF", "--broker", "tcp://broker:1883", "--for", "50ms")
	suite.ErrorContains(err, "no broker in tests")
}

func (suite *CommandsTestSuite) TestRunConnectionLost() {
	client := suite.useGrill()
	out := &syncBuffer{}
	go func() {
		defer client.Drop()
		suite.helper.Eventually(func() bool {
			return strings.Contains(out.String(), "00:grillrt:CONTROL_MODE")
		}, "probe read")
	}()

	err := suite.executeTo(out, "run", "AA:BB:CC:DD:EE:FF", "--read")
	suite.ErrorIs(err, ErrConnectionLost)
	suite.Contains(FormatUserError(err), "out of range")
}

func (suite *CommandsTestSuite) TestFormatUserError() {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("scan: %w", transport.ErrBluetoothOff), "Bluetooth is turned off, enable it and try again"},
		{"timeout", fmt.Errorf("connect: %w", transport.ErrTimeout), "raise --connect-timeout"},
		{"unsupported", transport.ErrUnsupported, "lbridge scan --known"},
		{"validation", &codec.ValidationError{Field: "TARGET_TEMP", Constraint: "out of range"}, "invalid value for TARGET_TEMP: out of range"},
		{
			"not confirmed",
			&bridge.NotConfirmedError{
				Name:     property.MustName(0, "grillrt", devclass.FieldCooking),
				Intended: codec.Bool(true),
				Observed: codec.Bool(false),
			},
			"the device did not apply 00:grillrt:COOKING: wanted true, reads false",
		},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Contains(FormatUserError(tt.err), tt.expected)
		})
	}
}

func (suite *CommandsTestSuite) TestProgressPrinter() {
	out := &syncBuffer{}
	p := NewProgressPrinter(out, "Bridging AA", "Connecting", "Running")
	p.Start()
	p.Callback()("Discovering")
	suite.helper.Eventually(func() bool { return strings.Contains(out.String(), "Discovering") }, "phase shown")
	p.Callback()("Running")
	p.Stop()

	suite.Contains(out.String(), "Bridging AA")
}

func TestCommandsTestSuite(t *testing.T) {
	suitelib.Run(t, new(CommandsTestSuite))
}
