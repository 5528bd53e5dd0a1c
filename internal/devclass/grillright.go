package devclass

import "github.com/srg/lbridge/internal/codec"

// GrillRight service and characteristic UUIDs.
const (
	GrillRightService = "2899fe00-c277-48a8-91cb-b29ab0f01ac4"
	GrillRightProbe1  = "28998e03-c277-48a8-91cb-b29ab0f01ac4"
	GrillRightProbe2  = "28998e04-c277-48a8-91cb-b29ab0f01ac4"
	GrillRightControl = "28998e10-c277-48a8-91cb-b29ab0f01ac4"
)

// GrillRight field names.
const (
	FieldControlMode = "CONTROL_MODE"
	FieldAlarm       = "ALARM"
	FieldMeat        = "MEAT"
	FieldDoneness    = "DONENESS"
	FieldTargetTime  = "TARGET_TIME"
	FieldCurrentTime = "CURRENT_TIME"
	FieldTargetTemp  = "TARGET_TEMP"
	FieldTemp        = "TEMP"
	FieldPctDone     = "PCT_DONE"
	FieldCooking     = "COOKING"
)

// Enum cases of the GrillRight fields.
var (
	ControlModes = []string{"none", "meat", "temperature", "time"}
	Alarms       = []string{"none", "almostDone", "done", "overdone"}
	Meats        = []string{"beef", "veal", "lamb", "pork", "chicken", "turkey", "fish", "hamburger"}
	Donenesses   = []string{"rare", "mediumRare", "medium", "mediumWell", "wellDone"}
)

const (
	alarmDone       = 2
	attErrUnlikely  = 0x0E
	grillFrameBytes = 16
)

// 16-byte probe frame:
//
//	0       low nibble control mode, high nibble alarm
//	1       meat type
//	2       doneness
//	3-5     target time h/m/s
//	6-8     current time h/m/s
//	9       reserved
//	10-11   target temperature, 0.1 degC
//	12-13   current temperature, 0.1 degC
//	14-15   percent done
var grillRightTable = &codec.Table{
	FrameLength: grillFrameBytes,
	Fields: []codec.FieldSpec{
		{Name: FieldControlMode, Offset: 0, Length: 1, Kind: codec.KindEnum, Mask: 0x0F, Enum: ControlModes, Command: codec.CommandProfile},
		{Name: FieldAlarm, Offset: 0, Length: 1, Kind: codec.KindEnum, Mask: 0xF0, Shift: 4, Enum: Alarms},
		{Name: FieldMeat, Offset: 1, Length: 1, Kind: codec.KindEnum, Sentinel: 0xFF, HasSentinel: true, Enum: Meats, Command: codec.CommandProfile},
		{Name: FieldDoneness, Offset: 2, Length: 1, Kind: codec.KindEnum, Sentinel: 0xFF, HasSentinel: true, Enum: Donenesses, Command: codec.CommandProfile},
		{Name: FieldTargetTime, Offset: 3, Length: 3, Kind: codec.KindPackedTime, Sentinel: 0xFFFFFF, HasSentinel: true, Command: codec.CommandProfile},
		{Name: FieldCurrentTime, Offset: 6, Length: 3, Kind: codec.KindPackedTime, Sentinel: 0xFFFFFF, HasSentinel: true},
		{Name: FieldTargetTemp, Offset: 10, Length: 2, Kind: codec.KindInt16, Sentinel: 0x8FFF, HasSentinel: true, Scale: 0.1, Unit: "°C", Command: codec.CommandProfile},
		{Name: FieldTemp, Offset: 12, Length: 2, Kind: codec.KindInt16, Sentinel: 0x8FFF, HasSentinel: true, Scale: 0.1, Unit: "°C"},
		{Name: FieldPctDone, Offset: 14, Length: 2, Kind: codec.KindUint16, Sentinel: 0xFFFF, HasSentinel: true, Unit: "%"},
	},
	Derived: []codec.DerivedField{
		{Name: FieldCooking, Kind: codec.KindBool, Command: codec.CommandStartStop, Compute: grillRightCooking},
	},
	Commands: codec.CommandLayout{
		StartStopOpcode: 0x01,
		StartStopLength: 3,
		ProfileOpcode:   0x02,
		ProfileLength:   13,
		Profile: []codec.ProfileSlot{
			{Field: FieldMeat, Offset: 2, Mirror: -1},
			{Field: FieldDoneness, Offset: 3, Mirror: -1},
			{Field: FieldTargetTemp, Offset: 4, Mirror: -1},
			{Field: FieldTargetTime, Offset: 6, Mirror: 9},
			{Field: FieldControlMode, Offset: 12, Mirror: -1},
		},
	},
	Quirks: codec.Quirks{SpuriousWriteError: attErrUnlikely},
}

// A probe is cooking while a program is selected and the alarm has not reached done.
func grillRightCooking(s codec.Snapshot) codec.Value {
	mode := s.Get(FieldControlMode, codec.KindEnum)
	alarm := s.Get(FieldAlarm, codec.KindEnum)
	if !mode.Known() || !alarm.Known() {
		return codec.Unknown(codec.KindBool)
	}
	return codec.Bool(mode.Int() != 0 && alarm.Int() < alarmDone)
}

// GrillRight is the two-probe GrillRight wireless meat thermometer.
var GrillRight = &Class{
	Tag:         TagGrillRight,
	ModelKey:    "grillrt",
	ProductName: "GrillRight",
	Model:       "GrillRight",
	OEMModel:    "GRILLRIGHT-BLE",
	TemplateKey: "grillrt-v1",
	Service:     GrillRightService,
	SensorChars: []string{GrillRightProbe1, GrillRightProbe2},
	ControlChar: GrillRightControl,
	Table:       grillRightTable,
}
