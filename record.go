package fit2gpx

import (
	"time"

	"github.com/muktihari/fit/kit/datetime"
	"github.com/muktihari/fit/kit/semicircles"
	"github.com/muktihari/fit/profile"
	"github.com/muktihari/fit/profile/basetype"
	"github.com/muktihari/fit/profile/factory"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/profile/untyped/fieldnum"
	"github.com/muktihari/fit/profile/untyped/mesgnum"
	"github.com/muktihari/fit/proto"
)

// RecordProfileVersion is the FIT SDK profile version whose record message
// field numbering is used by RecordFields.
const RecordProfileVersion = profile.Version

// SpeedScale converts raw speed values to meters per second.
const SpeedScale = 1000

// A RecordField is a named, typed field of FIT record messages. Values are
// converted with value/Scale - Offset.
type RecordField struct {
	Num      byte
	Name     string
	BaseType basetype.BaseType
	Scale    float64
	Offset   float64
	Units    string
}

// Record message fields.
var (
	RecordPositionLat      = newRecordField(fieldnum.RecordPositionLat)
	RecordPositionLong     = newRecordField(fieldnum.RecordPositionLong)
	RecordAltitude         = newRecordField(fieldnum.RecordAltitude)
	RecordHeartRate        = newRecordField(fieldnum.RecordHeartRate)
	RecordCadence          = newRecordField(fieldnum.RecordCadence)
	RecordDistance         = newRecordField(fieldnum.RecordDistance)
	RecordSpeed            = newRecordField(fieldnum.RecordSpeed)
	RecordTemperature      = newRecordField(fieldnum.RecordTemperature)
	RecordEnhancedSpeed    = newRecordField(fieldnum.RecordEnhancedSpeed)
	RecordEnhancedAltitude = newRecordField(fieldnum.RecordEnhancedAltitude)
	RecordTimestamp        = newRecordField(fieldnum.RecordTimestamp)
)

// RecordFields maps field numbers to record message fields.
var RecordFields = func() map[byte]RecordField {
	m := make(map[byte]RecordField)
	for _, field := range []RecordField{
		RecordPositionLat,
		RecordPositionLong,
		RecordAltitude,
		RecordHeartRate,
		RecordCadence,
		RecordDistance,
		RecordSpeed,
		RecordTemperature,
		RecordEnhancedSpeed,
		RecordEnhancedAltitude,
		RecordTimestamp,
	} {
		m[field.Num] = field
	}
	return m
}()

// newRecordField returns the record message field num from the FIT profile.
func newRecordField(num byte) RecordField {
	field := factory.CreateField(mesgnum.Record, num)
	return RecordField{
		Num:      field.Num,
		Name:     field.Name,
		BaseType: field.BaseType,
		Scale:    field.Scale,
		Offset:   field.Offset,
		Units:    field.Units,
	}
}

// Value returns the converted value of f in m. It returns false if the field
// is missing or invalid.
func (f RecordField) Value(m *proto.Message) (float64, bool) {
	field := m.FieldByNum(f.Num)
	if field == nil || !field.Value.Valid(f.BaseType) {
		return 0, false
	}
	value, ok := float64Value(field.Value)
	if !ok {
		return 0, false
	}
	return value/f.Scale - f.Offset, true
}

// MapRecord returns the track point of the record message m. Missing
// positions map to zero, so a record without a position becomes the no-fix
// sentinel.
func MapRecord(m *proto.Message) TrackPoint {
	point := TrackPoint{
		Lon:         position(m, RecordPositionLong),
		Lat:         position(m, RecordPositionLat),
		Elevation:   firstValue(m, RecordEnhancedAltitude, RecordAltitude),
		Time:        recordTime(m),
		Speed:       firstValue(m, RecordEnhancedSpeed, RecordSpeed),
		Temperature: firstValue(m, RecordTemperature),
		Distance:    firstValue(m, RecordDistance),
	}
	if heartRate := firstValue(m, RecordHeartRate); heartRate != nil {
		point.HeartRate = ptr(int(*heartRate))
	}
	if cadence := firstValue(m, RecordCadence); cadence != nil {
		point.Cadence = ptr(int(*cadence))
	}
	return point
}

// position returns the position field in m in degrees, or zero if it is
// missing or invalid.
func position(m *proto.Message, field RecordField) float64 {
	value := m.FieldValueByNum(field.Num)
	if value.Type() != proto.TypeInt32 || !value.Valid(field.BaseType) {
		return 0
	}
	return semicircles.ToDegrees(value.Int32())
}

// firstValue returns the value of the first of fields present in m.
func firstValue(m *proto.Message, fields ...RecordField) *float64 {
	for _, field := range fields {
		if value, ok := field.Value(m); ok {
			return &value
		}
	}
	return nil
}

// recordTime returns the time of m, or the zero time if m has no valid
// absolute timestamp. Timestamps below typedef.DateTimeMin count seconds
// since the device was powered on.
func recordTime(m *proto.Message) time.Time {
	value := m.FieldValueByNum(RecordTimestamp.Num)
	if value.Type() != proto.TypeUint32 {
		return time.Time{}
	}
	timestamp := value.Uint32()
	if timestamp == basetype.Uint32Invalid || timestamp < uint32(typedef.DateTimeMin) {
		return time.Time{}
	}
	return datetime.ToTime(timestamp).UTC()
}

// float64Value returns the numeric value of v.
func float64Value(v proto.Value) (float64, bool) {
	switch v.Type() {
	case proto.TypeInt8:
		return float64(v.Int8()), true
	case proto.TypeUint8:
		return float64(v.Uint8()), true
	case proto.TypeInt16:
		return float64(v.Int16()), true
	case proto.TypeUint16:
		return float64(v.Uint16()), true
	case proto.TypeInt32:
		return float64(v.Int32()), true
	case proto.TypeUint32:
		return float64(v.Uint32()), true
	case proto.TypeInt64:
		return float64(v.Int64()), true
	case proto.TypeUint64:
		return float64(v.Uint64()), true
	case proto.TypeFloat32:
		return float64(v.Float32()), true
	case proto.TypeFloat64:
		return v.Float64(), true
	default:
		return 0, false
	}
}

func ptr[T any](v T) *T {
	return &v
}
