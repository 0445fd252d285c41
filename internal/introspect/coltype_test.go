package introspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func TestMapColumnType(t *testing.T) {
	var tests = []struct {
		raw  string
		want TypeInfo
	}{
		{"varchar(50)", TypeInfo{Type: TypeVarchar, MaxLength: intp(50)}},
		{"decimal(10,2)", TypeInfo{Type: TypeDecimal, Precision: intp(10), Scale: intp(2)}},
		{"DECIMAL( 12 , 4 )", TypeInfo{Type: TypeDecimal, Precision: intp(12), Scale: intp(4)}},
		{"character varying", TypeInfo{Type: TypeVarchar}},
		{"char(3)", TypeInfo{Type: TypeChar, MaxLength: intp(3)}},
		{"text", TypeInfo{Type: TypeText}},
		{"integer", TypeInfo{Type: TypeInteger}},
		{"int(11)", TypeInfo{Type: TypeInteger}},
		{"bigint", TypeInfo{Type: TypeBigInt}},
		{"smallint", TypeInfo{Type: TypeSmallInt}},
		{"numeric", TypeInfo{Type: TypeNumeric}},
		{"double precision", TypeInfo{Type: TypeDouble}},
		{"real", TypeInfo{Type: TypeReal}},
		{"float(53)", TypeInfo{Type: TypeFloat, Precision: intp(53)}},
		{"boolean", TypeInfo{Type: TypeBoolean}},
		{"timestamp with time zone", TypeInfo{Type: TypeTimestamp}},
		{"datetime", TypeInfo{Type: TypeDatetime}},
		{"date", TypeInfo{Type: TypeDate}},
		{"time", TypeInfo{Type: TypeTime}},
		{"jsonb", TypeInfo{Type: TypeJSON}},
		{"bytea", TypeInfo{Type: TypeBlob}},
		{"varbinary(16)", TypeInfo{Type: TypeBlob, MaxLength: intp(16)}},
		{"uuid", TypeInfo{Type: TypeUUID}},
		{"integer[]", TypeInfo{Type: TypeArray}},
		{"interval", TypeInfo{Type: TypeOther}},
		{"geography", TypeInfo{Type: TypeOther}},
		{"", TypeInfo{Type: TypeOther}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, MapColumnType(tt.raw))
		})
	}
}

func TestColumnTypeIsNumeric(t *testing.T) {
	assert.True(t, TypeBigInt.IsNumeric())
	assert.True(t, TypeDecimal.IsNumeric())
	assert.False(t, TypeVarchar.IsNumeric())
	assert.False(t, TypeOther.IsNumeric())
}
