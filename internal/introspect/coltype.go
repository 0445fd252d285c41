package introspect

import (
	"regexp"
	"strconv"
	"strings"
)

// ColumnType is the canonical column type.
type ColumnType string

const (
	TypeInteger   ColumnType = "INTEGER"
	TypeBigInt    ColumnType = "BIGINT"
	TypeSmallInt  ColumnType = "SMALLINT"
	TypeDecimal   ColumnType = "DECIMAL"
	TypeNumeric   ColumnType = "NUMERIC"
	TypeFloat     ColumnType = "FLOAT"
	TypeDouble    ColumnType = "DOUBLE"
	TypeReal      ColumnType = "REAL"
	TypeVarchar   ColumnType = "VARCHAR"
	TypeChar      ColumnType = "CHAR"
	TypeText      ColumnType = "TEXT"
	TypeBoolean   ColumnType = "BOOLEAN"
	TypeDate      ColumnType = "DATE"
	TypeTime      ColumnType = "TIME"
	TypeDatetime  ColumnType = "DATETIME"
	TypeTimestamp ColumnType = "TIMESTAMP"
	TypeJSON      ColumnType = "JSON"
	TypeBlob      ColumnType = "BLOB"
	TypeUUID      ColumnType = "UUID"
	TypeArray     ColumnType = "ARRAY"
	TypeOther     ColumnType = "OTHER"
)

// TypeInfo is the result of mapping a raw engine type string.
type TypeInfo struct {
	Type      ColumnType
	MaxLength *int
	Precision *int
	Scale     *int
}

type typeRule struct {
	substr string
	typ    ColumnType
}

// typeRules is matched top to bottom against the lower-cased type name.
// Longer and more specific spellings come before the substrings they contain.
var typeRules = []typeRule{
	{"[]", TypeArray},
	{"array", TypeArray},
	{"interval", TypeOther},
	{"point", TypeOther},
	{"bigint", TypeBigInt},
	{"int8", TypeBigInt},
	{"bigserial", TypeBigInt},
	{"smallint", TypeSmallInt},
	{"tinyint", TypeSmallInt},
	{"int2", TypeSmallInt},
	{"int", TypeInteger},
	{"serial", TypeInteger},
	{"character varying", TypeVarchar},
	{"varchar", TypeVarchar},
	{"varying", TypeVarchar},
	{"string", TypeVarchar},
	{"text", TypeText},
	{"clob", TypeText},
	{"char", TypeChar},
	{"decimal", TypeDecimal},
	{"numeric", TypeNumeric},
	{"number", TypeNumeric},
	{"money", TypeDecimal},
	{"double", TypeDouble},
	{"float8", TypeDouble},
	{"real", TypeReal},
	{"float", TypeFloat},
	{"bool", TypeBoolean},
	{"bit", TypeBoolean},
	{"timestamp", TypeTimestamp},
	{"datetime", TypeDatetime},
	{"date", TypeDate},
	{"time", TypeTime},
	{"json", TypeJSON},
	{"uuid", TypeUUID},
	{"uniqueidentifier", TypeUUID},
	{"blob", TypeBlob},
	{"binary", TypeBlob},
	{"bytea", TypeBlob},
	{"raw", TypeBlob},
	{"image", TypeBlob},
}

var sizeSuffix = regexp.MustCompile(`\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\)`)

// MapColumnType normalizes a free-form engine type name. It never fails;
// unknown names map to TypeOther.
func MapColumnType(raw string) TypeInfo {
	lower := strings.ToLower(strings.TrimSpace(raw))
	info := TypeInfo{Type: TypeOther}
	for _, r := range typeRules {
		if strings.Contains(lower, r.substr) {
			info.Type = r.typ
			break
		}
	}

	m := sizeSuffix.FindStringSubmatch(lower)
	if m == nil {
		return info
	}
	first, err := strconv.Atoi(m[1])
	if err != nil {
		return info
	}
	if m[2] != "" {
		second, err := strconv.Atoi(m[2])
		if err != nil {
			return info
		}
		info.Precision, info.Scale = &first, &second
		return info
	}
	switch info.Type {
	case TypeDecimal, TypeNumeric, TypeFloat, TypeDouble, TypeReal,
		TypeTimestamp, TypeTime, TypeDatetime:
		info.Precision = &first
	case TypeInteger, TypeBigInt, TypeSmallInt, TypeBoolean:
		// display widths such as int(11) carry no storage meaning
	default:
		info.MaxLength = &first
	}
	return info
}

// IsNumeric reports whether t belongs to the integer or decimal families.
func (t ColumnType) IsNumeric() bool {
	switch t {
	case TypeInteger, TypeBigInt, TypeSmallInt, TypeDecimal, TypeNumeric, TypeFloat, TypeDouble, TypeReal:
		return true
	}
	return false
}
