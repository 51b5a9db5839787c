package typemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		declared string
		want     Type
	}{
		{"NUMBER(10, 2)", Type{Base: "NUMBER", Precision: 10, Scale: 2, Canonical: Decimal}},
		{"number(10)", Type{Base: "NUMBER", Precision: 10, Canonical: Integer}},
		{"NUMBER(15,0)", Type{Base: "NUMBER", Precision: 15, Canonical: BigInt}},
		{"NUMBER(30)", Type{Base: "NUMBER", Precision: 30, Canonical: Decimal}},
		{"NUMBER", Type{Base: "NUMBER", Canonical: Decimal}},
		{"VARCHAR2(100 CHAR)", Type{Base: "VARCHAR2", Precision: 100, Canonical: Varchar}},
		{"nvarchar(max)", Type{Base: "NVARCHAR", Canonical: NVarchar}},
		{"TIMESTAMP(6) WITH TIME ZONE", Type{Base: "TIMESTAMP", Precision: 6, Canonical: Timestamp}},
	}

	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.declared))
		})
	}
}

func TestCanonical(t *testing.T) {
	tests := map[string]string{
		"DATE":                         DateTime,
		"INTERVAL DAY(2) TO SECOND(6)": Interval,
		"double  precision":            Float,
		"LONG RAW":                     Binary,
		"UNIQUEIDENTIFIER":             UUID,
		"DATETIME2(7)":                 DateTime,
		"BIT":                          Boolean,
		"GEOMETRY":                     Unknown,
		"":                             "",
		"   ":                          "",
	}

	for declared, want := range tests {
		assert.Equal(t, want, Canonical(declared), declared)
	}
}
