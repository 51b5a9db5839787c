// Package typemap maps declared column types of Oracle and T-SQL DDL to a
// small canonical vocabulary.
package typemap

import (
	"strconv"
	"strings"
)

// Canonical types.
const (
	Integer   = "INTEGER"
	BigInt    = "BIGINT"
	SmallInt  = "SMALLINT"
	TinyInt   = "TINYINT"
	Decimal   = "DECIMAL"
	Float     = "FLOAT"
	Real      = "REAL"
	Money     = "MONEY"
	Varchar   = "VARCHAR"
	NVarchar  = "NVARCHAR"
	Char      = "CHAR"
	NChar     = "NCHAR"
	Text      = "TEXT"
	Clob      = "CLOB"
	DateTime  = "DATETIME"
	Date      = "DATE"
	Time      = "TIME"
	Timestamp = "TIMESTAMP"
	Interval  = "INTERVAL"
	Binary    = "BINARY"
	Blob      = "BLOB"
	Boolean   = "BOOLEAN"
	RowID     = "ROWID"
	XML       = "XML"
	JSON      = "JSON"
	UUID      = "UUID"
	Unknown   = "UNKNOWN"
)

// canonical maps base type names, upper-cased and without parameters.
var canonical = map[string]string{
	// Oracle
	"NUMBER":           Decimal,
	"INTEGER":          Integer,
	"INT":              Integer,
	"SMALLINT":         SmallInt,
	"DECIMAL":          Decimal,
	"DEC":              Decimal,
	"NUMERIC":          Decimal,
	"FLOAT":            Float,
	"REAL":             Real,
	"DOUBLE PRECISION": Float,
	"BINARY_FLOAT":     Real,
	"BINARY_DOUBLE":    Float,
	"PLS_INTEGER":      Integer,
	"BINARY_INTEGER":   Integer,
	"VARCHAR2":         Varchar,
	"VARCHAR":          Varchar,
	"CHAR":             Char,
	"CHARACTER":        Char,
	"NCHAR":            NChar,
	"NVARCHAR2":        NVarchar,
	"CLOB":             Clob,
	"NCLOB":            Clob,
	"LONG":             Text,
	"DATE":             DateTime, // Oracle DATE carries a time part
	"TIMESTAMP":        Timestamp,
	"RAW":              Binary,
	"LONG RAW":         Binary,
	"BLOB":             Blob,
	"BFILE":            Blob,
	"BOOLEAN":          Boolean,
	"ROWID":            RowID,
	"UROWID":           RowID,
	"XMLTYPE":          XML,
	"JSON":             JSON,

	// T-SQL
	"BIGINT":           BigInt,
	"TINYINT":          TinyInt,
	"BIT":              Boolean,
	"MONEY":            Money,
	"SMALLMONEY":       Money,
	"NVARCHAR":         NVarchar,
	"TEXT":             Text,
	"NTEXT":            Text,
	"DATETIME":         DateTime,
	"DATETIME2":        DateTime,
	"SMALLDATETIME":    DateTime,
	"DATETIMEOFFSET":   Timestamp,
	"TIME":             Time,
	"BINARY":           Binary,
	"VARBINARY":        Binary,
	"IMAGE":            Blob,
	"UNIQUEIDENTIFIER": UUID,
	"XML":              XML,
}

// Type is a parsed column type declaration.
type Type struct {
	Base      string // upper-cased base name, e.g. "NUMBER"
	Precision int    // first parameter, 0 when absent
	Scale     int    // second parameter, 0 when absent
	Canonical string
}

// Parse splits a declaration such as "NUMBER(10, 2)" or
// "TIMESTAMP(6) WITH TIME ZONE" and maps it to its canonical type.
func Parse(declared string) Type {
	s := strings.ToUpper(strings.Join(strings.Fields(declared), " "))
	t := Type{}

	base := s
	if open := strings.IndexByte(s, '('); open >= 0 {
		base = strings.TrimSpace(s[:open])
		params := s[open+1:]
		if end := strings.IndexByte(params, ')'); end >= 0 {
			params = params[:end]
		}
		for i, p := range strings.Split(params, ",") {
			// "40 CHAR" carries a length semantic; "MAX" and "*" are not numeric.
			fields := strings.Fields(p)
			if len(fields) == 0 {
				continue
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			switch i {
			case 0:
				t.Precision = n
			case 1:
				t.Scale = n
			}
		}
	}
	t.Base = base
	t.Canonical = lookup(s, base)

	// NUMBER(p) and NUMBER(p, 0) hold whole numbers.
	if (base == "NUMBER" || base == "NUMERIC" || base == "DECIMAL") && t.Precision > 0 && t.Scale == 0 {
		if t.Precision <= 10 {
			t.Canonical = Integer
		} else if t.Precision <= 19 {
			t.Canonical = BigInt
		}
	}
	return t
}

func lookup(full, base string) string {
	switch {
	case strings.HasPrefix(base, "INTERVAL"):
		return Interval
	case strings.HasPrefix(base, "TIMESTAMP"), strings.HasPrefix(full, "TIMESTAMP"):
		return Timestamp
	}
	if c, ok := canonical[base]; ok {
		return c
	}
	// "VARCHAR2 (20 BYTE)" style or unqualified names with trailing words.
	if fields := strings.Fields(base); len(fields) > 0 {
		if c, ok := canonical[fields[0]]; ok {
			return c
		}
	}
	return Unknown
}

// Canonical returns the canonical type of a declaration.
func Canonical(declared string) string {
	if strings.TrimSpace(declared) == "" {
		return ""
	}
	return Parse(declared).Canonical
}
