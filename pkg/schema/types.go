package schema

import "strings"

// TypeFamily groups Oracle data types by the predicates they accept.
type TypeFamily int

const (
	FamilyOther TypeFamily = iota
	FamilyNumeric
	FamilyDate
	FamilyChar
)

func (f TypeFamily) String() string {
	switch f {
	case FamilyNumeric:
		return "numeric"
	case FamilyDate:
		return "date"
	case FamilyChar:
		return "char"
	default:
		return "other"
	}
}

// FamilyOf classifies an Oracle type name such as NUMBER(10,2),
// TIMESTAMP(6) WITH TIME ZONE or VARCHAR2.
func FamilyOf(oracleType string) TypeFamily {
	t := strings.ToUpper(strings.TrimSpace(oracleType))
	if paren := strings.IndexByte(t, '('); paren != -1 {
		t = strings.TrimSpace(t[:paren])
	}

	switch {
	case t == "":
		return FamilyOther
	case t == "DATE", strings.HasPrefix(t, "TIMESTAMP"):
		return FamilyDate
	case strings.HasPrefix(t, "INTERVAL"):
		return FamilyOther
	}

	switch t {
	case "NUMBER", "FLOAT", "BINARY_FLOAT", "BINARY_DOUBLE", "INTEGER", "INT",
		"SMALLINT", "DECIMAL", "NUMERIC", "REAL", "DOUBLE PRECISION":
		return FamilyNumeric
	case "VARCHAR2", "NVARCHAR2", "VARCHAR", "CHAR", "NCHAR", "CLOB", "NCLOB", "LONG":
		return FamilyChar
	}
	return FamilyOther
}
