package oracle

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	go_ora "github.com/sijms/go-ora/v2"
)

// parseOwnerTable splits OWNER.TABLE. Names are upper-cased the way Oracle
// stores unquoted identifiers. The default owner applies when none is given.
func parseOwnerTable(name, defaultOwner string) (string, string) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(name), `"`, "")
	if dot := strings.LastIndex(cleaned, "."); dot != -1 {
		return strings.ToUpper(cleaned[:dot]), strings.ToUpper(cleaned[dot+1:])
	}
	return strings.ToUpper(defaultOwner), strings.ToUpper(cleaned)
}

// quoteIdentifier wraps an identifier in double quotes, doubling embedded quotes.
func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// normalizeTypeName maps driver type names onto the names used in
// ALL_TAB_COLUMNS so metadata and result columns compare equal.
func normalizeTypeName(driverType string) string {
	t := strings.ToUpper(strings.TrimSpace(driverType))
	switch {
	case t == "NCHAR" || t == "CHAR":
		return t
	case strings.HasPrefix(t, "VARCHAR"), strings.HasPrefix(t, "NVARCHAR"):
		return t
	case strings.HasPrefix(t, "TIMESTAMP"), t == "TIMESTAMPTZ", t == "TIMESTAMPLTZ":
		return "TIMESTAMP"
	case t == "IBFLOAT" || t == "BINARY_FLOAT":
		return "BINARY_FLOAT"
	case t == "IBDOUBLE" || t == "BINARY_DOUBLE":
		return "BINARY_DOUBLE"
	case t == "OCICLOBLOCATOR":
		return "CLOB"
	case t == "OCIBLOBLOCATOR":
		return "BLOB"
	}
	return t
}

// normalizeValue converts driver values into JSON-safe ones: byte slices to
// text, LOB wrappers to their contents and times to ISO strings. Values
// carrying a time of day keep RFC 3339 form; bare dates print as YYYY-MM-DD.
func normalizeValue(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		return hex.EncodeToString(v)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339)
	case go_ora.Clob:
		if !v.Valid {
			return nil
		}
		return v.String
	case go_ora.NClob:
		if !v.Valid {
			return nil
		}
		return v.String
	case go_ora.Blob:
		if v.Data == nil {
			return nil
		}
		return hex.EncodeToString(v.Data)
	}
	return val
}
