package sheets

import (
	"strings"
)

// EscapeCell protects against CSV formula injection attacks by escaping
// cells that start with dangerous characters. Exported sheets are routinely
// opened in spreadsheet software, where a crafted competitor or product name
// would otherwise execute as a formula.
func EscapeCell(value string) string {
	if value == "" {
		return value
	}

	firstChar := value[0]
	if firstChar == '=' || firstChar == '+' || firstChar == '-' || firstChar == '@' {
		return "'" + value
	}

	// Some spreadsheets interpret these as formulas too.
	if strings.HasPrefix(value, "|") || strings.HasPrefix(value, "%") {
		return "'" + value
	}

	// Leading control characters can be used for injection.
	if strings.HasPrefix(value, "\t") || strings.HasPrefix(value, "\r") || strings.HasPrefix(value, "\n") {
		return "'" + value
	}

	return value
}

// EscapeRow escapes all cells in a row.
func EscapeRow(row []string) []string {
	escaped := make([]string, len(row))
	for i, cell := range row {
		escaped[i] = EscapeCell(cell)
	}
	return escaped
}
