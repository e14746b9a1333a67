package utils

import (
	"encoding/json"
	"fmt"
)

// HexDump creates a hex dump of the given data for debugging purposes
func HexDump(data []byte, maxBytes int) string {
	if len(data) == 0 {
		return "[empty]"
	}

	// Limit to maxBytes
	if len(data) > maxBytes {
		data = data[:maxBytes]
	}

	var result string
	result = fmt.Sprintf("Hex dump of %d bytes:\n", len(data))

	for i := 0; i < len(data); i += 16 {
		// Print offset
		result += fmt.Sprintf("%04x: ", i)

		// Print hex representation
		hexPart := ""
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				hexPart += fmt.Sprintf("%02x ", data[i+j])
			} else {
				hexPart += "   " // 3 spaces to align
			}

			// Extra space after 8 bytes
			if j == 7 {
				hexPart += " "
			}
		}
		result += hexPart

		// Print ASCII representation
		result += "  |"
		for j := 0; j < 16; j++ {
			if i+j < len(data) {
				b := data[i+j]
				if b >= 32 && b <= 126 { // Printable ASCII
					result += string(b)
				} else {
					result += "." // Non-printable
				}
			} else {
				result += " " // Padding
			}
		}
		result += "|\n"
	}

	return result
}

// DumpStructToLog dumps the content of a struct to the debug log
func DumpStructToLog(prefix string, v interface{}) {
	if !Config.DebugLoggingEnabled {
		return
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		DebugLog("%s: [error marshaling: %v]", prefix, err)
		return
	}

	// Limited to avoid excessive logging
	maxLen := 500
	strData := string(data)
	if len(strData) > maxLen {
		DebugLog("%s: %s... [truncated]", prefix, strData[:maxLen])
	} else {
		DebugLog("%s: %s", prefix, strData)
	}
}
