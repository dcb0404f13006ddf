package errors

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output.
// If debug is true, the cause chain and details are included.
func FormatForCLI(err error, debug bool) string {
	if err == nil {
		return ""
	}

	se, ok := err.(*SyncError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s [%s]", se.Message, se.Code))

	if debug {
		if len(se.Details) > 0 {
			keys := make([]string, 0, len(se.Details))
			for k := range se.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				sb.WriteString(fmt.Sprintf("\n  %s: %s", k, se.Details[k]))
			}
		}
		if se.Cause != nil {
			sb.WriteString(fmt.Sprintf("\n  cause: %v", se.Cause))
		}
	}

	return sb.String()
}
