package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomek7667/rendermon/internal/domain"
)

// Format renders s in the wire format accepted by Parse. Separator
// characters inside the name or application are replaced so the record
// always splits into the expected fields.
func Format(s domain.NodeSample) string {
	return fmt.Sprintf("%s|CPU: %s%%|GPU: %s%%|MEM: %dMB|APP: %s",
		sanitize(s.Name),
		strconv.FormatFloat(s.CPUPercent, 'f', 1, 64),
		strconv.FormatFloat(s.GPUPercent, 'f', 1, 64),
		s.MemMB,
		sanitize(s.ActiveApp),
	)
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, fieldSep, "/")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
