package bloodbank

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Document number prefixes.
const (
	prefixUnit         = "BU"
	prefixRequest      = "BR"
	prefixCrossMatch   = "XM"
	prefixElectronicXM = "EXM"
	prefixIssue        = "BI"
)

// formatNumber builds a human-readable document number from a millisecond
// timestamp rendered in uppercase base36, e.g. "BR-LXK2P9Q1".
func formatNumber(prefix string, at time.Time) string {
	ts := strings.ToUpper(strconv.FormatInt(at.UnixMilli(), 36))
	return fmt.Sprintf("%s-%s", prefix, ts)
}

func newUnitNumber(at time.Time) string       { return formatNumber(prefixUnit, at) }
func newRequestNumber(at time.Time) string    { return formatNumber(prefixRequest, at) }
func newCrossMatchNumber(at time.Time) string { return formatNumber(prefixCrossMatch, at) }
func newElectronicXMNumber(at time.Time) string {
	return formatNumber(prefixElectronicXM, at)
}
func newIssueNumber(at time.Time) string { return formatNumber(prefixIssue, at) }
