package exfat

import "time"

// encodeTimestamp packs a time.Time into the exFAT 32-bit DOS-style
// timestamp: bits 25-31 year-1980, 21-24 month, 16-20 day, 11-15 hour,
// 5-10 minute, 0-4 seconds/2. Only a creation timestamp is tracked; this
// driver does not maintain separate last-modified/last-accessed times.
func encodeTimestamp(t time.Time) uint32 {
	year := uint32(t.Year() - 1980)
	if t.Year() < 1980 {
		year = 0
	}
	month := uint32(t.Month())
	day := uint32(t.Day())
	hour := uint32(t.Hour())
	minute := uint32(t.Minute())
	second := uint32(t.Second()) / 2

	return (year << 25) | (month << 21) | (day << 16) | (hour << 11) | (minute << 5) | second
}
