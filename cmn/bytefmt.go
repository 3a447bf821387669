package cmn

import "fmt"

// ByteString renders n using binary KiB/MiB/GiB units with two decimal
// places, the log formatting convention named in spec §4.C ("tie-breaks and
// numerics"), grounded on the teacher's cos.B2S byte-formatting helper
// (stats/target_stats.go).
func ByteString(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.2f%s", float64(n)/float64(div), units[exp])
}
