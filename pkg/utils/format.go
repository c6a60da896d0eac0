package utils

import "fmt"

// FormatSize renders a byte count for humans, matching the API's
// size_formatted field.
func FormatSize(sizeBytes int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)

	switch {
	case sizeBytes < kb:
		return fmt.Sprintf("%d bytes", sizeBytes)
	case sizeBytes < mb:
		return fmt.Sprintf("%.1f KB", float64(sizeBytes)/kb)
	case sizeBytes < gb:
		return fmt.Sprintf("%.1f MB", float64(sizeBytes)/mb)
	default:
		return fmt.Sprintf("%.1f GB", float64(sizeBytes)/gb)
	}
}
