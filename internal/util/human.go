package util

import "fmt"

func Human(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// HumanMB renders a byte count as whole-and-tenth megabytes, the form used
// in user-facing captions.
func HumanMB(n int64) string {
	return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
}
