package util

import (
	"fmt"
	"math"
	"time"
)

// FillProgress converts done/total bytes and a start time into fill
// progress, throughput, and an ETA string. Basalt's creator only ever
// writes whole sectors (mode.EncryptSectors refuses anything else), so
// progress and rate are tracked in sector counts rather than raw bytes -
// a partially-written sector is never reported as "done".
// Returns: progress (0.0-1.0), speed in MiB/s, ETA as "HH:MM:SS".
func FillProgress(doneBytes, totalBytes int64, start time.Time) (float32, float64, string) {
	if totalBytes <= 0 {
		return 0, 0, "00:00:00"
	}

	doneSectors := doneBytes / SectorSize
	totalSectors := totalBytes / SectorSize
	if totalSectors <= 0 {
		return 0, 0, "00:00:00"
	}

	progress := float32(doneSectors) / float32(totalSectors)

	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		// Just started, no meaningful speed/ETA yet.
		return float32(math.Min(float64(progress), 1)), 0, "00:00:00"
	}

	sectorsPerSec := float64(doneSectors) / elapsed

	var etaSeconds int
	if sectorsPerSec > 0 {
		etaSeconds = int(math.Floor(float64(totalSectors-doneSectors) / sectorsPerSec))
	}

	speedMiBs := sectorsPerSec * float64(SectorSize) / float64(MiB)
	return float32(math.Min(float64(progress), 1)), speedMiBs, Timeify(etaSeconds)
}

// Timeify converts seconds to "HH:MM:SS" format.
func Timeify(seconds int) string {
	hours := int(math.Floor(float64(seconds) / 3600))
	seconds %= 3600
	minutes := int(math.Floor(float64(seconds) / 60))
	seconds %= 60
	hours = int(math.Max(float64(hours), 0))
	minutes = int(math.Max(float64(minutes), 0))
	seconds = int(math.Max(float64(seconds), 0))
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Sizeify converts bytes to a human-readable string (KiB, MiB, GiB, TiB).
func Sizeify(size int64) string {
	if size >= int64(TiB) {
		return fmt.Sprintf("%.2f TiB", float64(size)/float64(TiB))
	} else if size >= int64(GiB) {
		return fmt.Sprintf("%.2f GiB", float64(size)/float64(GiB))
	} else if size >= int64(MiB) {
		return fmt.Sprintf("%.2f MiB", float64(size)/float64(MiB))
	} else {
		return fmt.Sprintf("%.2f KiB", float64(size)/float64(KiB))
	}
}
