package capture

import "math"

// Samples decodes little-endian PCM16 bytes into int16 samples. A trailing
// odd byte is ignored.
func Samples(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return samples
}

// RMS computes the root-mean-square energy of PCM16 samples.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilent reports whether a clip's energy stays below the threshold.
// Silent clips are treated like empty clips: the upload is skipped and the
// capture loop continues.
func IsSilent(pcm []byte, threshold float64) bool {
	if len(pcm) == 0 {
		return true
	}
	return RMS(Samples(pcm)) < threshold
}
