package audioio

import "encoding/binary"

// Convert returns chunk in the given sample rate and channel count.
// Only mono and stereo layouts are converted; other channel counts pass
// through unchanged. The input is not modified.
func Convert(chunk AudioChunk, sampleRate, channels int) AudioChunk {
	samples := chunk.Samples
	switch {
	case chunk.Channels == 2 && channels == 1:
		samples = StereoToMono(samples)
	case chunk.Channels == 1 && channels == 2:
		samples = MonoToStereo(samples)
	default:
		channels = chunk.Channels
	}

	rate := chunk.SampleRate
	if rate > 0 && sampleRate > 0 && rate != sampleRate {
		if channels == 1 {
			samples = Resample(samples, rate, sampleRate)
		} else {
			samples = MonoToStereo(Resample(StereoToMono(samples), rate, sampleRate))
		}
		rate = sampleRate
	}

	return AudioChunk{Samples: samples, SampleRate: rate, Channels: channels, Captured: chunk.Captured}
}

// Resample converts mono audio between sample rates by linear
// interpolation, which is adequate for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	out := make([]int16, int(float64(len(samples))/ratio))

	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + frac*(b-a))
	}
	return out
}

// BytesToSamples decodes little-endian PCM16. A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian PCM16.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// MonoToStereo duplicates each sample into both channels.
func MonoToStereo(samples []int16) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each interleaved pair.
func StereoToMono(samples []int16) []int16 {
	out := make([]int16, len(samples)/2)
	for i := range out {
		out[i] = int16((int32(samples[i*2]) + int32(samples[i*2+1])) / 2)
	}
	return out
}
