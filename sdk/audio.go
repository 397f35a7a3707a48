package coach

import (
	"encoding/binary"
	"math"
)

// Audio format constants for the agent streaming channel. Both directions
// are 16-bit little-endian mono PCM.
const (
	// CaptureSampleRate is the rate the agent expects for inbound audio.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of agent audio output.
	PlaybackSampleRate = 24000

	pcmBytesPerSample = 2
)

// FloatToPCM16 quantizes float samples to 16-bit little-endian PCM.
// Samples are hard-clamped to [-1,1] first, then scaled by 0x8000 for
// negative values and 0x7FFF for non-negative ones, matching the
// asymmetric integer PCM range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*pcmBytesPerSample)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat decodes 16-bit little-endian PCM into normalized float
// samples. A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / pcmBytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Resample converts samples from one rate to another by linear
// interpolation. It returns the input unchanged when the rates match.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 || len(samples) == 0 || fromRate == toRate {
		return samples
	}
	outLen := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if outLen <= 0 {
		return nil
	}
	out := make([]float32, outLen)
	if outLen == 1 {
		out[0] = samples[0]
		return out
	}
	step := float64(len(samples)-1) / float64(outLen-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

// RMSLevel computes the input level meter value for a capture frame:
// min(100, rms*200), as a percentage. An empty frame reports zero.
func RMSLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return math.Min(100, rms*200)
}

// IsSilence reports whether a decoded frame is empty or entirely zero.
// Such frames are not worth queuing for playback.
func IsSilence(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}

// ApplyGain scales samples in place by the given multiplier.
func ApplyGain(samples []float32, gain float64) {
	if gain == 1 {
		return
	}
	g := float32(gain)
	for i := range samples {
		samples[i] *= g
	}
}

// PCMToWAV wraps raw PCM audio data with a WAV header. Useful for saving
// collected agent audio to a file.
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcmData...)
}
