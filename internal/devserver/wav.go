package devserver

import (
	"encoding/binary"
	"math"
	"time"
)

const synthRate = 16000

// synthWAV renders a mono 16-bit PCM sine tone with a RIFF header, enough
// for any WAV decoder to play as a stand-in agent reply.
func synthWAV(d time.Duration, freq float64) []byte {
	samples := int(float64(synthRate) * d.Seconds())
	dataLen := samples * 2

	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], synthRate)
	binary.LittleEndian.PutUint32(buf[28:32], synthRate*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))

	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / synthRate)
		// Fade the tail to avoid a click on loop boundaries.
		if left := samples - i; left < 400 {
			v *= float64(left) / 400
		}
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(int16(v*12000)))
	}
	return buf
}
