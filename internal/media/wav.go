package media

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WriteWAV writes mono 16-bit little-endian PCM samples as a WAV file.
func WriteWAV(path string, samples []int16, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := writeWAVHeader(w, len(samples)*2, sampleRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return err
	}
	return w.Flush()
}

// writeWAVHeader writes the 44-byte RIFF header for mono 16-bit PCM.
func writeWAVHeader(w io.Writer, dataSize, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8

	header := []interface{}{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16), // fmt chunk size
		uint16(1),  // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * blockAlign),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}
