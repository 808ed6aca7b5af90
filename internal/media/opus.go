package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/opus"
	"github.com/pion/opus/pkg/oggreader"
	"github.com/zeozeozeo/gomplerate"

	. "transcript-pipeline/internal/logging"
)

const (
	// maxOpusFrameSamples is the largest Opus frame: 120 ms at 48 kHz.
	maxOpusFrameSamples = 5760
	// opusClockRate is the rate Opus pre-skip and granule positions count in.
	opusClockRate = 48000
	// silkUpsample is the factor the SILK decoder output is upsampled by.
	silkUpsample = 3
)

// opusPacketDecoder decodes one Opus packet into S16LE PCM. *opus.Decoder
// satisfies it.
type opusPacketDecoder interface {
	Decode(in, out []byte) (opus.Bandwidth, bool, error)
}

// DecodeOggOpus decodes an OGG/Opus file to mono int16 samples at targetRate.
// Every packet contributes exactly its coded duration, so word offsets in the
// decoded audio match the source. Packets the decoder cannot handle become
// silence of the same length.
// The decoder panics on some malformed streams, so panics become errors.
func DecodeOggOpus(path string, targetRate int) (samples []int16, err error) {
	defer func() {
		if r := recover(); r != nil {
			L_warn("media: opus decoder panicked", "file", path, "panic", r)
			samples, err = nil, fmt.Errorf("opus decoder panic: %v", r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	ogg, header, err := oggreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("parse OGG container: %w", err)
	}

	var packets [][]byte
	for {
		segments, _, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse OGG page: %w", err)
		}
		packets = append(packets, segments...)
	}

	decoder := opus.NewDecoder()
	samples, err = decodeOpusPackets(&decoder, packets, int(header.PreSkip), targetRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return samples, nil
}

// decodeOpusPackets decodes packets into one timeline at targetRate and
// drops the encoder pre-skip from its start.
func decodeOpusPackets(decoder opusPacketDecoder, packets [][]byte, preSkip, targetRate int) ([]int16, error) {
	out := make([]byte, maxOpusFrameSamples*2)

	var (
		pcm     []int16
		run     []int16
		runRate int
		decoded int
	)
	flush := func() error {
		if len(run) == 0 {
			return nil
		}
		converted, err := resample(run, runRate, targetRate)
		if err != nil {
			return err
		}
		pcm = append(pcm, converted...)
		run = nil
		return nil
	}

	for _, packet := range packets {
		if len(packet) == 0 {
			continue
		}
		duration, err := opusPacketDuration(packet)
		if err != nil {
			L_debug("media: skipping malformed opus packet", "error", err, "len", len(packet))
			continue
		}

		rate := silkOutputRate(packet[0])
		if rate > 0 {
			_, _, err = decoder.Decode(packet, out)
		}
		if rate == 0 || err != nil {
			L_debug("media: opus packet not decodable, inserting silence", "error", err, "duration", duration)
			if err := flush(); err != nil {
				return nil, err
			}
			pcm = append(pcm, make([]int16, samplesFor(duration, targetRate))...)
			continue
		}

		if rate != runRate {
			if err := flush(); err != nil {
				return nil, err
			}
			runRate = rate
		}
		n := min(samplesFor(duration, rate), maxOpusFrameSamples)
		run = append(run, bytesToInt16(out[:n*2])...)
		decoded++
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if decoded == 0 {
		return nil, fmt.Errorf("no audio samples decoded")
	}

	skip := preSkip * targetRate / opusClockRate
	if skip >= len(pcm) {
		return nil, fmt.Errorf("stream shorter than its pre-skip")
	}
	return pcm[skip:], nil
}

// opusPacketDuration returns the audio duration a packet codes, from its
// TOC byte and frame count (RFC 6716 section 3.1).
func opusPacketDuration(packet []byte) (time.Duration, error) {
	if len(packet) == 0 {
		return 0, fmt.Errorf("empty packet")
	}
	toc := packet[0]
	config := int(toc >> 3)

	var frame time.Duration
	switch {
	case config < 12:
		frame = [...]time.Duration{10, 20, 40, 60}[config%4] * time.Millisecond
	case config < 16:
		frame = [...]time.Duration{10, 20}[config%2] * time.Millisecond
	default:
		frame = [...]time.Duration{2500, 5000, 10000, 20000}[config%4] * time.Microsecond
	}

	frames := 1
	switch toc & 0x03 {
	case 1, 2:
		frames = 2
	case 3:
		if len(packet) < 2 {
			return 0, fmt.Errorf("code 3 packet without frame count")
		}
		frames = int(packet[1] & 0x3f)
		if frames == 0 {
			return 0, fmt.Errorf("code 3 packet with zero frames")
		}
	}

	total := frame * time.Duration(frames)
	if total > 120*time.Millisecond {
		return 0, fmt.Errorf("packet duration %s exceeds 120ms", total)
	}
	return total, nil
}

// silkOutputRate is the rate of the PCM the decoder produces for a
// single-frame 20 ms mono SILK packet, or 0 when the decoder cannot handle
// the packet.
func silkOutputRate(toc byte) int {
	config := int(toc >> 3)
	stereo := toc&0x04 != 0
	if config >= 12 || config%4 != 1 || toc&0x03 != 0 || stereo {
		return 0
	}
	switch {
	case config < 4:
		return 8000 * silkUpsample
	case config < 8:
		return 12000 * silkUpsample
	default:
		return 16000 * silkUpsample
	}
}

// samplesFor converts a duration to a sample count at rate.
func samplesFor(d time.Duration, rate int) int {
	return int(int64(d) * int64(rate) / int64(time.Second))
}

// bytesToInt16 reinterprets little-endian 16-bit PCM bytes.
func bytesToInt16(buf []byte) []int16 {
	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2:])) // #nosec G115 -- PCM reinterpretation
	}
	return samples
}

// resample converts mono samples between rates.
func resample(samples []int16, fromRate, toRate int) ([]int16, error) {
	if fromRate <= 0 || fromRate == toRate {
		return samples, nil
	}
	r, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("resample %d Hz to %d Hz: %w", fromRate, toRate, err)
	}
	return r.ResampleInt16(samples), nil
}
