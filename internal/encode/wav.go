// Package encode writes captured PCM to disk.
package encode

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/errors"
)

// WAVWriter streams captured packets of one session format into a WAV
// file. Not safe for concurrent use; callers sequence writes the same way
// packets are delivered.
type WAVWriter struct {
	file    *os.File
	enc     *wav.Encoder
	format  capture.Format
	samples []int
}

// NewWAVWriter creates the file (and any missing parent directories) and
// writes the WAV header for the given format.
func NewWAVWriter(filePath string, format capture.Format) (*WAVWriter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	bitDepth, err := wavBitDepth(format.SampleFormat)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, errors.New(err).
			Component("encode").
			Category(errors.CategoryFileIO).
			Context("path", filePath).
			Build()
	}
	file, err := os.Create(filePath)
	if err != nil {
		return nil, errors.New(err).
			Component("encode").
			Category(errors.CategoryFileIO).
			Context("path", filePath).
			Build()
	}
	enc := wav.NewEncoder(file, format.FramesPerSecond, bitDepth, format.Channels, 1)
	return &WAVWriter{file: file, enc: enc, format: format}, nil
}

// wavBitDepth maps a sample format onto the integer bit depth stored in
// the WAV header. Float32 streams are written as 16-bit PCM.
func wavBitDepth(sf capture.SampleFormat) (int, error) {
	switch sf {
	case capture.SampleFormatUnsigned8:
		return 8, nil
	case capture.SampleFormatSigned16, capture.SampleFormatFloat32:
		return 16, nil
	case capture.SampleFormatSigned24In32:
		return 24, nil
	default:
		return 0, errors.Newf("sample format %v cannot be encoded", sf).
			Component("encode").
			Category(errors.CategoryValidation).
			Build()
	}
}

// WritePCM appends raw frames in the session format.
func (w *WAVWriter) WritePCM(data []byte) error {
	samples, err := w.toIntSamples(data)
	if err != nil {
		return err
	}
	buf := &audio.IntBuffer{
		Data: samples,
		Format: &audio.Format{
			SampleRate:  w.format.FramesPerSecond,
			NumChannels: w.format.Channels,
		},
	}
	if err := w.enc.Write(buf); err != nil {
		return errors.New(err).
			Component("encode").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}

// toIntSamples converts raw PCM bytes into the encoder's integer samples,
// reusing the scratch slice across calls.
func (w *WAVWriter) toIntSamples(data []byte) ([]int, error) {
	bps := w.format.SampleFormat.BytesPerSample()
	if len(data)%bps != 0 {
		return nil, errors.Newf("pcm data is not sample aligned: %d bytes", len(data)).
			Component("encode").
			Category(errors.CategoryValidation).
			Build()
	}
	n := len(data) / bps
	if cap(w.samples) < n {
		w.samples = make([]int, n)
	}
	samples := w.samples[:n]
	switch w.format.SampleFormat {
	case capture.SampleFormatUnsigned8:
		for i := 0; i < n; i++ {
			samples[i] = int(data[i]) - 128
		}
	case capture.SampleFormatSigned16:
		for i := 0; i < n; i++ {
			samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2])))
		}
	case capture.SampleFormatSigned24In32:
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:i*4+4])) >> 8
			samples[i] = int(v)
		}
	case capture.SampleFormatFloat32:
		for i := 0; i < n; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			v := int(float64(f) * 32768)
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			samples[i] = v
		}
	}
	return samples, nil
}

// Close finalizes the WAV header and closes the file.
func (w *WAVWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return errors.New(encErr).
			Component("encode").
			Category(errors.CategoryFileIO).
			Build()
	}
	if fileErr != nil {
		return errors.New(fileErr).
			Component("encode").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
