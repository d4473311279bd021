package audio

import (
	"context"
	"fmt"
	"io"

	"github.com/gen2brain/malgo"
	"github.com/hajimehoshi/oto"
	"github.com/jinjor/desktop-synth/src/logger"
)

// output pulls PCM from r and plays it until ctx is done.
type output interface {
	play(ctx context.Context, r io.Reader) error
	Close() error
}

// ----- oto ----- //

type otoOutput struct {
	otoContext        *oto.Context
	bufferSizeInBytes int
}

func newOtoOutput(sampleRate, channels, bufferSizeInBytes int) (*otoOutput, error) {
	otoContext, err := oto.NewContext(sampleRate, channels, bitDepthInBytes, bufferSizeInBytes)
	if err != nil {
		return nil, err
	}
	return &otoOutput{
		otoContext:        otoContext,
		bufferSizeInBytes: bufferSizeInBytes,
	}, nil
}

func (o *otoOutput) play(ctx context.Context, r io.Reader) error {
	p := o.otoContext.NewPlayer()
	defer func() {
		if err := p.Close(); err != nil {
			logger.L.Errorf("error: %v", err)
		}
	}()
	// blocks until r returns io.EOF
	if _, err := io.CopyBuffer(p, r, make([]byte, o.bufferSizeInBytes)); err != nil {
		return err
	}
	return nil
}

func (o *otoOutput) Close() error {
	return o.otoContext.Close()
}

// ----- malgo ----- //

type malgoOutput struct {
	ctx          *malgo.AllocatedContext
	sampleRate   int
	channels     int
	periodFrames int
}

func newMalgoOutput(sampleRate, channels, periodFrames int) (*malgoOutput, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init playback context: %w", err)
	}
	return &malgoOutput{
		ctx:          ctx,
		sampleRate:   sampleRate,
		channels:     channels,
		periodFrames: periodFrames,
	}, nil
}

func (m *malgoOutput) play(ctx context.Context, r io.Reader) error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.periodFrames)
	deviceConfig.Periods = 2

	callbacks := malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, frameCount uint32) {
			bytesNeeded := int(frameCount) * m.channels * bitDepthInBytes
			if bytesNeeded > len(outputSamples) {
				bytesNeeded = len(outputSamples)
			}
			n, _ := r.Read(outputSamples[:bytesNeeded])
			for i := n; i < bytesNeeded; i++ {
				outputSamples[i] = 0
			}
		},
	}
	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to init playback device: %w", err)
	}
	defer device.Uninit()
	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	defer device.Stop()
	<-ctx.Done()
	return nil
}

func (m *malgoOutput) Close() error {
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

// ----- none ----- //

// nullOutput plays nothing. The bank is only driven by explicit Read calls.
type nullOutput struct{}

func (nullOutput) play(ctx context.Context, r io.Reader) error {
	<-ctx.Done()
	return nil
}

func (nullOutput) Close() error {
	return nil
}
