package main

import (
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"go.uber.org/zap"
)

const chimeSampleRate = beep.SampleRate(44100)

// Chime plays a short two-tone alert when a chat request arrives.
type Chime struct {
	log *zap.Logger

	initOnce sync.Once
	initErr  error
}

func NewChime(log *zap.Logger) *Chime {
	return &Chime{log: log}
}

// Play queues the alert and returns immediately. If the audio device cannot
// be opened the chime is disabled and the failure logged once.
func (c *Chime) Play() {
	c.initOnce.Do(func() {
		c.initErr = speaker.Init(chimeSampleRate, chimeSampleRate.N(time.Second/10))
		if c.initErr != nil {
			c.log.Warn("audio unavailable, request chime disabled", zap.Error(c.initErr))
		}
	})
	if c.initErr != nil {
		return
	}

	n := chimeSampleRate.N(120 * time.Millisecond)
	speaker.Play(beep.Seq(
		beep.Take(n, tone(chimeSampleRate, 880)),
		beep.Take(n, tone(chimeSampleRate, 1320)),
	))
}

// tone is an endless sine wave at freq Hz, at a quarter of full volume.
func tone(sr beep.SampleRate, freq float64) beep.Streamer {
	step := 2 * math.Pi * freq / float64(sr)
	var phase float64
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := 0.25 * math.Sin(phase)
			samples[i][0], samples[i][1] = v, v
			phase += step
		}
		return len(samples), true
	})
}
