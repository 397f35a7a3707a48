package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	coach "github.com/coachlive/coach-go/sdk"
)

const micFrameDuration = 20 * time.Millisecond

// ffmpegMicCapture reads mono s16le frames from an ffmpeg capture
// process and feeds them to the session as float frames.
type ffmpegMicCapture struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func newFFmpegMicCapture() (*ffmpegMicCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	return &ffmpegMicCapture{}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", coach.CaptureSampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", coach.CaptureSampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *ffmpegMicCapture) Start(ctx context.Context, sink func([]float32)) error {
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg mic capture: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.stdout = stdout
	m.mu.Unlock()

	frameBytes := coach.CaptureSampleRate * 2 * int(micFrameDuration/time.Millisecond) / 1000
	go func() {
		buf := make([]byte, frameBytes)
		for {
			if ctx.Err() != nil {
				return
			}
			if _, err := io.ReadFull(stdout, buf); err != nil {
				return
			}
			sink(coach.PCM16ToFloat(buf))
		}
	}()
	return nil
}

func (m *ffmpegMicCapture) SampleRate() int {
	return coach.CaptureSampleRate
}

func (m *ffmpegMicCapture) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	m.cmd = nil
	m.stdout = nil
	return nil
}

// ffplaySpeaker pipes s16le PCM into an ffplay process. Completion is
// estimated from frame duration since ffplay gives no playback marks;
// Stop restarts the process to drop whatever ffplay has buffered.
type ffplaySpeaker struct {
	volume int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFplaySpeaker(volume int) (*ffplaySpeaker, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	if volume <= 0 {
		volume = 80
	}
	return &ffplaySpeaker{volume: volume}, nil
}

func (s *ffplaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	cmd := exec.Command("ffplay",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", coach.PlaybackSampleRate),
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked() == nil
}

func (s *ffplaySpeaker) Play(samples []float32, sampleRate int, done func()) {
	s.mu.Lock()
	err := s.startLocked()
	stdin := s.stdin
	s.mu.Unlock()
	if err != nil || stdin == nil {
		done()
		return
	}
	if _, err := stdin.Write(coach.FloatToPCM16(samples)); err != nil {
		done()
		return
	}
	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	time.AfterFunc(duration, done)
}

func (s *ffplaySpeaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}

func (s *ffplaySpeaker) Close() {
	s.Stop()
}

// nullCapture satisfies the session when the mic is disabled: it starts
// cleanly and never produces a frame.
type nullCapture struct{}

func (nullCapture) Start(context.Context, func([]float32)) error { return nil }
func (nullCapture) SampleRate() int                              { return coach.CaptureSampleRate }
func (nullCapture) Close() error                                 { return nil }

// nullSpeaker consumes agent audio in simulated real time.
type nullSpeaker struct{}

func (nullSpeaker) Ready() bool { return true }

func (nullSpeaker) Play(samples []float32, sampleRate int, done func()) {
	duration := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	time.AfterFunc(duration, done)
}

func (nullSpeaker) Stop() {}
