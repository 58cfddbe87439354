package video

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrSourceUnavailable is returned when the video cannot be opened. It is
// fatal: the pipeline fails fast and no stages start.
var ErrSourceUnavailable = errors.New("video source unavailable")

// maxBufferedBytes caps the reassembly buffer. A stream that produces this
// much data without a complete frame is not MJPEG and is treated as an error
// rather than growing without bound.
const maxBufferedBytes = 32 << 20

// maxZeroReads bounds consecutive empty reads from the decoder pipe before
// the stream is declared stalled.
const maxZeroReads = 64

// Frame is one decoded video frame as JPEG bytes plus its position in the
// original stream. Indexes are 1-based and strictly increasing.
type Frame struct {
	Data  []byte
	Index int
}

// Source produces a finite, non-restartable sequence of frames.
type Source interface {
	// TotalFrames returns the frame count of the stream, or 0 if unknown.
	TotalFrames() int

	// Read returns the next frame. io.EOF signals end of stream.
	Read() (Frame, error)

	// Close releases the underlying decoder.
	Close() error
}

// FFmpegSource reads frames from a video file by piping it through ffmpeg as
// an MJPEG stream.
type FFmpegSource struct {
	path        string
	totalFrames int
	cmd         *exec.Cmd
	stdout      io.ReadCloser
	buffer      []byte
	chunk       []byte
	frameIndex  int
	closed      bool
}

// Open probes and starts decoding a video file. A file that cannot be probed
// yields ErrSourceUnavailable.
func Open(path string) (*FFmpegSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, path)
	}

	total, err := probeFrameCount(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSourceUnavailable, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSourceUnavailable, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", ErrSourceUnavailable, err)
	}

	// Consume stderr silently so ffmpeg never blocks on a full pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
		}
	}()

	log.Printf("[FrameSource] Opened %s (%d frames)", path, total)

	return &FFmpegSource{
		path:        path,
		totalFrames: total,
		cmd:         cmd,
		stdout:      stdout,
		buffer:      make([]byte, 0, 1024*1024),
		chunk:       make([]byte, 64*1024),
	}, nil
}

// probeFrameCount asks ffprobe for the stream frame count. Returns 0 with no
// error when the container does not record it.
func probeFrameCount(path string) (int, error) {
	out, err := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// TotalFrames returns the probed frame count.
func (s *FFmpegSource) TotalFrames() int {
	return s.totalFrames
}

// Read returns the next frame, blocking until one is decoded or the stream
// ends.
func (s *FFmpegSource) Read() (Frame, error) {
	zeroReads := 0
	for {
		if frame := extractJPEGFrame(&s.buffer); frame != nil {
			s.frameIndex++
			return Frame{Data: frame, Index: s.frameIndex}, nil
		}
		if len(s.buffer) > maxBufferedBytes {
			return Frame{}, fmt.Errorf("no frame boundary in %d buffered bytes", len(s.buffer))
		}

		n, err := s.stdout.Read(s.chunk)
		if n > 0 {
			zeroReads = 0
			s.buffer = append(s.buffer, s.chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			if s.closed {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("reading frames: %w", err)
		}

		// A Reader may return 0, nil; repeated ones mean the decoder has
		// stalled and looping on them would spin.
		zeroReads++
		if zeroReads >= maxZeroReads {
			return Frame{}, fmt.Errorf("decoder stalled after %d empty reads", zeroReads)
		}
	}
}

// Close terminates the decoder process.
func (s *FFmpegSource) Close() error {
	s.closed = true
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
	}
	return nil
}

// extractJPEGFrame extracts one complete JPEG (FFD8..FFD9) from the buffer,
// consuming it.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// Nothing before a start marker is ever useful. Keep only the last
		// byte in case it is the first half of a split marker.
		if len(*buffer) > 1 {
			(*buffer)[0] = (*buffer)[len(*buffer)-1]
			*buffer = (*buffer)[:1]
		}
		return nil
	}

	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}

// Ensure FFmpegSource implements Source
var _ Source = (*FFmpegSource)(nil)
