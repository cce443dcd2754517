package compression

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/clipintake/ccc/logging"
)

// FFmpegMuxer encodes piped JPEG frames with libx264 into fragmented MP4, so the container
// can be written to the sink while encoding is still running.
type FFmpegMuxer struct {
	logger logging.Logger
}

func NewFFmpegMuxer(logger logging.Logger) *FFmpegMuxer {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &FFmpegMuxer{logger: logger}
}

// InputArgs are placed before the frame pipe input. The audio file comes first with its
// video disabled, so the only video stream is the piped canvas.
func InputArgs(opts MuxOptions) []string {
	var args []string
	if opts.AudioSource != "" {
		args = append(args, "-vn", "-i", opts.AudioSource)
	}
	return append(args, "-f", "image2pipe", "-framerate", strconv.Itoa(opts.FPS))
}

// Start implements Muxer
func (m *FFmpegMuxer) Start(ctx context.Context, opts MuxOptions, sink io.Writer) (MuxSession, error) {
	trans := new(transcoder.Transcoder)
	if err := trans.InitializeEmptyTranscoder(); err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	input, err := trans.CreateInputPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	output, err := trans.CreateOutputPipe("mp4")
	if err != nil {
		input.Close()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	trans.MediaFile().SetRawInputArgs(InputArgs(opts))
	trans.MediaFile().SetVideoCodec("libx264")
	trans.MediaFile().SetPreset("veryfast")
	trans.MediaFile().SetVideoBitRate(strconv.FormatInt(opts.Bitrate, 10))
	trans.MediaFile().SetFrameRate(opts.FPS)
	trans.MediaFile().SetKeyframeInterval(opts.FPS * 2)
	trans.MediaFile().SetVideoFilter(fmt.Sprintf("scale=%d:%d,format=yuv420p", opts.Width, opts.Height))
	trans.MediaFile().SetMovFlags("frag_keyframe+empty_moov+default_base_moof")
	if opts.AudioSource != "" {
		trans.MediaFile().SetAudioCodec("aac")
		trans.MediaFile().SetAudioBitRate("128k")
	} else {
		trans.MediaFile().SetSkipAudio(true)
	}

	m.logger.Debug("Starting software muxer", "width", opts.Width, "height", opts.Height,
		"fps", opts.FPS, "bitrate", opts.Bitrate, "audio", opts.AudioSource != "")

	session := &ffmpegSession{
		trans:    trans,
		input:    input,
		done:     trans.Run(false),
		copyDone: make(chan error, 1),
		stopped:  make(chan struct{}),
		logger:   m.logger,
	}

	go func() {
		_, err := io.Copy(sink, output)
		if err != nil {
			// unblock ffmpeg if the sink failed
			output.CloseWithError(err)
		}
		session.copyDone <- err
	}()

	go func() {
		select {
		case <-ctx.Done():
			if err := trans.Stop(); err != nil {
				m.logger.Warn("Failed to stop ffmpeg", "error", err)
			}
		case <-session.stopped:
		}
	}()

	return session, nil
}

type ffmpegSession struct {
	trans    *transcoder.Transcoder
	input    *io.PipeWriter
	done     <-chan error
	copyDone chan error
	stopped  chan struct{}
	logger   logging.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *ffmpegSession) WriteFrame(jpeg []byte) error {
	if _, err := s.input.Write(jpeg); err != nil {
		return fmt.Errorf("ffmpeg input closed: %w", err)
	}
	return nil
}

func (s *ffmpegSession) Close() error {
	s.closeOnce.Do(func() {
		s.input.Close()
		runErr := <-s.done
		copyErr := <-s.copyDone
		close(s.stopped)

		switch {
		case runErr != nil:
			s.closeErr = fmt.Errorf("ffmpeg encoding failed: %w", runErr)
		case copyErr != nil:
			s.closeErr = fmt.Errorf("failed to write encoded output: %w", copyErr)
		}
	})
	return s.closeErr
}
