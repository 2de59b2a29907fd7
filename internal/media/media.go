// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package media extracts keyframe thumbnails and audio tracks from
// uploaded media using ffmpeg and ffprobe subprocesses.
//
// All extraction work happens through temp files: inputs are written to
// the OS temp directory, the tool runs under a context timeout, and the
// output bytes are read back and returned. Callers own uploading the
// results to the object store.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
)

// Extractor runs ffmpeg and ffprobe for keyframe and audio extraction.
type Extractor struct {
	cfg *config.MediaConfig
}

// NewExtractor creates an Extractor with the given tool configuration.
func NewExtractor(cfg *config.MediaConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// ProbeDuration returns the media duration in seconds via ffprobe.
// Returns 0 when the duration cannot be determined; callers fall back
// to a conservative seek point.
func (x *Extractor) ProbeDuration(ctx context.Context, path string) float64 {
	out, err := exec.CommandContext(ctx, x.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("ffprobe duration failed")
		return 0
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0
	}
	return dur
}

// KeyframeSeek picks the seek offset for thumbnail extraction: 10% into
// the clip, capped at one second so short clips still land on content
// rather than a fade-in frame.
func KeyframeSeek(durationSeconds float64) float64 {
	seek := durationSeconds * 0.1
	if seek > 1.0 {
		seek = 1.0
	}
	if seek < 0 {
		seek = 0
	}
	return seek
}

// KeyframeArgs builds the ffmpeg argument list for extracting a single
// scaled JPEG frame. Width is applied with proportional height; quality
// maps the 1-100 scale onto ffmpeg's inverted 1-11 q:v range.
func KeyframeArgs(input, output string, seekSeconds float64, width, quality int) []string {
	qv := (100-quality)/10 + 1
	return []string{
		"-y",
		"-ss", strconv.FormatFloat(seekSeconds, 'f', 2, 64),
		"-i", input,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", width),
		"-q:v", strconv.Itoa(qv),
		output,
	}
}

// AudioArgs builds the ffmpeg argument list for extracting a mono
// 16 kHz MP3 track sized for speech-to-text upload limits.
func AudioArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-vn",
		"-acodec", "libmp3lame",
		"-ar", "16000",
		"-ac", "1",
		"-b:a", "64k",
		output,
	}
}

// ExtractKeyframe extracts one thumbnail frame from video data and
// returns the JPEG bytes.
func (x *Extractor) ExtractKeyframe(ctx context.Context, data []byte, ext string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.KeyframeTimeout)
	defer cancel()

	input, cleanup, err := writeTemp(data, ext)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output := filepath.Join(os.TempDir(), "keyframe-"+uuid.NewString()+".jpg")
	defer removeQuietly(output)

	seek := KeyframeSeek(x.ProbeDuration(ctx, input))
	args := KeyframeArgs(input, output, seek, x.cfg.ThumbnailWidth, x.cfg.ThumbnailQuality)

	if err := runFFmpeg(ctx, x.cfg.FFmpegPath, args); err != nil {
		return nil, fmt.Errorf("keyframe extraction failed: %w", err)
	}

	frame, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted keyframe: %w", err)
	}

	logging.Debug().Int("bytes", len(frame)).Float64("seek", seek).Msg("Extracted keyframe")
	return frame, nil
}

// ExtractAudio extracts the audio track from video data and returns the
// MP3 bytes. Videos without an audio stream produce an error; callers
// treat that as "nothing to transcribe".
func (x *Extractor) ExtractAudio(ctx context.Context, data []byte, ext string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, x.cfg.AudioTimeout)
	defer cancel()

	input, cleanup, err := writeTemp(data, ext)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	output := filepath.Join(os.TempDir(), "audio-"+uuid.NewString()+".mp3")
	defer removeQuietly(output)

	if err := runFFmpeg(ctx, x.cfg.FFmpegPath, AudioArgs(input, output)); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}

	audio, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted audio: %w", err)
	}

	logging.Debug().Int("bytes", len(audio)).Msg("Extracted audio track")
	return audio, nil
}

// runFFmpeg executes ffmpeg and surfaces stderr in the error since
// ffmpeg reports diagnostics there.
func runFFmpeg(ctx context.Context, path string, args []string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

// writeTemp writes data to a temp file with the given extension and
// returns its path plus a cleanup func.
func writeTemp(data []byte, ext string) (string, func(), error) {
	path := filepath.Join(os.TempDir(), "media-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", nil, fmt.Errorf("failed to write temp media file: %w", err)
	}
	return path, func() { removeQuietly(path) }, nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
