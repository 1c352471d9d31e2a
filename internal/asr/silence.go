package asr

import (
	"math"
)

// SilenceConfig holds configuration for silence-based speech detection
type SilenceConfig struct {
	// SilenceThreshold is the RMS level below which audio is considered silence (0.0-1.0)
	// Lower values = more sensitive (default: 0.01)
	SilenceThreshold float64

	// MinSilenceDuration is the minimum silence duration to split blocks (seconds)
	MinSilenceDuration float64

	// MinSpeechDuration is the minimum speech duration to keep a block (seconds)
	MinSpeechDuration float64

	// MaxBlockDuration is the maximum block duration before forced split (seconds)
	MaxBlockDuration float64

	// FrameDuration is the window for one RMS value (seconds)
	FrameDuration float64
}

// DefaultSilenceConfig returns default configuration for silence detection
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		SilenceThreshold:   0.01, // RMS threshold (quite sensitive)
		MinSilenceDuration: 0.3,  // 300ms silence to split
		MinSpeechDuration:  0.1,  // 100ms minimum speech
		MaxBlockDuration:   20.0, // offline models degrade on long input
		FrameDuration:      0.03, // 30ms
	}
}

// SpeechBlock represents a detected speech segment
type SpeechBlock struct {
	StartTime float64 // Start time in seconds
	EndTime   float64 // End time in seconds
}

// samples returns the part of all covered by the block
func (b SpeechBlock) samples(all []float32, sampleRate int) []float32 {
	start := int(b.StartTime * float64(sampleRate))
	end := int(b.EndTime * float64(sampleRate))
	start = max(0, min(start, len(all)))
	end = max(start, min(end, len(all)))
	return all[start:end]
}

// detectSpeechBlocks finds speech using energy-based silence detection.
// It returns nil when the clip is silent throughout.
func detectSpeechBlocks(samples []float32, sampleRate int, config SilenceConfig) []SpeechBlock {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}

	frameSize := int(config.FrameDuration * float64(sampleRate))
	if frameSize <= 0 {
		frameSize = 1
	}

	// RMS value for each frame
	var frames []float64
	for start := 0; start < len(samples); start += frameSize {
		end := min(start+frameSize, len(samples))
		frames = append(frames, calculateRMS(samples[start:end]))
	}

	frameDuration := float64(frameSize) / float64(sampleRate)
	minSilenceFrames := max(1, int(config.MinSilenceDuration/frameDuration))
	minSpeechFrames := int(config.MinSpeechDuration / frameDuration)

	var blocks []SpeechBlock
	inSpeech := false
	speechStart := 0
	silenceCount := 0

	for i, rms := range frames {
		isSilent := rms < config.SilenceThreshold

		if !inSpeech {
			if !isSilent {
				// Start of speech
				inSpeech = true
				speechStart = i
				silenceCount = 0
			}
			continue
		}

		if !isSilent {
			silenceCount = 0
			continue
		}
		silenceCount++
		if silenceCount >= minSilenceFrames {
			// End of speech (silence gap detected)
			speechEnd := i - silenceCount + 1
			if speechEnd-speechStart >= minSpeechFrames {
				blocks = append(blocks, SpeechBlock{
					StartTime: float64(speechStart) * frameDuration,
					EndTime:   float64(speechEnd) * frameDuration,
				})
			}
			inSpeech = false
			silenceCount = 0
		}
	}

	// Handle speech at end of audio
	if inSpeech && len(frames)-speechStart >= minSpeechFrames {
		blocks = append(blocks, SpeechBlock{
			StartTime: float64(speechStart) * frameDuration,
			EndTime:   float64(len(frames)) * frameDuration,
		})
	}

	// If first detected block starts late, extend it to start from 0
	// so quiet speech at the beginning is not lost
	if len(blocks) > 0 && blocks[0].StartTime > 0.5 {
		blocks[0].StartTime = 0
	}

	return splitLongBlocks(blocks, config.MaxBlockDuration)
}

// splitLongBlocks splits blocks longer than maxDuration into smaller chunks
func splitLongBlocks(blocks []SpeechBlock, maxDuration float64) []SpeechBlock {
	if maxDuration <= 0 {
		return blocks
	}

	var result []SpeechBlock
	for _, block := range blocks {
		if block.EndTime-block.StartTime <= maxDuration {
			result = append(result, block)
			continue
		}

		// Split into chunks of maxDuration
		for start := block.StartTime; start < block.EndTime; start += maxDuration {
			result = append(result, SpeechBlock{
				StartTime: start,
				EndTime:   math.Min(start+maxDuration, block.EndTime),
			})
		}
	}
	return result
}

// calculateRMS calculates the root mean square of samples
func calculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
