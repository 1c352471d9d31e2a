package pipeline

import (
	"context"
	"errors"
	"strings"

	"voxlate/internal/audio"
	"voxlate/internal/filestore"
	"voxlate/internal/models"
	"voxlate/internal/providers"
)

// artifact names under a job's directory
const (
	preparedName    = "prepared.wav"
	transcriptName  = "transcript.txt"
	translationName = "translation.txt"
	outputBase      = "output"
)

// validate re-probes the stored original so a missing or corrupted upload
// fails before any provider is called.
func (o *Orchestrator) validate(ctx context.Context, job *models.TranslationJob) error {
	data, err := o.files.Load(ctx, job.OriginalAudioPath)
	if err != nil {
		return stepError("validate", "original audio is unavailable", err)
	}
	meta, err := o.prober.Probe(ctx, data, job.OriginalFilename)
	if err != nil {
		return stepError("validate", "original audio is not playable", err)
	}

	o.logger.Debug("original audio probed", "job_id", job.ID,
		"duration", meta.Duration, "sample_rate", meta.SampleRate, "channels", meta.Channels)
	return nil
}

// prepare converts the original to mono 16 kHz WAV for transcription.
func (o *Orchestrator) prepare(ctx context.Context, job *models.TranslationJob) error {
	if err := o.transition(ctx, job, models.StatusProcessingSpeechToText, models.ProgressPreparing, "preparing audio"); err != nil {
		return err
	}

	data, err := o.files.Load(ctx, job.OriginalAudioPath)
	if err != nil {
		return stepError("prepare", "original audio is unavailable", err)
	}
	prepared, err := o.converter.Convert(ctx, data, audio.ConvertRequest{
		From:       job.InputFormat,
		To:         audio.FormatWav,
		SampleRate: TranscriptionSampleRate,
		Channels:   1,
		Normalize:  true,
	})
	if err != nil {
		return stepError("prepare", "audio conversion failed", err)
	}

	path := filestore.JobPath(job.ID, preparedName)
	if err := o.files.Save(ctx, path, prepared); err != nil {
		return stepError("prepare", "failed to store prepared audio", err)
	}
	job.TranslatedAudioPath = path
	return o.save(ctx, job, job.Status)
}

func (o *Orchestrator) transcribe(ctx context.Context, job *models.TranslationJob) error {
	if err := o.transition(ctx, job, models.StatusProcessingSpeechToText, models.ProgressTranscribing, "transcribing"); err != nil {
		return err
	}

	path, format := job.TranslatedAudioPath, audio.FormatWav
	if path == "" {
		path, format = job.OriginalAudioPath, job.InputFormat
	}
	data, err := o.files.Load(ctx, path)
	if err != nil {
		return stepError("transcribe", "audio is unavailable", err)
	}

	pctx, cancel := o.providerContext(ctx)
	res, err := o.transcriber.Transcribe(pctx, data, format, job.SourceLanguage)
	cancel()
	if errors.Is(err, providers.ErrEmptyResult) {
		return stepError("transcribe", "no speech detected in audio", ErrNoSpeech)
	}
	if err != nil {
		return stepError("transcribe", "transcription failed", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return stepError("transcribe", "no speech detected in audio", ErrNoSpeech)
	}

	path = filestore.JobPath(job.ID, transcriptName)
	if err := o.files.Save(ctx, path, []byte(text)); err != nil {
		return stepError("transcribe", "failed to store transcript", err)
	}
	job.TranscriptPath = path
	o.logger.Info("transcribed", "job_id", job.ID, "chars", len(text), "confidence", res.Confidence)
	return o.save(ctx, job, job.Status)
}

func (o *Orchestrator) translate(ctx context.Context, job *models.TranslationJob) error {
	if err := o.transition(ctx, job, models.StatusProcessingTranslation, models.ProgressTranslating, "translating"); err != nil {
		return err
	}

	transcript, err := o.files.Load(ctx, job.TranscriptPath)
	if err != nil {
		return stepError("translate", "transcript is unavailable", err)
	}

	pctx, cancel := o.providerContext(ctx)
	res, err := o.translator.Translate(pctx, string(transcript), job.SourceLanguage, job.TargetLanguage)
	cancel()
	if err != nil {
		return stepError("translate", "translation failed", err)
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return stepError("translate", "translation was empty", providers.ErrEmptyResult)
	}

	path := filestore.JobPath(job.ID, translationName)
	if err := o.files.Save(ctx, path, []byte(text)); err != nil {
		return stepError("translate", "failed to store translation", err)
	}
	job.TranslatedTextPath = path
	o.logger.Info("translated", "job_id", job.ID, "chars", len(text), "confidence", res.Confidence)
	return o.save(ctx, job, job.Status)
}

func (o *Orchestrator) synthesize(ctx context.Context, job *models.TranslationJob) error {
	if err := o.transition(ctx, job, models.StatusProcessingTextToSpeech, models.ProgressSynthesizing, "synthesizing speech"); err != nil {
		return err
	}

	text, err := o.files.Load(ctx, job.TranslatedTextPath)
	if err != nil {
		return stepError("synthesize", "translation is unavailable", err)
	}

	pctx, cancel := o.providerContext(ctx)
	speech, err := o.synthesizer.Synthesize(pctx, string(text), job.TargetLanguage, job.Quality)
	cancel()
	if err != nil {
		return stepError("synthesize", "speech synthesis failed", err)
	}
	if len(speech.Audio) == 0 {
		return stepError("synthesize", "speech synthesis returned no audio", providers.ErrEmptyResult)
	}

	format := speech.Format
	if format == "" {
		format = audio.Detect("", speech.Audio, "")
	}
	data := speech.Audio
	if format != o.cfg.OutputFormat {
		data, err = o.converter.Convert(ctx, data, audio.ConvertRequest{From: format, To: o.cfg.OutputFormat})
		if err != nil {
			return stepError("synthesize", "failed to convert synthesized audio", err)
		}
		format = o.cfg.OutputFormat
	}

	prepared := job.TranslatedAudioPath
	path := filestore.JobPath(job.ID, outputBase+format.Extension())
	if err := o.files.Save(ctx, path, data); err != nil {
		return stepError("synthesize", "failed to store synthesized audio", err)
	}
	job.TranslatedAudioPath = path
	job.OutputFormat = format
	job.OutputFileSize = int64(len(data))
	if err := o.save(ctx, job, job.Status); err != nil {
		return err
	}

	// the prepared artifact is no longer referenced by the job
	if prepared != "" && prepared != path {
		if err := o.files.Delete(ctx, prepared); err != nil {
			o.logger.Warn("failed to delete prepared audio", "job_id", job.ID, "path", prepared, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, job *models.TranslationJob) error {
	if err := o.transition(ctx, job, models.StatusCompleted, models.ProgressCompleted, "completed"); err != nil {
		return err
	}
	o.logger.Info("job completed", "job_id", job.ID,
		"processing_duration", job.ProcessingDuration, "output_size", job.OutputFileSize)
	return nil
}
