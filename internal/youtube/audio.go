package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	ytdl "github.com/kkdai/youtube/v2"
)

// ErrTooLarge は音声が上限サイズを超えた場合のエラー
var ErrTooLarge = errors.New("audio stream exceeds size limit")

// ErrNoAudio は利用できる音声フォーマットがない場合のエラー
var ErrNoAudio = errors.New("no supported audio format available")

// AudioFormat は音声フォーマット情報
type AudioFormat struct {
	ItagNo        int
	MimeType      string // "audio/mp4", "audio/webm"
	Bitrate       int    // ビットレート (bps)
	ContentLength int64  // ファイルサイズ (bytes)
	Language      string // 言語コード (例: "ja", "en")
	LanguageName  string // 言語表示名 (例: "日本語", "English")
	IsDefault     bool   // デフォルト音声トラックかどうか
}

// Extension はMIMEタイプから拡張子を返す
func (f *AudioFormat) Extension() string {
	if strings.Contains(f.MimeType, "mp4") {
		return ".m4a"
	}
	if strings.Contains(f.MimeType, "webm") {
		return ".webm"
	}
	return ".audio"
}

// ContentType はパラメータを除いたMIMEタイプを返す
func (f *AudioFormat) ContentType() string {
	ct, _, _ := strings.Cut(f.MimeType, ";")
	return strings.TrimSpace(ct)
}

// Download はダウンロードした音声
type Download struct {
	Video       *VideoInfo
	Data        []byte
	Filename    string
	ContentType string
	Format      AudioFormat
}

// audioFormats は音声のみのフォーマットをビットレート降順で返す
func audioFormats(video *ytdl.Video) []AudioFormat {
	var formats []AudioFormat
	for _, f := range video.Formats {
		if !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}

		af := AudioFormat{
			ItagNo:        f.ItagNo,
			MimeType:      f.MimeType,
			Bitrate:       f.Bitrate,
			ContentLength: f.ContentLength,
		}
		// 音声トラック情報があれば追加
		if f.AudioTrack != nil {
			af.LanguageName = f.AudioTrack.DisplayName
			af.Language = f.AudioTrack.ID
			af.IsDefault = f.AudioTrack.AudioIsDefault
		}
		formats = append(formats, af)
	}

	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].Bitrate > formats[j].Bitrate
	})
	return formats
}

// selectAudioFormat は AAC (audio/mp4) の中から言語に合うものを選ぶ。
// webm (Opus) はパイプラインで扱えないため対象外。
// 言語が見つからない場合はデフォルトトラック、それもなければ最高ビットレート。
func selectAudioFormat(formats []AudioFormat, language string) (*AudioFormat, error) {
	var mp4 []AudioFormat
	for _, f := range formats {
		if strings.Contains(f.MimeType, "mp4") {
			mp4 = append(mp4, f)
		}
	}
	if len(mp4) == 0 {
		return nil, ErrNoAudio
	}

	if language != "" {
		lang := strings.ToLower(language)
		for i, f := range mp4 {
			// 言語IDの先頭が一致するか確認（例: "ja" -> "ja.4" にマッチ）
			if strings.HasPrefix(strings.ToLower(f.Language), lang) {
				return &mp4[i], nil
			}
		}
	}
	for i, f := range mp4 {
		if f.IsDefault {
			return &mp4[i], nil
		}
	}
	return &mp4[0], nil
}

// FetchAudio は動画の音声トラックを最大 maxBytes までメモリに読み込む
func (c *Client) FetchAudio(ctx context.Context, videoURL, language string, maxBytes int64) (*Download, error) {
	video, err := c.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	selected, err := selectAudioFormat(audioFormats(video), language)
	if err != nil {
		return nil, err
	}
	if maxBytes > 0 && selected.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, selected.ContentLength)
	}

	// 対応するyoutubeライブラリのFormatを見つける（ItagNo + 言語で一致）
	var target *ytdl.Format
	for i := range video.Formats {
		f := &video.Formats[i]
		if f.ItagNo != selected.ItagNo {
			continue
		}
		if selected.Language != "" && (f.AudioTrack == nil || f.AudioTrack.ID != selected.Language) {
			continue
		}
		target = f
		break
	}
	if target == nil {
		return nil, fmt.Errorf("format not found: itag=%d lang=%s", selected.ItagNo, selected.Language)
	}

	stream, _, err := c.client.GetStreamContext(ctx, video, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	defer stream.Close()

	data, err := readLimited(stream, maxBytes)
	if err != nil {
		return nil, err
	}

	return &Download{
		Video:       videoInfo(video),
		Data:        data,
		Filename:    sanitizeFilename(video.ID) + selected.Extension(),
		ContentType: selected.ContentType(),
		Format:      *selected,
	}, nil
}

// readLimited は上限を超えたら ErrTooLarge を返す（0 以下なら無制限）
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to download: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// sanitizeFilename はファイル名として使えない文字を置換
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
