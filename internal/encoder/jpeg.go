package encoder

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"livecam/internal/camera"
)

// DefaultQuality はJPEG品質のデフォルト値
const DefaultQuality = 80

// ErrMalformedFrame はフレームの寸法と画素データが一致しない
var ErrMalformedFrame = errors.New("encoder: malformed frame")

// EncodeError は1フレームのエンコード失敗
type EncodeError struct {
	Seq uint64
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("フレーム %d のエンコードに失敗: %v", e.Seq, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// JPEG はRGB24フレームをJPEGに変換する
type JPEG struct {
	quality int
}

// New は新しいJPEGエンコーダーを作成する。範囲外の品質はデフォルト値になる
func New(quality int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEG{quality: quality}
}

// Quality はJPEG品質を返す
func (e *JPEG) Quality() int {
	return e.quality
}

// Encode はフレームをJPEGデータに変換する
func (e *JPEG) Encode(frame *camera.Frame) ([]byte, error) {
	if frame == nil {
		return nil, &EncodeError{Err: fmt.Errorf("%w: nil frame", ErrMalformedFrame)}
	}
	if err := validate(frame); err != nil {
		return nil, &EncodeError{Seq: frame.Seq, Err: err}
	}

	img := toNRGBA(frame)

	var buf bytes.Buffer
	buf.Grow(len(frame.Pix) / 8)
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, &EncodeError{Seq: frame.Seq, Err: err}
	}

	return buf.Bytes(), nil
}

func validate(frame *camera.Frame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return fmt.Errorf("%w: 無効な解像度 %dx%d", ErrMalformedFrame, frame.Width, frame.Height)
	}
	if want := frame.Width * frame.Height * 3; len(frame.Pix) != want {
		return fmt.Errorf("%w: 画素データ %d バイト (期待値 %d)", ErrMalformedFrame, len(frame.Pix), want)
	}
	return nil
}

// toNRGBA はRGB24の画素列を不透明なNRGBA画像に詰め替える
func toNRGBA(frame *camera.Frame) *image.NRGBA {
	img := imaging.New(frame.Width, frame.Height, color.NRGBA{A: 0xFF})
	src := frame.Pix
	dst := img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j] = src[i]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+2]
	}
	return img
}
