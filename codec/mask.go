package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/TIANLI0/SegKit/model"
)

// MaskToGray true映射为255，false映射为0
func MaskToGray(m model.Mask) (*image.Gray, error) {
	if len(m.Bits) != m.Width*m.Height || m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("mask shape %dx%d does not match %d pixels", m.Width, m.Height, len(m.Bits))
	}

	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, b := range m.Bits {
		if b {
			gray.Pix[i] = 0xff
		}
	}
	return gray, nil
}

// MaskFromGray 灰度大于127视为前景
func MaskFromGray(img image.Image) model.Mask {
	b := img.Bounds()
	m := model.NewMask(b.Dx(), b.Dy())

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < m.Height; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+m.Width]
			for x, v := range row {
				m.Bits[y*m.Width+x] = v > 127
			}
		}
		return m
	}

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			m.Bits[y*m.Width+x] = r>>8 > 127
		}
	}
	return m
}

// EncodeMask 将掩码编码为Base64字符串（无损PNG）
func EncodeMask(m model.Mask) (string, error) {
	gray, err := MaskToGray(m)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, gray); err != nil {
		return "", fmt.Errorf("encode mask png: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeMask EncodeMask的逆过程
func DecodeMask(s string) (model.Mask, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return model.Mask{}, fmt.Errorf("decode mask base64: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return model.Mask{}, fmt.Errorf("decode mask png: %w", err)
	}

	return MaskFromGray(img), nil
}
