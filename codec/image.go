// Package codec 负责上传图片的解码以及掩码的PNG/Base64编码
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/TIANLI0/SegKit/model"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage 无法解析的图片数据
var ErrInvalidImage = errors.New("invalid image data")

// DefaultMaxPixels 解码前允许的最大像素数
const DefaultMaxPixels = 40_000_000

// DecodeImage 解码任意支持的图片格式并统一为RGB
func DecodeImage(data []byte) (model.Raster, error) {
	return DecodeImageLimit(data, DefaultMaxPixels)
}

// DecodeImageLimit 先读取图片头，像素数超过 maxPixels 时不解码像素数据
func DecodeImageLimit(data []byte, maxPixels int) (model.Raster, error) {
	if len(data) == 0 {
		return model.Raster{}, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return model.Raster{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return model.Raster{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return model.Raster{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return model.Raster{}, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}

	return RasterFromImage(img), nil
}

// RasterFromImage 将image.Image转换为RGB缓冲，alpha通道被丢弃
func RasterFromImage(img image.Image) model.Raster {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	r := model.NewRaster(w, h)

	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := r.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return r
}

// RasterToImage 转换为不透明的NRGBA图像
func RasterToImage(r model.Raster) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		img.Pix[j] = r.Pix[i]
		img.Pix[j+1] = r.Pix[i+1]
		img.Pix[j+2] = r.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodeImagePNG 将RGB缓冲编码为PNG
func EncodeImagePNG(r model.Raster) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, RasterToImage(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
