//go:build gocv

package predictor

import (
	"fmt"
	"image"

	"github.com/TIANLI0/SegKit/model"
	"gocv.io/x/gocv"
)

// GrabCut 掩码取值
const (
	gcBGD   = 0
	gcFGD   = 1
	gcPRBGD = 2
	gcPRFGD = 3
)

// rasterToMat RGB缓冲转为BGR Mat
func rasterToMat(img model.Raster) (gocv.Mat, error) {
	bgr := make([]byte, len(img.Pix))
	for i := 0; i < len(img.Pix); i += 3 {
		bgr[i] = img.Pix[i+2]
		bgr[i+1] = img.Pix[i+1]
		bgr[i+2] = img.Pix[i]
	}
	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC3, bgr)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("raster to mat: %w", err)
	}
	return mat, nil
}

// matToMask 非零像素视为前景
func matToMask(m *gocv.Mat) model.Mask {
	out := model.NewMask(m.Cols(), m.Rows())
	data := m.ToBytes()
	for i := range out.Bits {
		out.Bits[i] = data[i] > 0
	}
	return out
}

// smartResize 按最长边缩放，返回缩放后的图像和比例
func smartResize(img *gocv.Mat, maxSize int) (gocv.Mat, float64) {
	width := img.Cols()
	height := img.Rows()
	maxDim := max(width, height)
	if maxSize <= 0 || maxDim <= maxSize {
		return img.Clone(), 1.0
	}

	scale := float64(maxSize) / float64(maxDim)
	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, image.Point{X: int(float64(width) * scale), Y: int(float64(height) * scale)}, 0, 0, gocv.InterpolationArea)
	return resized, scale
}

// restoreSize 将二值掩码还原到原图尺寸
func restoreSize(mask *gocv.Mat, width, height int) gocv.Mat {
	if mask.Cols() == width && mask.Rows() == height {
		return mask.Clone()
	}
	resized := gocv.NewMat()
	gocv.Resize(*mask, &resized, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
	gocv.Threshold(resized, &resized, 127, 255, gocv.ThresholdBinary)
	return resized
}

// extractForeground 取GrabCut结果中的确定前景与可能前景
func extractForeground(mask *gocv.Mat) gocv.Mat {
	fg := gocv.NewMat()
	defer fg.Close()
	sure := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcFGD}, gocv.MatTypeCV8U)
	defer sure.Close()
	gocv.Compare(*mask, sure, &fg, gocv.CompareEQ)

	prFg := gocv.NewMat()
	defer prFg.Close()
	probable := gocv.NewMatFromScalar(gocv.Scalar{Val1: gcPRFGD}, gocv.MatTypeCV8U)
	defer probable.Close()
	gocv.Compare(*mask, probable, &prFg, gocv.CompareEQ)

	combined := gocv.NewMat()
	gocv.BitwiseOr(fg, prFg, &combined)
	return combined
}

// morphologyOptimize 开运算去噪点，闭运算补孔洞
func morphologyOptimize(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	return closed
}

// saliencyMap 基于梯度的显著性二值图
func saliencyMap(img *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	gradY := gocv.NewMat()
	defer gradX.Close()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absGradX := gocv.NewMat()
	absGradY := gocv.NewMat()
	defer absGradX.Close()
	defer absGradY.Close()
	gocv.ConvertScaleAbs(gradX, &absGradX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absGradY, 1, 0)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.AddWeighted(absGradX, 0.5, absGradY, 0.5, 0, &gradient)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gradient, &blurred, image.Point{X: 21, Y: 21}, 0, 0, gocv.BorderDefault)

	saliency := gocv.NewMat()
	gocv.Threshold(blurred, &saliency, 0, 255, gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 11, Y: 11})
	defer kernel.Close()
	gocv.Dilate(saliency, &saliency, kernel)

	return saliency
}

// edgeDensity 边缘像素占比，用于决定迭代次数
func edgeDensity(img *gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	return float64(gocv.CountNonZero(edges)) / float64(img.Rows()*img.Cols())
}

// iterationsFor 简单场景少迭代，复杂场景多迭代
func iterationsFor(img *gocv.Mat, base int) int {
	density := edgeDensity(img)
	switch {
	case density < 0.05:
		return max(3, base-2)
	case density > 0.15:
		return base + 2
	default:
		return base
	}
}

// clampRect 将矩形裁剪到图像范围内
func clampRect(r image.Rectangle, width, height int) image.Rectangle {
	return r.Intersect(image.Rect(0, 0, width, height))
}

// coverage 前景像素占窗口比例，限制在[0.05, 0.95]
func coverage(mask *gocv.Mat, window image.Rectangle) float64 {
	area := window.Dx() * window.Dy()
	if area == 0 {
		return 0.05
	}
	region := mask.Region(window)
	defer region.Close()

	c := float64(gocv.CountNonZero(region)) / float64(area)
	if c < 0.05 {
		c = 0.05
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}
