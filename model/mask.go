package model

// Raster 解码后的RGB像素缓冲，Height x Width x 3，解码后只读
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRaster 创建全黑的RGB缓冲
func NewRaster(width, height int) Raster {
	return Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// At 返回(x, y)处的RGB值
func (r Raster) At(x, y int) (uint8, uint8, uint8) {
	i := (y*r.Width + x) * 3
	return r.Pix[i], r.Pix[i+1], r.Pix[i+2]
}

// Shape 返回 [height, width]
func (r Raster) Shape() [2]int {
	return [2]int{r.Height, r.Width}
}

// Mask 二值掩码，按行存储
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) Mask {
	return Mask{
		Width:  width,
		Height: height,
		Bits:   make([]bool, width*height),
	}
}

func (m Mask) Get(x, y int) bool {
	return m.Bits[y*m.Width+x]
}

func (m Mask) Set(x, y int, v bool) {
	m.Bits[y*m.Width+x] = v
}

// Area 返回为true的像素数量
func (m Mask) Area() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// SameSize 判断两个尺寸是否一致
func (m Mask) SameSize(width, height int) bool {
	return m.Width == width && m.Height == height && len(m.Bits) == width*height
}

// FillRect 将[x1,x2) x [y1,y2)区域置为true，越界部分被裁剪
func (m Mask) FillRect(x1, y1, x2, y2 int) {
	x1, x2 = clamp(x1, 0, m.Width), clamp(x2, 0, m.Width)
	y1, y2 = clamp(y1, 0, m.Height), clamp(y2, 0, m.Height)
	for y := y1; y < y2; y++ {
		row := m.Bits[y*m.Width : (y+1)*m.Width]
		for x := x1; x < x2; x++ {
			row[x] = true
		}
	}
}

// IoU 计算两个掩码的交并比，并集为空时返回0
func IoU(a, b Mask) float64 {
	if len(a.Bits) != len(b.Bits) {
		return 0
	}
	inter, union := 0, 0
	for i := range a.Bits {
		if a.Bits[i] && b.Bits[i] {
			inter++
		}
		if a.Bits[i] || b.Bits[i] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// MaskCandidate 模型输出的候选掩码
type MaskCandidate struct {
	Mask  Mask
	Score float64
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
