package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	// 注册常见图片格式的解码器
	_ "image/gif"
	_ "image/jpeg"

	"github.com/sirupsen/logrus"
)

// ocrFailedPlaceholder 单页OCR失败时写入页面内容的占位文本
const ocrFailedPlaceholder = "[OCR failed for this page]"

// OCREngine 调用本地tesseract二进制的OCR引擎
// 二进制缺失时引擎标记为不可用，调用方跳过OCR分支
type OCREngine struct {
	binPath string        // tesseract可执行文件路径
	timeout time.Duration // 单张图片识别超时
	logger  *logrus.Logger
}

// OCROption OCR引擎配置选项
type OCROption func(*OCREngine)

// WithOCRBinary 指定tesseract二进制路径
func WithOCRBinary(path string) OCROption {
	return func(e *OCREngine) {
		e.binPath = path
	}
}

// WithOCRTimeout 设置单张图片的识别超时
func WithOCRTimeout(timeout time.Duration) OCROption {
	return func(e *OCREngine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithOCRLogger 设置日志记录器
func WithOCRLogger(logger *logrus.Logger) OCROption {
	return func(e *OCREngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewOCREngine 创建OCR引擎，自动在PATH中查找tesseract
func NewOCREngine(opts ...OCROption) *OCREngine {
	engine := &OCREngine{
		timeout: 30 * time.Second,
		logger:  logrus.New(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.binPath == "" {
		if path, err := exec.LookPath("tesseract"); err == nil {
			engine.binPath = path
		}
	}

	return engine
}

// Available 判断OCR引擎是否可用
func (e *OCREngine) Available() bool {
	return e != nil && e.binPath != ""
}

// RecognizeImage 对单张图片执行OCR，返回识别出的文本
// 图片先经过灰度化和二值化预处理，再交给tesseract识别
func (e *OCREngine) RecognizeImage(ctx context.Context, imageData []byte) (string, error) {
	if !e.Available() {
		return "", fmt.Errorf("ocr engine not available: tesseract binary not found")
	}

	// 预处理图片，失败时退回原图
	processed, err := preprocessImage(imageData)
	if err != nil {
		e.logger.WithError(err).Debug("Image preprocessing failed, using original image")
		processed = imageData
	}

	// tesseract从文件读取输入
	tmpFile, err := os.CreateTemp("", "ocr_input_*.png")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image file: %v", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(processed); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write temp image file: %v", err)
	}
	tmpFile.Close()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// stdout输出模式，自动页面分割
	cmd := exec.CommandContext(ctx, e.binPath, tmpPath, "stdout", "--oem", "3", "--psm", "3")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}

// RecognizeImageFile 对图片文件执行OCR
func (e *OCREngine) RecognizeImageFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image file %s: %v", filepath.Base(path), err)
	}
	return e.RecognizeImage(ctx, data)
}

// preprocessImage 图片预处理：灰度化后用Otsu阈值二值化
// 黑字白底的二值图能明显提高tesseract的识别率
func preprocessImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}

	gray := toGrayscale(img)
	threshold := otsuThreshold(gray)
	binarized := binarize(gray, threshold)

	var buf bytes.Buffer
	if err := png.Encode(&buf, binarized); err != nil {
		return nil, fmt.Errorf("failed to encode processed image: %v", err)
	}
	return buf.Bytes(), nil
}

// toGrayscale 将图片转换为灰度图
func toGrayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// otsuThreshold 计算Otsu全局二值化阈值
// 在前景和背景两类之间最大化类间方差
func otsuThreshold(gray *image.Gray) uint8 {
	var histogram [256]int
	bounds := gray.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 128
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			histogram[gray.GrayAt(x, y).Y]++
		}
	}

	var sum float64
	for i, count := range histogram {
		sum += float64(i) * float64(count)
	}

	var sumBackground, weightBackground float64
	var maxVariance float64
	var threshold uint8

	for i := 0; i < 256; i++ {
		weightBackground += float64(histogram[i])
		if weightBackground == 0 {
			continue
		}
		weightForeground := float64(total) - weightBackground
		if weightForeground == 0 {
			break
		}

		sumBackground += float64(i) * float64(histogram[i])
		meanBackground := sumBackground / weightBackground
		meanForeground := (sum - sumBackground) / weightForeground

		diff := meanBackground - meanForeground
		variance := weightBackground * weightForeground * diff * diff
		if variance > maxVariance {
			maxVariance = variance
			threshold = uint8(i)
		}
	}

	return threshold
}

// binarize 按阈值将灰度图二值化为黑白图
func binarize(gray *image.Gray, threshold uint8) *image.Gray {
	bounds := gray.Bounds()
	result := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if gray.GrayAt(x, y).Y > threshold {
				result.SetGray(x, y, color.Gray{Y: 255})
			} else {
				result.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return result
}
