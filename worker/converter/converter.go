package converter

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"mediaPipeline/api/models"
)

// swatch is the size of the seed image that gets upscaled to the profile.
const swatchWidth, swatchHeight = 16, 9

type Converter struct {
	outputDir string
	logger    *zap.Logger
}

func NewConverter(outputDir string, logger *zap.Logger) *Converter {
	return &Converter{outputDir: outputDir, logger: logger}
}

// RenderPreview writes a still for a finished variant at the profile's frame
// size. The picture is derived from the task id, so re-rendering a task
// produces the same file.
func (c *Converter) RenderPreview(taskID string, profile models.Profile, outputFormat string) (string, error) {
	dims, ok := models.ProfileDimensions[profile]
	if !ok {
		return "", fmt.Errorf("unknown profile: %s", profile)
	}

	ext := outputFormat
	if ext == "" {
		ext = "jpg"
	}
	outputPath := filepath.Join(c.outputDir, filepath.Base(taskID)+"."+ext)

	c.logger.Info("Rendering preview",
		zap.String("task_id", taskID),
		zap.String("profile", string(profile)),
		zap.String("output", outputPath),
	)

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create preview dir: %w", err)
	}

	src := seedSwatch(taskID)
	frame := imaging.Resize(src, dims[0], dims[1], imaging.Lanczos)
	frame = imaging.Blur(frame, 1.5)

	switch ext {
	case "jpg", "jpeg":
		if err := imaging.Save(frame, outputPath, imaging.JPEGQuality(85)); err != nil {
			c.logger.Error("Failed to save JPEG",
				zap.String("path", outputPath),
				zap.Error(err),
			)
			return "", fmt.Errorf("failed to save JPEG: %w", err)
		}
	case "png":
		if err := imaging.Save(frame, outputPath); err != nil {
			c.logger.Error("Failed to save PNG",
				zap.String("path", outputPath),
				zap.Error(err),
			)
			return "", fmt.Errorf("failed to save PNG: %w", err)
		}
	default:
		err := fmt.Errorf("unsupported format: %s", outputFormat)
		c.logger.Error("Unsupported format", zap.Error(err))
		return "", err
	}

	c.logger.Info("Preview rendered", zap.String("output", outputPath))
	return outputPath, nil
}

func seedSwatch(taskID string) *image.NRGBA {
	h := fnv.New64a()
	h.Write([]byte(taskID))
	sum := h.Sum64()

	from := color.NRGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}
	to := color.NRGBA{R: uint8(sum >> 24), G: uint8(sum >> 32), B: uint8(sum >> 40), A: 255}

	img := imaging.New(swatchWidth, swatchHeight, from)
	for y := 0; y < swatchHeight; y++ {
		for x := 0; x < swatchWidth; x++ {
			t := float64(x+y) / float64(swatchWidth+swatchHeight-2)
			img.SetNRGBA(x, y, color.NRGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t)
}
