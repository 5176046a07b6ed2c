package expectation

import "time"

// FileOnDiskVersion is the expected version of a file. Zero values mean "any".
type FileOnDiskVersion struct {
	FileSize     int64 `json:"fileSize,omitempty"`
	ModifiedDate int64 `json:"modifiedDate,omitempty"` // unix ms
}

// CorePackageInfoVersion is the expected version of a package-info record.
type CorePackageInfoVersion struct {
	ActualContentVersionHash string `json:"actualContentVersionHash,omitempty"`
}

// ThumbnailVersion describes a generated thumbnail.
type ThumbnailVersion struct {
	Width    int `json:"width,omitempty"`
	Height   int `json:"height,omitempty"`
	SeekTime int `json:"seekTime,omitempty"` // ms into the clip
}

// DefaultPreviewBitrate is used when a preview version does not set one.
const DefaultPreviewBitrate = "40k"

// PreviewVersion describes a generated low-resolution preview.
type PreviewVersion struct {
	Bitrate string `json:"bitrate"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// QuantelClipVersion is the expected version of a clip on a video server.
type QuantelClipVersion struct {
	CloneID int    `json:"cloneId,omitempty"`
	Created string `json:"created,omitempty"`
	Frames  int    `json:"frames,omitempty"`
}

// DeepScanOptions parameterize a deep scan. They are the "version" of the
// scan result: changing them produces a different expectation.
type DeepScanOptions struct {
	FieldOrder             bool    `json:"fieldOrder"`
	FieldOrderScanDuration int     `json:"fieldOrderScanDuration,omitempty"`
	Scenes                 bool    `json:"scenes"`
	SceneThreshold         float64 `json:"sceneThreshold"`
	FreezeDetection        bool    `json:"freezeDetection"`
	FreezeNoise            float64 `json:"freezeNoise"`
	FreezeDuration         string  `json:"freezeDuration"`
	BlackDetection         bool    `json:"blackDetection"`
	BlackDuration          string  `json:"blackDuration"`
	BlackRatio             float64 `json:"blackRatio"`
	BlackThreshold         float64 `json:"blackThreshold"`
}

// DefaultDeepScanOptions returns the standard deep scan parameters.
func DefaultDeepScanOptions() DeepScanOptions {
	return DeepScanOptions{
		FieldOrder:      true,
		Scenes:          true,
		SceneThreshold:  0.4,
		FreezeDetection: true,
		FreezeNoise:     0.001,
		FreezeDuration:  "2s",
		BlackDetection:  true,
		BlackDuration:   "2.0",
		BlackRatio:      0.98,
		BlackThreshold:  0.1,
	}
}

// WorkOptions tune how a worker performs and undoes the work.
type WorkOptions struct {
	// RemoveDelay is the grace period, in ms, before removal is carried out.
	RemoveDelay          int64 `json:"removeDelay,omitempty"`
	UseTemporaryFilePath bool  `json:"useTemporaryFilePath,omitempty"`
}

// RemoveDelayDuration returns RemoveDelay as a duration.
func (o WorkOptions) RemoveDelayDuration() time.Duration {
	return time.Duration(o.RemoveDelay) * time.Millisecond
}
