package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "memesort/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// FeedConfig holds settings for the source feed stage.
type FeedConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the root of the meme site; pages live at {BaseURL}/meme/{id}.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// DownloadDir is where fetched source images are cached
	// (e.g. "meme_downloads").
	DownloadDir string `json:"download_dir" yaml:"download_dir"`
}

// SegmentationConfig holds settings for the character segmentation stage.
type SegmentationConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the base URL of the segmentation inference service.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey authenticates against the inference service, if required.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MinScore drops candidate boxes below this confidence (default 0.5).
	MinScore float64 `json:"min_score" yaml:"min_score"`

	// Padding is the number of pixels added around each box before
	// cropping (default 10).
	Padding int `json:"padding" yaml:"padding"`

	// MaxRetries bounds retry attempts on rate-limited requests.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// TriageConfig holds settings for the interactive sorting stage.
type TriageConfig struct {
	// OutputDir is the base directory for sorted characters; one
	// subdirectory per category plus the index database.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Categories names the two project-specific classes. Others and
	// Discarded are always appended after them.
	Categories []string `json:"categories" yaml:"categories"`

	// BufferSize is the hand-off buffer capacity between the producer
	// and the sorting loop (default 8).
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// RunConfig holds the identifier range and pacing for a pipeline run.
type RunConfig struct {
	// StartID is the first meme identifier to process (>= 0).
	StartID int `json:"start_id" yaml:"start_id"`

	// Count is the number of consecutive identifiers to process (> 0).
	Count int `json:"count" yaml:"count"`

	// Delay is the pause between consecutive identifiers (politeness
	// toward the source site).
	Delay time.Duration `json:"delay" yaml:"delay"`
}

// CaptionConfig holds settings for the captioning stage.
type CaptionConfig struct {
	HTTPConfig `yaml:",inline"`

	// Endpoint is the base URL of the captioning inference service.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey authenticates against the captioning service, if required.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Workers is the number of concurrent captioning requests (default 2).
	Workers int `json:"workers" yaml:"workers"`

	// MaxRetries bounds retry attempts on rate-limited requests.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Feed         FeedConfig         `json:"feed" yaml:"feed"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation"`
	Triage       TriageConfig       `json:"triage" yaml:"triage"`
	Run          RunConfig          `json:"run" yaml:"run"`
	Caption      CaptionConfig      `json:"caption" yaml:"caption"`
}
