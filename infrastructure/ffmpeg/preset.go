package ffmpeg

import "fmt"

// Preset describes the MP4 rendition settings
type Preset struct {
	VideoCodec   string   `yaml:"video_codec"`
	AudioCodec   string   `yaml:"audio_codec"`
	Speed        string   `yaml:"speed"` // x264 -preset
	CRF          string   `yaml:"crf"`
	AudioBitrate string   `yaml:"audio_bitrate"`
	MaxHeight    int      `yaml:"max_height"`
	ExtraArgs    []string `yaml:"extra_args"`
}

// DefaultPreset is a web-playable H.264/AAC rendition
func DefaultPreset() Preset {
	return Preset{
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		Speed:        "veryfast",
		CRF:          "23",
		AudioBitrate: "128k",
		MaxHeight:    1080,
	}
}

// Args returns the encoder arguments of the preset
func (p Preset) Args() []string {
	d := DefaultPreset()
	if p.VideoCodec == "" {
		p.VideoCodec = d.VideoCodec
	}
	if p.AudioCodec == "" {
		p.AudioCodec = d.AudioCodec
	}

	args := []string{"-c:v", p.VideoCodec}
	if p.Speed != "" {
		args = append(args, "-preset", p.Speed)
	}
	if p.CRF != "" {
		args = append(args, "-crf", p.CRF)
	}
	if p.MaxHeight > 0 {
		// keep width even for yuv420p
		args = append(args, "-vf", fmt.Sprintf("scale=-2:'min(ih,%d)'", p.MaxHeight))
	}
	args = append(args, "-pix_fmt", "yuv420p", "-c:a", p.AudioCodec)
	if p.AudioBitrate != "" {
		args = append(args, "-b:a", p.AudioBitrate)
	}
	args = append(args, "-movflags", "+faststart")
	return append(args, p.ExtraArgs...)
}
