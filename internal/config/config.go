package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/linkstage/internal/stage"
)

type StageConfig struct {
	Version int `yaml:"version"`
	Stage   struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"stage"`
	Layout struct {
		Offset     float32 `yaml:"offset"`
		NodeWidth  float32 `yaml:"node_width"`
		NodeHeight float32 `yaml:"node_height"`
		ArrowWidth float32 `yaml:"arrow_width"`
		LineWidth  float32 `yaml:"line_width"`
	} `yaml:"layout"`
	Timing struct {
		FrameRate    int           `yaml:"frame_rate"`
		FadeIn       time.Duration `yaml:"fade_in"`
		FadeOut      time.Duration `yaml:"fade_out"`
		Move         time.Duration `yaml:"move"`
		StallTimeout time.Duration `yaml:"stall_timeout"`
	} `yaml:"timing"`
	Colors struct {
		Background string `yaml:"background"`
		Node       string `yaml:"node"`
		Connector  string `yaml:"connector"`
		Indicator  string `yaml:"indicator"`
	} `yaml:"colors"`
	Network struct {
		UIPort int `yaml:"ui_port"`
	} `yaml:"network"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		TopicPrefix string `yaml:"topic_prefix"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
	} `yaml:"mqtt"`
}

// StageID returns the configured stage id, defaulting to "default".
func (c *StageConfig) StageID() string {
	if c.Stage.ID == "" {
		return "default"
	}
	return c.Stage.ID
}

// UIPort returns the configured UI port, defaulting to 8080 if not set.
func (c *StageConfig) UIPort() int {
	if c.Network.UIPort == 0 {
		return 8080
	}
	return c.Network.UIPort
}

// FrameInterval returns the wall-clock time between frames, defaulting to 60 fps.
func (c *StageConfig) FrameInterval() time.Duration {
	fps := c.Timing.FrameRate
	if fps <= 0 {
		fps = 60
	}
	return time.Second / time.Duration(fps)
}

// StallTimeout returns the per-choreography stall limit. Unset means 30s;
// a negative value disables the limit.
func (c *StageConfig) StallTimeout() time.Duration {
	switch {
	case c.Timing.StallTimeout < 0:
		return 0
	case c.Timing.StallTimeout == 0:
		return 30 * time.Second
	}
	return c.Timing.StallTimeout
}

// TopicPrefix returns the MQTT topic prefix, defaulting to "linkstage/<stage id>".
func (c *StageConfig) TopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "linkstage/" + c.StageID()
	}
	return c.MQTT.TopicPrefix
}

// ClientID returns the MQTT client id, defaulting to "linkstage-<stage id>".
func (c *StageConfig) ClientID() string {
	if c.MQTT.ClientID == "" {
		return "linkstage-" + c.StageID()
	}
	return c.MQTT.ClientID
}

// StageOptions converts the layout, timing and colour sections into chain
// options, filling unset values from the stage defaults.
func (c *StageConfig) StageOptions() (stage.Options, error) {
	opts := stage.DefaultOptions()

	setF := func(dst *float32, v float32) {
		if v != 0 {
			*dst = v
		}
	}
	setF(&opts.Layout.Offset, c.Layout.Offset)
	setF(&opts.Layout.NodeWidth, c.Layout.NodeWidth)
	setF(&opts.Layout.NodeHeight, c.Layout.NodeHeight)
	setF(&opts.Layout.ArrowWidth, c.Layout.ArrowWidth)
	setF(&opts.Layout.LineWidth, c.Layout.LineWidth)

	setD := func(name string, dst *time.Duration, v time.Duration) error {
		if v < 0 {
			return fmt.Errorf("timing.%s: negative duration %s", name, v)
		}
		if v != 0 {
			*dst = v
		}
		return nil
	}
	if err := setD("fade_in", &opts.Timing.FadeIn, c.Timing.FadeIn); err != nil {
		return opts, err
	}
	if err := setD("fade_out", &opts.Timing.FadeOut, c.Timing.FadeOut); err != nil {
		return opts, err
	}
	if err := setD("move", &opts.Timing.Move, c.Timing.Move); err != nil {
		return opts, err
	}

	colors := []struct {
		name string
		hex  string
		dst  *colorful.Color
	}{
		{"background", c.Colors.Background, &opts.Palette.Background},
		{"node", c.Colors.Node, &opts.Palette.Node},
		{"connector", c.Colors.Connector, &opts.Palette.Connector},
		{"indicator", c.Colors.Indicator, &opts.Palette.Indicator},
	}
	for _, col := range colors {
		if col.hex == "" {
			continue
		}
		parsed, err := colorful.Hex(col.hex)
		if err != nil {
			return opts, fmt.Errorf("colors.%s: %w", col.name, err)
		}
		*col.dst = parsed
	}

	return opts, nil
}

func LoadStageConfig(path string) (*StageConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStageConfig(b)
}

func ParseStageConfig(b []byte) (*StageConfig, error) {
	var cfg StageConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported stage.yaml version: %d", cfg.Version)
	}

	return &cfg, nil
}
