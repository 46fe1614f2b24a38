// Package configs for work with configurations
package configs

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Conf for config yaml
type Conf struct {
	Programme struct {
		BaseURL      string   `yaml:"base_url"`
		Channel      string   `yaml:"channel"`
		Programme    string   `yaml:"programme"`
		AllowedHosts []string `yaml:"allowed_hosts"`
		Since        string   `yaml:"since"` // dd/mm/yyyy, default watermark
	} `yaml:"programme"`
	Storage struct {
		MediaDir  string `yaml:"media_dir"`
		StatsFile string `yaml:"stats_file"`
		KeepMedia bool   `yaml:"keep_media"`
	} `yaml:"storage"`
	Archive struct {
		Endpoint     string `yaml:"endpoint"`
		DownloadBase string `yaml:"download_base"`
		ItemPrefix   string `yaml:"item_prefix"`
		Collection   string `yaml:"collection"`
		Creator      string `yaml:"creator"`
		Subject      string `yaml:"subject"`
		Language     string `yaml:"language"`
		Secrets      struct {
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"secrets"`
	} `yaml:"archive"`
	Feed struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Link        string `yaml:"link"`
		Language    string `yaml:"language"`
		Author      string `yaml:"author"`
		Email       string `yaml:"email"`
		Image       string `yaml:"image"`
		Category    string `yaml:"category"`
		Output      string `yaml:"output"`
	} `yaml:"feed"`
	CloudStorage struct {
		EndPointURL string `yaml:"endpoint_url"`
		Bucket      string `yaml:"bucket"`
		Region      string `yaml:"region"`
		Secrets     struct {
			Key    string `yaml:"aws_key"`
			Secret string `yaml:"aws_secret"`
		} `yaml:"secrets"`
	} `yaml:"cloud_storage"`
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Limits struct {
		RequestDelaySec    int   `yaml:"request_delay_sec"`
		DownloadTimeoutSec int   `yaml:"download_timeout_sec"`
		MinAudioSize       int64 `yaml:"min_audio_size"`
	} `yaml:"limits"`
}

// Load config from file. Secret values may be left empty in the file and
// injected from the environment instead.
func Load(fileName string) (res *Conf, err error) {
	res = &Conf{}
	data, err := os.ReadFile(fileName) // nolint
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, res); err != nil {
		return nil, err
	}
	res.applyEnv()
	res.applyDefaults()
	return res, nil
}

func (c *Conf) applyEnv() {
	if v := os.Getenv("IA_ACCESS_KEY"); v != "" {
		c.Archive.Secrets.AccessKey = v
	}
	if v := os.Getenv("IA_SECRET_KEY"); v != "" {
		c.Archive.Secrets.SecretKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
}

func (c *Conf) applyDefaults() {
	if c.Programme.BaseURL == "" {
		c.Programme.BaseURL = "https://www.rthk.hk"
	}
	if c.Storage.MediaDir == "" {
		c.Storage.MediaDir = "var/media"
	}
	if c.Storage.StatsFile == "" {
		c.Storage.StatsFile = "var/update_stats.json"
	}
	if c.Archive.Endpoint == "" {
		c.Archive.Endpoint = "https://s3.us.archive.org"
	}
	if c.Archive.DownloadBase == "" {
		c.Archive.DownloadBase = "https://archive.org/download"
	}
	if c.Feed.Output == "" {
		c.Feed.Output = "var/feed.xml"
	}
	if c.Limits.RequestDelaySec <= 0 {
		c.Limits.RequestDelaySec = 1
	}
	if c.Limits.DownloadTimeoutSec <= 0 {
		c.Limits.DownloadTimeoutSec = 600
	}
	if c.Limits.MinAudioSize <= 0 {
		c.Limits.MinAudioSize = 100000
	}
}
