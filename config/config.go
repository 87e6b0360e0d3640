package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TIANLI0/SegKit/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Redis       RedisConfig          `mapstructure:"redis"`
	Upload      UploadConfig         `mapstructure:"upload"`
	Model       ModelConfig          `mapstructure:"model"`
	Mock        MockConfig           `mapstructure:"mock"`
	Remote      RemoteConfig         `mapstructure:"remote"`
	GrabCut     GrabCutConfig        `mapstructure:"grabcut"`
	Dispatcher  DispatcherConfig     `mapstructure:"dispatcher"`
	Everything  model.GenerateParams `mapstructure:"everything"`
	PostProcess PostProcessConfig    `mapstructure:"postprocess"`
	Fetch       FetchConfig          `mapstructure:"fetch"`
	CORS        CORSConfig           `mapstructure:"cors"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize   int64 `mapstructure:"max_size"`
	MaxPixels int   `mapstructure:"max_pixels"` // 解码后的宽*高上限
}

// ModelConfig 模型后端与生命周期
type ModelConfig struct {
	Backend  string        `mapstructure:"backend"` // mock, remote, grabcut
	Size     string        `mapstructure:"size"`
	Device   string        `mapstructure:"device"`
	Autoload bool          `mapstructure:"autoload"`
	LoadWait time.Duration `mapstructure:"load_wait"`
}

type MockConfig struct {
	LoadDelay time.Duration `mapstructure:"load_delay"`
	FailLoad  bool          `mapstructure:"fail_load"`
}

type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
}

type GrabCutConfig struct {
	Iterations int `mapstructure:"iterations"`
	BorderSize int `mapstructure:"border_size"`
	MaxSide    int `mapstructure:"max_side"`
}

// DispatcherConfig 推理线程池
type DispatcherConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

type PostProcessConfig struct {
	IoUThreshold float64 `mapstructure:"iou_threshold"`
	MaxMasks     int     `mapstructure:"max_masks"`
}

type FetchConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxSize      int64         `mapstructure:"max_size"`
	MaxRedirects int           `mapstructure:"max_redirects"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load 从 YAML 文件加载配置，环境变量 SEGKIT_* 可覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEGKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	path := os.Getenv("SEGKIT_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.max_pixels", d.Upload.MaxPixels)

	v.SetDefault("model.backend", d.Model.Backend)
	v.SetDefault("model.size", d.Model.Size)
	v.SetDefault("model.device", d.Model.Device)
	v.SetDefault("model.autoload", d.Model.Autoload)
	v.SetDefault("model.load_wait", d.Model.LoadWait)

	v.SetDefault("mock.load_delay", d.Mock.LoadDelay)
	v.SetDefault("mock.fail_load", d.Mock.FailLoad)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.timeout", d.Remote.Timeout)
	v.SetDefault("remote.load_timeout", d.Remote.LoadTimeout)

	v.SetDefault("grabcut.iterations", d.GrabCut.Iterations)
	v.SetDefault("grabcut.border_size", d.GrabCut.BorderSize)
	v.SetDefault("grabcut.max_side", d.GrabCut.MaxSide)

	v.SetDefault("dispatcher.workers", d.Dispatcher.Workers)
	v.SetDefault("dispatcher.queue_depth", d.Dispatcher.QueueDepth)

	v.SetDefault("everything.points_per_side", d.Everything.PointsPerSide)
	v.SetDefault("everything.pred_iou_thresh", d.Everything.PredIoUThresh)
	v.SetDefault("everything.stability_score_thresh", d.Everything.StabilityScoreThresh)
	v.SetDefault("everything.box_nms_thresh", d.Everything.BoxNMSThresh)
	v.SetDefault("everything.crop_n_layers", d.Everything.CropNLayers)
	v.SetDefault("everything.crop_nms_thresh", d.Everything.CropNMSThresh)
	v.SetDefault("everything.min_mask_region_area", d.Everything.MinMaskRegionArea)
	v.SetDefault("everything.multimask_output", d.Everything.MultimaskOutput)

	v.SetDefault("postprocess.iou_threshold", d.PostProcess.IoUThreshold)
	v.SetDefault("postprocess.max_masks", d.PostProcess.MaxMasks)

	v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	v.SetDefault("fetch.max_size", d.Fetch.MaxSize)
	v.SetDefault("fetch.max_redirects", d.Fetch.MaxRedirects)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8000",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:   10 * 1024 * 1024,
			MaxPixels: 40_000_000,
		},
		Model: ModelConfig{
			Backend:  "mock",
			Size:     "tiny",
			Device:   "cpu",
			Autoload: true,
			LoadWait: 5 * time.Minute,
		},
		Mock: MockConfig{
			LoadDelay: 0,
			FailLoad:  false,
		},
		Remote: RemoteConfig{
			BaseURL:     "http://localhost:9000",
			Timeout:     2 * time.Minute,
			LoadTimeout: 10 * time.Minute,
		},
		GrabCut: GrabCutConfig{
			Iterations: 5,
			BorderSize: 10,
			MaxSide:    1200,
		},
		Dispatcher: DispatcherConfig{
			Workers:    2,
			QueueDepth: 16,
		},
		Everything: model.GenerateParams{
			PointsPerSide:        28,
			PredIoUThresh:        0.65,
			StabilityScoreThresh: 0.88,
			BoxNMSThresh:         0.65,
			CropNLayers:          1,
			CropNMSThresh:        0.65,
			MinMaskRegionArea:    200,
			MultimaskOutput:      true,
		},
		PostProcess: PostProcessConfig{
			IoUThreshold: 0.6,
			MaxMasks:     25,
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			MaxSize:      20 * 1024 * 1024,
			MaxRedirects: 3,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://localhost:3001",
				"http://localhost:3002",
				"http://localhost:3003",
			},
		},
	}
}
