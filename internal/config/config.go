package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// DiscoveryConfig UDP 配对发现配置
type DiscoveryConfig struct {
	Port              int           `mapstructure:"port"`
	Token             string        `mapstructure:"token"`
	ReplyDelay        time.Duration `mapstructure:"replyDelay"`
	ReplyRatePerSec   float64       `mapstructure:"replyRatePerSec"`
	ReplyBurst        int           `mapstructure:"replyBurst"`
	ReplyToSourcePort bool          `mapstructure:"replyToSourcePort"`
	ReadBufferSize    int           `mapstructure:"readBufferSize"`
}

// ControlConfig TCP 控制通道配置
type ControlConfig struct {
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	MaxAttempts    int           `mapstructure:"maxAttempts"`
	AckBufferSize  int           `mapstructure:"ackBufferSize"`
}

// HTTPConfig 状态 HTTP 服务配置
type HTTPConfig struct {
	Enable       bool          `mapstructure:"enable"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// DecisionConfig 指令标签映射配置
type DecisionConfig struct {
	LabelMapPath string `mapstructure:"labelMapPath"`
}

// Config 顶层配置结构
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Control   ControlConfig   `mapstructure:"control"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Decision  DecisionConfig  `mapstructure:"decision"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置并校验。
// 若 path 为空，则尝试从环境变量 BRICK_CONFIG 读取；否则回退到 configs/example.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = os.Getenv("BRICK_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 BRICK_，并将点号替换为下划线
	v.SetEnvPrefix("BRICK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置（测试与命令行覆盖使用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "brick-gateway")
	v.SetDefault("app.env", "dev")

	// 端口须与 ESP32 固件保持一致
	v.SetDefault("discovery.port", 65130)
	v.SetDefault("discovery.token", "passw")
	v.SetDefault("discovery.replyDelay", "500ms")
	v.SetDefault("discovery.replyRatePerSec", 2)
	v.SetDefault("discovery.replyBurst", 4)
	v.SetDefault("discovery.replyToSourcePort", false)
	v.SetDefault("discovery.readBufferSize", 4096)

	v.SetDefault("control.port", 65131)
	v.SetDefault("control.connectTimeout", "5s")
	v.SetDefault("control.readTimeout", "100ms")
	v.SetDefault("control.maxAttempts", 3)
	v.SetDefault("control.ackBufferSize", 4096)

	v.SetDefault("http.enable", false)
	v.SetDefault("http.addr", "127.0.0.1:8090")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("decision.labelMapPath", "")
}
