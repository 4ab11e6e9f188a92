// Package config 提供引擎配置的加载、校验与热更新.
//
// 配置文件为 TOML，环境变量以 FIX_ 为前缀覆盖 (如 FIX_LOG_LEVEL).
// [default] 段中的会话参数会被每个 [[sessions]] 条目继承，条目内同名项优先.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wyfcoding/fixengine/logging"
	"github.com/wyfcoding/fixengine/xerrors"
)

// Config 全局顶级配置结构.
type Config struct {
	Engine         EngineConfig         `mapstructure:"engine"         toml:"engine"`
	Log            LogConfig            `mapstructure:"log"            toml:"log"`
	Metrics        MetricsConfig        `mapstructure:"metrics"        toml:"metrics"`
	Transport      TransportConfig      `mapstructure:"transport"      toml:"transport"`
	Store          StoreConfig          `mapstructure:"store"          toml:"store"`
	Data           DataConfig           `mapstructure:"data"           toml:"data"`
	Minio          MinioConfig          `mapstructure:"minio"          toml:"minio"`
	MessageQueue   MessageQueueConfig   `mapstructure:"messagequeue"   toml:"messagequeue"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitbreaker" toml:"circuitbreaker"`
	Snowflake      SnowflakeConfig      `mapstructure:"snowflake"      toml:"snowflake"`
	Default        SessionConfig        `mapstructure:"default"        toml:"default"        validate:"-"`
	Sessions       []SessionConfig      `mapstructure:"sessions"       toml:"sessions"       validate:"dive"`
}

// EngineConfig 进程级参数.
type EngineConfig struct {
	Name    string `mapstructure:"name"    toml:"name"    validate:"required"`
	Version string `mapstructure:"version" toml:"version"`
}

// SessionConfig 单个会话的参数，字段含义与校验规则见 session.SettingsFromConfig.
type SessionConfig struct {
	BeginString                string        `mapstructure:"begin_string"                  toml:"begin_string"                  validate:"required"`
	SenderCompID               string        `mapstructure:"sender_comp_id"                toml:"sender_comp_id"                validate:"required"`
	TargetCompID               string        `mapstructure:"target_comp_id"                toml:"target_comp_id"                validate:"required"`
	Qualifier                  string        `mapstructure:"qualifier"                     toml:"qualifier"`
	ConnectionType             string        `mapstructure:"connection_type"               toml:"connection_type"               validate:"required,oneof=initiator acceptor"`
	ConnectAddress             string        `mapstructure:"connect_address"               toml:"connect_address"               validate:"required_if=ConnectionType initiator"`
	HeartBtInt                 int           `mapstructure:"heartbeat_interval"            toml:"heartbeat_interval"            validate:"gte=0"`
	TestRequestDelayMultiplier float64       `mapstructure:"test_request_delay_multiplier" toml:"test_request_delay_multiplier" validate:"gte=0"`
	ResetOnLogon               bool          `mapstructure:"reset_on_logon"                toml:"reset_on_logon"`
	ResetOnLogout              bool          `mapstructure:"reset_on_logout"               toml:"reset_on_logout"`
	ResetOnDisconnect          bool          `mapstructure:"reset_on_disconnect"           toml:"reset_on_disconnect"`
	StartTime                  string        `mapstructure:"start_time"                    toml:"start_time"`
	EndTime                    string        `mapstructure:"end_time"                      toml:"end_time"`
	ResetSchedule              string        `mapstructure:"reset_schedule"                toml:"reset_schedule"`
	PreferredFieldOrder        []int         `mapstructure:"preferred_field_order"         toml:"preferred_field_order"`
	TimestampPrecision         string        `mapstructure:"timestamp_precision"           toml:"timestamp_precision"`
	GapPolicy                  string        `mapstructure:"gap_policy"                    toml:"gap_policy"`
	LogonTimeout               time.Duration `mapstructure:"logon_timeout"                 toml:"logon_timeout"`
	LogoutTimeout              time.Duration `mapstructure:"logout_timeout"                toml:"logout_timeout"`
	CheckLatency               bool          `mapstructure:"check_latency"                 toml:"check_latency"`
	MaxLatency                 time.Duration `mapstructure:"max_latency"                   toml:"max_latency"`
	ResendRateLimit            float64       `mapstructure:"resend_rate_limit"             toml:"resend_rate_limit"             validate:"gte=0"`
	ReconnectInterval          time.Duration `mapstructure:"reconnect_interval"            toml:"reconnect_interval"`
	ForwardApplication         bool          `mapstructure:"forward_application"           toml:"forward_application"`
}

// TransportConfig 字节流传输参数.
type TransportConfig struct {
	ListenAddress  string        `mapstructure:"listen_address"   toml:"listen_address"`
	Workers        int           `mapstructure:"workers"          toml:"workers"`
	QueueSize      int           `mapstructure:"queue_size"       toml:"queue_size"`
	MaxMessageSize int           `mapstructure:"max_message_size" toml:"max_message_size"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"    toml:"write_timeout"`
}

// StoreConfig 报文存储选择与各后端参数.
type StoreConfig struct {
	Type      string          `mapstructure:"type"       toml:"type"       validate:"required,oneof=memory file badger redis sql"`
	File      FileStoreConfig `mapstructure:"file"       toml:"file"`
	Badger    BadgerConfig    `mapstructure:"badger"     toml:"badger"`
	Cache     BigCacheConfig  `mapstructure:"cache"      toml:"cache"`
	Archive   ArchiveConfig   `mapstructure:"archive"    toml:"archive"`
	KeyPrefix string          `mapstructure:"key_prefix" toml:"key_prefix"`
}

// FileStoreConfig 文件存储.
type FileStoreConfig struct {
	Dir  string `mapstructure:"dir"  toml:"dir"`
	Sync bool   `mapstructure:"sync" toml:"sync"`
}

// BadgerConfig 嵌入式 KV 存储.
type BadgerConfig struct {
	Dir        string `mapstructure:"dir"         toml:"dir"`
	InMemory   bool   `mapstructure:"in_memory"   toml:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes" toml:"sync_writes"`
}

// ArchiveConfig 重置前将报文日志归档到对象存储.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Prefix  string `mapstructure:"prefix"  toml:"prefix"`
}

// DataConfig 外部数据源.
type DataConfig struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Redis    RedisConfig    `mapstructure:"redis"    toml:"redis"`
}

// DatabaseConfig SQL 存储连接参数.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            toml:"driver"            validate:"omitempty,oneof=mysql postgres sqlite"`
	DSN             string        `mapstructure:"dsn"               toml:"dsn"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" toml:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"    toml:"slow_threshold"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    toml:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    toml:"max_open_conns"`
}

// RedisConfig Redis 存储连接参数.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"           toml:"addr"`
	Password     string        `mapstructure:"password"       toml:"password"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"  toml:"write_timeout"`
	DB           int           `mapstructure:"db"             toml:"db"`
	PoolSize     int           `mapstructure:"pool_size"      toml:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" toml:"min_idle_conns"`
}

// LogConfig 日志参数.
type LogConfig struct {
	Level      string `mapstructure:"level"       toml:"level"`
	Format     string `mapstructure:"format"      toml:"format"      validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"        toml:"file"`
	Stdout     bool   `mapstructure:"stdout"      toml:"stdout"`
	MaxSize    int    `mapstructure:"max_size"    toml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"     toml:"max_age"`
	Compress   bool   `mapstructure:"compress"    toml:"compress"`
}

// SnowflakeConfig TestReqID 生成器参数.
type SnowflakeConfig struct {
	StartTime string `mapstructure:"start_time" toml:"start_time"`
	Type      string `mapstructure:"type"       toml:"type"       validate:"omitempty,oneof=snowflake sonyflake"`
	MachineID int64  `mapstructure:"machine_id" toml:"machine_id"`
}

// MessageQueueConfig 消息队列.
type MessageQueueConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka" toml:"kafka"`
}

// KafkaConfig 业务报文转发 (drop copy) 与外部下单注入的 Kafka 参数.
type KafkaConfig struct {
	Topic           string        `mapstructure:"topic"             toml:"topic"`
	InboundTopic    string        `mapstructure:"inbound_topic"     toml:"inbound_topic"`
	GroupID         string        `mapstructure:"group_id"          toml:"group_id"`
	Brokers         []string      `mapstructure:"brokers"           toml:"brokers"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"      toml:"dial_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"     toml:"write_timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"      toml:"max_attempts"`
	RequiredAcks    int           `mapstructure:"required_acks"     toml:"required_acks"`
	Async           bool          `mapstructure:"async"             toml:"async"`
	RetryMax        int           `mapstructure:"retry_max"         toml:"retry_max"`
	RetryInitial    time.Duration `mapstructure:"retry_initial"     toml:"retry_initial"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff" toml:"retry_max_backoff"`
	DLQEnabled      bool          `mapstructure:"dlq_enabled"       toml:"dlq_enabled"`
	DLQTopic        string        `mapstructure:"dlq_topic"         toml:"dlq_topic"`
}

// MinioConfig 对象存储.
type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"          toml:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"     toml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" toml:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"       toml:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"           toml:"use_ssl"`
}

// MetricsConfig 指标暴露.
type MetricsConfig struct {
	Address string `mapstructure:"address" toml:"address"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// CircuitBreakerConfig 熔断器参数.
type CircuitBreakerConfig struct {
	Interval    time.Duration `mapstructure:"interval"     toml:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"      toml:"timeout"`
	MaxRequests uint32        `mapstructure:"max_requests" toml:"max_requests"`
	Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
}

// BigCacheConfig 重传读缓存参数.
type BigCacheConfig struct {
	Enabled          bool          `mapstructure:"enabled"             toml:"enabled"`
	LifeWindow       time.Duration `mapstructure:"life_window"         toml:"life_window"`
	CleanWindow      time.Duration `mapstructure:"clean_window"        toml:"clean_window"`
	Shards           int           `mapstructure:"shards"              toml:"shards"`
	MaxEntrySize     int           `mapstructure:"max_entry_size"      toml:"max_entry_size"`
	HardMaxCacheSize int           `mapstructure:"hard_max_cache_size" toml:"hard_max_cache_size"`
}

var (
	vInstance = viper.New()
	reloadMu  sync.Mutex
	onReload  []func(*Config)
)

// RegisterReloadHook 注册配置热更新回调.
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	reloadMu.Lock()
	defer reloadMu.Unlock()
	onReload = append(onReload, hook)
}

// Load 读取、合并、校验配置并开启热更新.
// 失败返回 ConfigError.
func Load(path string, conf *Config) error {
	if err := read(vInstance, path, conf); err != nil {
		return err
	}

	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := new(Config)
		if err := decode(vInstance, next); err != nil {
			slog.Error("reload config failed", "error", err)
			return
		}

		// 仅日志级别与回调可以在运行期生效，会话参数需重启
		logging.SetLevel(next.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		reloadMu.Lock()
		hooks := onReload
		reloadMu.Unlock()
		for _, hook := range hooks {
			hook(next)
		}
	})
	vInstance.WatchConfig()

	return nil
}

// LoadFile 只读取一次，不开启热更新.
func LoadFile(path string) (*Config, error) {
	conf := new(Config)
	if err := read(viper.New(), path, conf); err != nil {
		return nil, err
	}
	return conf, nil
}

func read(v *viper.Viper, path string, conf *Config) error {
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("FIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return xerrors.Config("read config error", err)
	}
	return decode(v, conf)
}

func decode(v *viper.Viper, conf *Config) error {
	mergeSessionDefaults(v)
	if err := v.Unmarshal(conf); err != nil {
		return xerrors.Config("unmarshal config error", err)
	}
	if err := validator.New().Struct(conf); err != nil {
		return xerrors.Config("config validation failed", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.name", "fixengine")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.key_prefix", "fix")
	v.SetDefault("transport.workers", 16)
	v.SetDefault("transport.queue_size", 64)
	v.SetDefault("transport.max_message_size", 1<<20)
	v.SetDefault("transport.write_timeout", 5*time.Second)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("snowflake.type", "snowflake")
	v.SetDefault("snowflake.machine_id", 1)
}

// mergeSessionDefaults 将 [default] 段合并进每个 [[sessions]] 条目.
func mergeSessionDefaults(v *viper.Viper) {
	def := v.GetStringMap("default")
	if len(def) == 0 {
		return
	}
	var raw []any
	switch list := v.Get("sessions").(type) {
	case []any:
		raw = list
	case []map[string]any:
		for _, entry := range list {
			raw = append(raw, entry)
		}
	default:
		return
	}
	merged := make([]any, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			merged = append(merged, item)
			continue
		}
		m := maps.Clone(def)
		for k, val := range entry {
			m[strings.ToLower(k)] = val
		}
		merged = append(merged, m)
	}
	v.Set("sessions", merged)
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		slog.Error("failed to unmarshal config for masking", "error", err)
		return
	}

	mask(configMap)

	maskedJSON, err := json.MarshalIndent(configMap, "  ", "  ")
	if err != nil {
		slog.Error("failed to marshal masked config", "error", err)
		return
	}

	slog.Info("current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}
			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}

// String 便于日志输出.
func (s SessionConfig) String() string {
	id := fmt.Sprintf("%s:%s->%s", s.BeginString, s.SenderCompID, s.TargetCompID)
	if s.Qualifier != "" {
		id += ":" + s.Qualifier
	}
	return id
}
