package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GATEWAY_RTU_DEVICE.
const EnvPrefix = "GATEWAY"

// OutputSunSpec is the only output model.
const OutputSunSpec = "sunspec"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	ModbusTCP ModbusTCPConfig `mapstructure:"modbus_tcp"`
	RTU       RTUConfig       `mapstructure:"rtu"`
	Driver    DriverConfig    `mapstructure:"driver"`
	SunSpec   SunSpecConfig   `mapstructure:"sunspec"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RebootDelay     time.Duration `mapstructure:"reboot_delay"`
}

// ModbusTCPConfig is the SunSpec side slave server.
type ModbusTCPConfig struct {
	Address     string        `mapstructure:"address"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// RTUConfig is the serial line to the field device.
type RTUConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	RS485    bool          `mapstructure:"rs485"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type DriverConfig struct {
	Input         string        `mapstructure:"input"`
	Output        string        `mapstructure:"output"`
	UnitID        int           `mapstructure:"unit_id"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	DemoStep      time.Duration `mapstructure:"demo_step"`
}

type SunSpecConfig struct {
	MaxPower       int           `mapstructure:"max_power"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	AdminUser              string        `mapstructure:"admin_user"`
	AdminPasswordHash      string        `mapstructure:"admin_password_hash"`
	AdminPasswordEnv       string        `mapstructure:"admin_password_env"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
}

type DatabaseConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.reboot_delay", "1s")

	v.SetDefault("modbus_tcp.address", ":502")
	v.SetDefault("modbus_tcp.idle_timeout", "60s")

	v.SetDefault("rtu.device", "/dev/ttyUSB0")
	v.SetDefault("rtu.baud_rate", 9600)
	v.SetDefault("rtu.data_bits", 8)
	v.SetDefault("rtu.stop_bits", 1)
	v.SetDefault("rtu.parity", "N")
	v.SetDefault("rtu.rs485", true)
	v.SetDefault("rtu.timeout", "1s")

	v.SetDefault("driver.input", "demo")
	v.SetDefault("driver.output", OutputSunSpec)
	v.SetDefault("driver.unit_id", 1)
	v.SetDefault("driver.poll_interval", "1s")
	v.SetDefault("driver.retry_interval", "10s")
	v.SetDefault("driver.demo_step", "3s")

	v.SetDefault("sunspec.max_power", 0)
	v.SetDefault("sunspec.sample_interval", "1s")

	v.SetDefault("auth.jwt_secret_env", "GATEWAY_JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.admin_user", "admin")
	v.SetDefault("auth.admin_password_hash", "")
	v.SetDefault("auth.admin_password_env", "GATEWAY_ADMIN_PASSWORD")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "sunspec")
	v.SetDefault("database.user", "sunspec")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "sunspec-gateway")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "sunspec")
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads path on top of the defaults. A missing file is not an error:
// the gateway comes up with defaults and can be configured through setup.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !isMissing(path) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func isMissing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

// Validate checks ranges. inputs lists the registered driver names.
func (c *Config) Validate(inputs []string) error {
	var errs []error

	// Port 0 picks a free port.
	for name, port := range map[string]int{"server.http_port": c.Server.HTTPPort, "server.grpc_port": c.Server.GRPCPort} {
		if port < 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.ModbusTCP.Address == "" {
		errs = append(errs, errors.New("modbus_tcp.address is required"))
	}
	if c.RTU.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("rtu.baud_rate %d must be positive", c.RTU.BaudRate))
	}
	if c.RTU.DataBits < 5 || c.RTU.DataBits > 8 {
		errs = append(errs, fmt.Errorf("rtu.data_bits %d out of range 5..8", c.RTU.DataBits))
	}
	if c.RTU.StopBits != 1 && c.RTU.StopBits != 2 {
		errs = append(errs, fmt.Errorf("rtu.stop_bits %d must be 1 or 2", c.RTU.StopBits))
	}
	if !slices.Contains([]string{"N", "E", "O"}, c.RTU.Parity) {
		errs = append(errs, fmt.Errorf("rtu.parity %q must be N, E or O", c.RTU.Parity))
	}
	if c.RTU.Timeout <= 0 {
		errs = append(errs, errors.New("rtu.timeout must be positive"))
	}
	if c.Driver.UnitID < 1 || c.Driver.UnitID > 247 {
		errs = append(errs, fmt.Errorf("driver.unit_id %d out of range 1..247", c.Driver.UnitID))
	}
	if !slices.Contains(inputs, c.Driver.Input) {
		errs = append(errs, fmt.Errorf("driver.input %q unknown (available: %v)", c.Driver.Input, inputs))
	}
	if c.Driver.Output != OutputSunSpec {
		errs = append(errs, fmt.Errorf("driver.output %q unknown (available: [%s])", c.Driver.Output, OutputSunSpec))
	}
	if c.SunSpec.MaxPower < 0 || c.SunSpec.MaxPower > 0xFFFF {
		errs = append(errs, fmt.Errorf("sunspec.max_power %d out of range 0..65535", c.SunSpec.MaxPower))
	}
	if c.SunSpec.SampleInterval <= 0 {
		errs = append(errs, errors.New("sunspec.sample_interval must be positive"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d out of range 0..2", c.MQTT.QoS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devJWTSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment
// variable and falls back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "GATEWAY_JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devJWTSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devJWTSecret && len(secret) >= 32
}

// AdminPassword returns the bootstrap admin password from the environment.
func (a *AuthConfig) AdminPassword() string {
	if a.AdminPasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.AdminPasswordEnv)
}
