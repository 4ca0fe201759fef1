package model

import "time"

type MyQConfig struct {
	AuthURL      string        `yaml:"auth_url" default:"https://api.myqdevice.com" validate:"required,url"`
	DeviceURL    string        `yaml:"device_url" default:"https://api.myqdevice.com" validate:"required,url"`
	AppID        string        `yaml:"app_id" default:"JVM/G9Nwih5BwKgNCjLxiFUQxQijAebyyg8QUHr7JOrP+tuPb8iHfRHKwTmDzHOu" validate:"required"`
	Timeout      time.Duration `yaml:"timeout" default:"15s"`
	TokenTTL     time.Duration `yaml:"token_ttl" default:"10m"`
	RateLimitRPS float64       `yaml:"rate_limit_rps" default:"2" validate:"gt=0"`
}

type PollConfig struct {
	ActiveDelay time.Duration `yaml:"active_delay" default:"2s" validate:"gt=0"`
	IdleDelay   time.Duration `yaml:"idle_delay" default:"10s" validate:"gt=0"`
}

type HomeKitConfig struct {
	Pin          string `yaml:"pin" default:"00102003" validate:"required,len=8,numeric"`
	Port         int    `yaml:"port" default:"51826" validate:"gt=0,lt=65536"`
	StoragePath  string `yaml:"storage_path" default:"./db" validate:"required"`
	SerialNumber string `yaml:"serial"` // derived from the device id when empty
	Manufacturer string `yaml:"manufacturer" default:"Chamberlain"`
	Model        string `yaml:"model" default:"MyQ Garage Door Opener"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"` // empty disables the status API
}

type LogConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// Config is the accessory configuration. Name, DeviceID, Username and
// Password are the only fields without a default.
type Config struct {
	Name     string `yaml:"name" validate:"required"`
	DeviceID string `yaml:"deviceId" validate:"required"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`

	MyQ     MyQConfig     `yaml:"myq"`
	Poll    PollConfig    `yaml:"poll"`
	HomeKit HomeKitConfig `yaml:"homekit"`
	Status  StatusConfig  `yaml:"status"`
	Log     LogConfig     `yaml:"log"`
}
