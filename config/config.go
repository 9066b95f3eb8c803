// Package config loads engine settings from a config file and YFS_*
// environment variables.
package config

import (
	"github.com/ansel1/merry"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/codeworm96/cse-labs/fs"
	"github.com/codeworm96/cse-labs/util"
)

type Config struct {
	Image     string `mapstructure:"image"`
	NBlocks   uint64 `mapstructure:"nblocks"` // logical blocks
	NInodes   uint64 `mapstructure:"ninodes"`
	StrictECC bool   `mapstructure:"strict_ecc"`
	LogLevel  string `mapstructure:"log_level"`
	Debug     uint64 `mapstructure:"debug"` // highest util.DPrintf level shown
}

// Load reads path if given, else yfs.yaml from the working directory or
// $HOME/.yfs if present. Environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("yfs")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.yfs")
	}

	v.SetDefault("image", "yfs.img")
	v.SetDefault("nblocks", 8192)
	v.SetDefault("ninodes", fs.DefaultInodes)
	v.SetDefault("strict_ecc", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", 0)

	v.SetEnvPrefix("YFS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, merry.Prependf(err, "reading config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, merry.Prependf(err, "decoding config")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return nil, merry.Prependf(err, "log_level")
	}
	return &c, nil
}

// Apply configures logging.
func (c *Config) Apply() {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err == nil {
		log.SetLevel(lvl)
	}
	util.SetDebug(c.Debug)
}

func (c *Config) Params() fs.Params {
	return fs.Params{
		NBlocks: c.NBlocks,
		NInodes: c.NInodes,
		Options: c.Options(),
	}
}

func (c *Config) Options() fs.Options {
	return fs.Options{StrictECC: c.StrictECC}
}
