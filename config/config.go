/*
Package config loads node configuration from a file or environment via
viper: the committee roster with stakes and keys, the node's own key
material, and the protocol parameters.
*/
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/viper"
	"go.dedis.ch/kyber/v3/share"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/types"
)

// Election names the leader-schedule implementations.
const (
	ElectionRoundRobin    = "roundrobin"
	ElectionThresholdCoin = "coin"
)

// AuthorityEntry is one committee member as written in the config file.
// Keys are hex encoded.
type AuthorityEntry struct {
	PubKey   string `mapstructure:"pubkey"`
	Stake    uint64 `mapstructure:"stake"`
	Hostname string `mapstructure:"hostname"`
}

// Config describes one node of the validator network.
type Config struct {
	Self           types.AuthorityIndex
	Epoch          uint64
	DBPath         string
	LogLevel       string
	WaveLength     types.Round
	Election       string
	LeaderOffset   uint64
	IngestCapacity int
	OutputCapacity int
	Authorities    []AuthorityEntry

	PrivateKey   ed25519.PrivateKey
	TsPublicKey  *share.PubPoly
	TsPrivateKey *share.PriShare
}

// LoadConfig loads a configuration file by package viper. Environment
// variables prefixed with configPrefix override file values.
func LoadConfig(configPrefix, configName string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(configPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName(configName)
	v.AddConfigPath("./")

	v.SetDefault("wave_length", 2)
	v.SetDefault("election", ElectionRoundRobin)
	v.SetDefault("log_level", "info")
	v.SetDefault("ingest_capacity", 1024)
	v.SetDefault("output_capacity", 64)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	conf := &Config{
		Self:           types.AuthorityIndex(v.GetUint32("self")),
		Epoch:          v.GetUint64("epoch"),
		DBPath:         v.GetString("db_path"),
		LogLevel:       v.GetString("log_level"),
		WaveLength:     types.Round(v.GetUint32("wave_length")),
		Election:       v.GetString("election"),
		LeaderOffset:   v.GetUint64("leader_offset"),
		IngestCapacity: v.GetInt("ingest_capacity"),
		OutputCapacity: v.GetInt("output_capacity"),
	}
	if err := v.UnmarshalKey("authorities", &conf.Authorities); err != nil {
		return nil, fmt.Errorf("decode authorities: %w", err)
	}

	privKey, err := hex.DecodeString(v.GetString("privkey"))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(privKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad private key size %d", len(privKey))
	}
	conf.PrivateKey = privKey

	if conf.Election == ElectionThresholdCoin {
		tsPub, err := hex.DecodeString(v.GetString("tspubkey"))
		if err != nil {
			return nil, fmt.Errorf("decode threshold public key: %w", err)
		}
		if conf.TsPublicKey, err = sign.DecodeTSPublicKey(tsPub); err != nil {
			return nil, err
		}
		tsShare, err := hex.DecodeString(v.GetString("tsshare"))
		if err != nil {
			return nil, fmt.Errorf("decode threshold key share: %w", err)
		}
		if conf.TsPrivateKey, err = sign.DecodeTSPartialKey(tsShare); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// Committee builds the epoch committee from the configured roster.
func (c *Config) Committee() (*committee.Committee, error) {
	authorities := make([]committee.Authority, len(c.Authorities))
	for i, entry := range c.Authorities {
		pub, err := hex.DecodeString(entry.PubKey)
		if err != nil {
			return nil, fmt.Errorf("authority %d: decode public key: %w", i, err)
		}
		authorities[i] = committee.Authority{
			PubKey:   pub,
			Stake:    types.StakeUnit(entry.Stake),
			Hostname: entry.Hostname,
		}
	}
	return committee.New(c.Epoch, authorities)
}

// Logger builds the root logger configured by this node.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "wavedag",
		Output: hclog.DefaultOutput,
		Level:  hclog.LevelFromString(c.LogLevel),
	})
}
