package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/types"
)

// inDir runs body with the working directory set to a fresh temp dir, since
// LoadConfig resolves the config file relative to it.
func inDir(t *testing.T, body func(dir string)) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	defer func() { require.NoError(t, os.Chdir(old)) }()
	body(dir)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func rosterYAML(t *testing.T) (string, []string) {
	t.Helper()
	roster := "authorities:\n"
	keys := make([]string, 4)
	for i := 0; i < 4; i++ {
		_, pub := sign.GenED25519Keys()
		keys[i] = hex.EncodeToString(pub)
		roster += fmt.Sprintf("  - pubkey: %s\n    stake: 250\n    hostname: 127.0.0.1:%d\n", keys[i], 8000+i)
	}
	return roster, keys
}

func TestLoadConfig(t *testing.T) {
	inDir(t, func(dir string) {
		priv, _ := sign.GenED25519Keys()
		roster, _ := rosterYAML(t)
		writeFile(t, dir, "config.yaml", fmt.Sprintf(`self: 2
epoch: 3
db_path: %s
wave_length: 3
privkey: %s
%s`, filepath.Join(dir, "db"), hex.EncodeToString(priv), roster))

		conf, err := LoadConfig("wavedagtest", "config")
		require.NoError(t, err)

		assert.Equal(t, types.AuthorityIndex(2), conf.Self)
		assert.Equal(t, uint64(3), conf.Epoch)
		assert.Equal(t, types.Round(3), conf.WaveLength)
		assert.Equal(t, []byte(priv), []byte(conf.PrivateKey))
		require.Len(t, conf.Authorities, 4)
		assert.Equal(t, "127.0.0.1:8001", conf.Authorities[1].Hostname)

		// Unset keys fall back to defaults.
		assert.Equal(t, ElectionRoundRobin, conf.Election)
		assert.Equal(t, "info", conf.LogLevel)
		assert.Equal(t, 1024, conf.IngestCapacity)
		assert.Equal(t, 64, conf.OutputCapacity)

		cmt, err := conf.Committee()
		require.NoError(t, err)
		assert.Equal(t, 4, cmt.Size())
		assert.Equal(t, types.StakeUnit(1000), cmt.TotalStake())
		assert.Equal(t, uint64(3), cmt.Epoch())
	})
}

func TestLoadConfigCoinElection(t *testing.T) {
	inDir(t, func(dir string) {
		priv, _ := sign.GenED25519Keys()
		shares, pub := sign.GenTSKeys(3, 4)
		rawPub, err := sign.EncodeTSPublicKey(pub)
		require.NoError(t, err)
		rawShare, err := sign.EncodeTSPartialKey(shares[1])
		require.NoError(t, err)
		roster, _ := rosterYAML(t)

		writeFile(t, dir, "config.yaml", fmt.Sprintf(`self: 1
election: coin
privkey: %s
tspubkey: %s
tsshare: %s
%s`, hex.EncodeToString(priv), hex.EncodeToString(rawPub), hex.EncodeToString(rawShare), roster))

		conf, err := LoadConfig("wavedagtest", "config")
		require.NoError(t, err)
		assert.Equal(t, ElectionThresholdCoin, conf.Election)
		require.NotNil(t, conf.TsPublicKey)
		require.NotNil(t, conf.TsPrivateKey)
		assert.Equal(t, shares[1].I, conf.TsPrivateKey.I)
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	inDir(t, func(dir string) {
		_, err := LoadConfig("wavedagtest", "config")
		assert.Error(t, err)
	})
}
