// Command config_gen generates the per-node configuration files for a
// cluster: the shared committee roster plus each node's key material.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/dagbft/wavedag/sign"
)

func main() {
	var (
		n       = flag.Int("n", 4, "number of authorities")
		stake   = flag.Uint64("stake", 250, "stake per authority")
		outDir  = flag.String("out", ".", "output directory")
		wave    = flag.Int("wave", 2, "wave length in rounds")
		elect   = flag.String("election", "roundrobin", "leader election: roundrobin or coin")
		dbBase  = flag.String("db", "wavedag-db", "base name for per-node db directories")
		portNum = flag.Int("port", 8000, "base p2p port")
	)
	flag.Parse()

	if *n < 4 {
		fmt.Fprintln(os.Stderr, "need at least 4 authorities to tolerate one fault")
		os.Exit(1)
	}

	privs := make([][]byte, *n)
	type entry struct {
		pubkey   string
		hostname string
	}
	entries := make([]entry, *n)
	for i := 0; i < *n; i++ {
		priv, pub := sign.GenED25519Keys()
		privs[i] = priv
		entries[i] = entry{
			pubkey:   hex.EncodeToString(pub),
			hostname: fmt.Sprintf("127.0.0.1:%d", *portNum+10*i),
		}
	}

	quorum := 2*(*n)/3 + 1
	shares, pubPoly := sign.GenTSKeys(quorum, *n)
	tsPub, err := sign.EncodeTSPublicKey(pubPoly)
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode threshold public key:", err)
		os.Exit(1)
	}

	authorities := make([]map[string]interface{}, *n)
	for i, e := range entries {
		authorities[i] = map[string]interface{}{
			"pubkey":   e.pubkey,
			"stake":    *stake,
			"hostname": e.hostname,
		}
	}

	for i := 0; i < *n; i++ {
		v := viper.New()
		v.Set("self", i)
		v.Set("epoch", 0)
		v.Set("db_path", fmt.Sprintf("%s-%d", *dbBase, i))
		v.Set("log_level", "info")
		v.Set("wave_length", *wave)
		v.Set("election", *elect)
		v.Set("authorities", authorities)
		v.Set("privkey", hex.EncodeToString(privs[i]))
		if *elect == "coin" {
			tsShare, err := sign.EncodeTSPartialKey(shares[i])
			if err != nil {
				fmt.Fprintln(os.Stderr, "encode threshold key share:", err)
				os.Exit(1)
			}
			v.Set("tspubkey", hex.EncodeToString(tsPub))
			v.Set("tsshare", hex.EncodeToString(tsShare))
		}
		path := filepath.Join(*outDir, fmt.Sprintf("config_%d.yaml", i))
		if err := v.WriteConfigAs(path); err != nil {
			fmt.Fprintln(os.Stderr, "write config:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
	}
}
