package commands

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/s2/src/config"
	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

const pubKeyFileName = "key.pub"

var (
	keygenDataDir string
	keygenShow    bool
)

// NewKeygenCmd produces a KeygenCmd which creates the identity key of a node
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the node identity key",
		Long: `Create the node identity key in [datadir]/priv_key and write its public
key to [datadir]/key.pub. With --show, print the identity of the existing key.`,
		RunE: keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keygenDataDir, "datadir", _config.S2.DataDir, "Top-level directory holding the key")
	cmd.Flags().BoolVar(&keygenShow, "show", false, "Print the identity of the existing key instead of failing")
}

func keygen(cmd *cobra.Command, args []string) error {
	conf := config.NewDefaultConfig()
	conf.SetDataDir(keygenDataDir)

	keyfile := keys.NewSimpleKeyfile(conf.Keyfile())

	key, created, err := keyfile.ReadOrCreate()
	if err != nil {
		return fmt.Errorf("Loading key %s: %v", keyfile.Path(), err)
	}

	if !created && !keygenShow {
		return fmt.Errorf("A key already lives under: %s", keyfile.Path())
	}

	pubFile := filepath.Join(conf.DataDir, pubKeyFileName)
	if created {
		if err := ioutil.WriteFile(pubFile, []byte(keys.PublicKeyHex(&key.PublicKey)), 0600); err != nil {
			return fmt.Errorf("Writing public key: %v", err)
		}
	}

	printIdentity(cmd.OutOrStdout(), keyfile.Path(), pubFile, key)
	return nil
}

func printIdentity(w io.Writer, keyPath, pubPath string, key *ecdsa.PrivateKey) {
	fmt.Fprintf(w, "Private key: %s\n", keyPath)
	fmt.Fprintf(w, "Public key:  %s (%s)\n", keys.PublicKeyHex(&key.PublicKey), pubPath)
	fmt.Fprintf(w, "Address:     %s\n", keys.Address(key))
}
