package commands

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mosaicnetworks/s2/src/crypto/keys"
)

func runKeygen(t *testing.T, args ...string) (string, error) {
	cmd := NewKeygenCmd()
	var out bytes.Buffer
	cmd.SetOutput(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestKeygen(t *testing.T) {
	dir, err := ioutil.TempDir("", "s2-keygen")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	out, err := runKeygen(t, "--datadir", dir)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	key, err := keys.NewSimpleKeyfile(filepath.Join(dir, "priv_key")).ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(out, keys.Address(key).String()) {
		t.Fatalf("output should show the address, got %q", out)
	}

	pub, err := ioutil.ReadFile(filepath.Join(dir, pubKeyFileName))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if string(pub) != keys.PublicKeyHex(&key.PublicKey) {
		t.Fatalf("public key file should hold the hex public key")
	}

	if _, err := runKeygen(t, "--datadir", dir); err == nil {
		t.Fatalf("keygen should not overwrite an existing key")
	}

	out, err = runKeygen(t, "--datadir", dir, "--show")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(out, keys.Address(key).String()) {
		t.Fatalf("--show should print the existing identity, got %q", out)
	}
}
