package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/did"
)

// keyFile is the on-disk shape a did:key identity is kept in between CLI
// invocations: the generated 64-byte Ed25519 private key (base64) and the
// did:key it encodes to.
type keyFile struct {
	DID        string `json:"did"`
	PrivateKey string `json:"privateKey"`
}

func loadKey(path string) (string, ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return "", nil, fmt.Errorf("decode key file: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil {
		return "", nil, fmt.Errorf("decode private key: %w", err)
	}
	return kf.DID, ed25519.PrivateKey(priv), nil
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage did:key identities used to sign messages",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new did:key identity and write it to a key file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return fmt.Errorf("--out is required")
		}
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		subjectDID, err := did.GenerateKeyDID(pub)
		if err != nil {
			return err
		}
		kf := keyFile{DID: subjectDID, PrivateKey: base64.StdEncoding.EncodeToString(priv)}
		raw, err := json.MarshalIndent(kf, "", "  ")
		if err != nil {
			return fmt.Errorf("encode key file: %w", err)
		}
		if err := os.WriteFile(out, raw, 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		fmt.Printf("generated %s\n", subjectDID)
		fmt.Printf("  key file: %s\n", out)
		return nil
	},
}

func init() {
	keysGenerateCmd.Flags().String("out", "", "path to write the generated key file")
	keysCmd.AddCommand(keysGenerateCmd)
}
