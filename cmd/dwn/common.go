package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwn"
	"github.com/ryftlabs/dwn/pkg/signature"
)

// openNode opens a Node backed by the --data-dir rootCmd flag. Every
// invocation of the CLI is a short-lived process driving an embedded
// node directly — there is no remote manager to dial.
func openNode(cmd *cobra.Command) (*dwn.Node, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if dataDir == "" {
		dataDir, _ = rootCmd.PersistentFlags().GetString("data-dir")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("--data-dir is required")
	}
	return dwn.NewNode(dwn.Config{DataDir: dataDir})
}

// signatureService returns a signing-only signature.Service; Sign never
// resolves a DID, so the did:key resolver is wired purely to satisfy the
// constructor.
func signatureService() *signature.Service {
	return signature.NewService(did.NewKeyResolver())
}

func printReply(reply *dwn.Reply, err error) {
	if reply == nil {
		return
	}
	raw, _ := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, string(raw))
		return
	}
	fmt.Println(string(raw))
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}
