package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/record"
)

var protocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "Configure and query protocol definitions",
}

var protocolsConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Install a protocol definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		keyPath, _ := cmd.Flags().GetString("key")
		defPath, _ := cmd.Flags().GetString("definition")

		raw, err := os.ReadFile(defPath)
		if err != nil {
			return fmt.Errorf("read --definition: %w", err)
		}
		var def dwntypes.ProtocolDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return fmt.Errorf("decode protocol definition: %w", err)
		}

		signerDID, priv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		desc := dwntypes.NewProtocolsConfigureDescriptor()
		desc.Definition = def
		desc.MessageTimestamp = time.Now().UTC()

		msg := &dwntypes.Message{Descriptor: desc}
		sigSvc := signatureService()
		if err := record.Sign(sigSvc, msg, did.DefaultKeyID(signerDID), priv, record.SignaturePayloadOptions{}); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.ConfigureProtocol(tenant, msg)
		printReply(reply, err)
		return nil
	},
}

var protocolsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Fetch the newest definition for a protocol URI",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		requester, _ := cmd.Flags().GetString("requester")
		protocolURI, _ := cmd.Flags().GetString("protocol")

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		def, reply, err := node.QueryProtocols(tenant, requester, protocolURI)
		if err != nil {
			printReply(reply, err)
			return nil
		}
		return printJSON(def)
	},
}

func init() {
	protocolsConfigureCmd.Flags().String("tenant", "", "tenant DID")
	protocolsConfigureCmd.Flags().String("key", "", "path to the tenant's key file")
	protocolsConfigureCmd.Flags().String("definition", "", "path to a JSON protocol definition")

	protocolsQueryCmd.Flags().String("tenant", "", "tenant DID")
	protocolsQueryCmd.Flags().String("requester", "", "requester DID, empty for unauthenticated")
	protocolsQueryCmd.Flags().String("protocol", "", "protocol URI")

	protocolsCmd.AddCommand(protocolsConfigureCmd, protocolsQueryCmd)
}
