package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwn"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/record"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Grant and revoke permission grants",
}

var permissionsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Issue a permission grant",
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		grantedTo, _ := cmd.Flags().GetString("granted-to")
		grantedFor, _ := cmd.Flags().GetString("granted-for")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")
		delegated, _ := cmd.Flags().GetBool("delegated")
		scopeJSON, _ := cmd.Flags().GetString("scope")

		var scope dwntypes.GrantScope
		if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
			return fmt.Errorf("decode --scope: %w", err)
		}

		grantedBy, priv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		opts := dwn.GrantOptions{
			GrantedTo:  grantedTo,
			GrantedBy:  grantedBy,
			GrantedFor: grantedFor,
			Scope:      scope,
			Delegated:  delegated,
		}
		if expiresIn > 0 {
			opts.DateExpires = time.Now().UTC().Add(expiresIn)
		}

		msg, data, err := dwn.BuildGrant(opts)
		if err != nil {
			return fmt.Errorf("build grant: %w", err)
		}

		sigSvc := signatureService()
		if err := record.Sign(sigSvc, msg, did.DefaultKeyID(grantedBy), priv, record.SignaturePayloadOptions{}); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.WriteRecord(grantedFor, msg, data)
		printReply(reply, err)
		fmt.Printf("grantId: %s\n", msg.RecordID)
		return nil
	},
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke a previously issued permission grant",
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("key")
		grantID, _ := cmd.Flags().GetString("grant-id")
		grantedFor, _ := cmd.Flags().GetString("granted-for")

		grantedBy, priv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		msg, data, err := dwn.BuildRevocation(grantID, grantedBy, time.Time{})
		if err != nil {
			return fmt.Errorf("build revocation: %w", err)
		}

		sigSvc := signatureService()
		if err := record.Sign(sigSvc, msg, did.DefaultKeyID(grantedBy), priv, record.SignaturePayloadOptions{}); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.WriteRecord(grantedFor, msg, data)
		printReply(reply, err)
		return nil
	},
}

func init() {
	permissionsGrantCmd.Flags().String("key", "", "path to the grantor's key file")
	permissionsGrantCmd.Flags().String("granted-to", "", "grantee DID")
	permissionsGrantCmd.Flags().String("granted-for", "", "tenant DID the grant is scoped under")
	permissionsGrantCmd.Flags().Duration("expires-in", 0, "grant lifetime, 0 for no expiry")
	permissionsGrantCmd.Flags().Bool("delegated", false, "mark the grant delegable")
	permissionsGrantCmd.Flags().String("scope", "{}", "JSON-encoded grant scope")

	permissionsRevokeCmd.Flags().String("key", "", "path to the grantor's key file")
	permissionsRevokeCmd.Flags().String("grant-id", "", "recordId of the grant to revoke")
	permissionsRevokeCmd.Flags().String("granted-for", "", "tenant DID the grant is scoped under")

	permissionsCmd.AddCommand(permissionsGrantCmd, permissionsRevokeCmd)
}
