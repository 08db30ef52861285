package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/record"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Write, read, query, delete, and subscribe to records",
}

var recordsWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		keyPath, _ := cmd.Flags().GetString("key")
		dataPath, _ := cmd.Flags().GetString("data-file")
		protocol, _ := cmd.Flags().GetString("protocol")
		protocolPath, _ := cmd.Flags().GetString("protocol-path")
		recipient, _ := cmd.Flags().GetString("recipient")
		schema, _ := cmd.Flags().GetString("schema")
		dataFormat, _ := cmd.Flags().GetString("data-format")
		parentContextID, _ := cmd.Flags().GetString("parent-context-id")
		published, _ := cmd.Flags().GetBool("published")
		tagsJSON, _ := cmd.Flags().GetString("tags")

		data, err := readPayload(dataPath)
		if err != nil {
			return err
		}
		var tags map[string]any
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
				return fmt.Errorf("decode --tags: %w", err)
			}
		}

		signerDID, priv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		desc, err := record.BuildDescriptor(record.WriteOptions{
			Data:            data,
			DataFormat:      dataFormat,
			Protocol:        protocol,
			ProtocolPath:    protocolPath,
			Recipient:       recipient,
			Schema:          schema,
			ParentContextID: parentContextID,
			Tags:            tags,
			Published:       published,
		})
		if err != nil {
			return fmt.Errorf("build descriptor: %w", err)
		}
		entryID, err := record.EntryID(desc, signerDID)
		if err != nil {
			return err
		}
		contextID := record.ContextID(protocol, entryID, parentContextID)
		msg := &dwntypes.Message{RecordID: entryID, ContextID: contextID, Descriptor: desc}

		sigSvc := signatureService()
		if err := record.Sign(sigSvc, msg, did.DefaultKeyID(signerDID), priv, record.SignaturePayloadOptions{}); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.WriteRecord(tenant, msg, data)
		printReply(reply, err)
		fmt.Printf("recordId: %s\n", msg.RecordID)
		return nil
	},
}

var recordsReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the latest base state of a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		requester, _ := cmd.Flags().GetString("requester")
		recordID, _ := cmd.Flags().GetString("record-id")

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		msg, reply, err := node.ReadRecord(tenant, requester, recordID)
		if err != nil {
			printReply(reply, err)
			return nil
		}
		return printJSON(msg)
	},
}

var recordsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query records matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		requester, _ := cmd.Flags().GetString("requester")
		grantID, _ := cmd.Flags().GetString("grant-id")
		filterStr, _ := cmd.Flags().GetString("filter")
		cursor, _ := cmd.Flags().GetString("cursor")
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := parseFilter(filterStr)
		if err != nil {
			return err
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		msgs, next, reply, err := node.QueryRecords(tenant, requester, grantID, []dwntypes.Filter{filter}, dwntypes.Pagination{Cursor: cursor, Limit: limit})
		if err != nil {
			printReply(reply, err)
			return nil
		}
		if err := printJSON(msgs); err != nil {
			return err
		}
		fmt.Printf("cursor: %s\n", next)
		return nil
	},
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		keyPath, _ := cmd.Flags().GetString("key")
		recordID, _ := cmd.Flags().GetString("record-id")
		prune, _ := cmd.Flags().GetBool("prune")

		signerDID, priv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		msg := record.NewDelete(recordID, prune, time.Time{})
		sigSvc := signatureService()
		if err := record.Sign(sigSvc, msg, did.DefaultKeyID(signerDID), priv, record.SignaturePayloadOptions{}); err != nil {
			return fmt.Errorf("sign message: %w", err)
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.DeleteRecord(tenant, msg)
		printReply(reply, err)
		return nil
	},
}

var recordsSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to a tenant's live record event feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		subscriptionID, _ := cmd.Flags().GetString("subscription-id")

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.SubscribeRecords(tenant, subscriptionID, func(ev dwntypes.Event) {
			raw, _ := json.Marshal(ev)
			fmt.Println(string(raw))
		})
		if err != nil {
			printReply(reply, err)
			return nil
		}

		fmt.Println("subscribed, press Ctrl+C to stop")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		node.Unsubscribe(tenant, subscriptionID)
		return nil
	},
}

func parseFilter(s string) (dwntypes.Filter, error) {
	f := dwntypes.Filter{}
	if s == "" {
		return f, nil
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed filter clause %q, expected key=value", pair)
		}
		f[kv[0]] = kv[1]
	}
	return f, nil
}

func readPayload(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func init() {
	recordsWriteCmd.Flags().String("tenant", "", "tenant DID")
	recordsWriteCmd.Flags().String("key", "", "path to the author's key file")
	recordsWriteCmd.Flags().String("data-file", "", "path to the record's payload, or - for stdin")
	recordsWriteCmd.Flags().String("protocol", "", "protocol URI")
	recordsWriteCmd.Flags().String("protocol-path", "", "protocol path")
	recordsWriteCmd.Flags().String("recipient", "", "recipient DID")
	recordsWriteCmd.Flags().String("schema", "", "schema URI")
	recordsWriteCmd.Flags().String("data-format", "application/json", "MIME type of the payload")
	recordsWriteCmd.Flags().String("parent-context-id", "", "parent write's contextId")
	recordsWriteCmd.Flags().Bool("published", false, "mark the record published")
	recordsWriteCmd.Flags().String("tags", "", "JSON object of tag values")

	recordsReadCmd.Flags().String("tenant", "", "tenant DID")
	recordsReadCmd.Flags().String("requester", "", "requester DID, empty for unauthenticated")
	recordsReadCmd.Flags().String("record-id", "", "record id to read")

	recordsQueryCmd.Flags().String("tenant", "", "tenant DID")
	recordsQueryCmd.Flags().String("requester", "", "requester DID, empty for unauthenticated")
	recordsQueryCmd.Flags().String("grant-id", "", "permission grant to invoke for the query")
	recordsQueryCmd.Flags().String("filter", "", "comma-separated key=value index filter")
	recordsQueryCmd.Flags().String("cursor", "", "pagination cursor")
	recordsQueryCmd.Flags().Int("limit", 0, "maximum results, 0 for unlimited")

	recordsDeleteCmd.Flags().String("tenant", "", "tenant DID")
	recordsDeleteCmd.Flags().String("key", "", "path to the author's key file")
	recordsDeleteCmd.Flags().String("record-id", "", "record id to delete")
	recordsDeleteCmd.Flags().Bool("prune", false, "also prune the record's descendants")

	recordsSubscribeCmd.Flags().String("tenant", "", "tenant DID")
	recordsSubscribeCmd.Flags().String("subscription-id", "", "subscription id")

	recordsCmd.AddCommand(recordsWriteCmd, recordsReadCmd, recordsQueryCmd, recordsDeleteCmd, recordsSubscribeCmd)
}
