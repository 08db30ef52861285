package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query and subscribe to a tenant's event log",
}

var eventsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Replay the event log from an optional cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		filterStr, _ := cmd.Flags().GetString("filter")
		cursor, _ := cmd.Flags().GetString("cursor")

		filter, err := parseFilter(filterStr)
		if err != nil {
			return err
		}
		var filters []dwntypes.Filter
		if len(filter) > 0 {
			filters = []dwntypes.Filter{filter}
		}

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		entries, next, reply, err := node.QueryEvents(tenant, filters, cursor)
		if err != nil {
			printReply(reply, err)
			return nil
		}
		if err := printJSON(entries); err != nil {
			return err
		}
		fmt.Printf("cursor: %s\n", next)
		return nil
	},
}

var eventsSubscribeCmd = &cobra.Command{
	Use:   "subscribe",
	Short: "Subscribe to a tenant's live event feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, _ := cmd.Flags().GetString("tenant")
		subscriptionID, _ := cmd.Flags().GetString("subscription-id")

		node, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer node.Close()

		reply, err := node.SubscribeEvents(tenant, subscriptionID, func(ev dwntypes.Event) {
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

func init() {
	eventsQueryCmd.Flags().String("tenant", "", "tenant DID")
	eventsQueryCmd.Flags().String("filter", "", "comma-separated key=value index filter")
	eventsQueryCmd.Flags().String("cursor", "", "pagination cursor")

	eventsSubscribeCmd.Flags().String("tenant", "", "tenant DID")
	eventsSubscribeCmd.Flags().String("subscription-id", "", "subscription id")

	eventsCmd.AddCommand(eventsQueryCmd, eventsSubscribeCmd)
}
