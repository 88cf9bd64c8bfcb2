package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/persistence"
	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/relaydeck/relaydeck/internal/util"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Fetch, count, and delete stored channel history",
}

var historyFetchCmd = &cobra.Command{
	Use:   "fetch <channels>",
	Short: "Fetch historical messages past the per-call cap",
	Long: `Fetch up to --count historical messages per channel, paginating
through the persistence API as many times as needed. Channels is a
comma-separated list.

Examples:
  relaydeck history fetch alerts --count 500
  relaydeck history fetch alerts,metrics --count 250 --start 16966540800000000
  relaydeck history fetch alerts --count 1000 --end 16970000000000000 --concurrency 4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		delayMs, _ := cmd.Flags().GetInt("delay-ms")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		quiet, _ := cmd.Flags().GetBool("quiet")
		return fetchHistory(util.ParseChannelList(args[0]), count, start, end, delayMs, concurrency, quiet)
	},
}

var historyCountCmd = &cobra.Command{
	Use:   "count <channels>",
	Short: "Count stored messages per channel since a timetoken",
	Long: `Count how many messages are stored on each channel after a
timetoken. Channels is a comma-separated list.

Examples:
  relaydeck history count alerts
  relaydeck history count alerts,metrics --since 16966540800000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetString("since")
		return countHistory(util.ParseChannelList(args[0]), since)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <channel>",
	Short: "Delete stored messages in a timetoken range",
	Long: `Delete stored messages on a channel. With --timetoken a single
message is removed; with --start and --end the range (start, end] is removed.

Examples:
  relaydeck history delete alerts --timetoken 16966540800000000
  relaydeck history delete alerts --start 16966540800000000 --end 16970000000000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tt, _ := cmd.Flags().GetString("timetoken")
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		return deleteHistory(args[0], tt, start, end)
	},
}

func init() {
	historyCmd.AddCommand(historyFetchCmd)
	historyCmd.AddCommand(historyCountCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyFetchCmd.Flags().IntP("count", "c", 100, "Number of messages to fetch per channel")
	historyFetchCmd.Flags().String("start", "", "Window start timetoken (exclusive)")
	historyFetchCmd.Flags().String("end", "", "Window end timetoken (inclusive)")
	historyFetchCmd.Flags().Int("delay-ms", 0, "Pause between batch fetches (negative disables)")
	historyFetchCmd.Flags().Int("concurrency", 1, "Channels fetched in parallel")
	historyFetchCmd.Flags().BoolP("quiet", "q", false, "Suppress progress output")

	historyCountCmd.Flags().String("since", "1", "Count messages stored after this timetoken")

	historyDeleteCmd.Flags().String("timetoken", "", "Delete a single message by timetoken")
	historyDeleteCmd.Flags().String("start", "", "Range start timetoken (exclusive)")
	historyDeleteCmd.Flags().String("end", "", "Range end timetoken (inclusive)")
}

func newPersistenceClient() (*persistence.Client, error) {
	return persistence.NewClient(persistence.Config{
		Origin:       origin,
		SubscribeKey: subscribeKey,
		AuthKey:      authKey,
	})
}

func parseOptionalToken(s, name string) (*timetoken.Timetoken, error) {
	if s == "" {
		return nil, nil
	}
	tt, err := timetoken.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s timetoken: %w", name, err)
	}
	return &tt, nil
}

func fetchHistory(channels []string, count int, start, end string, delayMs, concurrency int, quiet bool) error {
	client, err := newPersistenceClient()
	if err != nil {
		return err
	}

	startTT, err := parseOptionalToken(start, "start")
	if err != nil {
		return err
	}
	endTT, err := parseOptionalToken(end, "end")
	if err != nil {
		return err
	}

	opts := history.Options{Concurrency: concurrency}
	if delayMs != 0 {
		opts.Delay = time.Duration(delayMs) * time.Millisecond
	}
	if !quiet && output == "text" {
		opts.OnProgress = func(p history.Progress) {
			fmt.Fprintf(os.Stderr, "  %s: batch %d/%d, %d/%d records\n",
				p.Channel, p.Batch, p.TotalBatches, p.Current, p.Total)
		}
	}

	retriever := history.NewRetriever(client, opts)
	results, err := retriever.Fetch(context.Background(), history.Request{
		Channels:    channels,
		TargetCount: count,
		Window:      history.Window{Start: startTT, End: endTT},
	})
	if err != nil {
		return err
	}

	if output == "json" {
		return printJSON(results)
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Printf("%s: FAILED after %d records: %v\n", res.Channel, len(res.Records), res.Err)
			continue
		}
		fmt.Printf("%s: %d records", res.Channel, len(res.Records))
		if len(res.Records) > 0 {
			oldest := res.Records[0].Timetoken
			newest := res.Records[len(res.Records)-1].Timetoken
			fmt.Printf(" (%s .. %s)", oldest, newest)
		}
		fmt.Println()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(results))
	}
	return nil
}

func countHistory(channels []string, since string) error {
	client, err := newPersistenceClient()
	if err != nil {
		return err
	}

	sinceTT, err := timetoken.Parse(since)
	if err != nil {
		return fmt.Errorf("invalid since timetoken: %w", err)
	}

	counts, err := client.MessageCounts(context.Background(), channels, sinceTT)
	if err != nil {
		return err
	}

	if output == "json" {
		return printJSON(counts)
	}
	for _, ch := range channels {
		fmt.Printf("%s: %d\n", ch, counts[ch])
	}
	return nil
}

func deleteHistory(channel, tt, start, end string) error {
	client, err := newPersistenceClient()
	if err != nil {
		return err
	}

	switch {
	case tt != "":
		token, err := timetoken.Parse(tt)
		if err != nil {
			return fmt.Errorf("invalid timetoken: %w", err)
		}
		if err := client.DeleteMessage(context.Background(), channel, token); err != nil {
			return err
		}
		fmt.Printf("deleted message %s on %s\n", token, channel)
		return nil

	case start != "" && end != "":
		startTT, err := timetoken.Parse(start)
		if err != nil {
			return fmt.Errorf("invalid start timetoken: %w", err)
		}
		endTT, err := timetoken.Parse(end)
		if err != nil {
			return fmt.Errorf("invalid end timetoken: %w", err)
		}
		if err := client.DeleteRange(context.Background(), channel, startTT, endTT); err != nil {
			return err
		}
		fmt.Printf("deleted history (%s, %s] on %s\n", startTT, endTT, channel)
		return nil

	default:
		return fmt.Errorf("either --timetoken or both --start and --end are required")
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
