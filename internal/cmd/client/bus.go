// Package client contains Cobra CLI commands for relay.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewBusCommand constructs the `bus` command group and subcommands.
func NewBusCommand(baseURL BaseURLFunc) *cobra.Command {
	busCmd := &cobra.Command{Use: "bus", Short: "Bus operations"}

	busCmd.AddCommand(
		newPublishCommand(baseURL),
		newPollCommand(baseURL),
		newTailCommand(baseURL),
		newBacklogCommand(baseURL),
		newLastIDCommand(baseURL),
	)

	return busCmd
}

// wireMessage mirrors the server's message shape.
type wireMessage struct {
	GlobalID  uint64          `json:"global_id"`
	MessageID uint64          `json:"message_id"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
}

// parseChannelArgs reads repeated --channel values of the form "name" or
// "name=cursor". A missing cursor starts from the beginning of the backlog;
// "name=-1" starts from now.
func parseChannelArgs(values []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(values))
	for _, v := range values {
		name, cursor := v, "0"
		if i := strings.LastIndex(v, "="); i >= 0 {
			name, cursor = v[:i], v[i+1:]
		}
		if name == "" {
			return nil, fmt.Errorf("invalid --channel %q", v)
		}
		if !json.Valid([]byte(cursor)) {
			return nil, fmt.Errorf("invalid cursor in --channel %q", v)
		}
		out[name] = json.RawMessage(cursor)
	}
	return out, nil
}

func postJSON(url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("server: %s %s", resp.Status, e["error"])
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("server: %s %s", resp.Status, e["error"])
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// newPublishCommand constructs the `bus publish` subcommand.
func newPublishCommand(baseURL BaseURLFunc) *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a message to a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			data, _ := cmd.Flags().GetString("data")
			clientIDs, _ := cmd.Flags().GetStringArray("client-id")
			userIDs, _ := cmd.Flags().GetInt64Slice("user-id")
			maxBacklog, _ := cmd.Flags().GetInt("max-backlog")

			payload := json.RawMessage(data)
			if !json.Valid(payload) {
				// Treat non-JSON input as a plain string payload.
				b, err := json.Marshal(data)
				if err != nil {
					return err
				}
				payload = b
			}
			var resp map[string]uint64
			err := postJSON(baseURL()+"/v1/bus/publish", map[string]any{
				"channel":          channel,
				"data":             payload,
				"client_ids":       clientIDs,
				"user_ids":         userIDs,
				"max_backlog_size": maxBacklog,
			}, &resp)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
	publishCmd.Flags().StringP("channel", "c", "", "Channel name")
	publishCmd.Flags().StringP("data", "d", "", "Message payload (JSON or plain text)")
	publishCmd.Flags().StringArray("client-id", nil, "Restrict delivery to these client ids (repeatable)")
	publishCmd.Flags().Int64Slice("user-id", nil, "Restrict delivery to these user ids (repeatable)")
	publishCmd.Flags().Int("max-backlog", 0, "Override the channel backlog bound for this publish")
	_ = publishCmd.MarkFlagRequired("channel")
	return publishCmd
}

// pollOnce performs a single long-poll and returns the delivered batch.
func pollOnce(baseURL BaseURLFunc, clientID string, channels map[string]json.RawMessage) (string, []wireMessage, error) {
	var resp struct {
		ClientID string        `json:"client_id"`
		Messages []wireMessage `json:"messages"`
	}
	err := postJSON(baseURL()+"/v1/bus/poll", map[string]any{
		"client_id": clientID,
		"channels":  channels,
	}, &resp)
	if err != nil {
		return clientID, nil, err
	}
	return resp.ClientID, resp.Messages, nil
}

// newPollCommand constructs the `bus poll` subcommand.
func newPollCommand(baseURL BaseURLFunc) *cobra.Command {
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Long-poll channels once and print delivered messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channelArgs, _ := cmd.Flags().GetStringArray("channel")
			clientID, _ := cmd.Flags().GetString("client-id")
			channels, err := parseChannelArgs(channelArgs)
			if err != nil {
				return err
			}
			if clientID == "" {
				clientID = uuid.NewString()
			}
			_, msgs, err := pollOnce(baseURL, clientID, channels)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, m := range msgs {
				_ = enc.Encode(m)
			}
			return nil
		},
	}
	pollCmd.Flags().StringArrayP("channel", "c", nil, "Channel with optional cursor: name or name=cursor (repeatable)")
	pollCmd.Flags().String("client-id", "", "Client id (default: random UUID)")
	_ = pollCmd.MarkFlagRequired("channel")
	return pollCmd
}

// newTailCommand constructs the `bus tail` subcommand: a poll loop with
// cursor tracking that prints messages as they arrive.
func newTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow channels and print messages as they arrive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channelArgs, _ := cmd.Flags().GetStringArray("channel")
			clientID, _ := cmd.Flags().GetString("client-id")
			limit, _ := cmd.Flags().GetInt("limit")
			channels, err := parseChannelArgs(channelArgs)
			if err != nil {
				return err
			}
			if clientID == "" {
				clientID = uuid.NewString()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			seen := 0
			for {
				if err := cmd.Context().Err(); err != nil {
					return nil
				}
				assigned, msgs, err := pollOnce(baseURL, clientID, channels)
				if err != nil {
					return err
				}
				clientID = assigned
				for _, m := range msgs {
					_ = enc.Encode(m)
					if cur, ok := channels[m.Channel]; ok {
						var prev int64 = -1
						_ = json.Unmarshal(cur, &prev)
						if int64(m.MessageID) > prev {
							channels[m.Channel] = json.RawMessage(fmt.Sprintf("%d", m.MessageID))
						}
					}
					seen++
					if limit > 0 && seen >= limit {
						return nil
					}
				}
			}
		},
	}
	tailCmd.Flags().StringArrayP("channel", "c", nil, "Channel with optional cursor: name or name=cursor (repeatable)")
	tailCmd.Flags().String("client-id", "", "Client id (default: random UUID)")
	tailCmd.Flags().Int("limit", 0, "Stop after N messages (0 = infinite)")
	_ = tailCmd.MarkFlagRequired("channel")
	return tailCmd
}

// newBacklogCommand constructs the `bus backlog` subcommand.
func newBacklogCommand(baseURL BaseURLFunc) *cobra.Command {
	backlogCmd := &cobra.Command{
		Use:   "backlog",
		Short: "Print retained history for a channel (or globally)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			since, _ := cmd.Flags().GetUint64("since")
			url := fmt.Sprintf("%s/v1/bus/backlog?channel=%s&since=%d", baseURL(), channel, since)
			var resp struct {
				Messages []wireMessage `json:"messages"`
			}
			if err := getJSON(url, &resp); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, m := range resp.Messages {
				_ = enc.Encode(m)
			}
			return nil
		},
	}
	backlogCmd.Flags().StringP("channel", "c", "", "Channel name (empty for the global backlog)")
	backlogCmd.Flags().Uint64("since", 0, "Return messages after this id")
	return backlogCmd
}

// newLastIDCommand constructs the `bus last-id` subcommand.
func newLastIDCommand(baseURL BaseURLFunc) *cobra.Command {
	lastIDCmd := &cobra.Command{
		Use:   "last-id",
		Short: "Print the latest assigned id for a channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channel, _ := cmd.Flags().GetString("channel")
			var resp map[string]uint64
			if err := getJSON(baseURL()+"/v1/bus/last-id?channel="+channel, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp["last_id"])
			return nil
		},
	}
	lastIDCmd.Flags().StringP("channel", "c", "", "Channel name")
	_ = lastIDCmd.MarkFlagRequired("channel")
	return lastIDCmd
}
