package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var apiBase string

	cmd := &cobra.Command{
		Use:           "forgectl",
		Short:         "Utility for managing forged builds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&apiBase, "api", envOr("FORGED_API_URL", "http://127.0.0.1:8080"), "Base URL of the forged API")

	cmd.AddCommand(newTriggerCommand(&apiBase))
	cmd.AddCommand(newGetCommand(&apiBase))
	cmd.AddCommand(newKillCommand(&apiBase))
	cmd.AddCommand(newStopCommand(&apiBase))
	cmd.AddCommand(newTailCommand(&apiBase))
	return cmd
}

func newTriggerCommand(apiBase *string) *cobra.Command {
	var (
		projectID    string
		ref          string
		hash         string
		allowRebuild bool
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Schedule a build for a project ref",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"project_id":    projectID,
				"ref":           ref,
				"allow_rebuild": allowRebuild,
			}
			if hash != "" {
				body["hash"] = hash
			}
			return call(cmd, http.MethodPost, *apiBase, "/v1/builds", body)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project UUID")
	cmd.Flags().StringVar(&ref, "ref", "", "Branch, tag, or pull ref to build")
	cmd.Flags().StringVar(&hash, "hash", "", "Commit hash (resolved from the ref when omitted)")
	cmd.Flags().BoolVar(&allowRebuild, "allow-rebuild", false, "Schedule even if the hash was already built")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func newGetCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <build-id>",
		Short: "Show a build record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, *apiBase, "/v1/builds/"+args[0], nil)
		},
	}
}

func newKillCommand(apiBase *string) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "kill <build-id>",
		Short: "Forcibly terminate a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]any
			if message != "" {
				body = map[string]any{"message": message}
			}
			return call(cmd, http.MethodPost, *apiBase, "/v1/builds/"+args[0]+"/kill", body)
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Reason recorded on the build")
	return cmd
}

func newStopCommand(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <build-id>",
		Short: "Ask the builder to stop a build gracefully",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPost, *apiBase, "/v1/builds/"+args[0]+"/stop", nil)
		},
	}
}

func newTailCommand(apiBase *string) *cobra.Command {
	var follow bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "tail <build-id>",
		Short: "Print the output log of a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			printed := 0
			for {
				records, err := fetchLog(*apiBase, args[0])
				if err != nil {
					return err
				}
				for _, rec := range records[printed:] {
					fmt.Fprintln(cmd.OutOrStdout(), string(rec))
				}
				printed = len(records)
				if !follow {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll for new output until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval when following")
	return cmd
}

func fetchLog(apiBase, id string) ([]json.RawMessage, error) {
	resp, err := http.Get(strings.TrimRight(apiBase, "/") + "/v1/builds/" + id + "/log")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("api returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

func call(cmd *cobra.Command, method, apiBase, path string, body any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiBase, "/")+path, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("api returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(data)))
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
