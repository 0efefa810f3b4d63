package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	serverrun "github.com/rosterhq/roster/internal/cmd/server"
	cfgpkg "github.com/rosterhq/roster/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roster",
		Short: "Roster ingestion CLI",
		Long:  "Roster is a single-binary student-record ingestion service. This CLI manages the server and basic operations.",
	}

	// server start
	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start roster server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if fsyncMode != "" {
				cfg.FsyncMode = fsyncMode
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}

			if err := serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("ROSTER_CONFIG"), "Path to a JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (defaults to an OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().String("log-level", os.Getenv("ROSTER_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("ROSTER_LOG_FORMAT"), "Log format: text|json (default text)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	// submit
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one student change request",
		RunE: func(cmd *cobra.Command, args []string) error {
			op, _ := cmd.Flags().GetString("operation")
			target, _ := cmd.Flags().GetString("target")
			fields, _ := cmd.Flags().GetStringToString("field")
			body, _ := json.Marshal(map[string]any{
				"operation": op,
				"source":    "api",
				"target_id": target,
				"payload":   fields,
			})
			resp, err := http.Post(apiURL()+"/v1/submissions", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Println("status:", resp.Status)
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	submitCmd.Flags().String("operation", "create", "Operation: create|update|delete")
	submitCmd.Flags().String("target", "", "Target person id (update/delete)")
	submitCmd.Flags().StringToString("field", nil, "Payload field, repeatable (e.g. --field name=Ada)")
	rootCmd.AddCommand(submitCmd)

	// csv upload
	csvCmd := &cobra.Command{
		Use:   "csv <file>",
		Short: "Upload a CSV batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return uploadCSV(cmd.Context(), args[0])
		},
	}
	rootCmd.AddCommand(csvCmd)

	// requeue
	requeueCmd := &cobra.Command{
		Use:   "requeue <submission-id>",
		Short: "Re-queue a failed submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Post(apiURL()+"/v1/submissions/"+args[0]+"/requeue", "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Println("status:", resp.Status)
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	rootCmd.AddCommand(requeueCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show processing counters and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/stats")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func uploadCSV(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL()+"/v1/submissions/csv", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	fmt.Println("status:", resp.Status)
	_, err = io.Copy(os.Stdout, resp.Body)
	return err
}

func apiURL() string {
	if v := os.Getenv("ROSTER_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
