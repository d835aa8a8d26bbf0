package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/viant/afs"
	"github.com/viant/mcphub"
	"github.com/viant/mcphub/auth"
	"github.com/viant/mcphub/auth/store"
	"gopkg.in/yaml.v3"
)

// Config is the YAML document listing servers to coordinate.
type Config struct {
	Servers []*mcphub.ServerSpec `yaml:"servers"`
}

func run(args []string) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}
	ctx := context.Background()
	config, err := loadConfig(ctx, options.ConfigURL)
	if err != nil {
		return err
	}
	coordinator := mcphub.New(
		mcphub.WithStore(tokenStore(options)),
		mcphub.WithLogger(logger(options)),
	)
	defer coordinator.StopAll(ctx)
	if options.Verbose {
		go logEvents(coordinator)
	}

	result, err := coordinator.StartAllAndWait(ctx, config.Servers)
	if err != nil {
		return err
	}
	for _, id := range result.Connected {
		fmt.Printf("connected: %s\n", id)
	}
	for _, failure := range result.Failed {
		fmt.Printf("failed:    %s: %s\n", failure.ID, failure.Message)
	}
	if options.Tool != "" {
		return callTool(ctx, coordinator, options)
	}
	return listTools(coordinator, options)
}

func loadConfig(ctx context.Context, URL string) (*Config, error) {
	data, err := afs.New().DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	config := &Config{}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if len(config.Servers) == 0 {
		return nil, fmt.Errorf("config %s lists no servers", URL)
	}
	return config, nil
}

// tokenStore picks the strongest store the options allow: encrypted when a
// key is supplied, plain file when only a location is, memory otherwise.
func tokenStore(options *Options) auth.TokenStore {
	switch {
	case options.TokensURL != "" && options.Key != "":
		return store.NewScyStore(options.TokensURL, options.Key)
	case options.TokensURL != "":
		return store.NewFileStore(options.TokensURL)
	default:
		return store.NewMemoryStore()
	}
}

func logger(options *Options) *slog.Logger {
	level := slog.LevelWarn
	if options.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func logEvents(coordinator *mcphub.Coordinator) {
	for event := range coordinator.Events() {
		switch event.Kind {
		case mcphub.EventStateChanged:
			fmt.Fprintf(os.Stderr, "%s: %s\n", event.ServerID, event.State)
		case mcphub.EventWarning:
			fmt.Fprintf(os.Stderr, "%s: warning: %s\n", event.ServerID, event.Message)
		}
	}
}

func callTool(ctx context.Context, coordinator *mcphub.Coordinator, options *Options) error {
	serverID, toolName, found := strings.Cut(options.Tool, "/")
	if !found {
		return fmt.Errorf("tool must be serverID/toolName, got %q", options.Tool)
	}
	var arguments map[string]interface{}
	if options.Args != "" {
		if err := json.Unmarshal([]byte(options.Args), &arguments); err != nil {
			return fmt.Errorf("failed to parse tool arguments: %w", err)
		}
	}
	result, err := coordinator.CallTool(ctx, serverID, toolName, arguments, options.Timeout)
	if err != nil {
		return err
	}
	output, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func listTools(coordinator *mcphub.Coordinator, options *Options) error {
	var filter mcphub.ToolFilter
	if options.Match != "" {
		filter = mcphub.MatchPattern(options.Match)
	}
	for _, tool := range coordinator.Tools(filter) {
		fmt.Printf("%s/%s", tool.ServerID, tool.Tool.Name)
		if tool.Tool.Description != nil {
			fmt.Printf("  %s", *tool.Tool.Description)
		}
		fmt.Println()
	}
	return nil
}
