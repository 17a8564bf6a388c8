package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaharia-lab/toolgate"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	registry := toolgate.NewToolsProvider()
	err := registry.AddTools(
		toolgate.Tool{
			Name:        "echo",
			Description: "Returns the supplied message unchanged",
			Schema: map[string]toolgate.ParamSchema{
				"message": toolgate.StringParam().WithDescription("Text to echo back"),
			},
			Handler: func(ctx context.Context, inv toolgate.ToolInvocation) (interface{}, error) {
				var args struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(inv.Arguments, &args); err != nil {
					return nil, err
				}
				return map[string]string{"message": args.Message}, nil
			},
		},
		toolgate.Tool{
			Name:        "add",
			Description: "Adds two numbers",
			Schema: map[string]toolgate.ParamSchema{
				"a": toolgate.NumberParam(),
				"b": toolgate.NumberParam(),
			},
			Handler: func(ctx context.Context, inv toolgate.ToolInvocation) (interface{}, error) {
				var args struct {
					A float64 `json:"a"`
					B float64 `json:"b"`
				}
				if err := json.Unmarshal(inv.Arguments, &args); err != nil {
					return nil, err
				}
				return map[string]float64{"sum": args.A + args.B}, nil
			},
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to register tools: %v\n", err)
		os.Exit(1)
	}

	baseServer, err := toolgate.NewBaseServer(
		registry,
		toolgate.UseLogger(toolgate.NewLogrusLogger(logger)),
		toolgate.UseServerInfo("toolgate-demo", "0.1.0"),
		toolgate.UseAddress(":8080"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build server: %v\n", err)
		os.Exit(1)
	}

	server := toolgate.NewStreamableServer(baseServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "server exited: %v\n", err)
		os.Exit(1)
	}
}
