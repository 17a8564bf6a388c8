// Package toolgate implements a streamable HTTP transport for a JSON-RPC
// based tool-invocation protocol. A single endpoint accepts POSTed JSON-RPC
// requests, notifications and batches, answering either with one JSON
// document or with a Server-Sent-Events stream; GET opens a long-lived,
// resumable event stream per session, and DELETE tears the session down.
//
// Example:
//
// This example registers an "echo" tool and serves it on /mcp.
//
//	package main
//
//	import (
//		"context"
//		"encoding/json"
//
//		"github.com/shaharia-lab/toolgate"
//	)
//
//	func main() {
//		registry := toolgate.NewToolsProvider()
//		err := registry.AddTools(toolgate.Tool{
//			Name:        "echo",
//			Description: "Echoes the arguments back to the caller.",
//			Schema: map[string]toolgate.ParamSchema{
//				"message": toolgate.StringParam(),
//			},
//			Handler: func(ctx context.Context, inv toolgate.ToolInvocation) (interface{}, error) {
//				var args map[string]interface{}
//				if err := json.Unmarshal(inv.Arguments, &args); err != nil {
//					return nil, err
//				}
//				return args, nil
//			},
//		})
//		if err != nil {
//			panic(err)
//		}
//
//		baseServer, err := toolgate.NewBaseServer(
//			registry,
//			toolgate.UseServerInfo("echo-server", "1.0.0"),
//			toolgate.UseAddress(":8080"),
//		)
//		if err != nil {
//			panic(err)
//		}
//
//		server := toolgate.NewStreamableServer(baseServer)
//		if err := server.Run(context.Background()); err != nil {
//			panic(err)
//		}
//	}
package toolgate
