package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

const endpoint = "http://localhost:8080/mcp"

func post(client *http.Client, sessionID, body string) (string, []byte) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader([]byte(body)))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	return resp.Header.Get("Mcp-Session-Id"), data
}

func main() {
	client := &http.Client{}

	// Initialize and capture the session id for the rest of the exchange.
	sessionID, data := post(client, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","clientInfo":{"name":"toolgate-test-client","version":"0.1.0"}}}`)
	log.Printf("Session: %s", sessionID)
	log.Printf("Initialize: %s", data)

	_, data = post(client, sessionID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	var listResp struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &listResp); err != nil {
		log.Fatalf("Failed to decode tools/list response: %v", err)
	}
	for _, tool := range listResp.Result.Tools {
		log.Printf("Tool: %s - %s", tool.Name, tool.Description)
	}

	_, data = post(client, sessionID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"add","arguments":{"a":2,"b":3}}}`)
	log.Printf("tools/call add: %s", data)

	fmt.Println("done")
}
