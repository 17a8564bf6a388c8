package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"
)

const (
	ProtocolVersion   = "2025-03-26"
	defaultServerName = "toolgate-server"
	serverVersion     = "0.1.0"

	defaultEndpoint       = "/mcp"
	defaultHealthEndpoint = "/health"
	defaultAddress        = ":8080"

	defaultKeepAliveInterval = 30 * time.Second
	defaultMaxBodyBytes      = 4 << 20
)

// ServerConfig holds all configuration for BaseServer and the transports
// built on top of it.
type ServerConfig struct {
	logger             Logger
	protocolVersion    string
	serverName         string
	serverVersion      string
	capabilities       Capabilities
	endpoint           string
	healthEndpoint     string
	address            string
	allowedOrigins     []string
	trustedNetwork     bool
	sessionIdleTimeout time.Duration
	sweepInterval      time.Duration
	keepAliveInterval  time.Duration
	rateLimit          rate.Limit
	rateBurst          int
	maxBodyBytes       int64
	credentials        CredentialProvider
}

// ServerConfigOption is a function that modifies ServerConfig.
type ServerConfigOption func(*ServerConfig)

// UseLogger sets a custom logger.
func UseLogger(logger Logger) ServerConfigOption {
	return func(c *ServerConfig) {
		c.logger = logger
	}
}

// UseServerInfo sets server name and version.
func UseServerInfo(name, version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.serverName = name
		c.serverVersion = version
	}
}

// UseEndpoint sets the HTTP path the transport is served on.
func UseEndpoint(path string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.endpoint = path
	}
}

// UseAddress sets the server's listening address.
func UseAddress(address string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.address = address
	}
}

// UseAllowedOrigins configures an explicit Origin allow list. When set, only
// exact members are accepted.
func UseAllowedOrigins(origins []string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.allowedOrigins = origins
	}
}

// UseTrustedNetwork declares that the server runs inside a closed network and
// any Origin is acceptable. Ignored when an allow list is configured.
func UseTrustedNetwork() ServerConfigOption {
	return func(c *ServerConfig) {
		c.trustedNetwork = true
	}
}

// UseSessionIdleTimeout sets how long an untouched session survives.
func UseSessionIdleTimeout(d time.Duration) ServerConfigOption {
	return func(c *ServerConfig) {
		c.sessionIdleTimeout = d
	}
}

// UseSweepInterval sets how often expired sessions are swept.
func UseSweepInterval(d time.Duration) ServerConfigOption {
	return func(c *ServerConfig) {
		c.sweepInterval = d
	}
}

// UseKeepAliveInterval sets the SSE keep-alive interval.
func UseKeepAliveInterval(d time.Duration) ServerConfigOption {
	return func(c *ServerConfig) {
		c.keepAliveInterval = d
	}
}

// UseRateLimit enables per-session request rate limiting.
func UseRateLimit(limit rate.Limit, burst int) ServerConfigOption {
	return func(c *ServerConfig) {
		c.rateLimit = limit
		c.rateBurst = burst
	}
}

// UseMaxBodyBytes caps the size of a POST body.
func UseMaxBodyBytes(n int64) ServerConfigOption {
	return func(c *ServerConfig) {
		c.maxBodyBytes = n
	}
}

// UseCredentialProvider sets the provider handed to tool handlers.
func UseCredentialProvider(cp CredentialProvider) ServerConfigOption {
	return func(c *ServerConfig) {
		c.credentials = cp
	}
}

// UseCapabilities overrides the advertised capability document.
func UseCapabilities(capabilities Capabilities) ServerConfigOption {
	return func(c *ServerConfig) {
		c.capabilities = capabilities
	}
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		logger:             NewNullLogger(),
		protocolVersion:    ProtocolVersion,
		serverName:         defaultServerName,
		serverVersion:      serverVersion,
		endpoint:           defaultEndpoint,
		healthEndpoint:     defaultHealthEndpoint,
		address:            defaultAddress,
		sessionIdleTimeout: defaultSessionIdleTimeout,
		sweepInterval:      defaultSweepInterval,
		keepAliveInterval:  defaultKeepAliveInterval,
		maxBodyBytes:       defaultMaxBodyBytes,
		capabilities: Capabilities{
			Tools: CapabilitiesTools{ListChanged: false},
		},
	}
}

// BaseServer owns the method router and the tool invocation bridge, shared by
// every transport built on top of it.
type BaseServer struct {
	cfg        *ServerConfig
	logger     Logger
	registry   ToolRegistry
	ServerInfo ServerInfo
}

// NewBaseServer creates a BaseServer dispatching into the given registry. A
// nil registry gets an empty ToolsProvider so discovery still works.
func NewBaseServer(registry ToolRegistry, opts ...ServerConfigOption) (*BaseServer, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.endpoint == "" || !strings.HasPrefix(cfg.endpoint, "/") {
		return nil, fmt.Errorf("invalid endpoint: %q", cfg.endpoint)
	}
	if registry == nil {
		registry = NewToolsProvider()
	}

	return &BaseServer{
		cfg:      cfg,
		logger:   cfg.logger,
		registry: registry,
		ServerInfo: ServerInfo{
			Name:    cfg.serverName,
			Version: cfg.serverVersion,
		},
	}, nil
}

// handleRequest routes one JSON-RPC request to its handler and always
// produces a response. Panics inside handlers are contained here so one bad
// request cannot take down the connection.
func (s *BaseServer) handleRequest(ctx context.Context, sessionID string, request *Request) (resp *Response) {
	ctx, span := StartSpan(ctx, "BaseServer.handleRequest")
	span.SetAttributes(attribute.String("method", request.Method))
	defer span.End()

	s.logger.WithFields(map[string]interface{}{
		"sessionID": sessionID,
		"method":    request.Method,
		"id":        request.ID,
	}).Debug("Received request from client")

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"sessionID": sessionID,
				"method":    request.Method,
				"panic":     r,
			}).Error("Panic recovered in request handler")
			resp = errorResponse(request.ID, ErrorCodeInternal, "Internal error", nil)
		}
	}()

	switch request.Method {
	case "initialize":
		return s.handleInitialize(ctx, sessionID, request)
	case "ping":
		return okResponse(request.ID, map[string]bool{"pong": true})
	case "tools/list":
		return s.handleToolsList(ctx, sessionID, request)
	case "tools/call":
		return s.handleToolsCall(ctx, sessionID, request)
	default:
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
			"method":    request.Method,
		}).Warn("Method not found. Unhandled request from client")
		return errorResponse(request.ID, ErrorCodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", request.Method), nil)
	}
}

func (s *BaseServer) handleInitialize(ctx context.Context, sessionID string, request *Request) *Response {
	_, span := StartSpan(ctx, "BaseServer.handleInitialize")
	defer span.End()

	var params InitializeParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			s.logger.WithErr(err).Error("Failed to parse initialize params")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return errorResponse(request.ID, ErrorCodeInvalidParams, "Invalid params", nil)
		}
	}

	if params.ProtocolVersion != "" && !strings.HasPrefix(params.ProtocolVersion, "2025-") &&
		!strings.HasPrefix(params.ProtocolVersion, "2024-11") {
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
			"version":   params.ProtocolVersion,
		}).Error("Unsupported protocol version")
		return errorResponse(request.ID, ErrorCodeInvalidParams, "Unsupported protocol version",
			map[string][]string{"supported": {s.cfg.protocolVersion, "2024-11-05"}})
	}

	return okResponse(request.ID, InitializeResult{
		ProtocolVersion: s.cfg.protocolVersion,
		Capabilities:    s.cfg.capabilities,
		ServerInfo:      s.ServerInfo,
	})
}

func (s *BaseServer) handleToolsList(ctx context.Context, sessionID string, request *Request) *Response {
	ctx, span := StartSpan(ctx, "BaseServer.handleToolsList")
	defer span.End()

	tools := s.registry.List(ctx)
	summaries := make([]ToolSummary, 0, len(tools))
	for _, tool := range tools {
		summaries = append(summaries, ToolSummary{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: s.projectToolSchema(tool),
		})
	}
	span.SetAttributes(attribute.Int("num_tools", len(summaries)))

	return okResponse(request.ID, ListToolsResult{Tools: summaries})
}

// projectToolSchema converts a tool's declared schema for discovery. A
// malformed descriptor degrades to an empty object schema; one bad tool must
// not break discovery of all the others.
func (s *BaseServer) projectToolSchema(tool Tool) *JSONSchema {
	if tool.Schema == nil {
		return emptyObjectSchema()
	}
	return ProjectSchema(tool.Schema)
}

func (s *BaseServer) handleToolsCall(ctx context.Context, sessionID string, request *Request) *Response {
	ctx, span := StartSpan(ctx, "BaseServer.handleToolsCall")
	defer span.End()

	var params CallToolParams
	if err := json.Unmarshal(request.Params, &params); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
			"params":    string(request.Params),
		}).WithErr(err).Error("Failed to parse call tool params")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errorResponse(request.ID, ErrorCodeInvalidParams, "Invalid params", nil)
	}
	if params.Name == "" {
		return errorResponse(request.ID, ErrorCodeInvalidParams, "Tool name is required", nil)
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage(`{}`)
	}

	span.SetAttributes(attribute.String("tool", params.Name))
	s.logger.WithFields(map[string]interface{}{
		"sessionID": sessionID,
		"tool":      params.Name,
	}).Debug("Calling tool")

	tool, found := s.findTool(ctx, params.Name)
	if !found {
		s.logger.WithFields(map[string]interface{}{
			"tool": params.Name,
		}).Error("Tool not found")
		return errorResponse(request.ID, ErrorCodeMethodNotFound,
			fmt.Sprintf("Tool not found: %s", params.Name), nil)
	}

	if errResp := s.validateToolArguments(request.ID, tool, params.Arguments); errResp != nil {
		return errResp
	}

	result, err := s.registry.Invoke(ctx, ToolInvocation{
		Name:        params.Name,
		Arguments:   params.Arguments,
		SessionID:   sessionID,
		Credentials: s.cfg.credentials,
	})
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
			"tool":      params.Name,
		}).WithErr(err).Error("Tool handler failed with an error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if errors.Is(err, ErrToolNotFound) {
			return errorResponse(request.ID, ErrorCodeMethodNotFound, err.Error(), nil)
		}
		return errorResponse(request.ID, ErrorCodeInternal, err.Error(),
			map[string]string{"tool": params.Name})
	}

	return okResponse(request.ID, result)
}

func (s *BaseServer) findTool(ctx context.Context, name string) (Tool, bool) {
	for _, tool := range s.registry.List(ctx) {
		if tool.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}

// validateToolArguments checks call arguments against the tool's projected
// schema. Validation trouble on the schema side is absorbed; only argument
// violations are surfaced, as -32602.
func (s *BaseServer) validateToolArguments(id *json.RawMessage, tool Tool, args json.RawMessage) *Response {
	if len(tool.Schema) == 0 {
		return nil
	}

	schemaJSON, err := json.Marshal(ProjectSchema(tool.Schema))
	if err != nil {
		s.logger.WithErr(err).Error("Failed to marshal projected schema")
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		s.logger.WithErr(err).Error("Schema validation error")
		return nil
	}

	if !result.Valid() {
		var messages []string
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}
		s.logger.WithFields(map[string]interface{}{
			"tool":   tool.Name,
			"errors": messages,
		}).Error("Schema validation failed")
		return errorResponse(id, ErrorCodeInvalidParams,
			fmt.Sprintf("Invalid arguments for tool %s", tool.Name),
			map[string][]string{"errors": messages})
	}
	return nil
}

// handleNotification processes an incoming notification. Notifications never
// produce a response.
func (s *BaseServer) handleNotification(ctx context.Context, sessionID string, notification *Notification) {
	_, span := StartSpan(ctx, "BaseServer.handleNotification")
	span.SetAttributes(attribute.String("method", notification.Method))
	defer span.End()

	switch notification.Method {
	case "notifications/initialized":
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
		}).Debug("Client initialized")
	case "notifications/cancelled":
		var cancelParams struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(notification.Params, &cancelParams); err == nil {
			s.logger.WithFields(map[string]interface{}{
				"sessionID": sessionID,
				"requestID": cancelParams.RequestID,
				"reason":    cancelParams.Reason,
			}).Debug("Cancellation requested")
		}
	default:
		s.logger.WithFields(map[string]interface{}{
			"sessionID": sessionID,
			"method":    notification.Method,
		}).Warn("Unhandled notification from client")
	}
}
