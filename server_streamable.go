package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"golang.org/x/sync/errgroup"
)

const (
	headerSessionID   = "Mcp-Session-Id"
	headerLastEventID = "Last-Event-ID"

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// StreamableServer serves the transport on a single HTTP endpoint. POST
// submits JSON-RPC messages and is answered either with one JSON document or
// with a bounded SSE stream; GET opens a long-lived SSE stream; DELETE tears
// the session down.
type StreamableServer struct {
	*BaseServer
	store   *SessionStore
	streams *streamRegistry
	limiter *sessionLimiter
}

// NewStreamableServer creates a StreamableServer on top of a BaseServer.
func NewStreamableServer(baseServer *BaseServer) *StreamableServer {
	s := &StreamableServer{
		BaseServer: baseServer,
		store:      NewSessionStore(baseServer.logger, baseServer.cfg.sessionIdleTimeout),
		streams:    newStreamRegistry(),
	}
	if baseServer.cfg.rateLimit > 0 {
		s.limiter = newSessionLimiter(baseServer.cfg.rateLimit, baseServer.cfg.rateBurst)
	}
	return s
}

// SessionStore exposes the server's session store, mainly for tests and
// operational introspection.
func (s *StreamableServer) SessionStore() *SessionStore {
	return s.store
}

// ServeHTTP implements http.Handler for the configured endpoint plus the
// liveness probe path.
func (s *StreamableServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.cfg.healthEndpoint:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	case s.cfg.endpoint:
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}

	s.writeCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	origin := r.Header.Get("Origin")
	if !originAllowed(origin, s.cfg.trustedNetwork, s.cfg.allowedOrigins) {
		s.logger.WithFields(map[string]interface{}{
			"origin": origin,
			"remote": r.RemoteAddr,
		}).Warn("Rejected request with invalid origin")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden: Invalid Origin"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGet(w, r)
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	}
}

// writeCORSHeaders echoes an allowed explicit origin (with credentials), and
// falls back to * otherwise.
func (s *StreamableServer) writeCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && originAllowed(origin, s.cfg.trustedNetwork, s.cfg.allowedOrigins) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, Last-Event-ID")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

// resolveSession resolves or creates the request's session and applies the
// per-session rate limit. The bool reports whether the caller may proceed.
func (s *StreamableServer) resolveSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	ses, created := s.store.ResolveOrCreate(r.Header.Get(headerSessionID))
	if created {
		s.logger.WithFields(map[string]interface{}{
			"sessionID": ses.ID,
			"remote":    r.RemoteAddr,
		}).Debug("New session for request")
	}

	if s.limiter != nil && !s.limiter.Allow(ses.ID) {
		w.Header().Set(headerSessionID, ses.ID)
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
		return nil, false
	}
	return ses, true
}

// handleGet opens the long-lived SSE stream. The handler blocks until the
// client disconnects or the session is torn down; blocking here is what keeps
// the chunked response open.
func (s *StreamableServer) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := StartSpan(r.Context(), "StreamableServer.handleGet")
	defer span.End()

	if !strings.Contains(r.Header.Get("Accept"), contentTypeSSE) {
		writeJSON(w, http.StatusNotAcceptable,
			map[string]string{"error": "Not Acceptable: GET requires Accept: text/event-stream"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Streaming unsupported by response writer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming unsupported"})
		return
	}

	ses, ok := s.resolveSession(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("sessionID", ses.ID))

	if lastEventID := r.Header.Get(headerLastEventID); lastEventID != "" {
		if lastSeen, err := strconv.ParseUint(lastEventID, 10, 64); err == nil {
			s.store.ResumeEventID(ses.ID, lastSeen)
		}
	}

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(headerSessionID, ses.ID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := newSSEStream(ses.ID, w, flusher, cancel)
	s.streams.add(stream)
	s.store.AttachStream(ses.ID, stream.id)
	s.logger.WithFields(map[string]interface{}{
		"sessionID": ses.ID,
		"streamID":  stream.id,
	}).Info("SSE stream opened")

	connectedAt := time.Now()
	defer func() {
		stream.close()
		s.streams.remove(stream.id)
		s.store.DetachStream(ses.ID, stream.id)
		s.logger.WithFields(map[string]interface{}{
			"sessionID":       ses.ID,
			"streamID":        stream.id,
			"connection_time": time.Since(connectedAt).String(),
		}).Info("SSE stream closed")
	}()

	eventID, ok := s.store.NextEventID(ses.ID)
	if !ok {
		// Session was torn down before the stream produced anything.
		return
	}
	payload, _ := json.Marshal(map[string]string{"sessionId": ses.ID})
	if err := stream.writeFrame("connection", &eventID, payload); err != nil {
		s.logger.WithErr(err).Error("Error sending connection event")
		return
	}

	keepAlive := time.NewTicker(s.cfg.keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if err := stream.writeComment("ping"); err != nil {
				s.logger.WithFields(map[string]interface{}{
					"sessionID": ses.ID,
					"streamID":  stream.id,
				}).WithErr(err).Debug("Keep-alive write failed, closing stream")
				return
			}
		}
	}
}

// handlePost reads one message or a batch, routes every request, and answers
// either as a single JSON document or as a bounded SSE stream with one frame
// per response, in request arrival order.
func (s *StreamableServer) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx, span := StartSpan(r.Context(), "StreamableServer.handlePost")
	defer span.End()

	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, contentTypeJSON) && !strings.Contains(accept, contentTypeSSE) {
		writeJSON(w, http.StatusNotAcceptable,
			map[string]string{"error": "Not Acceptable: POST requires Accept: application/json or text/event-stream"})
		return
	}

	ses, ok := s.resolveSession(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("sessionID", ses.ID))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.maxBodyBytes))
	if err != nil {
		s.logger.WithErr(err).Error("Error reading request body")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad request"})
		return
	}

	w.Header().Set(headerSessionID, ses.ID)

	messages, _, err := decodeMessages(body)
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"sessionID": ses.ID,
		}).WithErr(err).Error("Failed to parse request body")
		// The request id is unknowable for a body that is not valid JSON.
		writeJSON(w, http.StatusOK, errorResponse(nil, ErrorCodeParseError, "Parse error", nil))
		return
	}

	var requests []*Request
	for _, msg := range messages {
		switch msg.kind {
		case kindRequest:
			requests = append(requests, msg.request)
		case kindNotification:
			s.handleNotification(ctx, ses.ID, msg.notification)
		case kindResponse:
			// Inbound responses are accepted and dropped.
			s.logger.WithFields(map[string]interface{}{
				"sessionID": ses.ID,
			}).Debug("Ignoring inbound response message")
		}
	}

	// A body with no requests is acknowledged without synthesizing any
	// response; notifications never get one.
	if len(requests) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if strings.Contains(accept, contentTypeSSE) {
		s.respondSSE(ctx, w, ses, requests)
		return
	}
	s.respondJSON(ctx, w, ses, requests)
}

// respondJSON collects all responses in request order into one HTTP response:
// a single object for exactly one request, a JSON array for more.
func (s *StreamableServer) respondJSON(ctx context.Context, w http.ResponseWriter, ses *Session, requests []*Request) {
	responses := make([]*Response, 0, len(requests))
	for _, req := range requests {
		responses = append(responses, s.handleRequest(ctx, ses.ID, req))
	}

	if len(responses) == 1 {
		writeJSON(w, http.StatusOK, responses[0])
		return
	}
	writeJSON(w, http.StatusOK, responses)
}

// respondSSE answers a POST over a bounded, self-terminating event stream:
// one frame per response, emitted as each request finishes, then the stream
// ends. Distinct from the long-lived GET stream.
func (s *StreamableServer) respondSSE(ctx context.Context, w http.ResponseWriter, ses *Session, requests []*Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Streaming unsupported by response writer")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", contentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream := newSSEStream(ses.ID, w, flusher, cancel)
	s.streams.add(stream)
	s.store.AttachStream(ses.ID, stream.id)
	defer func() {
		stream.close()
		s.streams.remove(stream.id)
		s.store.DetachStream(ses.ID, stream.id)
	}()

	for _, req := range requests {
		resp := s.handleRequest(ctx, ses.ID, req)
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.WithErr(err).Error("Error marshalling response")
			data, _ = json.Marshal(errorResponse(req.ID, ErrorCodeInternal, "Internal error", nil))
		}

		eventID, ok := s.store.NextEventID(ses.ID)
		if !ok {
			// Session was torn down mid-exchange; the remaining results
			// have nowhere to go.
			return
		}
		if err := stream.writeFrame("message", &eventID, data); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"sessionID": ses.ID,
				"streamID":  stream.id,
			}).WithErr(err).Error("Error sending message data")
			return
		}
	}
}

// handleDelete tears down the session named by the Mcp-Session-Id header,
// closing all of its streams. Deleting an unknown session is a no-op.
func (s *StreamableServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(headerSessionID)
	s.destroySession(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sweepSessions destroys every expired session and releases everything keyed
// by the destroyed ids: open streams and per-session rate limiters.
func (s *StreamableServer) sweepSessions(now time.Time) {
	sessionIDs, streamIDs := s.store.Sweep(now)
	for _, streamID := range streamIDs {
		s.streams.closeStream(streamID)
	}
	if s.limiter != nil {
		for _, sessionID := range sessionIDs {
			s.limiter.Forget(sessionID)
		}
	}
}

func (s *StreamableServer) destroySession(sessionID string) {
	for _, streamID := range s.store.Destroy(sessionID) {
		s.streams.closeStream(streamID)
	}
	if s.limiter != nil {
		s.limiter.Forget(sessionID)
	}
}

// Run starts the HTTP listener and the session sweep loop, and blocks until
// the context is cancelled or the listener fails. On cancellation every open
// stream is closed, sessions are destroyed, and the listener is shut down
// with a bounded grace period.
func (s *StreamableServer) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.cfg.address,
		Handler: s,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.WithFields(map[string]interface{}{
		"address":  s.cfg.address,
		"endpoint": s.cfg.endpoint,
	}).Info("Starting streamable HTTP server")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithErr(err).Error("Error starting server")
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				s.sweepSessions(now)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		s.logger.Warn("Context cancelled. Closing all streams and sessions")

		sessionIDs, _ := s.store.DestroyAll()
		if s.limiter != nil {
			for _, sessionID := range sessionIDs {
				s.limiter.Forget(sessionID)
			}
		}
		s.streams.closeAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithErr(err).Error("Error during server shutdown")
			return err
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
