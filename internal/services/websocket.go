package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"neuroconnect/internal/config"
	"neuroconnect/internal/models"
	"neuroconnect/pkg/utils"
)

// 客户端 -> 服务端
const (
	FrameAuth        = "auth"
	FrameJoin        = "join-session"
	FrameLeave       = "leave-session"
	FrameSendMessage = "send-message"
	FrameTyping      = "typing"
	FrameStopTyping  = "stop-typing"
)

// 服务端 -> 客户端
const (
	FrameAuthenticated    = "authenticated"
	FrameJoined           = "joined-session"
	FrameLeft             = "left-session"
	FrameNewMessage       = "new-message"
	FrameMessageSent      = "message-sent"
	FrameUserTyping       = "user-typing"
	FrameUserStopTyping   = "user-stop-typing"
	FrameSessionExpired   = "session-expired"
	FrameSessionCompleted = "session-completed"
	FrameError            = "error"
)

// 错误码
const (
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeValidation        = "validation_failed"
	CodeAccessDenied      = "access_denied"
	CodeNotJoined         = "not_joined"
	CodeAuthentication    = "authentication_failed"
	CodeInternal          = "internal_error"
)

// Frame WebSocket 消息帧
type Frame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// inboundFrame 客户端帧，data 延迟解析
type inboundFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// ErrorPayload 错误帧内容
type ErrorPayload struct {
	Scope     string `json:"scope"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// CredentialVerifier 校验连接凭证，返回参与方 ID
type CredentialVerifier interface {
	Verify(token string) (uint, error)
}

// MessageSender 消息发送（落库 + 广播）
type MessageSender interface {
	Send(ctx context.Context, senderID uint, sessionID string, req *SendMessageRequest) (*MessageView, error)
}

// Gateway 实时网关：认证连接、房间授权、消息转发与生命周期通知
type Gateway struct {
	registry *ConnectionRegistry
	verifier CredentialVerifier
	parties  PartyDirectory
	sessions SessionReader
	messages MessageSender
	cfg      config.RealtimeConfig
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewGateway 创建实时网关
func NewGateway(registry *ConnectionRegistry, verifier CredentialVerifier, parties PartyDirectory, sessions SessionReader, messages MessageSender, cfg config.RealtimeConfig, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	def := config.GetDefaultConfig().Realtime
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = def.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	g := &Gateway{
		registry: registry,
		verifier: verifier,
		parties:  parties,
		sessions: sessions,
		messages: messages,
		cfg:      cfg,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Registry 返回网关使用的连接注册表
func (g *Gateway) Registry() *ConnectionRegistry {
	return g.registry
}

// HandleWebSocket 升级连接。凭证可放在 ?token= 或 Authorization 头中，
// 也可以在首帧以 {"type":"auth","data":{"token":"..."}} 发送。
func (g *Gateway) HandleWebSocket(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(ah), "bearer ") {
			token = strings.TrimSpace(ah[len("Bearer "):])
		}
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	go g.serve(conn, token)
}

func (g *Gateway) serve(conn *websocket.Conn, token string) {
	conn.SetReadLimit(g.cfg.MaxMessageBytes)

	party, err := g.authenticate(conn, token)
	if err != nil {
		g.rejectConn(conn, err)
		return
	}

	client := &Client{
		id:      utils.GenerateClientID(),
		party:   party,
		conn:    conn,
		send:    make(chan Frame, g.cfg.SendBuffer),
		gateway: g,
		aliases: make(map[string]string),
	}
	g.registry.Register(client)
	g.logger.WithFields(logrus.Fields{"client_id": client.id, "party_id": party.ID}).Info("client connected")

	go client.writePump()
	client.Deliver(Frame{
		Type: FrameAuthenticated,
		Data: gin.H{
			"party_id": party.ID,
			"name":     party.Name,
			"role":     party.Role,
		},
		Timestamp: time.Now(),
	})
	client.readPump()
}

// authenticate 校验凭证并查找参与方；未携带凭证时等待首个 auth 帧
func (g *Gateway) authenticate(conn *websocket.Conn, token string) (*models.User, error) {
	if token == "" {
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.AuthTimeout))
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			return nil, errors.Join(ErrAuthentication, err)
		}
		if in.Type != FrameAuth {
			return nil, errors.Join(ErrAuthentication, errors.New("first frame must be auth"))
		}
		var data struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(in.Data, &data); err != nil || strings.TrimSpace(data.Token) == "" {
			return nil, errors.Join(ErrAuthentication, errors.New("missing token"))
		}
		token = data.Token
	}

	partyID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, errors.Join(ErrAuthentication, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.AuthTimeout)
	defer cancel()
	party, err := g.parties.FindPartyFresh(ctx, partyID)
	if err != nil {
		return nil, errors.Join(ErrAuthentication, err)
	}
	if party.Status != models.UserStatusActive {
		return nil, errors.Join(ErrAuthentication, errors.New("account disabled"))
	}
	return party, nil
}

// rejectConn 发送认证错误后以 policy violation 关闭连接
func (g *Gateway) rejectConn(conn *websocket.Conn, err error) {
	g.logger.WithError(err).Warn("websocket authentication failed")
	deadline := time.Now().Add(g.cfg.WriteWait)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(Frame{
		Type: FrameError,
		Data: ErrorPayload{
			Scope:   FrameAuth,
			Code:    CodeAuthentication,
			Message: "authentication failed",
		},
		Timestamp: time.Now(),
	})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"), deadline)
	_ = conn.Close()
}

// BroadcastToRoom 向房间内所有连接投递（可排除一个连接），返回成功投递数
func (g *Gateway) BroadcastToRoom(sessionID string, f Frame, exceptClientID string) int {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	f.SessionID = sessionID
	delivered := 0
	for _, m := range g.registry.Members(sessionID) {
		if m.ID() == exceptClientID {
			continue
		}
		if m.Deliver(f) {
			delivered++
			continue
		}
		g.logger.WithFields(logrus.Fields{"client_id": m.ID(), "session_id": sessionID}).
			Warn("client send buffer full, dropping connection")
		if c, ok := m.(*Client); ok {
			c.close()
		}
	}
	return delivered
}

// HandleLifecycleEvent 会话离开 active 时通知房间内连接（只投递给当前在线者，不补发）
func (g *Gateway) HandleLifecycleEvent(_ context.Context, ev LifecycleEvent) {
	if ev.From != models.SessionActive {
		return
	}
	var frameType, text string
	switch ev.Status {
	case models.SessionExpired:
		frameType, text = FrameSessionExpired, "This session has expired"
	case models.SessionCompleted:
		frameType, text = FrameSessionCompleted, "This session has been completed"
	default:
		return
	}
	n := g.BroadcastToRoom(ev.SessionID, Frame{
		Type: frameType,
		Data: gin.H{
			"session_id": ev.SessionID,
			"room_token": ev.RoomToken,
			"status":     ev.Status,
			"message":    text,
		},
		Timestamp: ev.OccurredAt,
	}, "")
	g.logger.WithFields(logrus.Fields{"session_id": ev.SessionID, "status": ev.Status, "delivered": n}).
		Debug("lifecycle notification pushed")
}

// GetClientCount 当前连接数
func (g *Gateway) GetClientCount() int {
	return g.registry.ClientCount()
}

// Client 一个已认证的 WebSocket 连接
type Client struct {
	id      string
	party   *models.User
	conn    *websocket.Conn
	send    chan Frame
	gateway *Gateway

	mu     sync.Mutex
	closed bool

	// 会话 -> 房间内展示名，仅由 readPump 协程访问
	aliases map[string]string
}

func (c *Client) ID() string    { return c.id }
func (c *Client) PartyID() uint { return c.party.ID }

// Deliver 非阻塞投递；连接已关闭或缓冲区满时返回 false
func (c *Client) Deliver(f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	g := c.gateway
	defer func() {
		rooms := g.registry.Unregister(c.id)
		c.close()
		_ = c.conn.Close()
		g.logger.WithFields(logrus.Fields{"client_id": c.id, "rooms": len(rooms)}).Info("client disconnected")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.logger.Errorf("WebSocket error: %v", err)
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			c.sendError("frame", CodeValidation, "invalid frame format", "")
			continue
		}

		// 每个连接的帧顺序处理：同一发送者的消息按落库顺序广播
		switch in.Type {
		case FrameJoin:
			c.handleJoin(in)
		case FrameLeave:
			c.handleLeave(in)
		case FrameSendMessage:
			c.handleSendMessage(in)
		case FrameTyping, FrameStopTyping:
			c.handleTyping(in)
		case FrameAuth:
			// 已认证，忽略
		default:
			c.sendError(in.Type, CodeValidation, "unknown frame type: "+in.Type, in.SessionID)
		}
	}
}

func (c *Client) writePump() {
	g := c.gateway
	ticker := time.NewTicker(g.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				g.logger.Errorf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// frameSessionID 会话 ID 可放在帧顶层或 data.session_id
func frameSessionID(in inboundFrame) string {
	if in.SessionID != "" {
		return strings.TrimSpace(in.SessionID)
	}
	var data struct {
		SessionID string `json:"session_id"`
	}
	if len(in.Data) > 0 {
		_ = json.Unmarshal(in.Data, &data)
	}
	return strings.TrimSpace(data.SessionID)
}

func (c *Client) handleJoin(in inboundFrame) {
	g := c.gateway
	sessionID := frameSessionID(in)
	if sessionID == "" {
		c.sendError(FrameJoin, CodeValidation, "session_id is required", "")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.WriteWait)
	defer cancel()
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		c.sendServiceError(FrameJoin, err, sessionID)
		return
	}
	if !sess.HasParty(c.party.ID) {
		c.sendError(FrameJoin, CodeAccessDenied, "access denied", sessionID)
		return
	}

	g.registry.Join(c.id, sessionID)
	c.aliases[sessionID] = senderProfile(sess, c.party.ID).Name

	data := gin.H{"session_id": sessionID, "status": sess.Status}
	if sess.RoomToken != nil {
		data["room_token"] = *sess.RoomToken
	}
	c.Deliver(Frame{Type: FrameJoined, Data: data, SessionID: sessionID, Timestamp: time.Now()})
}

func (c *Client) handleLeave(in inboundFrame) {
	sessionID := frameSessionID(in)
	if !c.gateway.registry.Leave(c.id, sessionID) {
		c.sendError(FrameLeave, CodeNotJoined, "not joined to session", sessionID)
		return
	}
	delete(c.aliases, sessionID)
	c.Deliver(Frame{Type: FrameLeft, Data: gin.H{"session_id": sessionID}, SessionID: sessionID, Timestamp: time.Now()})
}

func (c *Client) handleSendMessage(in inboundFrame) {
	g := c.gateway
	sessionID := frameSessionID(in)
	if sessionID == "" || !g.registry.InRoom(c.id, sessionID) {
		c.sendError(FrameSendMessage, CodeNotJoined, "join the session before sending", sessionID)
		return
	}

	var req SendMessageRequest
	if len(in.Data) > 0 {
		if err := json.Unmarshal(in.Data, &req); err != nil {
			// 载荷格式错误放到会话状态检查之后报告
			req = SendMessageRequest{Type: "invalid"}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.WriteWait)
	defer cancel()
	view, err := g.messages.Send(ctx, c.party.ID, sessionID, &req)
	if err != nil {
		c.sendServiceError(FrameSendMessage, err, sessionID)
		return
	}
	c.Deliver(Frame{
		Type:      FrameMessageSent,
		Data:      gin.H{"id": view.ID, "created_at": view.CreatedAt},
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
}

// handleTyping 输入状态只转发给房间内其他连接，不落库也不回执
func (c *Client) handleTyping(in inboundFrame) {
	g := c.gateway
	sessionID := frameSessionID(in)
	if sessionID == "" || !g.registry.InRoom(c.id, sessionID) {
		return
	}
	out := FrameUserTyping
	if in.Type == FrameStopTyping {
		out = FrameUserStopTyping
	}
	g.BroadcastToRoom(sessionID, Frame{
		Type: out,
		Data: gin.H{"session_id": sessionID, "party_id": c.party.ID, "name": c.aliases[sessionID]},
	}, c.id)
}

func (c *Client) sendError(scope, code, msg, sessionID string) {
	c.Deliver(Frame{
		Type:      FrameError,
		Data:      ErrorPayload{Scope: scope, Code: code, Message: msg, SessionID: sessionID},
		SessionID: sessionID,
		Timestamp: time.Now(),
	})
}

// sendServiceError 将服务层错误映射为错误帧，连接保持打开
func (c *Client) sendServiceError(scope string, err error, sessionID string) {
	code, msg := ErrorCode(err), err.Error()
	if code == CodeInternal {
		c.gateway.logger.WithError(err).WithFields(logrus.Fields{"client_id": c.id, "session_id": sessionID}).
			Error("websocket operation failed")
		msg = "internal error"
	}
	c.sendError(scope, code, msg, sessionID)
}

// ErrorCode 服务层错误 -> 错误码
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrAuthorization):
		return CodeAccessDenied
	case errors.Is(err, ErrAuthentication):
		return CodeAuthentication
	default:
		return CodeInternal
	}
}
