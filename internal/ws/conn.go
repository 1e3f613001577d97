package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mhmdmarshoud34/Talkify/internal/metrics"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client 是一条已建立的 websocket 连接，生命周期为
// Connecting → Established → Closed。identity 在握手时确定，连接期间不变。
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	identity string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Deliver 非阻塞地把一帧推给连接。慢消费者只丢当前帧，
// 不阻塞发送方路径，也不影响同一次 fan-out 的其他接收方。
func (c *Client) Deliver(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// Serve 处理 websocket 握手。身份由外部认证方以 user_id 查询参数带入，
// 此处不再做密码学校验；缺失身份直接拒绝，不登记在线表。
func Serve(pt *presence.Table, relay *Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.Query("user_id")
		if identity == "" {
			log.Warn().Str("remote", c.Request.RemoteAddr).Msg("ws handshake without user_id, closing")
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{conn: conn, send: make(chan []byte, 256), identity: identity}
		pt.Register(identity, client)
		metrics.WsConnections.Inc()
		log.Info().Str("user_id", identity).Msg("ws connected")

		go client.writePump()
		client.readPump(pt, relay)
	}
}

func (c *Client) readPump(pt *presence.Table, relay *Relay) {
	defer func() {
		pt.Unregister(c)
		metrics.WsConnections.Dec()
		_ = c.conn.Close()
		log.Info().Str("user_id", c.identity).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("user_id", c.identity).Msg("bad envelope")
			continue
		}
		// client-initiated teardown; transport close takes the same path
		if env.Event == EventDisconnect {
			break
		}
		relay.Dispatch(context.Background(), env.Event, env.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
