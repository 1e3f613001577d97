package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mhmdmarshoud34/Talkify/internal/metrics"
	"github.com/mhmdmarshoud34/Talkify/internal/models"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"
	"github.com/mhmdmarshoud34/Talkify/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// 入站/出站事件名。出站事件先持久化后投递，投递本身不被确认、不重试。
const (
	EventSendDirect     = "send-direct-message"
	EventSendChannel    = "send-channel-message"
	EventDisconnect     = "disconnect"
	EventReceiveDirect  = "receive-direct-message"
	EventReceiveChannel = "receive-channel-message"
)

// Envelope 是 websocket 上的统一帧格式。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Gateway 是中继依赖的持久化网关契约，由 internal/store 实现，
// 测试里用内存假实现替换。
type Gateway interface {
	CreateMessage(ctx context.Context, m *models.Message) error
	MessageEnriched(ctx context.Context, id uuid.UUID) (*store.EnrichedMessage, error)
	AppendToChannel(ctx context.Context, channelID, messageID uuid.UUID) error
	ChannelRoster(ctx context.Context, channelID uuid.UUID) (*store.ChannelRoster, error)
}

type DirectMessageIn struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
}

type ChannelMessageIn struct {
	ChannelID   string `json:"channel_id"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	FileURL     string `json:"file_url"`
}

// ChannelMessageOut 在联查结果外平铺一个显式的 channel_id。
type ChannelMessageOut struct {
	store.EnrichedMessage
	ChannelID uuid.UUID `json:"channel_id"`
}

// Relay 把入站事件分发到私聊路由与频道广播两条路径，
// 共享同一份在线表与持久化网关。
type Relay struct {
	presence *presence.Table
	gw       Gateway
	handlers map[string]func(ctx context.Context, data json.RawMessage)
}

func NewRelay(pt *presence.Table, gw Gateway) *Relay {
	r := &Relay{presence: pt, gw: gw}
	r.handlers = map[string]func(ctx context.Context, data json.RawMessage){
		EventSendDirect:  r.handleDirect,
		EventSendChannel: r.handleChannel,
	}
	return r
}

// Dispatch 按事件名调用对应 handler，未知事件丢弃并记日志。
// 任何失败都只影响这一个事件，不会向客户端回传错误。
func (r *Relay) Dispatch(ctx context.Context, event string, data json.RawMessage) {
	h, ok := r.handlers[event]
	if !ok {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("event", event).Msg("unknown inbound event")
		return
	}
	h(ctx, data)
}

func (r *Relay) handleDirect(ctx context.Context, data json.RawMessage) {
	var in DirectMessageIn
	if err := json.Unmarshal(data, &in); err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Err(err).Msg("direct message decode")
		return
	}
	r.SendDirect(ctx, in)
}

func (r *Relay) handleChannel(ctx context.Context, data json.RawMessage) {
	var in ChannelMessageIn
	if err := json.Unmarshal(data, &in); err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Err(err).Msg("channel message decode")
		return
	}
	r.SendChannel(ctx, in)
}

// SendDirect 处理一条私聊消息：先落库，再联查展示属性，
// 最后向已解析到的接收方与发送方连接各投递一次。
// 落库永远先于投递；接收方不在线时消息仍然落库，靠历史接口补拉。
func (r *Relay) SendDirect(ctx context.Context, in DirectMessageIn) {
	if in.Sender == "" || in.Recipient == "" || (in.Content == "" && in.FileURL == "") {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("sender", in.Sender).Str("recipient", in.Recipient).Msg("malformed direct message dropped")
		return
	}
	senderID, err := uuid.Parse(in.Sender)
	if err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("sender", in.Sender).Msg("malformed direct message dropped")
		return
	}
	recipientID, err := uuid.Parse(in.Recipient)
	if err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("recipient", in.Recipient).Msg("malformed direct message dropped")
		return
	}

	msg := models.Message{
		SenderID:    senderID,
		RecipientID: &recipientID,
		MessageType: messageType(in.MessageType),
		Content:     in.Content,
		FileURL:     in.FileURL,
	}
	if err := r.gw.CreateMessage(ctx, &msg); err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Error().Err(err).Str("sender", in.Sender).Msg("direct message persist")
		return
	}
	metrics.DirectMessagesTotal.Inc()

	enriched, err := r.gw.MessageEnriched(ctx, msg.ID)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("direct message enrich")
		return
	}
	frame, err := encode(EventReceiveDirect, enriched)
	if err != nil {
		log.Error().Err(err).Msg("direct message encode")
		return
	}
	r.deliver(in.Recipient, EventReceiveDirect, frame)
	r.deliver(in.Sender, EventReceiveDirect, frame)
}

// SendChannel 处理一条频道消息：落库（无接收方）、联查发送方属性、
// 追加到频道消息日志、解析名册后对每个在线成员投递一次，
// 最后无条件再向管理员投递一次。管理员同时在成员列表时会收到两次，
// 这是沿袭自线上行为的既定选择，不做去重。
func (r *Relay) SendChannel(ctx context.Context, in ChannelMessageIn) {
	senderID, err := uuid.Parse(in.Sender)
	if err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("sender", in.Sender).Msg("malformed channel message dropped")
		return
	}
	channelID, err := uuid.Parse(in.ChannelID)
	if err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Warn().Str("channel_id", in.ChannelID).Msg("malformed channel message dropped")
		return
	}

	msg := models.Message{
		SenderID:    senderID,
		RecipientID: nil,
		MessageType: messageType(in.MessageType),
		Content:     in.Content,
		FileURL:     in.FileURL,
	}
	if err := r.gw.CreateMessage(ctx, &msg); err != nil {
		metrics.DroppedEventsTotal.Inc()
		log.Error().Err(err).Str("channel_id", in.ChannelID).Msg("channel message persist")
		return
	}
	metrics.ChannelMessagesTotal.Inc()

	enriched, err := r.gw.MessageEnriched(ctx, msg.ID)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("channel message enrich")
		return
	}
	if err := r.gw.AppendToChannel(ctx, channelID, msg.ID); err != nil {
		// 消息已经落库；频道不存在时静默放弃投递，不向发送方上报。
		if errors.Is(err, store.ErrChannelNotFound) {
			log.Warn().Str("channel_id", in.ChannelID).Msg("channel vanished, broadcast abandoned")
		} else {
			log.Error().Err(err).Str("channel_id", in.ChannelID).Msg("channel append")
		}
		return
	}
	roster, err := r.gw.ChannelRoster(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrChannelNotFound) {
			log.Warn().Str("channel_id", in.ChannelID).Msg("channel vanished, broadcast abandoned")
		} else {
			log.Error().Err(err).Str("channel_id", in.ChannelID).Msg("channel roster")
		}
		return
	}

	out := ChannelMessageOut{EnrichedMessage: *enriched, ChannelID: channelID}
	frame, err := encode(EventReceiveChannel, out)
	if err != nil {
		log.Error().Err(err).Msg("channel message encode")
		return
	}
	for _, member := range roster.Members {
		r.deliver(member.String(), EventReceiveChannel, frame)
	}
	r.deliver(roster.Admin.String(), EventReceiveChannel, frame)
}

// deliver 对单个 identity 做在线解析并 fire-and-forget 投递，
// 不在线时什么都不发。单个投递失败不影响同一次 fan-out 的其他接收方。
func (r *Relay) deliver(identity, event string, frame []byte) {
	h := r.presence.Lookup(identity)
	if h == nil {
		return
	}
	h.Deliver(frame)
	metrics.DeliveriesTotal.WithLabelValues(event).Inc()
}

func messageType(t string) string {
	if t == models.MessageTypeFile {
		return models.MessageTypeFile
	}
	return models.MessageTypeText
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
