package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/mhmdmarshoud34/Talkify/internal/models"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"
	"github.com/mhmdmarshoud34/Talkify/internal/store"

	"github.com/google/uuid"
)

// fakeGateway is an in-memory Gateway so relay semantics can be tested
// without a database.
type fakeGateway struct {
	mu        sync.Mutex
	created   []models.Message
	appended  map[uuid.UUID][]uuid.UUID
	rosters   map[uuid.UUID]*store.ChannelRoster
	createErr error
	appendErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		appended: make(map[uuid.UUID][]uuid.UUID),
		rosters:  make(map[uuid.UUID]*store.ChannelRoster),
	}
}

func (g *fakeGateway) CreateMessage(ctx context.Context, m *models.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return g.createErr
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	g.created = append(g.created, *m)
	return nil
}

func (g *fakeGateway) MessageEnriched(ctx context.Context, id uuid.UUID) (*store.EnrichedMessage, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.created {
		if m.ID == id {
			out := &store.EnrichedMessage{
				ID:          m.ID,
				Sender:      store.UserRef{ID: m.SenderID},
				MessageType: m.MessageType,
				Content:     m.Content,
				FileURL:     m.FileURL,
				Timestamp:   m.CreatedAt,
			}
			if m.RecipientID != nil {
				out.Recipient = &store.UserRef{ID: *m.RecipientID}
			}
			return out, nil
		}
	}
	return nil, errors.New("message not found")
}

func (g *fakeGateway) AppendToChannel(ctx context.Context, channelID, messageID uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.appendErr != nil {
		return g.appendErr
	}
	if _, ok := g.rosters[channelID]; !ok {
		return store.ErrChannelNotFound
	}
	g.appended[channelID] = append(g.appended[channelID], messageID)
	return nil
}

func (g *fakeGateway) ChannelRoster(ctx context.Context, channelID uuid.UUID) (*store.ChannelRoster, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rosters[channelID]
	if !ok {
		return nil, store.ErrChannelNotFound
	}
	return r, nil
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

// recordingHandle captures delivered frames; onDeliver lets tests observe
// gateway state at the moment of delivery.
type recordingHandle struct {
	mu        sync.Mutex
	frames    [][]byte
	onDeliver func()
}

func (h *recordingHandle) Deliver(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.onDeliver != nil {
		h.onDeliver()
	}
	h.frames = append(h.frames, data)
}

func (h *recordingHandle) envelopes(t *testing.T) []Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Envelope, 0, len(h.frames))
	for _, f := range h.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func TestRelay_SendDirect_BothOnline(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New().String()
	recipient := uuid.New().String()
	connSender := &recordingHandle{}
	connRecipient := &recordingHandle{}
	pt.Register(sender, connSender)
	pt.Register(recipient, connRecipient)

	relay.SendDirect(context.Background(), DirectMessageIn{Sender: sender, Recipient: recipient, Content: "hello"})

	if gw.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", gw.createdCount())
	}
	for name, h := range map[string]*recordingHandle{"sender": connSender, "recipient": connRecipient} {
		envs := h.envelopes(t)
		if len(envs) != 1 {
			t.Fatalf("%s deliveries = %d, want 1", name, len(envs))
		}
		if envs[0].Event != EventReceiveDirect {
			t.Errorf("%s event = %q, want %q", name, envs[0].Event, EventReceiveDirect)
		}
	}
}

// Scenario: A→connA registered, recipient C offline. The message is still
// persisted; only A's own sender copy is delivered.
func TestRelay_SendDirect_OfflineRecipient(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	a := uuid.New().String()
	b := uuid.New().String()
	c := uuid.New().String()
	connA := &recordingHandle{}
	connB := &recordingHandle{}
	pt.Register(a, connA)
	pt.Register(b, connB)

	relay.SendDirect(context.Background(), DirectMessageIn{Sender: a, Recipient: c, Content: "hi"})

	if gw.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", gw.createdCount())
	}
	if got := len(connA.envelopes(t)); got != 1 {
		t.Errorf("connA deliveries = %d, want 1 (sender copy)", got)
	}
	if got := len(connB.envelopes(t)); got != 0 {
		t.Errorf("connB deliveries = %d, want 0", got)
	}
}

func TestRelay_SendDirect_PersistBeforeDeliver(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New().String()
	recipient := uuid.New().String()
	h := &recordingHandle{}
	h.onDeliver = func() {
		if gw.createdCount() == 0 {
			t.Error("delivery happened before persistence")
		}
	}
	pt.Register(recipient, h)

	relay.SendDirect(context.Background(), DirectMessageIn{Sender: sender, Recipient: recipient, Content: "hello"})

	if len(h.envelopes(t)) != 1 {
		t.Fatalf("recipient deliveries = %d, want 1", len(h.envelopes(t)))
	}
}

func TestRelay_SendDirect_Malformed(t *testing.T) {
	tests := []struct {
		name string
		in   DirectMessageIn
	}{
		{"missing recipient", DirectMessageIn{Sender: uuid.New().String(), Content: "hi"}},
		{"missing sender", DirectMessageIn{Recipient: uuid.New().String(), Content: "hi"}},
		{"missing content and file", DirectMessageIn{Sender: uuid.New().String(), Recipient: uuid.New().String()}},
		{"garbage sender id", DirectMessageIn{Sender: "not-a-uuid", Recipient: uuid.New().String(), Content: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			pt := presence.NewTable()
			relay := NewRelay(pt, gw)
			h := &recordingHandle{}
			if tt.in.Sender != "" {
				pt.Register(tt.in.Sender, h)
			}
			if tt.in.Recipient != "" {
				pt.Register(tt.in.Recipient, h)
			}

			relay.SendDirect(context.Background(), tt.in)

			if gw.createdCount() != 0 {
				t.Errorf("created = %d, want 0 (dropped before persistence)", gw.createdCount())
			}
			if len(h.envelopes(t)) != 0 {
				t.Errorf("deliveries = %d, want 0", len(h.envelopes(t)))
			}
		})
	}
}

func TestRelay_SendDirect_PersistFailureAborts(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = errors.New("db down")
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New().String()
	recipient := uuid.New().String()
	h := &recordingHandle{}
	pt.Register(sender, h)
	pt.Register(recipient, h)

	relay.SendDirect(context.Background(), DirectMessageIn{Sender: sender, Recipient: recipient, Content: "hi"})

	if len(h.envelopes(t)) != 0 {
		t.Errorf("deliveries = %d, want 0 after persistence failure", len(h.envelopes(t)))
	}
}

func TestRelay_SendDirect_FileMessage(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New().String()
	recipient := uuid.New().String()
	h := &recordingHandle{}
	pt.Register(recipient, h)

	relay.SendDirect(context.Background(), DirectMessageIn{
		Sender: sender, Recipient: recipient,
		MessageType: models.MessageTypeFile, FileURL: "uploads/files/report.pdf",
	})

	if gw.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", gw.createdCount())
	}
	envs := h.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(envs))
	}
	var out store.EnrichedMessage
	if err := json.Unmarshal(envs[0].Data, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.MessageType != models.MessageTypeFile || out.FileURL != "uploads/files/report.pdf" {
		t.Errorf("payload = %+v, want file message with file_url", out)
	}
}

// Scenario: Channel{members:[A,B,C], admin:A}, only A and B online, B sends.
// A receives twice (member pass + unconditional admin pass, documented
// behavior), B once, nothing for C.
func TestRelay_SendChannel_FanOut(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	channelID := uuid.New()
	gw.rosters[channelID] = &store.ChannelRoster{ChannelID: channelID, Admin: a, Members: []uuid.UUID{a, b, c}}

	connA := &recordingHandle{}
	connB := &recordingHandle{}
	pt.Register(a.String(), connA)
	pt.Register(b.String(), connB)

	relay.SendChannel(context.Background(), ChannelMessageIn{ChannelID: channelID.String(), Sender: b.String(), Content: "yo"})

	if gw.createdCount() != 1 {
		t.Fatalf("created = %d, want 1", gw.createdCount())
	}
	if got := len(gw.appended[channelID]); got != 1 {
		t.Fatalf("channel log length = %d, want 1", got)
	}
	if got := len(connA.envelopes(t)); got != 2 {
		t.Errorf("connA deliveries = %d, want 2 (member + admin pass)", got)
	}
	if got := len(connB.envelopes(t)); got != 1 {
		t.Errorf("connB deliveries = %d, want 1", got)
	}

	envs := connB.envelopes(t)
	if envs[0].Event != EventReceiveChannel {
		t.Errorf("event = %q, want %q", envs[0].Event, EventReceiveChannel)
	}
	var out ChannelMessageOut
	if err := json.Unmarshal(envs[0].Data, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.ChannelID != channelID {
		t.Errorf("payload channel_id = %s, want %s", out.ChannelID, channelID)
	}
	if out.Content != "yo" {
		t.Errorf("payload content = %q, want %q", out.Content, "yo")
	}
}

func TestRelay_SendChannel_AdminNotMemberDeliveredOnce(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	admin, member := uuid.New(), uuid.New()
	channelID := uuid.New()
	gw.rosters[channelID] = &store.ChannelRoster{ChannelID: channelID, Admin: admin, Members: []uuid.UUID{member}}

	connAdmin := &recordingHandle{}
	connMember := &recordingHandle{}
	pt.Register(admin.String(), connAdmin)
	pt.Register(member.String(), connMember)

	relay.SendChannel(context.Background(), ChannelMessageIn{ChannelID: channelID.String(), Sender: member.String(), Content: "hi"})

	if got := len(connAdmin.envelopes(t)); got != 1 {
		t.Errorf("admin deliveries = %d, want 1", got)
	}
	if got := len(connMember.envelopes(t)); got != 1 {
		t.Errorf("member deliveries = %d, want 1", got)
	}
}

func TestRelay_SendChannel_ChannelNotFound(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New()
	h := &recordingHandle{}
	pt.Register(sender.String(), h)

	// roster never set up: append reports channel-not-found
	relay.SendChannel(context.Background(), ChannelMessageIn{ChannelID: uuid.New().String(), Sender: sender.String(), Content: "hi"})

	if gw.createdCount() != 1 {
		t.Errorf("created = %d, want 1 (message stays durable)", gw.createdCount())
	}
	if len(h.envelopes(t)) != 0 {
		t.Errorf("deliveries = %d, want 0 (broadcast abandoned)", len(h.envelopes(t)))
	}
}

func TestRelay_Dispatch(t *testing.T) {
	gw := newFakeGateway()
	pt := presence.NewTable()
	relay := NewRelay(pt, gw)

	sender := uuid.New().String()
	recipient := uuid.New().String()
	h := &recordingHandle{}
	pt.Register(recipient, h)

	payload, _ := json.Marshal(DirectMessageIn{Sender: sender, Recipient: recipient, Content: "via dispatch"})
	relay.Dispatch(context.Background(), EventSendDirect, payload)

	if gw.createdCount() != 1 {
		t.Errorf("created = %d, want 1", gw.createdCount())
	}
	if len(h.envelopes(t)) != 1 {
		t.Errorf("deliveries = %d, want 1", len(h.envelopes(t)))
	}

	// unknown events are dropped without side effects
	relay.Dispatch(context.Background(), "no-such-event", json.RawMessage(`{}`))
	if gw.createdCount() != 1 {
		t.Errorf("created = %d after unknown event, want 1", gw.createdCount())
	}
}
