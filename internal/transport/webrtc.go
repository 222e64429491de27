package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/SIgmaboy6796/game2/internal/config"
	"github.com/SIgmaboy6796/game2/internal/relay"
	"github.com/SIgmaboy6796/game2/internal/signaling"
)

// Signal kinds exchanged through the peer broker. The broker forwards
// them untouched.
const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
	signalClose     = "close"
)

type signal struct {
	Kind         string                 `json:"kind"`
	ConnectionID string                 `json:"connectionId"`
	Metadata     *Metadata              `json:"metadata,omitempty"`
	Reliable     bool                   `json:"reliable,omitempty"`
	SDP          string                 `json:"sdp,omitempty"`
	Candidate    *pion.ICECandidateInit `json:"candidate,omitempty"`
}

// WebRTC is the production Transport: identities come from the peer
// broker, and every Channel is one pion PeerConnection with one data
// channel labelled by its connection id.
type WebRTC struct {
	cfg    *config.Config
	events *eventQueue

	// forceRelay is ShouldForceRelay outside tests.
	forceRelay func() bool

	mu       sync.Mutex
	broker   *signaling.Client
	id       string
	closed   bool
	channels map[string]*rtcChannel
	early    map[string][]pion.ICECandidateInit
}

var _ Transport = (*WebRTC)(nil)

// NewWebRTC creates a transport using the broker and ICE servers from cfg.
func NewWebRTC(cfg *config.Config) *WebRTC {
	return &WebRTC{
		cfg:        cfg,
		events:     newEventQueue(),
		forceRelay: ShouldForceRelay,
		channels:   make(map[string]*rtcChannel),
		early:      make(map[string][]pion.ICECandidateInit),
	}
}

// Open connects to the peer broker and waits for it to assign an identity.
func (w *WebRTC) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.broker != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	client := signaling.NewClient(w.cfg.BrokerURL)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to peer broker: %w", err)
	}

	var id string
	select {
	case msg, ok := <-client.Incoming():
		if !ok {
			return errors.New("peer broker closed the connection")
		}
		if msg.Type != relay.TypeOpen || msg.PeerID == "" {
			client.Close()
			return fmt.Errorf("unexpected peer broker greeting %q", msg.Type)
		}
		id = msg.PeerID
	case <-ctx.Done():
		client.Close()
		return ctx.Err()
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		client.Close()
		return ErrClosed
	}
	w.broker = client
	w.id = id
	w.mu.Unlock()

	slog.Debug("peer identity assigned", "peer", id)
	w.events.push(Event{Kind: EventIdentity, PeerID: id})

	go w.listen(client)
	return nil
}

func (w *WebRTC) Events() <-chan Event {
	return w.events.out
}

// Connect creates a peer connection and sends the offer through the broker.
func (w *WebRTC) Connect(peerID string, md Metadata) (Channel, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.broker == nil {
		w.mu.Unlock()
		return nil, ErrNotOpen
	}
	w.mu.Unlock()

	ch, err := w.newChannel(peerID, uuid.NewString(), md, !w.cfg.Unreliable)
	if err != nil {
		return nil, err
	}

	dc, err := ch.pc.CreateDataChannel(ch.id, dataChannelInit(ch.reliable))
	if err != nil {
		ch.shutdown(false)
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	ch.attach(dc)

	offer, err := ch.pc.CreateOffer(nil)
	if err != nil {
		ch.shutdown(false)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := ch.pc.SetLocalDescription(offer); err != nil {
		ch.shutdown(false)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	meta := md
	if err := w.sendSignal(peerID, signal{
		Kind:         signalOffer,
		ConnectionID: ch.id,
		Metadata:     &meta,
		Reliable:     ch.reliable,
		SDP:          offer.SDP,
	}); err != nil {
		ch.shutdown(false)
		return nil, err
	}

	slog.Debug("offer sent", "peer", peerID, "connection", ch.id)
	return ch, nil
}

func (w *WebRTC) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	channels := make([]*rtcChannel, 0, len(w.channels))
	for _, ch := range w.channels {
		channels = append(channels, ch)
	}
	broker := w.broker
	w.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(true)
	}
	if broker != nil {
		broker.Close()
	}
	w.events.close()
	return nil
}

// listen handles broker traffic until the broker connection ends.
func (w *WebRTC) listen(client *signaling.Client) {
	for msg := range client.Incoming() {
		switch msg.Type {
		case relay.TypeSignal:
			var sig signal
			if err := json.Unmarshal(msg.Payload, &sig); err != nil {
				slog.Warn("dropping malformed signal", "src", msg.Src, "err", err)
				continue
			}
			w.handleSignal(msg.Src, sig)

		case relay.TypeError:
			if msg.Message == relay.ErrTextPeerUnavailable && msg.PeerID != "" {
				w.peerUnavailable(msg.PeerID)
				continue
			}
			w.events.push(Event{Kind: EventError, Err: fmt.Errorf("peer broker: %s", msg.Message)})

		default:
			slog.Debug("ignoring broker message", "type", msg.Type)
		}
	}

	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.events.push(Event{Kind: EventError, Err: errors.New("peer broker connection lost")})
	}
}

func (w *WebRTC) handleSignal(src string, sig signal) {
	switch sig.Kind {
	case signalOffer:
		w.acceptOffer(src, sig)

	case signalAnswer:
		ch := w.channel(src, sig.ConnectionID)
		if ch == nil {
			return
		}
		answer := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: sig.SDP}
		if err := ch.pc.SetRemoteDescription(answer); err != nil {
			ch.fail(fmt.Errorf("set remote description: %w", err))
			return
		}
		ch.remoteReady()

	case signalCandidate:
		if sig.Candidate == nil {
			return
		}
		ch := w.channel(src, sig.ConnectionID)
		if ch == nil {
			// Candidates can overtake the offer they belong to.
			w.mu.Lock()
			w.early[sig.ConnectionID] = append(w.early[sig.ConnectionID], *sig.Candidate)
			w.mu.Unlock()
			return
		}
		ch.addCandidate(*sig.Candidate)

	case signalClose:
		if ch := w.channel(src, sig.ConnectionID); ch != nil {
			ch.shutdown(false)
		}

	default:
		slog.Warn("unknown signal kind", "src", src, "kind", sig.Kind)
	}
}

func (w *WebRTC) acceptOffer(src string, sig signal) {
	if sig.ConnectionID == "" || w.channel(src, sig.ConnectionID) != nil {
		return
	}

	var md Metadata
	if sig.Metadata != nil {
		md = *sig.Metadata
	}
	ch, err := w.newChannel(src, sig.ConnectionID, md, sig.Reliable)
	if err != nil {
		w.events.push(Event{Kind: EventError, PeerID: src, Err: err})
		return
	}

	ch.pc.OnDataChannel(func(dc *pion.DataChannel) {
		if dc.Label() == ch.id {
			ch.attach(dc)
		}
	})

	w.events.push(Event{Kind: EventIncoming, PeerID: src, Channel: ch})

	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: sig.SDP}
	if err := ch.pc.SetRemoteDescription(offer); err != nil {
		ch.fail(fmt.Errorf("set remote description: %w", err))
		return
	}
	ch.remoteReady()

	answer, err := ch.pc.CreateAnswer(nil)
	if err != nil {
		ch.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := ch.pc.SetLocalDescription(answer); err != nil {
		ch.fail(fmt.Errorf("set local description: %w", err))
		return
	}

	if err := w.sendSignal(src, signal{Kind: signalAnswer, ConnectionID: ch.id, SDP: answer.SDP}); err != nil {
		ch.fail(err)
	}
}

func (w *WebRTC) peerUnavailable(peerID string) {
	w.mu.Lock()
	var affected []*rtcChannel
	for _, ch := range w.channels {
		if ch.peerID == peerID {
			affected = append(affected, ch)
		}
	}
	w.mu.Unlock()

	if len(affected) == 0 {
		w.events.push(Event{Kind: EventError, PeerID: peerID, Err: ErrPeerUnavailable})
		return
	}
	for _, ch := range affected {
		ch.fail(ErrPeerUnavailable)
	}
}

func (w *WebRTC) channel(peerID, connectionID string) *rtcChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := w.channels[connectionID]
	if ch == nil || ch.peerID != peerID {
		return nil
	}
	return ch
}

func (w *WebRTC) sendSignal(peerID string, sig signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	w.mu.Lock()
	broker := w.broker
	w.mu.Unlock()
	if broker == nil {
		return ErrNotOpen
	}
	return broker.Send(&relay.Message{Type: relay.TypeSignal, Dst: peerID, Payload: payload})
}

// newChannel creates the peer connection for one link and registers it.
func (w *WebRTC) newChannel(peerID, connectionID string, md Metadata, reliable bool) (*rtcChannel, error) {
	pc, err := newPeerConnection(w.cfg, w.forceRelay)
	if err != nil {
		return nil, err
	}

	ch := &rtcChannel{
		owner:    w,
		id:       connectionID,
		peerID:   peerID,
		md:       md,
		reliable: reliable,
		pc:       pc,
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if err := w.sendSignal(peerID, signal{Kind: signalCandidate, ConnectionID: connectionID, Candidate: &init}); err != nil {
			slog.Debug("candidate not sent", "peer", peerID, "err", err)
		}
	})

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		slog.Debug("ice state", "peer", peerID, "state", state.String())
		switch state {
		case pion.ICEConnectionStateFailed:
			ch.fail(ErrNegotiationFailed)
		case pion.ICEConnectionStateClosed:
			ch.shutdown(false)
		}
	})

	w.mu.Lock()
	w.channels[connectionID] = ch
	early := w.early[connectionID]
	delete(w.early, connectionID)
	w.mu.Unlock()

	ch.pending = early
	return ch, nil
}

func (w *WebRTC) forget(ch *rtcChannel) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.channels[ch.id] == ch {
		delete(w.channels, ch.id)
	}
}

// newPeerConnection centralizes ICE server configuration
func newPeerConnection(cfg *config.Config, forceRelay func() bool) (*pion.PeerConnection, error) {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || forceRelay()) {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return pc, nil
}

func dataChannelInit(reliable bool) *pion.DataChannelInit {
	ordered := reliable
	init := &pion.DataChannelInit{Ordered: &ordered}
	if !reliable {
		var retransmits uint16
		init.MaxRetransmits = &retransmits
	}
	return init
}

type rtcChannel struct {
	owner    *WebRTC
	id       string
	peerID   string
	md       Metadata
	reliable bool
	pc       *pion.PeerConnection

	mu        sync.Mutex
	dc        *pion.DataChannel
	remoteSet bool
	pending   []pion.ICECandidateInit
	closed    bool
}

func (c *rtcChannel) PeerID() string     { return c.peerID }
func (c *rtcChannel) Metadata() Metadata { return c.md }
func (c *rtcChannel) Reliable() bool     { return c.reliable }

func (c *rtcChannel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.dc != nil && c.dc.ReadyState() == pion.DataChannelStateOpen
}

func (c *rtcChannel) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if !c.Open() {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *rtcChannel) Close() error {
	c.shutdown(true)
	return nil
}

func (c *rtcChannel) attach(dc *pion.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	events := c.owner.events
	dc.OnOpen(func() {
		events.push(Event{Kind: EventOpen, PeerID: c.peerID, Channel: c})
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		events.push(Event{Kind: EventData, PeerID: c.peerID, Channel: c, Data: msg.Data})
	})
	dc.OnClose(func() {
		c.shutdown(false)
	})
}

// remoteReady applies candidates that arrived before the remote description.
func (c *rtcChannel) remoteReady() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		c.addCandidate(cand)
	}
}

func (c *rtcChannel) addCandidate(cand pion.ICECandidateInit) {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(cand); err != nil {
		slog.Debug("add ICE candidate failed", "peer", c.peerID, "err", err)
	}
}

// fail reports err for this link and closes it.
func (c *rtcChannel) fail(err error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.owner.events.push(Event{Kind: EventError, PeerID: c.peerID, Channel: c, Err: err})
	c.shutdown(false)
}

// shutdown closes the link once. notify tells the remote side through the
// broker, which matters before the data channel exists.
func (c *rtcChannel) shutdown(notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dc := c.dc
	c.mu.Unlock()

	c.owner.forget(c)
	if notify {
		if err := c.owner.sendSignal(c.peerID, signal{Kind: signalClose, ConnectionID: c.id}); err != nil {
			slog.Debug("close signal not sent", "peer", c.peerID, "err", err)
		}
	}

	c.owner.events.push(Event{Kind: EventClose, PeerID: c.peerID, Channel: c})

	// pion callbacks fire from Close; run it off the caller's stack.
	go func() {
		if dc != nil {
			dc.Close()
		}
		c.pc.Close()
	}()
}
