// Package seats keeps the client view of seat occupancy in a multi-guest
// room. Occupancy only changes on authoritative room events; local calls
// send requests and wait for the echo.
package seats

import (
	"sort"
	"time"

	"github.com/dkeye/LiveStudio/internal/app/loop"
	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/dkeye/LiveStudio/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultRequestTimeout = 60 * time.Second

type ChangeKind int

const (
	Occupied ChangeKind = iota
	Vacated
	MuteChanged
)

func (k ChangeKind) String() string {
	switch k {
	case Occupied:
		return "occupied"
	case Vacated:
		return "vacated"
	}
	return "mute"
}

// Change is one occupancy mutation, delivered to the signaling coordinator.
type Change struct {
	Kind   ChangeKind
	Seat   int
	User   domain.User
	Seq    uint64
	Local  bool
	Muted  bool
	Reason string
}

type Config struct {
	Self           domain.User
	Host           domain.User
	MaxSeats       int
	RequestTimeout time.Duration
}

// RequestsView is the payload of seat request events.
type RequestsView struct {
	Outgoing *domain.SeatRequest  `json:"outgoing,omitempty"`
	Incoming []domain.SeatRequest `json:"incoming,omitempty"`
	Status   string               `json:"status,omitempty"`
}

type Table struct {
	cfg    Config
	out    *core.Outbox
	exec   loop.Executor
	clock  loop.Clock
	events core.EventSink
	log    zerolog.Logger

	seats        []domain.Seat
	pending      *domain.SeatRequest
	pendingTimer loop.Timer
	incoming     map[domain.UserID]domain.SeatRequest
	nextSeq      uint64
	onChange     func(Change)
}

func New(cfg Config, out *core.Outbox, exec loop.Executor, clock loop.Clock, events core.EventSink) (*Table, error) {
	if err := domain.ValidateMaxSeats(cfg.MaxSeats); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	t := &Table{
		cfg:      cfg,
		out:      out,
		exec:     exec,
		clock:    clock,
		events:   events,
		log:      log.With().Str("module", "app.seats").Str("room", string(out.Room())).Logger(),
		seats:    make([]domain.Seat, cfg.MaxSeats),
		incoming: make(map[domain.UserID]domain.SeatRequest),
		onChange: func(Change) {},
	}
	for i := range t.seats {
		t.seats[i].Index = i
	}
	t.seats[0].IsHost = true
	if cfg.Host.ID != "" {
		host := cfg.Host
		t.seats[0].Occupant = &host
	}
	return t, nil
}

// OnChange registers the single change listener.
func (t *Table) OnChange(fn func(Change)) { t.onChange = fn }

func (t *Table) IsHost() bool { return t.cfg.Host.ID != "" && t.cfg.Host.ID == t.cfg.Self.ID }

func (t *Table) MaxSeats() int { return len(t.seats) }

// Seats returns a copy of the table.
func (t *Table) Seats() []domain.Seat {
	out := make([]domain.Seat, len(t.seats))
	for i, s := range t.seats {
		if s.Occupant != nil {
			u := *s.Occupant
			s.Occupant = &u
		}
		out[i] = s
	}
	return out
}

// SeatOf returns the index held by id.
func (t *Table) SeatOf(id domain.UserID) (int, bool) {
	for _, s := range t.seats {
		if s.HeldBy(id) {
			return s.Index, true
		}
	}
	return 0, false
}

// Order returns the approval sequence of id's seat; later joiners have
// larger values and the host has zero.
func (t *Table) Order(id domain.UserID) (uint64, bool) {
	i, ok := t.SeatOf(id)
	if !ok {
		return 0, false
	}
	return t.seats[i].Seq, true
}

// Occupants lists seated users by seat index.
func (t *Table) Occupants() []domain.User {
	var out []domain.User
	for _, s := range t.seats {
		if s.Occupant != nil {
			out = append(out, *s.Occupant)
		}
	}
	return out
}

func (t *Table) Pending() *domain.SeatRequest {
	if t.pending == nil {
		return nil
	}
	p := *t.pending
	return &p
}

// Incoming lists the requests waiting for the host, oldest first. Requests
// older than the request timeout are dropped.
func (t *Table) Incoming() []domain.SeatRequest {
	now := t.clock.Now()
	out := make([]domain.SeatRequest, 0, len(t.incoming))
	for id, r := range t.incoming {
		if now.Sub(r.CreatedAt) >= t.cfg.RequestTimeout {
			delete(t.incoming, id)
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RequestSeat asks the host for seatID on behalf of the local user.
func (t *Table) RequestSeat(seatID int) error {
	self := t.cfg.Self
	conflict := func(reason string) error {
		return &core.SeatConflict{SeatID: seatID, User: self.ID, Reason: reason}
	}
	switch {
	case t.IsHost():
		return conflict("the host already holds seat 0")
	case t.pending != nil:
		return conflict("a request is already pending")
	case seatID <= 0 || seatID >= len(t.seats):
		return conflict("seat out of range")
	}
	if i, ok := t.SeatOf(self.ID); ok {
		return &core.SeatConflict{SeatID: i, User: self.ID, Reason: "already seated"}
	}
	if !t.seats[seatID].Empty() {
		return conflict("seat occupied")
	}
	if err := t.out.Send(protocol.TypeRequestSeat, t.cfg.Host.ID, protocol.SeatRequest{SeatID: seatID, User: self}); err != nil {
		return err
	}
	req := domain.SeatRequest{SeatID: seatID, Requester: self, CreatedAt: t.clock.Now()}
	t.pending = &req
	t.pendingTimer = t.clock.AfterFunc(t.cfg.RequestTimeout, func() {
		t.exec.Post(func() { t.expirePending(req) })
	})
	t.log.Info().Int("seat", seatID).Msg("seat requested")
	t.publishRequests("pending")
	return nil
}

func (t *Table) expirePending(req domain.SeatRequest) {
	if t.pending == nil || *t.pending != req {
		return
	}
	t.clearPending()
	t.log.Info().Int("seat", req.SeatID).Msg("seat request timed out")
	t.publishError(&core.SeatConflict{SeatID: req.SeatID, User: req.Requester.ID, Reason: "request timed out"})
	t.publishRequests("expired")
}

func (t *Table) clearPending() {
	t.pending = nil
	if t.pendingTimer != nil {
		t.pendingTimer.Stop()
		t.pendingTimer = nil
	}
}

// HandleRequest records an incoming request on the host; repeats coalesce.
func (t *Table) HandleRequest(m protocol.Message) {
	if !t.IsHost() {
		return
	}
	var req protocol.SeatRequest
	if err := m.Decode(&req); err != nil {
		t.log.Warn().Err(err).Msg("bad seat request")
		return
	}
	if req.User.ID == "" {
		req.User.ID = m.From
	}
	if _, seated := t.SeatOf(req.User.ID); seated {
		t.log.Debug().Str("user", string(req.User.ID)).Msg("request from seated user ignored")
		return
	}
	prev, dup := t.incoming[req.User.ID]
	r := domain.SeatRequest{SeatID: req.SeatID, Requester: req.User, CreatedAt: t.clock.Now()}
	if dup {
		r.CreatedAt = prev.CreatedAt
	}
	t.incoming[req.User.ID] = r
	t.log.Info().Str("user", string(req.User.ID)).Int("seat", req.SeatID).Bool("coalesced", dup).Msg("seat request received")
	t.publishRequests("incoming")
}

// Approve sends the host's decision; the table changes on the echo.
func (t *Table) Approve(seatID int, user domain.UserID) error {
	if !t.IsHost() {
		return core.ErrNotHost
	}
	req, ok := t.incoming[user]
	if !ok {
		return &core.SeatConflict{SeatID: seatID, User: user, Reason: "no pending request"}
	}
	if seatID <= 0 || seatID >= len(t.seats) {
		return &core.SeatConflict{SeatID: seatID, User: user, Reason: "seat out of range"}
	}
	if s := t.seats[seatID]; !s.Empty() && !s.HeldBy(user) {
		return &core.SeatConflict{SeatID: seatID, User: user, Reason: "seat occupied"}
	}
	t.nextSeq++
	d := protocol.SeatDecision{SeatID: seatID, User: req.Requester, Seq: t.nextSeq}
	if err := t.out.Send(protocol.TypeApproveSeat, user, d); err != nil {
		t.nextSeq--
		return err
	}
	delete(t.incoming, user)
	t.log.Info().Str("user", string(user)).Int("seat", seatID).Uint64("seq", d.Seq).Msg("seat approved")
	t.publishRequests("approved")
	return nil
}

func (t *Table) Reject(user domain.UserID, reason string) error {
	if !t.IsHost() {
		return core.ErrNotHost
	}
	req, ok := t.incoming[user]
	if !ok {
		return &core.SeatConflict{User: user, Reason: "no pending request"}
	}
	d := protocol.SeatDecision{SeatID: req.SeatID, User: req.Requester, Reason: reason}
	if err := t.out.Send(protocol.TypeRejectSeat, user, d); err != nil {
		return err
	}
	delete(t.incoming, user)
	t.publishRequests("rejected")
	return nil
}

// HandleApproved applies an authoritative approval. Approvals older than the
// seat's current one are rejected.
func (t *Table) HandleApproved(m protocol.Message) {
	var d protocol.SeatDecision
	if err := m.Decode(&d); err != nil {
		t.log.Warn().Err(err).Msg("bad seat approval")
		return
	}
	if d.SeatID <= 0 || d.SeatID >= len(t.seats) || d.User.ID == "" {
		t.log.Warn().Int("seat", d.SeatID).Msg("approval for invalid seat")
		return
	}
	if d.Seq > t.nextSeq {
		t.nextSeq = d.Seq
	}
	seat := t.seats[d.SeatID]
	if seat.HeldBy(d.User.ID) {
		t.seats[d.SeatID].Seq = max(seat.Seq, d.Seq)
		return
	}
	if t.stale(d, seat) {
		t.log.Info().Int("seat", d.SeatID).Uint64("seq", d.Seq).Uint64("current", seat.Seq).Msg("stale approval rejected")
		return
	}

	var changes []Change
	if prev, ok := t.SeatOf(d.User.ID); ok && prev != d.SeatID {
		changes = append(changes, t.vacate(prev, "moved"))
	}
	if !seat.Empty() && !seat.HeldBy(d.User.ID) {
		changes = append(changes, t.vacate(d.SeatID, "replaced"))
	}
	u := d.User
	t.seats[d.SeatID].Occupant = &u
	t.seats[d.SeatID].Muted = false
	t.seats[d.SeatID].Seq = d.Seq
	local := u.ID == t.cfg.Self.ID
	if local {
		t.clearPending()
	}
	delete(t.incoming, u.ID)
	changes = append(changes, Change{Kind: Occupied, Seat: d.SeatID, User: u, Seq: d.Seq, Local: local})
	t.log.Info().Str("user", string(u.ID)).Int("seat", d.SeatID).Uint64("seq", d.Seq).Msg("seat occupied")
	t.emit(changes...)
	if local {
		t.publishRequests("approved")
	}
}

func (t *Table) stale(d protocol.SeatDecision, seat domain.Seat) bool {
	if d.Seq == 0 {
		return !seat.Empty()
	}
	if d.Seq <= seat.Seq {
		return true
	}
	if i, ok := t.SeatOf(d.User.ID); ok && t.seats[i].Seq >= d.Seq {
		return true
	}
	return false
}

func (t *Table) HandleRejected(m protocol.Message) {
	var d protocol.SeatDecision
	if err := m.Decode(&d); err != nil {
		t.log.Warn().Err(err).Msg("bad seat rejection")
		return
	}
	delete(t.incoming, d.User.ID)
	if d.User.ID != t.cfg.Self.ID || t.pending == nil {
		return
	}
	seat := t.pending.SeatID
	t.clearPending()
	reason := d.Reason
	if reason == "" {
		reason = "rejected by host"
	}
	t.publishError(&core.SeatConflict{SeatID: seat, User: d.User.ID, Reason: reason})
	t.publishRequests("rejected")
}

// LeaveSeat vacates the local user's seat and tells the room.
func (t *Table) LeaveSeat() error {
	self := t.cfg.Self.ID
	i, ok := t.SeatOf(self)
	if !ok || i == 0 {
		return &core.SeatConflict{User: self, Reason: "not seated"}
	}
	ch := t.vacate(i, "left")
	if err := t.out.Send(protocol.TypeLeaveSeat, "", protocol.Departure{UserID: self, SeatID: &i}); err != nil {
		t.log.Warn().Err(err).Msg("leave_seat not delivered")
	}
	t.emit(ch)
	return nil
}

// HandleDeparture vacates whatever seat the departing user held.
func (t *Table) HandleDeparture(user domain.UserID, reason string) {
	delete(t.incoming, user)
	i, ok := t.SeatOf(user)
	if !ok || i == 0 {
		return
	}
	t.emit(t.vacate(i, reason))
}

func (t *Table) Kick(user domain.UserID) error {
	if !t.IsHost() {
		return core.ErrNotHost
	}
	i, ok := t.SeatOf(user)
	if !ok || i == 0 {
		return &core.SeatConflict{User: user, Reason: "not seated"}
	}
	return t.out.Send(protocol.TypeKickFromSeat, "", protocol.SeatAction{Target: user, SeatID: i})
}

func (t *Table) Mute(user domain.UserID, muted bool) error {
	if !t.IsHost() {
		return core.ErrNotHost
	}
	i, ok := t.SeatOf(user)
	if !ok {
		return &core.SeatConflict{User: user, Reason: "not seated"}
	}
	return t.out.Send(protocol.TypeUserMuted, "", protocol.SeatAction{Target: user, SeatID: i, Muted: muted})
}

// hostAuthored reports whether m came from the host or from the server
// itself, which sends with an empty From.
func (t *Table) hostAuthored(m protocol.Message) bool {
	return m.From == "" || m.From == t.cfg.Host.ID
}

func (t *Table) HandleKick(m protocol.Message) {
	if !t.hostAuthored(m) {
		t.log.Warn().Str("from", string(m.From)).Msg("kick not sent by host, ignored")
		return
	}
	var a protocol.SeatAction
	if err := m.Decode(&a); err != nil {
		t.log.Warn().Err(err).Msg("bad kick")
		return
	}
	i, ok := t.SeatOf(a.Target)
	if !ok || i == 0 {
		return
	}
	t.log.Info().Str("user", string(a.Target)).Int("seat", i).Msg("kicked from seat")
	t.emit(t.vacate(i, "kicked"))
}

func (t *Table) HandleMuted(m protocol.Message) {
	if !t.hostAuthored(m) {
		t.log.Warn().Str("from", string(m.From)).Msg("mute not sent by host, ignored")
		return
	}
	var a protocol.SeatAction
	if err := m.Decode(&a); err != nil {
		t.log.Warn().Err(err).Msg("bad mute")
		return
	}
	i, ok := t.SeatOf(a.Target)
	if !ok || t.seats[i].Muted == a.Muted {
		return
	}
	t.seats[i].Muted = a.Muted
	t.emit(Change{
		Kind:  MuteChanged,
		Seat:  i,
		User:  *t.seats[i].Occupant,
		Seq:   t.seats[i].Seq,
		Local: a.Target == t.cfg.Self.ID,
		Muted: a.Muted,
	})
}

// SendState gives a newcomer the host's view of the table.
func (t *Table) SendState(to domain.UserID) error {
	if !t.IsHost() {
		return core.ErrNotHost
	}
	return t.out.Send(protocol.TypeSeatState, to, protocol.SeatState{Seats: t.Seats()})
}

// HandleState replaces the table with the host's snapshot.
func (t *Table) HandleState(m protocol.Message) {
	if t.IsHost() || (t.cfg.Host.ID != "" && m.From != t.cfg.Host.ID) {
		return
	}
	var st protocol.SeatState
	if err := m.Decode(&st); err != nil {
		t.log.Warn().Err(err).Msg("bad seat state")
		return
	}
	var changes []Change
	for _, s := range st.Seats {
		if s.Index <= 0 || s.Index >= len(t.seats) {
			continue
		}
		cur := t.seats[s.Index]
		same := (cur.Empty() && s.Empty()) || (!cur.Empty() && !s.Empty() && cur.Occupant.ID == s.Occupant.ID)
		if same {
			if !s.Empty() && cur.Muted != s.Muted {
				t.seats[s.Index].Muted = s.Muted
				changes = append(changes, Change{Kind: MuteChanged, Seat: s.Index, User: *s.Occupant, Muted: s.Muted, Local: s.Occupant.ID == t.cfg.Self.ID})
			}
			t.seats[s.Index].Seq = max(cur.Seq, s.Seq)
			continue
		}
		if !cur.Empty() {
			changes = append(changes, t.vacate(s.Index, "reset"))
		}
		if !s.Empty() {
			u := *s.Occupant
			t.seats[s.Index].Occupant = &u
			t.seats[s.Index].Muted = s.Muted
			t.seats[s.Index].Seq = s.Seq
			changes = append(changes, Change{Kind: Occupied, Seat: s.Index, User: u, Seq: s.Seq, Local: u.ID == t.cfg.Self.ID})
		}
	}
	t.emit(changes...)
}

func (t *Table) vacate(i int, reason string) Change {
	s := t.seats[i]
	u := *s.Occupant
	t.seats[i].Occupant = nil
	t.seats[i].Muted = false
	return Change{Kind: Vacated, Seat: i, User: u, Seq: s.Seq, Local: u.ID == t.cfg.Self.ID, Reason: reason}
}

func (t *Table) emit(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	for _, c := range changes {
		t.onChange(c)
	}
	t.events.Publish(core.Event{Kind: core.EventSeats, Room: t.out.Room(), Data: t.Seats(), At: t.clock.Now()})
}

func (t *Table) publishRequests(status string) {
	t.events.Publish(core.Event{
		Kind: core.EventSeatRequest,
		Room: t.out.Room(),
		Data: RequestsView{Outgoing: t.Pending(), Incoming: t.Incoming(), Status: status},
		At:   t.clock.Now(),
	})
}

func (t *Table) publishError(err error) {
	t.events.Publish(core.Event{Kind: core.EventError, Room: t.out.Room(), Data: core.NewErrorView(err), At: t.clock.Now()})
}

// Close cancels the pending request timer.
func (t *Table) Close() {
	t.clearPending()
	clear(t.incoming)
}
