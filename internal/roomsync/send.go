package roomsync

import (
	"errors"
	"fmt"

	"github.com/parley-chat/parley/internal/models"
)

var (
	// ErrNoRoom means Send was called with no room selected.
	ErrNoRoom = errors.New("no room selected")

	// ErrSendInFlight means a send is already underway for this room.
	ErrSendInFlight = errors.New("a send is already in flight")
)

// SendRequest is the user-facing shape of a message submission.
type SendRequest struct {
	Content           string
	ParticipantType   models.ParticipantType
	ParticipantName   string
	Images            []string
	MentionedAgentIDs []string
}

// Send submits a human message to the current room. At most one send per
// room may be in flight. Nothing is inserted optimistically: the committed
// message only ever appears through poll or push, so the rendered list
// never shows content the server has not accepted. A successful submit
// schedules one settle-delay poll to surface the message quickly; a failed
// one returns the error to the caller and changes nothing.
func (e *Engine) Send(req SendRequest) error {
	e.mu.Lock()
	if e.sess == nil {
		e.mu.Unlock()
		return ErrNoRoom
	}
	s := e.sess
	if s.sending {
		e.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	gen := s.gen
	roomID := s.roomID
	ctx := s.ctx
	mp := s.msgPoller
	e.notify()
	e.mu.Unlock()

	body := models.SendMessageRequest{
		Content:           req.Content,
		Role:              models.RoleUser,
		ParticipantType:   req.ParticipantType,
		ParticipantName:   req.ParticipantName,
		Images:            req.Images,
		MentionedAgentIDs: req.MentionedAgentIDs,
	}

	// The session context scopes the request: switching rooms aborts it.
	_, err := e.api.SendMessage(ctx, roomID, body)

	e.mu.Lock()
	stillCurrent := e.current(gen)
	if stillCurrent {
		e.sess.sending = false
		e.notify()
	}
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	if stillCurrent {
		mp.pokeAfter(e.opts.SettleDelay)
	}
	return nil
}
