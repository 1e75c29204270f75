package orch

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/mentor/internal/app"
	"github.com/dkeye/mentor/internal/domain"
	"github.com/dkeye/mentor/internal/protocol"
)

// SendChat sends a student message on behalf of uid. It counts as a
// question when it contains "?" or the hand is raised; the hand is lowered
// once the message is out.
func (o *Orchestrator) SendChat(uid domain.UserID, text string) (domain.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if err := o.requireLive(protocol.TypeStudentMsg); err != nil {
		return domain.ChatMessage{}, err
	}
	if !o.limiter.Allow(uid) {
		log.Warn().Str("module", "orch.chat").Str("user", string(uid)).Msg("rate limited")
		return domain.ChatMessage{}, ErrRateLimited
	}

	hand := o.Machine.Flags().HandRaised
	isQuestion := strings.Contains(text, "?") || hand
	msg := protocol.StudentMessage{Message: text, IsQuestion: isQuestion, HandRaised: hand}
	if err := o.send(msg); err != nil {
		return domain.ChatMessage{}, err
	}
	if hand {
		o.Machine.SetHandRaised(false)
	}

	user := o.Users.GetOrCreateUser(uid)
	entry := domain.NewStudentMessage(user.Name, text, isQuestion, o.now())
	o.Chat.Append(entry)
	o.Notify(app.Event{Kind: app.EventChat, Data: entry})
	return entry, nil
}

func (o *Orchestrator) RaiseHand(up bool) {
	o.Machine.SetHandRaised(up)
	o.Notify(app.Event{Kind: app.EventState, Data: map[string]bool{"handRaised": up}})
}
