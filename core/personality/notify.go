package personality

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

const typeChangedTemplate = "personality_changed"

type UserGetter interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// Notifier emails users whose dominant type changed.
type Notifier struct {
	users  UserGetter
	mail   core.EmailService
	logger core.Logger
}

func NewNotifier(users UserGetter, mailSvc core.EmailService, logger core.Logger) *Notifier {
	return &Notifier{users: users, mail: mailSvc, logger: logger}
}

type typeChangedData struct {
	Name         string
	PreviousType string
	NewType      string
	Reasoning    string
}

// TypeChanged sends the notification for a, if the type changed and the user has an email.
// It returns whether a message was queued.
func (n *Notifier) TypeChanged(ctx context.Context, a Analysis) bool {
	if n == nil || !a.TypeChanged() {
		return false
	}
	usr, err := n.users.GetUser(ctx, a.UserID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			n.logger.Error(fmt.Sprintf("notifying type change: %v", err), err)
		}
		return false
	}
	if usr.Email == "" {
		return false
	}

	name := usr.Name
	if name == "" {
		name = "there"
	}
	n.mail.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your personality profile changed",
		TemplateName: typeChangedTemplate,
		TemplateData: typeChangedData{
			Name:         name,
			PreviousType: a.PreviousType.String(),
			NewType:      a.NewType.String(),
			Reasoning:    a.Reasoning,
		},
	})
	return true
}
