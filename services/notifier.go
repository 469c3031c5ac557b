package services

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/gomail.v2"

	"github.com/HSouheill/barrim_referrals/models"
	"github.com/HSouheill/barrim_referrals/repositories"
)

// Live event types pushed to connected promoters.
const (
	EventInvitationAccepted = "invitation.accepted"
	EventInvitationDeclined = "invitation.declined"
)

// Mailer delivers plain-text email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// PushSender delivers a mobile push notification to one device token.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
}

// LivePublisher pushes an event to a user's open websocket connections.
type LivePublisher interface {
	Publish(userID primitive.ObjectID, eventType, message string, data interface{}) error
}

// SMTPMailer sends through an SMTP relay with gomail.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, user, pass, from string) *SMTPMailer {
	if from == "" {
		from = user
	}
	return &SMTPMailer{dialer: gomail.NewDialer(host, port, user, pass), from: from}
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	return m.dialer.DialAndSend(msg)
}

// FCMPushSender sends through Firebase Cloud Messaging.
type FCMPushSender struct {
	client *messaging.Client
}

func NewFCMPushSender(client *messaging.Client) *FCMPushSender {
	return &FCMPushSender{client: client}
}

func (s *FCMPushSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				ChannelID: "barrim_fcm_channel",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: title, Body: body},
					Sound: "default",
				},
			},
		},
	})
	return err
}

// Notifier fans committed referral events out to email, push and live
// channels. It runs after the unit of work commits; every failure is logged
// and swallowed. Any channel may be nil.
type Notifier struct {
	mail      Mailer
	push      PushSender
	live      LivePublisher
	promoters repositories.PromoterRepository
	users     repositories.UserRepository
	log       *logrus.Entry
}

func NewNotifier(store repositories.Store, mail Mailer, push PushSender, live LivePublisher, logger *logrus.Logger) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{
		mail:      mail,
		push:      push,
		live:      live,
		promoters: store.Promoters(),
		users:     store.Users(),
		log:       logger.WithField("component", "notifier"),
	}
}

// InvitationCreated emails the invitee. It reports whether the email was
// handed to the relay, which is when the invitation counts as sent.
func (n *Notifier) InvitationCreated(ctx context.Context, promoter *models.Promoter, created *CreatedInvitation) bool {
	if n.mail == nil || created == nil || created.Invitation == nil {
		return false
	}
	inv := created.Invitation
	greeting := "Hello"
	if inv.TargetName != "" {
		greeting = "Hello " + inv.TargetName
	}
	body := fmt.Sprintf("%s,\n\n%s invites you to join Barrim as a partner.\n", greeting, promoter.BusinessName)
	if inv.PersonalizedMessage != "" {
		body += "\n" + inv.PersonalizedMessage + "\n"
	}
	body += fmt.Sprintf("\nOpen %s to review the invitation. Your code is %s and it is valid until %s.\n\nBest regards,\nBarrim",
		created.ShareURL, inv.Code, inv.ExpiresAt.Format("2006-01-02"))

	if err := n.mail.Send(ctx, inv.TargetEmail, "You are invited to join Barrim", body); err != nil {
		n.log.WithContext(ctx).WithError(err).WithField("invitation_id", inv.ID.Hex()).Warn("invitation email not sent")
		return false
	}
	return true
}

// InvitationAccepted tells the promoter a partner joined through its code.
func (n *Notifier) InvitationAccepted(ctx context.Context, res *models.AcceptedInvitation) {
	if res == nil || res.Invitation == nil {
		return
	}
	owner, err := n.owner(ctx, res.Invitation.PromoterID)
	if err != nil {
		n.log.WithContext(ctx).WithError(err).Warn("cannot resolve promoter owner")
		return
	}
	title := "Invitation accepted"
	msg := fmt.Sprintf("%s accepted your invitation and joined as a partner.", res.Partner.BusinessName)
	data := map[string]string{
		"type":         EventInvitationAccepted,
		"invitationId": res.Invitation.ID.Hex(),
		"partnerId":    res.Partner.ID.Hex(),
		"timestamp":    time.Now().Format(time.RFC3339),
	}

	if n.push != nil && owner.FCMToken != "" {
		if err := n.push.Send(ctx, owner.FCMToken, title, msg, data); err != nil {
			n.log.WithContext(ctx).WithError(err).WithField("user_id", owner.ID.Hex()).Warn("push notification failed")
		}
	}
	n.publish(ctx, owner.ID, EventInvitationAccepted, msg, map[string]interface{}{
		"invitationId": res.Invitation.ID.Hex(),
		"code":         res.Invitation.Code,
		"partnerId":    res.Partner.ID.Hex(),
		"businessName": res.Partner.BusinessName,
	})
}

// InvitationDeclined tells the promoter an invitee declined.
func (n *Notifier) InvitationDeclined(ctx context.Context, inv *models.Invitation) {
	if inv == nil {
		return
	}
	owner, err := n.owner(ctx, inv.PromoterID)
	if err != nil {
		n.log.WithContext(ctx).WithError(err).Warn("cannot resolve promoter owner")
		return
	}
	n.publish(ctx, owner.ID, EventInvitationDeclined, "An invitation was declined", map[string]interface{}{
		"invitationId": inv.ID.Hex(),
		"code":         inv.Code,
		"targetEmail":  inv.TargetEmail,
	})
}

func (n *Notifier) publish(ctx context.Context, userID primitive.ObjectID, event, msg string, data interface{}) {
	if n.live == nil {
		return
	}
	// Promoters without an open connection simply miss the live event.
	if err := n.live.Publish(userID, event, msg, data); err != nil {
		n.log.WithContext(ctx).WithError(err).WithField("event", event).Debug("live event not delivered")
	}
}

func (n *Notifier) owner(ctx context.Context, promoterID primitive.ObjectID) (*models.User, error) {
	p, err := n.promoters.GetByID(ctx, promoterID)
	if err != nil {
		return nil, fmt.Errorf("load promoter: %w", err)
	}
	u, err := n.users.GetByID(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("load promoter user: %w", err)
	}
	return u, nil
}
